//go:build !darwin && !(linux && arm64)

package camera

import "fmt"

func captureCommands() []string {
	return []string{"ffmpeg"}
}

// captureArgs reads the first V4L2 device through ffmpeg.
func captureArgs(_ string, s Settings) []string {
	return []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", s.FPS),
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-i", "/dev/video0",
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}
}
