//go:build darwin

package camera

import "fmt"

func captureCommands() []string {
	return []string{"ffmpeg"}
}

// captureArgs captures from the default macOS webcam through AVFoundation.
// Most Mac cameras only accept 30 fps, so the capture rate is fixed there.
func captureArgs(_ string, s Settings) []string {
	return []string{
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-i", "0", // Device 0 = default camera
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	}
}
