//go:build linux && arm64

package camera

import "fmt"

// captureCommands lists libcamera-apps in preference order: rpicam-vid for
// newer OS images, libcamera-vid for older ones.
func captureCommands() []string {
	return []string{"rpicam-vid", "libcamera-vid"}
}

func captureArgs(_ string, s Settings) []string {
	return []string{
		"--width", fmt.Sprintf("%d", s.Width),
		"--height", fmt.Sprintf("%d", s.Height),
		"--timeout", "0", // Run indefinitely
		"--nopreview",
		"--codec", "mjpeg", // MJPEG output
		"--output", "-", // Output to stdout
		"--framerate", fmt.Sprintf("%d", s.FPS),
		// Module 3 specific optimizations
		"--awb", "auto",
		"--metering", "average",
	}
}
