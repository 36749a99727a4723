//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blackjack/webcam"
)

// waitTimeout is the WaitForFrame timeout in seconds. It bounds how long
// Stop waits for the capture loop.
const waitTimeout = 1

type v4l2Source struct {
	base
	cam    *webcam.Webcam
	format uint32
	width  int
	height int
}

func enumerateV4L2(_ context.Context) ([]Device, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var devices []Device
	for _, path := range paths {
		cam, err := webcam.Open(path)
		if err != nil {
			slog.Debug("Skipping video device", "device", path, "error", err)
			continue
		}
		_, ok := pickFormat(cam)
		cam.Close()
		if !ok {
			slog.Debug("Skipping video device without MJPG or YUYV", "device", path)
			continue
		}
		devices = append(devices, Device{Kind: KindV4L2, ID: path, Name: deviceName(path)})
	}
	return devices, nil
}

// deviceName reads the driver's card name from sysfs, falling back to the path.
func deviceName(path string) string {
	name, err := os.ReadFile(filepath.Join("/sys/class/video4linux", filepath.Base(path), "name"))
	if err != nil {
		return path
	}
	return strings.TrimSpace(string(name))
}

// pickFormat prefers MJPG, which needs no conversion, over YUYV.
func pickFormat(cam *webcam.Webcam) (uint32, bool) {
	formats := cam.GetSupportedFormats()
	for _, want := range []uint32{formatMJPG, formatYUYV} {
		if _, ok := formats[webcam.PixelFormat(want)]; ok {
			return want, true
		}
	}
	return 0, false
}

func openV4L2(dev Device, settings Settings) (Source, error) {
	cam, err := webcam.Open(dev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dev.ID, err)
	}
	format, ok := pickFormat(cam)
	if !ok {
		cam.Close()
		return nil, fmt.Errorf("%s supports neither MJPG nor YUYV", dev.ID)
	}
	_, w, h, err := cam.SetImageFormat(webcam.PixelFormat(format), uint32(settings.Width), uint32(settings.Height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("failed to set image format on %s: %w", dev.ID, err)
	}
	if err := cam.SetBufferCount(2); err != nil {
		slog.Debug("Could not set buffer count", "device", dev.ID, "error", err)
	}
	slog.Info("Opened video device", "device", dev.ID, "format", fourcc(format), "width", w, "height", h)

	return &v4l2Source{
		base:   base{dev: dev},
		cam:    cam,
		format: format,
		width:  int(w),
		height: int(h),
	}, nil
}

func (v *v4l2Source) Start(ctx context.Context) error {
	if err := v.cam.StartStreaming(); err != nil {
		return fmt.Errorf("failed to start streaming on %s: %w", v.dev.ID, err)
	}
	return v.start(ctx, v.captureLoop)
}

func (v *v4l2Source) captureLoop(ctx context.Context) {
	var (
		buf      []byte
		failures int
	)
	fail := func(msg string, err error) bool {
		failures++
		delay := retryDelay(failures)
		slog.Error(msg, "device", v.dev.ID, "error", err, "failures", failures, "retry_in", delay)
		return sleepCtx(ctx, delay)
	}

	for ctx.Err() == nil {
		err := v.cam.WaitForFrame(waitTimeout)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout):
			continue
		default:
			if !fail("Failed waiting for frame", err) {
				return
			}
			continue
		}

		buf, err = grabFrame(v.cam, buf)
		if err != nil {
			if !fail("Failed to read frame", err) {
				return
			}
			continue
		}
		failures = 0
		if len(buf) == 0 {
			continue
		}
		img, err := decodeFrame(v.format, buf, v.width, v.height)
		if err != nil {
			slog.Warn("Skipping undecodable frame", "device", v.dev.ID, "bytes", len(buf), "error", err)
			continue
		}
		v.emit(img)
	}
}

func (v *v4l2Source) Stop() error {
	if !v.stop() {
		return nil
	}
	var errs []error
	if err := v.cam.StopStreaming(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop streaming: %w", err))
	}
	if err := v.cam.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close device: %w", err))
	}
	slog.Info("Camera stopped", "device", v.dev.ID)
	return errors.Join(errs...)
}

func fourcc(f uint32) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}
