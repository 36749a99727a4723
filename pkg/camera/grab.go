package camera

import (
	"context"
	"fmt"
	"time"
)

// frameGrabber is the part of a V4L2 device used to read one frame. The
// slice returned by GetFrame is the driver's mmap'd buffer and is only valid
// until ReleaseFrame.
type frameGrabber interface {
	GetFrame() ([]byte, uint32, error)
	ReleaseFrame(index uint32) error
}

// grabFrame copies the next driver buffer into buf and hands the buffer back
// to the driver. The result aliases buf, never driver memory.
func grabFrame(g frameGrabber, buf []byte) ([]byte, error) {
	data, index, err := g.GetFrame()
	if err != nil {
		return nil, err
	}
	out := append(buf[:0], data...)
	if err := g.ReleaseFrame(index); err != nil {
		return out, fmt.Errorf("failed to release buffer %d: %w", index, err)
	}
	return out, nil
}

const (
	minRetryDelay = 250 * time.Millisecond
	maxRetryDelay = 5 * time.Second
)

// retryDelay is the pause after the given number of consecutive capture
// failures, doubling from minRetryDelay up to maxRetryDelay.
func retryDelay(failures int) time.Duration {
	d := minRetryDelay
	for i := 1; i < failures && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
