package camera

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattn/go-mjpeg"
)

const upstreamRetryDelay = 2 * time.Second

// upstreamSource relays another MJPEG stream over HTTP. It reconnects after
// the upstream drops until it is stopped.
type upstreamSource struct {
	base
	client     *http.Client
	retryDelay time.Duration
}

func newUpstreamSource(dev Device, _ Settings) *upstreamSource {
	return &upstreamSource{
		base:       base{dev: dev},
		client:     http.DefaultClient,
		retryDelay: upstreamRetryDelay,
	}
}

func (u *upstreamSource) Start(ctx context.Context) error {
	return u.start(ctx, func(ctx context.Context) {
		slog.Info("Connecting to upstream stream", "url", u.dev.ID)
		for {
			err := u.relay(ctx)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Upstream stream interrupted, reconnecting", "url", u.dev.ID, "error", err, "delay", u.retryDelay)
			if !sleepCtx(ctx, u.retryDelay) {
				return
			}
		}
	})
}

// relay decodes frames from one upstream connection until it fails.
func (u *upstreamSource) relay(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.dev.ID, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	dec, err := mjpeg.NewDecoderFromResponse(resp)
	if err != nil {
		return fmt.Errorf("failed to read stream header: %w", err)
	}
	for {
		img, err := dec.Decode()
		if err != nil {
			return fmt.Errorf("failed to decode frame: %w", err)
		}
		u.emit(img)
	}
}

func (u *upstreamSource) Stop() error {
	if u.stop() {
		slog.Info("Upstream relay stopped", "url", u.dev.ID)
	}
	return nil
}
