// mjpeg-probe connects to an MJPEG stream and reports frame rate, frame
// size and payload size. It exits non-zero if the stream is malformed.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wachiwi/camstream/pkg/logger"
	"github.com/wachiwi/camstream/pkg/mjpeg"
)

func main() {
	var (
		url      string
		count    int
		duration time.Duration
		level    string
	)
	flag.StringVar(&url, "url", "http://localhost:5000/video/", "MJPEG stream URL")
	flag.IntVar(&count, "count", 0, "stop after this many frames (0 = unlimited)")
	flag.DurationVar(&duration, "duration", 0, "stop after this long (0 = unlimited)")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	lvl, err := logger.ParseLevel(level)
	if err != nil {
		logger.Fatal("Invalid log level", "error", err)
	}
	logger.Setup(lvl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	frames, err := probe(ctx, url, count)
	if err != nil && ctx.Err() == nil {
		logger.Fatal("Probe failed", "url", url, "frames", frames, "error", err)
	}
	slog.Info("Probe finished", "frames", frames)
}

// probe reads up to limit packets from url and logs a summary every second.
func probe(ctx context.Context, url string, limit int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	boundary, err := mjpeg.BoundaryFromContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		return 0, err
	}
	slog.Info("Connected", "url", url, "content_type", resp.Header.Get("Content-Type"))

	var (
		rd        = mjpeg.NewReader(resp.Body, boundary)
		total     int
		window    int
		bytesSeen int
		start     = time.Now()
	)
	for limit == 0 || total < limit {
		part, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return total, errors.New("stream ended")
		}
		if err != nil {
			return total, err
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(part.Body))
		if err != nil {
			return total, fmt.Errorf("frame %d is not a valid JPEG: %w", total, err)
		}
		total++
		window++
		bytesSeen += len(part.Body)

		if elapsed := time.Since(start); elapsed >= time.Second {
			slog.Info("Stream stats",
				"fps", fmt.Sprintf("%.1f", float64(window)/elapsed.Seconds()),
				"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
				"avg_bytes", bytesSeen/window,
				"frames", total,
			)
			window, bytesSeen, start = 0, 0, time.Now()
		}
	}
	return total, nil
}
