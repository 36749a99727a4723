package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wachiwi/camstream/pkg/framestore"
	"github.com/wachiwi/camstream/pkg/mjpeg"
	"github.com/wachiwi/camstream/pkg/tally"
)

const (
	// DefaultInterval paces sessions at roughly 10 frames per second.
	DefaultInterval = 100 * time.Millisecond
	// DefaultPollInterval is how long a session waits before re-checking an empty store.
	DefaultPollInterval = 20 * time.Millisecond
)

// FrameSource is the read side of the frame store.
type FrameSource interface {
	Latest() (*framestore.Frame, bool)
}

// Handler serves the MJPEG stream. Every request runs its own session loop;
// sessions share nothing but read access to the frame source.
type Handler struct {
	Frames       FrameSource
	Framer       *mjpeg.Framer
	Interval     time.Duration
	PollInterval time.Duration
	// Tally, when set, is told about viewers joining and leaving.
	Tally *tally.Counter

	sessions     atomic.Int64
	tracer       trace.Tracer
	active       metric.Int64UpDownCounter
	packets      metric.Int64Counter
	encodeErrors metric.Int64Counter
	bytesSent    metric.Int64Counter
}

// NewHandler creates a Handler pacing packets at interval.
func NewHandler(frames FrameSource, framer *mjpeg.Framer, interval time.Duration) *Handler {
	if framer == nil {
		framer = mjpeg.NewFramer(mjpeg.DefaultQuality)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	h := &Handler{
		Frames:       frames,
		Framer:       framer,
		Interval:     interval,
		PollInterval: DefaultPollInterval,
		Tally:        tally.NewCounter(nil),
		tracer:       otel.Tracer("camstream/stream"),
	}

	meter := otel.Meter("camstream/stream")
	var err error
	if h.active, err = meter.Int64UpDownCounter("camstream.sessions.active", metric.WithDescription("Streaming sessions currently open")); err != nil {
		slog.Error("Failed to create sessions.active counter", "error", err)
	}
	if h.packets, err = meter.Int64Counter("camstream.packets.sent", metric.WithDescription("MJPEG packets written to clients")); err != nil {
		slog.Error("Failed to create packets.sent counter", "error", err)
	}
	if h.encodeErrors, err = meter.Int64Counter("camstream.packets.encode_errors", metric.WithDescription("Frames skipped because encoding failed")); err != nil {
		slog.Error("Failed to create packets.encode_errors counter", "error", err)
	}
	if h.bytesSent, err = meter.Int64Counter("camstream.bytes.sent", metric.WithDescription("Bytes written to streaming clients"), metric.WithUnit("By")); err != nil {
		slog.Error("Failed to create bytes.sent counter", "error", err)
	}
	return h
}

// Sessions returns the number of open streaming sessions.
func (h *Handler) Sessions() int {
	return int(h.sessions.Load())
}

// Serve is the gin handler for the stream endpoint.
func (h *Handler) Serve(c *gin.Context) {
	c.Header("Content-Type", h.Framer.ContentType())
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	id := uuid.NewString()
	log := slog.With("session", id, "remote", c.ClientIP())
	log.Info("Client connected")

	err := h.Run(c.Request.Context(), id, c.Writer, c.Writer.Flush)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("Client session ended")
	default:
		log.Warn("Client session ended", "error", err)
	}
}

// Run streams packets to w until ctx is done or a write fails. flush is
// called after every packet. The returned error describes why the session
// ended: the context error, or the write error.
func (h *Handler) Run(ctx context.Context, id string, w io.Writer, flush func()) error {
	tracer := h.tracer
	if tracer == nil {
		tracer = otel.Tracer("camstream/stream")
	}
	ctx, span := tracer.Start(ctx, "mjpeg.session", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	viewers := h.Tally
	h.sessions.Add(1)
	if viewers != nil {
		viewers.Add()
	}
	h.addActive(ctx, 1)
	defer func() {
		if viewers != nil {
			viewers.Done()
		}
		h.sessions.Add(-1)
		h.addActive(context.Background(), -1)
	}()

	var (
		sent     int64
		interval = h.Interval
		poll     = h.PollInterval
	)
	if interval <= 0 {
		interval = DefaultInterval
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	for {
		frame, ok := h.Frames.Latest()
		if !ok {
			if err := sleep(ctx, poll); err != nil {
				return err
			}
			continue
		}

		// The packet is private to this send and dropped after the write.
		pkt, err := h.Framer.Packet(frame.Image)
		if err != nil {
			slog.Warn("Skipping frame, encoding failed", "session", id, "seq", frame.Seq, "error", err)
			h.count(ctx, h.encodeErrors, 1)
			if err := sleep(ctx, interval); err != nil {
				return err
			}
			continue
		}

		n, err := w.Write(pkt)
		if err != nil {
			span.SetAttributes(attribute.Int64("packets.sent", sent))
			return fmt.Errorf("failed to write packet: %w", err)
		}
		if flush != nil {
			flush()
		}
		sent++
		h.count(ctx, h.packets, 1)
		h.count(ctx, h.bytesSent, int64(n))

		if err := sleep(ctx, interval); err != nil {
			span.SetAttributes(attribute.Int64("packets.sent", sent))
			return err
		}
	}
}

func (h *Handler) count(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}

func (h *Handler) addActive(ctx context.Context, n int64) {
	if h.active != nil {
		h.active.Add(ctx, n)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
