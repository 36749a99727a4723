// Package framestore holds the most recently captured camera frame.
//
// The store is a latest-value cell, not a queue: every Publish replaces the
// previous frame and readers always see the newest one. Published frames are
// immutable, so readers share them without copying.
package framestore

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/image/draw"
)

// Frame is one published camera image.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64
	CapturedAt time.Time
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// Stats is a point-in-time view of the store counters.
type Stats struct {
	Published uint64
	Rejected  uint64
	LastSeq   uint64
	Age       time.Duration // zero when nothing has been published
}

// Store is safe for concurrent use by one publisher and any number of readers.
type Store struct {
	latest    atomic.Pointer[Frame]
	seq       atomic.Uint64
	rejected  atomic.Uint64
	width     int
	height    int
	scaler    draw.Scaler
	now       func() time.Time
	published metric.Int64Counter
	dropped   metric.Int64Counter
}

// Option configures a Store.
type Option func(*Store)

// WithSize scales every published frame to width x height.
// Zero values keep the source dimensions.
func WithSize(width, height int) Option {
	return func(s *Store) {
		s.width = width
		s.height = height
	}
}

// WithScaler sets the interpolator used when frames are resized.
func WithScaler(scaler draw.Scaler) Option {
	return func(s *Store) { s.scaler = scaler }
}

// ParseScaler maps an interpolator name to its scaler: nearest,
// approx-bilinear, bilinear or catmull-rom.
func ParseScaler(name string) (draw.Scaler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest":
		return draw.NearestNeighbor, nil
	case "approx-bilinear", "":
		return draw.ApproxBiLinear, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "catmull-rom":
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown scaler %q", name)
}

// WithClock overrides the time source used for capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		scaler: draw.ApproxBiLinear,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("camstream/framestore")
	var err error
	s.published, err = meter.Int64Counter("camstream.frames.published", metric.WithDescription("Frames accepted into the frame store"))
	if err != nil {
		slog.Error("Failed to create frames.published counter", "error", err)
	}
	s.dropped, err = meter.Int64Counter("camstream.frames.rejected", metric.WithDescription("Frames rejected by the frame store"))
	if err != nil {
		slog.Error("Failed to create frames.rejected counter", "error", err)
	}
	return s
}

// Publish stores an independent copy of img, replacing the previous frame.
// The caller keeps ownership of img and may reuse its buffer right away.
// Empty images are dropped and the last good frame is kept.
func (s *Store) Publish(img image.Image) {
	if img == nil || img.Bounds().Empty() {
		s.rejected.Add(1)
		if s.dropped != nil {
			s.dropped.Add(context.Background(), 1)
		}
		slog.Warn("Dropping empty frame")
		return
	}

	frame := &Frame{
		Image:      s.copyImage(img),
		Seq:        s.seq.Add(1),
		CapturedAt: s.now(),
	}
	s.latest.Store(frame)
	if s.published != nil {
		s.published.Add(context.Background(), 1)
	}
}

// Latest returns the most recently published frame, or false if nothing has
// been published yet. The returned frame must not be modified.
func (s *Store) Latest() (*Frame, bool) {
	f := s.latest.Load()
	return f, f != nil
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	st := Stats{
		Published: s.seq.Load(),
		Rejected:  s.rejected.Load(),
	}
	if f := s.latest.Load(); f != nil {
		st.LastSeq = f.Seq
		st.Age = s.now().Sub(f.CapturedAt)
	}
	return st
}

func (s *Store) copyImage(src image.Image) *image.RGBA {
	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if s.width > 0 && s.height > 0 {
		w, h = s.width, s.height
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return dst
	}
	s.scaler.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}
