// Package monitor periodically reports capture and streaming health.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/camstream/pkg/framestore"
	"github.com/wachiwi/camstream/pkg/logger"
)

// DefaultStaleAfter is the frame age after which the camera counts as stalled.
const DefaultStaleAfter = 5 * time.Second

type StatsSource interface {
	Stats() framestore.Stats
}

type SessionCounter interface {
	Sessions() int
}

// Report is the result of one health check.
type Report struct {
	framestore.Stats
	Sessions int
	Stale    bool
}

type Monitor struct {
	cron       *cron.Cron
	frames     StatsSource
	sessions   SessionCounter
	StaleAfter time.Duration

	ageGauge      metric.Float64Gauge
	sessionsGauge metric.Int64Gauge
	staleGauge    metric.Int64Gauge
}

// New creates a Monitor that checks on schedule (standard cron syntax or a
// descriptor such as "@every 1m"). sessions may be nil.
func New(schedule string, frames StatsSource, sessions SessionCounter) (*Monitor, error) {
	m := &Monitor{
		frames:     frames,
		sessions:   sessions,
		StaleAfter: DefaultStaleAfter,
	}
	m.cron = cron.New(
		cron.WithLogger(&logger.CronLogger{Logger: slog.Default()}),
		cron.WithChain(cron.SkipIfStillRunning(&logger.CronLogger{Logger: slog.Default()})),
	)
	if _, err := m.cron.AddFunc(schedule, func() { m.Check(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}

	meter := otel.Meter("camstream/monitor")
	var err error
	if m.ageGauge, err = meter.Float64Gauge("camstream.frame.age", metric.WithDescription("Seconds since the last captured frame"), metric.WithUnit("s")); err != nil {
		slog.Error("Failed to create frame.age gauge", "error", err)
	}
	if m.sessionsGauge, err = meter.Int64Gauge("camstream.sessions", metric.WithDescription("Streaming sessions at the last check")); err != nil {
		slog.Error("Failed to create sessions gauge", "error", err)
	}
	if m.staleGauge, err = meter.Int64Gauge("camstream.camera.stalled", metric.WithDescription("1 if the camera stopped delivering frames, 0 otherwise")); err != nil {
		slog.Error("Failed to create camera.stalled gauge", "error", err)
	}
	return m, nil
}

// Start runs the schedule in the background.
func (m *Monitor) Start() {
	slog.Info("Starting monitor", "entries", len(m.cron.Entries()))
	m.cron.Start()
}

// Stop halts the schedule and waits for a running check.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// Check takes one health snapshot, logs it and records the gauges.
func (m *Monitor) Check(ctx context.Context) Report {
	r := Report{Stats: m.frames.Stats()}
	if m.sessions != nil {
		r.Sessions = m.sessions.Sessions()
	}
	r.Stale = r.Published > 0 && r.Age > m.StaleAfter

	stalled := int64(0)
	switch {
	case r.Published == 0:
		slog.Warn("No frames captured yet", "rejected", r.Rejected, "sessions", r.Sessions)
	case r.Stale:
		stalled = 1
		slog.Warn("Camera stalled", "age", r.Age.Round(time.Millisecond), "last_seq", r.LastSeq, "sessions", r.Sessions)
	default:
		slog.Info("Stream stats", "published", r.Published, "rejected", r.Rejected, "age", r.Age.Round(time.Millisecond), "sessions", r.Sessions)
	}

	if m.ageGauge != nil && r.Published > 0 {
		m.ageGauge.Record(ctx, r.Age.Seconds())
	}
	if m.sessionsGauge != nil {
		m.sessionsGauge.Record(ctx, int64(r.Sessions))
	}
	if m.staleGauge != nil {
		m.staleGauge.Record(ctx, stalled)
	}
	return r
}
