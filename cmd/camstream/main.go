package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/camstream/pkg/camera"
	"github.com/wachiwi/camstream/pkg/config"
	"github.com/wachiwi/camstream/pkg/framestore"
	"github.com/wachiwi/camstream/pkg/logger"
	"github.com/wachiwi/camstream/pkg/mjpeg"
	"github.com/wachiwi/camstream/pkg/monitor"
	"github.com/wachiwi/camstream/pkg/server"
	"github.com/wachiwi/camstream/pkg/stream"
	"github.com/wachiwi/camstream/pkg/tally"
	"github.com/wachiwi/camstream/pkg/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logger.Setup(slog.LevelInfo)
		logger.Fatal("Invalid configuration", "error", err)
	}
	logger.Setup(cfg.Level())
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, "camstream", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal("Failed to set up telemetry", "error", err)
	}

	// 2. Camera
	src, err := camera.Discover(ctx, cfg.Source, cfg.Device, cfg.CameraSettings())
	if err != nil {
		logger.Fatal("Failed to open camera", "source", cfg.Source, "device", cfg.Device, "error", err)
	}
	store := framestore.New(cfg.StoreOptions()...)
	src.OnFrame(store.Publish)

	// 3. Tally light
	viewers := tally.NewCounter(nil)
	if cfg.TallyEnabled() {
		light, err := tally.Open(cfg.TallyChip, cfg.TallyPin)
		if err != nil {
			slog.Warn("Tally light unavailable", "chip", cfg.TallyChip, "pin", cfg.TallyPin, "error", err)
		} else {
			viewers = tally.NewCounter(light)
		}
	}

	// 4. HTTP
	handler := stream.NewHandler(store, mjpeg.NewFramer(cfg.Quality), cfg.Interval())
	handler.Tally = viewers
	srv := server.New(cfg.Addr, cfg.StreamPath, handler.Serve)
	if err := srv.Listen(); err != nil {
		logger.Fatal("Failed to bind", "addr", cfg.Addr, "error", err)
	}

	// 5. Monitor
	mon, err := monitor.New(cfg.StatsSchedule, store, handler)
	if err != nil {
		logger.Fatal("Failed to create monitor", "error", err)
	}

	if err := src.Start(ctx); err != nil {
		logger.Fatal("Failed to start camera", "device", src.Info().ID, "error", err)
	}
	mon.Start()

	slog.Info("Streaming", "url", "http://"+srv.Addr()+cfg.StreamPath, "source", cfg.Source, "device", src.Info().ID)
	serveErr := srv.Serve(ctx)
	stop()

	// Orderly shutdown: sessions are gone once Serve returns.
	if err := src.Stop(); err != nil {
		slog.Error("Failed to stop camera", "error", err)
	}
	mon.Stop()
	if err := viewers.Close(); err != nil {
		slog.Error("Failed to release tally light", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		slog.Error("Error shutting down telemetry", "error", err)
	}

	if serveErr != nil {
		cancel()
		logger.Fatal("Server stopped", "error", serveErr)
	}
	slog.Info("Shutdown complete")
}
