// Package config loads camstream settings from CAMSTREAM_* environment
// variables and command-line flags. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wachiwi/camstream/pkg/camera"
	"github.com/wachiwi/camstream/pkg/framestore"
	"github.com/wachiwi/camstream/pkg/logger"
	"github.com/wachiwi/camstream/pkg/mjpeg"
)

const envPrefix = "CAMSTREAM_"

type Config struct {
	Addr       string
	StreamPath string

	Source     camera.Kind
	Device     string
	URL        string
	Width      int
	Height     int
	FPS        int // client pacing
	CaptureFPS int
	Quality    int
	Scaler     string

	LogLevel      string
	OTelEndpoint  string
	StatsSchedule string

	TallyChip string
	TallyPin  string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:          "localhost:5000",
		StreamPath:    "/video/",
		Source:        defaultSource(),
		Width:         640,
		Height:        480,
		FPS:           10,
		CaptureFPS:    30,
		Quality:       mjpeg.DefaultQuality,
		Scaler:        "approx-bilinear",
		LogLevel:      "info",
		StatsSchedule: "@every 1m",
	}
}

func defaultSource() camera.Kind {
	if runtime.GOOS == "linux" {
		return camera.KindV4L2
	}
	return camera.KindCommand
}

// Load builds a Config from defaults, the environment and args, then
// validates it. args excludes the program name.
func Load(args []string) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("camstream", flag.ContinueOnError)
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := getenv(envPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", envPrefix, name, v, err)
		}
		*dst = n
		return nil
	}

	str("ADDR", &c.Addr)
	str("PATH", &c.StreamPath)
	source := string(c.Source)
	str("SOURCE", &source)
	c.Source = camera.Kind(source)
	str("DEVICE", &c.Device)
	str("URL", &c.URL)
	str("SCALER", &c.Scaler)
	str("LOG_LEVEL", &c.LogLevel)
	str("OTEL_ENDPOINT", &c.OTelEndpoint)
	str("STATS_SCHEDULE", &c.StatsSchedule)
	str("TALLY_CHIP", &c.TallyChip)
	str("TALLY_PIN", &c.TallyPin)

	return errors.Join(
		num("WIDTH", &c.Width),
		num("HEIGHT", &c.Height),
		num("FPS", &c.FPS),
		num("CAPTURE_FPS", &c.CaptureFPS),
		num("JPEG_QUALITY", &c.Quality),
	)
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address (host:port)")
	fs.StringVar(&c.StreamPath, "path", c.StreamPath, "stream endpoint path")
	fs.Func("source", fmt.Sprintf("capture source: v4l2, command, mjpeg or pattern (default %q)", c.Source), func(v string) error {
		c.Source = camera.Kind(v)
		return nil
	})
	fs.StringVar(&c.Device, "device", c.Device, "device path, name or index (default: first found)")
	fs.StringVar(&c.URL, "url", c.URL, "upstream MJPEG URL for the mjpeg source")
	fs.IntVar(&c.Width, "width", c.Width, "capture width")
	fs.IntVar(&c.Height, "height", c.Height, "capture height")
	fs.IntVar(&c.FPS, "fps", c.FPS, "frames per second sent to each client")
	fs.IntVar(&c.Quality, "quality", c.Quality, "JPEG quality (1-100)")
	fs.StringVar(&c.Scaler, "scaler", c.Scaler, "resize interpolator: nearest, approx-bilinear, bilinear or catmull-rom")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("invalid listen address %q: %w", c.Addr, err))
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("stream path %q must start with /", c.StreamPath))
	}
	if _, err := camera.ParseKind(string(c.Source)); err != nil {
		errs = append(errs, err)
	}
	if c.Source == camera.KindMJPEG {
		u, err := url.Parse(c.URL)
		switch {
		case c.URL == "":
			errs = append(errs, errors.New("source mjpeg needs an upstream url"))
		case err != nil:
			errs = append(errs, fmt.Errorf("invalid upstream url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("upstream url %q must be http or https", c.URL))
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 || c.FPS > 1000 {
		errs = append(errs, fmt.Errorf("fps %d out of range 1-1000", c.FPS))
	}
	if c.CaptureFPS <= 0 || c.CaptureFPS > 1000 {
		errs = append(errs, fmt.Errorf("capture fps %d out of range 1-1000", c.CaptureFPS))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of range 1-100", c.Quality))
	}
	if _, err := framestore.ParseScaler(c.Scaler); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.StatsSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid stats schedule %q: %w", c.StatsSchedule, err))
	}
	if (c.TallyChip == "") != (c.TallyPin == "") {
		errs = append(errs, errors.New("tally light needs both chip and pin"))
	}

	return errors.Join(errs...)
}

// Interval is the per-client pacing interval.
func (c *Config) Interval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() slog.Level {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

// StoreOptions returns the frame store sizing options. Call after Validate.
func (c *Config) StoreOptions() []framestore.Option {
	scaler, _ := framestore.ParseScaler(c.Scaler)
	return []framestore.Option{
		framestore.WithSize(c.Width, c.Height),
		framestore.WithScaler(scaler),
	}
}

// CameraSettings returns the capture parameters.
func (c *Config) CameraSettings() camera.Settings {
	return camera.Settings{
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.CaptureFPS,
		URL:    c.URL,
	}
}

// TallyEnabled reports whether a tally light is configured.
func (c *Config) TallyEnabled() bool {
	return c.TallyChip != ""
}
