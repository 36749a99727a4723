// Package camera wraps the capture backends that feed frames into camstream.
//
// A Source delivers decoded images asynchronously through the callback
// registered with OnFrame. The image handed to the callback is only valid for
// the duration of the call; receivers that keep it must copy it.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
)

// Kind names a capture backend.
type Kind string

const (
	KindV4L2    Kind = "v4l2"    // Video4Linux device via blackjack/webcam
	KindCommand Kind = "command" // external capture command writing MJPEG to stdout
	KindMJPEG   Kind = "mjpeg"   // upstream MJPEG over HTTP
	KindPattern Kind = "pattern" // synthetic test frames
)

var (
	// ErrNoDevice is returned when enumeration finds nothing to capture from.
	ErrNoDevice = errors.New("no camera device found")
	// ErrUnknownSource is returned for an unsupported Kind.
	ErrUnknownSource = errors.New("unknown capture source")
)

// Device identifies something a Source can be opened on.
type Device struct {
	Kind Kind
	ID   string // device path, command name or URL
	Name string
}

// Settings holds capture parameters. Backends treat Width and Height as a
// request and may deliver a different size.
type Settings struct {
	Width  int
	Height int
	FPS    int
	URL    string // upstream stream for KindMJPEG
}

func (s Settings) withDefaults() Settings {
	if s.Width == 0 {
		s.Width = 640
	}
	if s.Height == 0 {
		s.Height = 480
	}
	if s.FPS == 0 {
		s.FPS = 30
	}
	return s
}

// FrameFunc receives captured frames on the capture goroutine.
type FrameFunc func(image.Image)

// Source is an opened capture device.
type Source interface {
	// OnFrame registers the frame callback. It must be called before Start.
	OnFrame(fn FrameFunc)
	// Start begins capturing. Capture runs until ctx is done or Stop is called.
	Start(ctx context.Context) error
	// Stop ends capturing and releases the device. It is safe to call twice.
	Stop() error
	// Info describes the opened device.
	Info() Device
}

// ParseKind validates a source kind name.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case KindV4L2, KindCommand, KindMJPEG, KindPattern:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// Enumerate lists the devices available for kind.
func Enumerate(ctx context.Context, kind Kind, settings Settings) ([]Device, error) {
	switch kind {
	case KindV4L2:
		return enumerateV4L2(ctx)
	case KindCommand:
		return enumerateCommands(ctx)
	case KindMJPEG:
		if settings.URL == "" {
			return nil, nil
		}
		return []Device{{Kind: KindMJPEG, ID: settings.URL, Name: "upstream mjpeg"}}, nil
	case KindPattern:
		return []Device{{Kind: KindPattern, ID: "pattern", Name: "test pattern"}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
}

// Select picks a device by ID, name or index. An empty selector picks the
// first device. ErrNoDevice is returned when nothing matches.
func Select(devices []Device, selector string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}
	if selector == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.ID == selector || d.Name == selector {
			return d, nil
		}
	}
	if i, err := strconv.Atoi(selector); err == nil && i >= 0 && i < len(devices) {
		return devices[i], nil
	}
	return Device{}, fmt.Errorf("%w: no device matches %q", ErrNoDevice, selector)
}

// Open creates a Source for dev. Capture does not begin until Start.
func Open(dev Device, settings Settings) (Source, error) {
	settings = settings.withDefaults()
	switch dev.Kind {
	case KindV4L2:
		return openV4L2(dev, settings)
	case KindCommand:
		return newCommandSource(dev, settings), nil
	case KindMJPEG:
		return newUpstreamSource(dev, settings), nil
	case KindPattern:
		return NewPatternSource(settings), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, dev.Kind)
}

// Discover enumerates kind and opens the device matching selector.
func Discover(ctx context.Context, kind Kind, selector string, settings Settings) (Source, error) {
	devices, err := Enumerate(ctx, kind, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s devices: %w", kind, err)
	}
	dev, err := Select(devices, selector)
	if err != nil {
		return nil, err
	}
	slog.Info("Selected camera", "kind", dev.Kind, "device", dev.ID, "name", dev.Name, "candidates", len(devices))
	return Open(dev, settings)
}

// base carries the callback and lifecycle plumbing shared by all sources.
type base struct {
	mu      sync.Mutex
	dev     Device
	onFrame FrameFunc
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func (b *base) OnFrame(fn FrameFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFrame = fn
}

func (b *base) Info() Device {
	return b.dev
}

// emit hands img to the callback. A panicking callback loses the frame but
// not the capture goroutine.
func (b *base) emit(img image.Image) {
	b.mu.Lock()
	fn := b.onFrame
	b.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Frame callback panicked", "device", b.dev.ID, "panic", r)
		}
	}()
	fn(img)
}

// start marks the source running and launches loop on its own goroutine.
func (b *base) start(ctx context.Context, loop func(ctx context.Context)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("camera %s is already streaming", b.dev.ID)
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.running = true
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		loop(ctx)
	}()
	return nil
}

// stop cancels the loop and waits for it to return. It reports whether the
// source was running.
func (b *base) stop() bool {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return false
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	return true
}
