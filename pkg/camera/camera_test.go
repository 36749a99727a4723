package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, name := range []string{"v4l2", "command", "mjpeg", "pattern"} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(name), k)
	}

	_, err := ParseKind("gstreamer")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestSelect(t *testing.T) {
	devices := []Device{
		{Kind: KindV4L2, ID: "/dev/video0", Name: "Integrated Camera"},
		{Kind: KindV4L2, ID: "/dev/video2", Name: "USB Camera"},
	}

	tests := []struct {
		selector string
		want     string
	}{
		{"", "/dev/video0"},
		{"/dev/video2", "/dev/video2"},
		{"USB Camera", "/dev/video2"},
		{"1", "/dev/video2"},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			dev, err := Select(devices, tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dev.ID)
		})
	}

	_, err := Select(devices, "/dev/video9")
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = Select(nil, "")
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestEnumerate(t *testing.T) {
	ctx := context.Background()

	devices, err := Enumerate(ctx, KindPattern, Settings{})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, KindPattern, devices[0].Kind)

	devices, err = Enumerate(ctx, KindMJPEG, Settings{URL: "http://cam.local/video/"})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "http://cam.local/video/", devices[0].ID)

	devices, err = Enumerate(ctx, KindMJPEG, Settings{})
	require.NoError(t, err)
	assert.Empty(t, devices)

	_, err = Enumerate(ctx, Kind("nope"), Settings{})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestDiscoverWithoutDevice(t *testing.T) {
	_, err := Discover(context.Background(), KindMJPEG, "", Settings{})
	assert.ErrorIs(t, err, ErrNoDevice)
}

// frameLog records frame sizes and the colour of the first pixel.
type frameLog struct {
	mu     sync.Mutex
	bounds []image.Rectangle
	first  []color.RGBA
}

func (l *frameLog) add(img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bounds = append(l.bounds, img.Bounds())
	l.first = append(l.first, color.RGBAModel.Convert(img.At(img.Bounds().Min.X, img.Bounds().Min.Y)).(color.RGBA))
}

func (l *frameLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bounds)
}

func TestPatternSourceEmitsFrames(t *testing.T) {
	src, err := Open(Device{Kind: KindPattern}, Settings{Width: 2, Height: 2, FPS: 50})
	require.NoError(t, err)
	src.(*PatternSource).Solid = color.RGBA{R: 200, G: 10, B: 20, A: 255}

	var got frameLog
	src.OnFrame(got.add)
	require.NoError(t, src.Start(context.Background()))

	require.Eventually(t, func() bool { return got.len() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, image.Rect(0, 0, 2, 2), got.bounds[0])
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 20, A: 255}, got.first[0])
}

func TestPatternSourceLifecycle(t *testing.T) {
	src := NewPatternSource(Settings{Width: 4, Height: 4, FPS: 100})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, src.Start(ctx))
	assert.Error(t, src.Start(ctx), "second start is rejected")

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop(), "stop is idempotent")

	// A stopped source can be started again.
	require.NoError(t, src.Start(ctx))
	require.NoError(t, src.Stop())
}

func TestPanickingCallbackKeepsCapturing(t *testing.T) {
	src := NewPatternSource(Settings{Width: 2, Height: 2, FPS: 100})

	var (
		mu    sync.Mutex
		calls int
	)
	src.OnFrame(func(image.Image) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
	})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)
}
