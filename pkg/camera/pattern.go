package camera

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"time"
)

// PatternSource generates frames without any hardware. With Solid set every
// frame is a single colour, otherwise it draws a gradient whose red channel
// changes every second.
type PatternSource struct {
	base
	width    int
	height   int
	interval time.Duration
	Solid    color.Color
}

// NewPatternSource creates a pattern generator producing settings.FPS frames per second.
func NewPatternSource(settings Settings) *PatternSource {
	settings = settings.withDefaults()
	return &PatternSource{
		base:     base{dev: Device{Kind: KindPattern, ID: "pattern", Name: "test pattern"}},
		width:    settings.Width,
		height:   settings.Height,
		interval: time.Second / time.Duration(settings.FPS),
	}
}

// Start begins generating frames.
func (p *PatternSource) Start(ctx context.Context) error {
	if err := p.start(ctx, p.captureLoop); err != nil {
		return err
	}
	slog.Info("Camera started", "kind", KindPattern, "width", p.width, "height", p.height, "interval", p.interval)
	return nil
}

// Stop stops generating frames.
func (p *PatternSource) Stop() error {
	if p.stop() {
		slog.Info("Camera stopped", "kind", KindPattern)
	}
	return nil
}

func (p *PatternSource) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// One working buffer, reused for every frame.
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.render(img, now)
			p.emit(img)
		}
	}
}

func (p *PatternSource) render(img *image.RGBA, now time.Time) {
	if p.Solid != nil {
		c := color.RGBAModel.Convert(p.Solid).(color.RGBA)
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
		}
		return
	}

	shade := byte(now.Unix() % 256)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			offset := y*img.Stride + x*4
			img.Pix[offset] = shade
			img.Pix[offset+1] = byte((x * 255) / p.width)
			img.Pix[offset+2] = byte((y * 255) / p.height)
			img.Pix[offset+3] = 255
		}
	}
}
