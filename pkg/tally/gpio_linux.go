//go:build linux

package tally

import (
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"
	"github.com/warthog618/go-gpiocdev/device/rpi"
)

// GPIO is a Light wired to a single output line.
type GPIO struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// Open requests pin on chip as an output, initially off. pin accepts the
// Raspberry Pi names understood by rpi.Pin, e.g. "GPIO17" or "J8p11".
func Open(chipName, pin string) (*GPIO, error) {
	offset, err := rpi.Pin(pin)
	if err != nil {
		return nil, fmt.Errorf("invalid tally pin %q: %w", pin, err)
	}

	c, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("failed to open chip: %w", err)
	}

	l, err := c.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request line %d: %w", offset, err)
	}

	slog.Info("Tally light ready", "chip", chipName, "pin", pin, "offset", offset)
	return &GPIO{chip: c, line: l}, nil
}

// Set drives the line high when on.
func (g *GPIO) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

// Close releases the line and the chip.
func (g *GPIO) Close() error {
	if err := g.line.Close(); err != nil {
		return err
	}
	return g.chip.Close()
}
