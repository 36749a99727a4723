// Package tally drives an on-air indicator while clients are watching the stream.
package tally

import (
	"log/slog"
	"sync"
)

// Light is a binary indicator output.
type Light interface {
	Set(on bool) error
	Close() error
}

// Noop is a Light that does nothing. It is used when no GPIO is configured.
type Noop struct{}

func (Noop) Set(bool) error { return nil }
func (Noop) Close() error   { return nil }

// Counter switches a Light on while at least one viewer is registered.
type Counter struct {
	mu      sync.Mutex
	light   Light
	viewers int
}

// NewCounter wraps light. A nil light behaves like Noop.
func NewCounter(light Light) *Counter {
	if light == nil {
		light = Noop{}
	}
	return &Counter{light: light}
}

// Add registers a viewer and returns the new viewer count.
func (c *Counter) Add() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.viewers++
	if c.viewers == 1 {
		c.set(true)
	}
	return c.viewers
}

// Done unregisters a viewer and returns the remaining viewer count.
func (c *Counter) Done() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.viewers == 0 {
		return 0
	}
	c.viewers--
	if c.viewers == 0 {
		c.set(false)
	}
	return c.viewers
}

// Viewers returns the number of registered viewers.
func (c *Counter) Viewers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewers
}

// Close turns the light off and releases it.
func (c *Counter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(false)
	return c.light.Close()
}

func (c *Counter) set(on bool) {
	if err := c.light.Set(on); err != nil {
		slog.Warn("Failed to switch tally light", "on", on, "error", err)
	}
}
