//go:build !linux

package tally

import "fmt"

// GPIO is unavailable on this platform.
type GPIO struct{ Noop }

// Open always fails outside linux, GPIO character devices do not exist there.
func Open(chipName, pin string) (*GPIO, error) {
	return nil, fmt.Errorf("gpio tally light not available on this platform")
}
