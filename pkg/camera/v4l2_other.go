//go:build !linux

package camera

import (
	"context"
	"errors"
)

var errV4L2Unsupported = errors.New("v4l2 capture is only available on linux")

func enumerateV4L2(_ context.Context) ([]Device, error) {
	return nil, nil
}

func openV4L2(dev Device, _ Settings) (Source, error) {
	return nil, errV4L2Unsupported
}
