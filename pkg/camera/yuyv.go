package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Pixel formats as V4L2 fourcc codes.
const (
	formatMJPG uint32 = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	formatYUYV uint32 = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
)

// decodeFrame turns a raw driver buffer into an image.
func decodeFrame(format uint32, data []byte, width, height int) (image.Image, error) {
	switch format {
	case formatMJPG:
		return jpeg.Decode(bytes.NewReader(data))
	case formatYUYV:
		return decodeYUYV(data, width, height)
	}
	return nil, fmt.Errorf("unsupported pixel format %08x", format)
}

// decodeYUYV converts packed 4:2:2 YUYV into a YCbCr image without copying
// the luma through an intermediate buffer.
func decodeYUYV(frame []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("yuyv: invalid frame size %dx%d", width, height)
	}
	yi := width * height
	ci := yi / 2
	fi := yi + 2*ci

	if len(frame) != fi {
		return nil, fmt.Errorf("yuyv: frame length %d, expected %d", len(frame), fi)
	}

	var (
		y  = make([]byte, yi)
		cb = make([]byte, ci)
		cr = make([]byte, ci)
	)

	fast := 0
	slow := 0
	for i := 0; i < fi; i += 4 {
		y[fast] = frame[i]
		cb[slow] = frame[i+1]
		y[fast+1] = frame[i+2]
		cr[slow] = frame[i+3]
		fast += 2
		slow++
	}

	return &image.YCbCr{
		Y:              y,
		YStride:        width,
		Cb:             cb,
		Cr:             cr,
		CStride:        width / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio422,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}
