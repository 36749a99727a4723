package camera

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYUYV(t *testing.T) {
	// 2x2 frame: Y0 U Y1 V per pixel pair.
	frame := []byte{
		16, 128, 235, 128,
		81, 90, 145, 240,
	}
	img, err := decodeYUYV(frame, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())

	ycc := img.(*image.YCbCr)
	assert.Equal(t, color.YCbCr{Y: 16, Cb: 128, Cr: 128}, ycc.YCbCrAt(0, 0))
	assert.Equal(t, color.YCbCr{Y: 235, Cb: 128, Cr: 128}, ycc.YCbCrAt(1, 0))
	assert.Equal(t, color.YCbCr{Y: 81, Cb: 90, Cr: 240}, ycc.YCbCrAt(0, 1))
	assert.Equal(t, color.YCbCr{Y: 145, Cb: 90, Cr: 240}, ycc.YCbCrAt(1, 1))
}

func TestDecodeYUYVRejectsBadLength(t *testing.T) {
	_, err := decodeYUYV(make([]byte, 7), 2, 2)
	assert.Error(t, err)

	_, err = decodeYUYV(make([]byte, 6), 3, 1)
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	data := encodeJPEG(t, 4, 2, color.RGBA{G: 128, A: 255})
	img, err := decodeFrame(formatMJPG, data, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())

	_, err = decodeFrame(0x3231564e, data, 4, 2) // NV12
	assert.Error(t, err)
}
