// Package mjpeg encodes frames as JPEG and frames them for a
// multipart/x-mixed-replace response.
//
// Each packet on the wire looks like:
//
//	\r\n--frame\r\n
//	Content-Type: image/jpeg\r\n
//	Content-Length: <N>\r\n
//	\r\n
//	<N bytes of JPEG>
//
// The boundary written in front of every packet is the exact string
// advertised in the response Content-Type.
package mjpeg

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strconv"
)

// DefaultBoundary is the boundary token used for the lifetime of the process.
const DefaultBoundary = "--frame"

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// ErrEmptyFrame is returned when asked to encode an image with no pixels.
var ErrEmptyFrame = errors.New("mjpeg: empty frame")

// ContentType returns the response Content-Type announcing boundary.
func ContentType(boundary string) string {
	return "multipart/x-mixed-replace; boundary=" + boundary
}

// Encoder turns an image into compressed bytes.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// JPEGEncoder encodes with image/jpeg.
type JPEGEncoder struct {
	Quality int
}

// Encode writes img to w as a baseline JPEG.
func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrEmptyFrame
	}
	q := e.Quality
	if q <= 0 || q > 100 {
		q = DefaultQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: q}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return nil
}

// Framer builds multipart packets.
type Framer struct {
	Boundary string
	Encoder  Encoder
}

// NewFramer returns a Framer using the default boundary and a JPEG encoder
// of the given quality.
func NewFramer(quality int) *Framer {
	return &Framer{
		Boundary: DefaultBoundary,
		Encoder:  JPEGEncoder{Quality: quality},
	}
}

// ContentType returns the response Content-Type matching this framer's packets.
func (f *Framer) ContentType() string {
	return ContentType(f.boundary())
}

// Packet encodes img and returns one complete packet. Nothing is returned on
// encoding failure, so callers can simply skip the frame.
func (f *Framer) Packet(img image.Image) ([]byte, error) {
	var payload bytes.Buffer
	if err := f.Encoder.Encode(&payload, img); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(payload.Len() + 96)
	f.writeHeader(&buf, payload.Len())
	buf.Write(payload.Bytes())
	return buf.Bytes(), nil
}

func (f *Framer) writeHeader(buf *bytes.Buffer, length int) {
	buf.WriteString("\r\n")
	buf.WriteString(f.boundary())
	buf.WriteString("\r\nContent-Type: image/jpeg\r\nContent-Length: ")
	buf.WriteString(strconv.Itoa(length))
	buf.WriteString("\r\n\r\n")
}

func (f *Framer) boundary() string {
	if f.Boundary == "" {
		return DefaultBoundary
	}
	return f.Boundary
}
