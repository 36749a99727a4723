package camera

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
)

const (
	readChunkSize  = 4096
	maxFrameBuffer = 10 * 1024 * 1024
)

// JPEG markers
var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// jpegSplitter cuts a raw MJPEG byte stream (concatenated JPEG images, as
// written by rpicam-vid or ffmpeg -f mjpeg) into individual images.
type jpegSplitter struct {
	frame []byte
}

// run reads r until it fails and calls fn with every complete JPEG. The
// slice passed to fn is owned by fn.
func (s *jpegSplitter) run(r io.Reader, fn func([]byte)) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.feed(buf[:n], fn)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("stream read error: %w", err)
		}
	}
}

// feed appends chunk to the pending frame and emits every frame it completes.
func (s *jpegSplitter) feed(chunk []byte, fn func([]byte)) {
	for len(chunk) > 0 {
		if len(s.frame) == 0 {
			start := bytes.Index(chunk, soi)
			if start == -1 {
				// A lone 0xFF at the end may be the first half of a split SOI.
				if chunk[len(chunk)-1] == 0xFF {
					s.frame = append(s.frame, 0xFF)
				}
				return
			}
			chunk = chunk[start:]
		} else if len(s.frame) == 1 {
			// Pending half marker from the previous chunk.
			if chunk[0] != soi[1] {
				s.frame = s.frame[:0]
				continue
			}
		}

		// Search for EOI in the new data, plus one byte back in case the
		// marker was split across reads. The first two bytes are the SOI.
		searchFrom := len(s.frame) - 1
		if searchFrom < 2 {
			searchFrom = 2
		}
		s.frame = append(s.frame, chunk...)
		chunk = nil

		end := bytes.Index(s.frame[searchFrom:], eoi)
		if end == -1 {
			if len(s.frame) > maxFrameBuffer {
				slog.Warn("Frame buffer overflow, resetting")
				s.frame = s.frame[:0]
			}
			return
		}
		end += searchFrom + len(eoi)

		full := make([]byte, end)
		copy(full, s.frame[:end])

		// Data after EOI is the start of the next frame.
		rest := s.frame[end:]
		s.frame = s.frame[:0]
		fn(full)
		chunk = append([]byte(nil), rest...)
	}
}
