package mjpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrMissingBoundary is returned when a Content-Type carries no boundary parameter.
var ErrMissingBoundary = errors.New("mjpeg: content type has no boundary")

// Part is one decoded packet from a stream.
type Part struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// BoundaryFromContentType extracts the boundary parameter of a
// multipart/x-mixed-replace Content-Type.
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("failed to parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("unexpected media type %q", mediaType)
	}
	b := params["boundary"]
	if b == "" {
		return "", ErrMissingBoundary
	}
	return b, nil
}

// Reader reads packets written by Framer. Unlike mime/multipart it treats the
// boundary token as the literal delimiter line, so "--frame" matches a
// "--frame" line on the wire.
type Reader struct {
	boundary string
	r        *bufio.Reader
	tp       *textproto.Reader
}

// NewReader reads packets delimited by boundary from r.
func NewReader(r io.Reader, boundary string) *Reader {
	br := bufio.NewReaderSize(r, 64*1024)
	return &Reader{
		boundary: boundary,
		r:        br,
		tp:       textproto.NewReader(br),
	}
}

// Next returns the next packet. Lines before the boundary are skipped. A
// packet without a valid Content-Length is an error because the payload
// length cannot be known.
func (r *Reader) Next() (*Part, error) {
	for {
		line, err := r.tp.ReadLine()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == r.boundary {
			break
		}
	}

	header, err := r.tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read part header: %w", err)
	}

	cl := header.Get("Content-Length")
	if cl == "" {
		return nil, errors.New("mjpeg: part without Content-Length")
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("mjpeg: invalid Content-Length %q", cl)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("failed to read part body: %w", err)
	}
	return &Part{Header: header, Body: body}, nil
}
