package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wachiwi/camstream/pkg/framestore"
	"github.com/wachiwi/camstream/pkg/mjpeg"
	"github.com/wachiwi/camstream/pkg/tally"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func countPackets(t *testing.T, raw []byte) int {
	t.Helper()
	rd := mjpeg.NewReader(bytes.NewReader(raw), mjpeg.DefaultBoundary)
	n := 0
	for {
		part, err := rd.Next()
		if err != nil {
			return n
		}
		if _, err := jpeg.Decode(bytes.NewReader(part.Body)); err != nil {
			t.Errorf("packet %d does not decode: %v", n, err)
			return n
		}
		n++
	}
}

func TestRunWaitsForFirstFrame(t *testing.T) {
	store := framestore.New()
	h := NewHandler(store, nil, 10*time.Millisecond)
	h.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx, "wait", &out, nil) }()

	// 1. Nothing is written while the store is empty
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, out.Bytes())

	// 2. The first publish produces the first packet
	store.Publish(solid(2, 2, color.RGBA{R: 255, A: 255}))
	require.Eventually(t, func() bool { return countPackets(t, out.Bytes()) >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

type flakyEncoder struct {
	calls atomic.Int32
	fail  int32
}

func (e *flakyEncoder) Encode(w io.Writer, img image.Image) error {
	if e.calls.Add(1) <= e.fail {
		return errors.New("corrupt frame")
	}
	return mjpeg.JPEGEncoder{}.Encode(w, img)
}

func TestRunSurvivesEncodeFailure(t *testing.T) {
	store := framestore.New()
	enc := &flakyEncoder{fail: 1}
	h := NewHandler(store, &mjpeg.Framer{Boundary: mjpeg.DefaultBoundary, Encoder: enc}, 5*time.Millisecond)

	store.Publish(solid(4, 4, color.RGBA{G: 200, A: 255}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx, "flaky", &out, nil) }()

	require.Eventually(t, func() bool { return countPackets(t, out.Bytes()) >= 3 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, enc.calls.Load(), int32(2))

	select {
	case err := <-errCh:
		t.Fatalf("session ended early: %v", err)
	default:
	}

	cancel()
	<-errCh
}

func TestRunEncodesEveryPacket(t *testing.T) {
	store := framestore.New()
	enc := &flakyEncoder{}
	h := NewHandler(store, &mjpeg.Framer{Encoder: enc}, 2*time.Millisecond)
	store.Publish(solid(2, 2, color.RGBA{B: 100, A: 255}))

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, "still", &out, nil)
	}()

	require.Eventually(t, func() bool { return countPackets(t, out.Bytes()) >= 5 }, time.Second, 2*time.Millisecond)
	cancel()
	<-done

	// A still frame is still encoded fresh for every packet.
	assert.GreaterOrEqual(t, int(enc.calls.Load()), countPackets(t, out.Bytes()))
}

type failingWriter struct {
	writes atomic.Int32
	after  int32
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.writes.Add(1) > w.after {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestRunEndsOnWriteFailure(t *testing.T) {
	store := framestore.New()
	store.Publish(solid(2, 2, color.RGBA{R: 1, A: 255}))

	counter := tally.NewCounter(nil)
	h := NewHandler(store, nil, time.Millisecond)
	h.Tally = counter

	w := &failingWriter{after: 2}
	err := h.Run(context.Background(), "broken", w, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, 0, counter.Viewers())
	assert.Equal(t, 0, h.Sessions())
}

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.GET("/video/", h.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeHeaders(t *testing.T) {
	store := framestore.New()
	store.Publish(solid(2, 2, color.RGBA{R: 9, A: 255}))
	h := NewHandler(store, nil, 10*time.Millisecond)
	srv := newTestServer(t, h)

	resp, err := http.Get(srv.URL + "/video/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=--frame", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-cache")

	boundary, err := mjpeg.BoundaryFromContentType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)

	// The very first bytes of the body are the packet delimiter with that boundary.
	head := make([]byte, len(boundary)+4)
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "\r\n"+boundary+"\r\n", string(head))
}

func TestDisconnectDoesNotAffectOtherSession(t *testing.T) {
	store := framestore.New()
	h := NewHandler(store, nil, 10*time.Millisecond)
	srv := newTestServer(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				i++
				store.Publish(solid(8, 8, color.RGBA{R: uint8(i), A: 255}))
			}
		}
	}()
	defer close(stop)

	open := func(ctx context.Context) (*http.Response, *mjpeg.Reader) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video/", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp, mjpeg.NewReader(resp.Body, mjpeg.DefaultBoundary)
	}

	ctxA, abortA := context.WithCancel(ctx)
	respA, readerA := open(ctxA)
	respB, readerB := open(ctx)
	defer respB.Body.Close()

	// 1. Both sessions receive packets
	_, err := readerA.Next()
	require.NoError(t, err)
	_, err = readerB.Next()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Sessions() == 2 }, time.Second, 5*time.Millisecond)

	// 2. Abort session A mid-stream
	abortA()
	respA.Body.Close()
	require.Eventually(t, func() bool { return h.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)

	// 3. Session B keeps receiving decodable packets
	for i := 0; i < 5; i++ {
		part, err := readerB.Next()
		require.NoError(t, err)
		img, err := jpeg.Decode(bytes.NewReader(part.Body))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
	}
}

func TestSessionsTracksTally(t *testing.T) {
	store := framestore.New()
	store.Publish(solid(2, 2, color.RGBA{A: 255}))
	h := NewHandler(store, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, "one", io.Discard, nil)
	}()

	require.Eventually(t, func() bool { return h.Sessions() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, h.Tally.Viewers())
	cancel()
	<-done
	assert.Equal(t, 0, h.Sessions())
	assert.Equal(t, 0, h.Tally.Viewers())
}

func TestSessionsCountedWithoutTally(t *testing.T) {
	store := framestore.New()
	store.Publish(solid(2, 2, color.RGBA{A: 255}))
	h := &Handler{Frames: store, Framer: mjpeg.NewFramer(mjpeg.DefaultQuality), Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	for _, id := range []string{"one", "two"} {
		go func() {
			defer func() { done <- struct{}{} }()
			h.Run(ctx, id, io.Discard, nil)
		}()
	}

	require.Eventually(t, func() bool { return h.Sessions() == 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
	<-done
	assert.Equal(t, 0, h.Sessions())
}
