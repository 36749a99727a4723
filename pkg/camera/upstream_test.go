package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamRelaysAndReconnects(t *testing.T) {
	var connects atomic.Int32
	frame := encodeJPEG(t, 4, 3, color.RGBA{R: 90, A: 255})

	// Each connection serves two frames and then ends the stream.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connects.Add(1)
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for i := 0; i < 2; i++ {
			h := textproto.MIMEHeader{}
			h.Set("Content-Type", "image/jpeg")
			h.Set("Content-Length", fmt.Sprint(len(frame)))
			pw, err := mw.CreatePart(h)
			if err != nil {
				return
			}
			pw.Write(frame)
			w.(http.Flusher).Flush()
		}
		mw.Close()
	}))
	defer srv.Close()

	src := newUpstreamSource(Device{Kind: KindMJPEG, ID: srv.URL}, Settings{})
	src.retryDelay = 10 * time.Millisecond

	var got frameLog
	src.OnFrame(got.add)
	require.NoError(t, src.Start(context.Background()))

	require.Eventually(t, func() bool { return got.len() >= 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	assert.GreaterOrEqual(t, connects.Load(), int32(2))
	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, image.Rect(0, 0, 4, 3), got.bounds[0])
}

func TestUpstreamStopWhileUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := newUpstreamSource(Device{Kind: KindMJPEG, ID: srv.URL}, Settings{})
	src.retryDelay = time.Hour
	require.NoError(t, src.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		src.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on retry delay")
	}
}
