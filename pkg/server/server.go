// Package server exposes the MJPEG stream over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type Server struct {
	addr     string
	engine   *gin.Engine
	listener net.Listener
	srv      *http.Server

	// ShutdownTimeout bounds the graceful drain before open connections are
	// closed.
	ShutdownTimeout time.Duration
}

// New creates a server routing GET path to stream. Nothing else is served.
func New(addr, path string, stream gin.HandlerFunc) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger())
	engine.GET(path, stream)

	return &Server{
		addr:            addr,
		engine:          engine,
		ShutdownTimeout: shutdownTimeout,
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen binds the listen address. Call it before Serve so bind failures
// surface at startup.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections until ctx is done, then shuts down. Request
// contexts derive from ctx, so open streams end when it is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server is running", "addr", "http://"+s.Addr())
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		// A stalled client keeps its session blocked in Write.
		slog.Warn("Graceful shutdown timed out, closing connections", "timeout", s.ShutdownTimeout)
		if err := s.srv.Close(); err != nil {
			return fmt.Errorf("failed to close server: %w", err)
		}
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
