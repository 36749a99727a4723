package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// commandRestartDelay is the pause before a capture process that exited is
// started again.
const commandRestartDelay = 2 * time.Second

// commandSource runs an external capture program that writes an MJPEG byte
// stream to stdout and splits it into frames. This avoids restarting the
// camera hardware for every frame.
type commandSource struct {
	base
	settings Settings
	args     []string

	restartDelay time.Duration
	restarts     atomic.Int32

	stderrMu sync.Mutex
	stderr   bytes.Buffer
}

func enumerateCommands(_ context.Context) ([]Device, error) {
	var devices []Device
	for _, name := range captureCommands() {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		devices = append(devices, Device{Kind: KindCommand, ID: name, Name: path})
	}
	return devices, nil
}

func newCommandSource(dev Device, settings Settings) *commandSource {
	return &commandSource{
		base:     base{dev: dev},
		settings: settings,
		args:     captureArgs(dev.ID, settings),

		restartDelay: commandRestartDelay,
	}
}

func (c *commandSource) Start(ctx context.Context) error {
	// The first process is started here so a missing or broken binary
	// fails startup instead of retrying in the background.
	cmd, stdout, err := c.spawn(ctx)
	if err != nil {
		return err
	}

	err = c.start(ctx, func(ctx context.Context) {
		proc, out := cmd, stdout
		for {
			c.pump(ctx, proc, out)
			for {
				if !sleepCtx(ctx, c.restartDelay) {
					return
				}
				var err error
				if proc, out, err = c.spawn(ctx); err == nil {
					break
				}
				slog.Error("Failed to restart camera streaming process", "command", c.dev.ID, "error", err, "retry_in", c.restartDelay)
			}
		}
	})
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	return nil
}

// spawn starts one capture process writing to a pipe.
func (c *commandSource) spawn(ctx context.Context) (*exec.Cmd, io.Reader, error) {
	cmd := exec.CommandContext(ctx, c.dev.ID, c.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	// Capture stderr for debugging, one process at a time
	c.stderrMu.Lock()
	c.stderr.Reset()
	c.stderrMu.Unlock()
	cmd.Stderr = &lockedWriter{mu: &c.stderrMu, w: &c.stderr}
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", c.dev.ID, err)
	}
	slog.Info("Started camera streaming process", "command", c.dev.ID, "pid", cmd.Process.Pid, "width", c.settings.Width, "height", c.settings.Height, "fps", c.settings.FPS)
	return cmd, stdout, nil
}

// pump decodes frames from one process until it exits or ctx ends.
func (c *commandSource) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader) {
	// Stop cancels ctx; killing the process unblocks the stdout read.
	release := context.AfterFunc(ctx, func() { _ = cmd.Process.Kill() })
	defer func() {
		release()
		err := cmd.Wait()
		if ctx.Err() != nil {
			slog.Info("Camera streaming process exited", "command", c.dev.ID)
			return
		}
		n := c.restarts.Add(1)
		slog.Warn("Camera streaming process exited", "command", c.dev.ID, "error", err, "stderr", c.stderrString(), "restarts", n, "restart_in", c.restartDelay)
	}()

	var sp jpegSplitter
	err := sp.run(stdout, func(data []byte) {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			slog.Warn("Skipping undecodable frame", "command", c.dev.ID, "bytes", len(data), "error", err)
			return
		}
		c.emit(img)
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("Stream read error", "command", c.dev.ID, "error", err)
	}
}

func (c *commandSource) Stop() error {
	if c.stop() {
		slog.Info("Camera stopped", "command", c.dev.ID)
	}
	return nil
}

func (c *commandSource) stderrString() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return c.stderr.String()
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Only the tail matters for diagnostics.
	if l.w.Len() > 64*1024 {
		l.w.Reset()
	}
	return l.w.Write(p)
}
