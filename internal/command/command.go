// Package command runs the external desktop tools Heimdall drives
// (wmctrl, xdotool, tesseract, arecord, ...). Every adapter takes a Runner
// so tests can replace the process boundary.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner executes an external command and returns its standard output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec runs commands through os/exec. Stderr is folded into the error.
func Exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Streamer starts a long-running command and exposes its standard output
type Streamer func(ctx context.Context, name string, args ...string) (io.ReadCloser, error)

// Stream starts name and returns its stdout. Closing the reader kills the
// process and reaps it.
func Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return &process{ReadCloser: stdout, cmd: cmd, cancel: cancel}, nil
}

type process struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

func (p *process) Close() error {
	p.cancel()
	p.ReadCloser.Close()
	// the process was killed on purpose; its exit status is noise
	_ = p.cmd.Wait()
	return nil
}

// LookPath reports whether a tool is installed
type LookPath func(file string) (string, error)

// Available returns the first of names found on PATH, or "" if none is
func Available(look LookPath, names ...string) string {
	if look == nil {
		look = exec.LookPath
	}
	for _, n := range names {
		if _, err := look(n); err == nil {
			return n
		}
	}
	return ""
}
