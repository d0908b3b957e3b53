// Package automation drives the mouse, keyboard and windows of the desktop
// by shelling out to the platform's automation tools.
package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/vikthevar/Heimdall/internal/command"
	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/pkg/types"
)

// ErrUnsupported is returned for primitives the platform tool cannot perform
var ErrUnsupported = errors.New("not supported on this platform")

// Backend is the set of primitive desktop operations
type Backend interface {
	Click(ctx context.Context, x, y int) error
	// Scroll by amount notches; positive scrolls up, negative scrolls down.
	Scroll(ctx context.Context, amount int) error
	TypeText(ctx context.Context, text string, interval time.Duration) error
	KeyCombo(ctx context.Context, keys ...string) error
	EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error)
	SetWindowState(ctx context.Context, h types.WindowHandle, state types.WindowState) error
}

// New returns the command backend for the running platform
func New(run command.Runner) (Backend, error) {
	return NewFor(runtime.GOOS, run)
}

// NewFor returns the command backend for goos
func NewFor(goos string, run command.Runner) (Backend, error) {
	if run == nil {
		run = command.Exec
	}
	enum := window.NewCommandEnumeratorFor(goos, run)
	switch goos {
	case "linux":
		return &xdotool{run: run, enum: enum}, nil
	case "darwin":
		return &macOS{run: run, enum: enum}, nil
	case "windows":
		return &windowsShell{run: run, enum: enum}, nil
	default:
		return nil, fmt.Errorf("automation %w: %s", ErrUnsupported, goos)
	}
}

// Tools lists the external programs the backend for goos depends on
func Tools(goos string) []string {
	switch goos {
	case "linux":
		return []string{"xdotool", "wmctrl"}
	case "darwin":
		return []string{"cliclick", "osascript"}
	case "windows":
		return []string{"powershell"}
	default:
		return nil
	}
}

func millis(d time.Duration) int {
	return int(d / time.Millisecond)
}
