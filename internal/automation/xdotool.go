package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/internal/command"
	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/pkg/types"
)

// xdotool drives X11 desktops with xdotool and wmctrl
type xdotool struct {
	run  command.Runner
	enum *window.CommandEnumerator
}

var xKeys = map[string]string{
	"enter": "Return", "esc": "Escape", "tab": "Tab", "space": "space",
	"backspace": "BackSpace", "delete": "Delete", "home": "Home", "end": "End",
	"pageup": "Prior", "pagedown": "Next", "up": "Up", "down": "Down",
	"left": "Left", "right": "Right", "cmd": "super",
	"volumeup": "XF86AudioRaiseVolume", "volumedown": "XF86AudioLowerVolume",
	"volumemute": "XF86AudioMute",
}

func (x *xdotool) Click(ctx context.Context, px, py int) error {
	_, err := x.run(ctx, "xdotool", "mousemove", strconv.Itoa(px), strconv.Itoa(py), "click", "1")
	return err
}

func (x *xdotool) Scroll(ctx context.Context, amount int) error {
	if amount == 0 {
		return nil
	}
	// X11 maps wheel up to button 4 and wheel down to button 5
	button := "4"
	if amount < 0 {
		button, amount = "5", -amount
	}
	_, err := x.run(ctx, "xdotool", "click", "--repeat", strconv.Itoa(amount), button)
	return err
}

func (x *xdotool) TypeText(ctx context.Context, text string, interval time.Duration) error {
	_, err := x.run(ctx, "xdotool", "type", "--delay", strconv.Itoa(millis(interval)), "--", text)
	return err
}

func (x *xdotool) KeyCombo(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no keys given")
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		k = strings.ToLower(k)
		if n, ok := xKeys[k]; ok {
			k = n
		}
		names[i] = k
	}
	_, err := x.run(ctx, "xdotool", "key", strings.Join(names, "+"))
	return err
}

func (x *xdotool) EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error) {
	return x.enum.EnumerateWindows(ctx)
}

func (x *xdotool) SetWindowState(ctx context.Context, h types.WindowHandle, state types.WindowState) error {
	var err error
	switch state {
	case types.StateMinimized:
		_, err = x.run(ctx, "xdotool", "windowminimize", h.ID)
	case types.StateMaximized:
		_, err = x.run(ctx, "wmctrl", "-i", "-r", h.ID, "-b", "add,maximized_vert,maximized_horz")
	case types.StateClosed:
		_, err = x.run(ctx, "wmctrl", "-i", "-c", h.ID)
	default:
		return fmt.Errorf("unknown window state %q", state)
	}
	return err
}
