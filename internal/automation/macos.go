package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/internal/command"
	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/pkg/types"
)

// macOS drives the desktop with cliclick and System Events
type macOS struct {
	run  command.Runner
	enum *window.CommandEnumerator
}

var macKeyCodes = map[string]int{
	"enter": 36, "tab": 48, "space": 49, "backspace": 51, "esc": 53, "delete": 117,
	"home": 115, "end": 119, "pageup": 116, "pagedown": 121,
	"left": 123, "right": 124, "down": 125, "up": 126,
}

var macModifiers = map[string]string{
	"cmd": "command down", "ctrl": "control down", "alt": "option down", "shift": "shift down",
}

func (m *macOS) Click(ctx context.Context, x, y int) error {
	_, err := m.run(ctx, "cliclick", fmt.Sprintf("c:%d,%d", x, y))
	return err
}

// Scroll is not exposed by cliclick or System Events
func (m *macOS) Scroll(ctx context.Context, amount int) error {
	return fmt.Errorf("scroll %w", ErrUnsupported)
}

func (m *macOS) TypeText(ctx context.Context, text string, interval time.Duration) error {
	_, err := m.run(ctx, "cliclick", "-w", fmt.Sprint(millis(interval)), "t:"+text)
	return err
}

func (m *macOS) KeyCombo(ctx context.Context, keys ...string) error {
	script, err := macKeyScript(keys)
	if err != nil {
		return err
	}
	_, err = m.run(ctx, "osascript", "-e", script)
	return err
}

func macKeyScript(keys []string) (string, error) {
	var mods []string
	var key string
	for _, k := range keys {
		k = strings.ToLower(k)
		if mod, ok := macModifiers[k]; ok {
			mods = append(mods, mod)
			continue
		}
		key = k
	}

	switch key {
	case "volumeup":
		return "set volume output volume ((output volume of (get volume settings)) + 6)", nil
	case "volumedown":
		return "set volume output volume ((output volume of (get volume settings)) - 6)", nil
	case "volumemute":
		return "set volume output muted (not (output muted of (get volume settings)))", nil
	case "":
		return "", fmt.Errorf("no key given")
	}

	var action string
	if code, ok := macKeyCodes[key]; ok {
		action = fmt.Sprintf("key code %d", code)
	} else {
		action = fmt.Sprintf("keystroke %q", key)
	}
	if len(mods) > 0 {
		action += " using {" + strings.Join(mods, ", ") + "}"
	}
	return `tell application "System Events" to ` + action, nil
}

func (m *macOS) EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error) {
	return m.enum.EnumerateWindows(ctx)
}

func (m *macOS) SetWindowState(ctx context.Context, h types.WindowHandle, state types.WindowState) error {
	target := fmt.Sprintf("(first window of process %q whose name is %q)", h.App, h.Title)
	var script string
	switch state {
	case types.StateMinimized:
		script = fmt.Sprintf(`tell application "System Events" to set value of attribute "AXMinimized" of %s to true`, target)
	case types.StateMaximized:
		script = fmt.Sprintf(`tell application "System Events" to set value of attribute "AXFullScreen" of %s to true`, target)
	case types.StateClosed:
		script = fmt.Sprintf(`tell application "System Events" to click (first button of %s whose subrole is "AXCloseButton")`, target)
	default:
		return fmt.Errorf("unknown window state %q", state)
	}
	_, err := m.run(ctx, "osascript", "-e", script)
	return err
}
