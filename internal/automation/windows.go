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

// windowsShell drives the desktop through user32 calls made from PowerShell
type windowsShell struct {
	run  command.Runner
	enum *window.CommandEnumerator
}

const user32Prelude = `Add-Type @"
using System;
using System.Runtime.InteropServices;
public static class HeimdallInput {
  [DllImport("user32.dll")] public static extern bool SetCursorPos(int x, int y);
  [DllImport("user32.dll")] public static extern void mouse_event(uint f, int dx, int dy, int data, UIntPtr extra);
  [DllImport("user32.dll")] public static extern void keybd_event(byte vk, byte scan, uint f, UIntPtr extra);
  [DllImport("user32.dll")] public static extern bool ShowWindow(IntPtr h, int cmd);
  [DllImport("user32.dll")] public static extern bool PostMessage(IntPtr h, uint msg, IntPtr w, IntPtr l);
}
"@
Add-Type -AssemblyName System.Windows.Forms
`

var sendKeysNames = map[string]string{
	"enter": "{ENTER}", "esc": "{ESC}", "tab": "{TAB}", "space": " ",
	"backspace": "{BACKSPACE}", "delete": "{DELETE}", "home": "{HOME}", "end": "{END}",
	"pageup": "{PGUP}", "pagedown": "{PGDN}", "up": "{UP}", "down": "{DOWN}",
	"left": "{LEFT}", "right": "{RIGHT}",
}

var sendKeysModifiers = map[string]string{"ctrl": "^", "alt": "%", "shift": "+"}

var volumeKeys = map[string]int{"volumemute": 0xAD, "volumedown": 0xAE, "volumeup": 0xAF}

const (
	swMinimize = 6
	swMaximize = 3
	wmClose    = 0x0010
)

func (w *windowsShell) ps(ctx context.Context, script string) error {
	_, err := w.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", user32Prelude+script)
	return err
}

func (w *windowsShell) Click(ctx context.Context, x, y int) error {
	return w.ps(ctx, fmt.Sprintf(
		"[HeimdallInput]::SetCursorPos(%d, %d) | Out-Null; [HeimdallInput]::mouse_event(0x02,0,0,0,[UIntPtr]::Zero); [HeimdallInput]::mouse_event(0x04,0,0,0,[UIntPtr]::Zero)",
		x, y))
}

func (w *windowsShell) Scroll(ctx context.Context, amount int) error {
	// one wheel notch is 120 units; positive scrolls up
	return w.ps(ctx, fmt.Sprintf("[HeimdallInput]::mouse_event(0x0800,0,0,%d,[UIntPtr]::Zero)", amount*120))
}

func (w *windowsShell) TypeText(ctx context.Context, text string, interval time.Duration) error {
	var b strings.Builder
	for _, r := range text {
		fmt.Fprintf(&b, "[System.Windows.Forms.SendKeys]::SendWait('%s'); Start-Sleep -Milliseconds %d; ",
			escapeSendKeys(r), millis(interval))
	}
	return w.ps(ctx, b.String())
}

// escapeSendKeys wraps SendKeys metacharacters in braces and doubles single
// quotes for the PowerShell literal.
func escapeSendKeys(r rune) string {
	switch r {
	case '+', '^', '%', '~', '(', ')', '{', '}', '[', ']':
		return "{" + string(r) + "}"
	case '\'':
		return "''"
	case '\n':
		return "{ENTER}"
	}
	return string(r)
}

func (w *windowsShell) KeyCombo(ctx context.Context, keys ...string) error {
	if len(keys) == 1 {
		if vk, ok := volumeKeys[strings.ToLower(keys[0])]; ok {
			return w.ps(ctx, fmt.Sprintf(
				"[HeimdallInput]::keybd_event(%d,0,0,[UIntPtr]::Zero); [HeimdallInput]::keybd_event(%d,0,2,[UIntPtr]::Zero)", vk, vk))
		}
	}
	seq, err := sendKeysSequence(keys)
	if err != nil {
		return err
	}
	return w.ps(ctx, fmt.Sprintf("[System.Windows.Forms.SendKeys]::SendWait('%s')", seq))
}

func sendKeysSequence(keys []string) (string, error) {
	var mods, key string
	for _, k := range keys {
		k = strings.ToLower(k)
		if m, ok := sendKeysModifiers[k]; ok {
			mods += m
			continue
		}
		if k == "cmd" || k == "super" {
			return "", fmt.Errorf("windows key %w", ErrUnsupported)
		}
		if n, ok := sendKeysNames[k]; ok {
			key = n
		} else if len(k) > 1 && k[0] == 'f' {
			key = "{" + strings.ToUpper(k) + "}"
		} else {
			key = k
		}
	}
	if key == "" {
		return "", fmt.Errorf("no key given")
	}
	return mods + key, nil
}

func (w *windowsShell) EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error) {
	return w.enum.EnumerateWindows(ctx)
}

func (w *windowsShell) SetWindowState(ctx context.Context, h types.WindowHandle, state types.WindowState) error {
	switch state {
	case types.StateMinimized:
		return w.ps(ctx, fmt.Sprintf("[HeimdallInput]::ShowWindow([IntPtr]%s, %d) | Out-Null", h.ID, swMinimize))
	case types.StateMaximized:
		return w.ps(ctx, fmt.Sprintf("[HeimdallInput]::ShowWindow([IntPtr]%s, %d) | Out-Null", h.ID, swMaximize))
	case types.StateClosed:
		return w.ps(ctx, fmt.Sprintf("[HeimdallInput]::PostMessage([IntPtr]%s, %d, [IntPtr]::Zero, [IntPtr]::Zero) | Out-Null", h.ID, wmClose))
	default:
		return fmt.Errorf("unknown window state %q", state)
	}
}
