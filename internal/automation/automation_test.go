package automation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vikthevar/Heimdall/pkg/types"
)

type recorder struct {
	calls [][]string
	err   error
}

func (r *recorder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil, r.err
}

func (r *recorder) last() []string {
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func TestLinuxBackend(t *testing.T) {
	rec := &recorder{}
	b, err := NewFor("linux", rec.run)
	if err != nil {
		t.Fatalf("NewFor() error = %v", err)
	}
	ctx := context.Background()
	h := types.WindowHandle{ID: "0x0400001", Title: "Untitled - gedit"}

	tests := []struct {
		name string
		call func() error
		want []string
	}{
		{"click", func() error { return b.Click(ctx, 10, 20) }, []string{"xdotool", "mousemove", "10", "20", "click", "1"}},
		{"scroll up", func() error { return b.Scroll(ctx, 3) }, []string{"xdotool", "click", "--repeat", "3", "4"}},
		{"scroll down", func() error { return b.Scroll(ctx, -2) }, []string{"xdotool", "click", "--repeat", "2", "5"}},
		{"type", func() error { return b.TypeText(ctx, "hi there", 50*time.Millisecond) }, []string{"xdotool", "type", "--delay", "50", "--", "hi there"}},
		{"key combo", func() error { return b.KeyCombo(ctx, "ctrl", "c") }, []string{"xdotool", "key", "ctrl+c"}},
		{"named key", func() error { return b.KeyCombo(ctx, "enter") }, []string{"xdotool", "key", "Return"}},
		{"volume", func() error { return b.KeyCombo(ctx, "volumemute") }, []string{"xdotool", "key", "XF86AudioMute"}},
		{"minimize", func() error { return b.SetWindowState(ctx, h, types.StateMinimized) }, []string{"xdotool", "windowminimize", "0x0400001"}},
		{"close", func() error { return b.SetWindowState(ctx, h, types.StateClosed) }, []string{"wmctrl", "-i", "-c", "0x0400001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := rec.last(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ran %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLinuxBackendErrors(t *testing.T) {
	rec := &recorder{err: errors.New("xdotool: not found")}
	b, _ := NewFor("linux", rec.run)

	if err := b.Click(context.Background(), 1, 1); err == nil {
		t.Error("expected runner error to surface")
	}
	if err := b.KeyCombo(context.Background()); err == nil {
		t.Error("expected error for empty combo")
	}
	if err := b.SetWindowState(context.Background(), types.WindowHandle{ID: "1"}, "hidden"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestMacKeyScript(t *testing.T) {
	tests := []struct {
		keys []string
		want string
	}{
		{[]string{"cmd", "c"}, `tell application "System Events" to keystroke "c" using {command down}`},
		{[]string{"enter"}, `tell application "System Events" to key code 36`},
		{[]string{"volumemute"}, "set volume output muted (not (output muted of (get volume settings)))"},
	}
	for _, tt := range tests {
		got, err := macKeyScript(tt.keys)
		if err != nil || got != tt.want {
			t.Errorf("macKeyScript(%v) = %q, %v; want %q", tt.keys, got, err, tt.want)
		}
	}
}

func TestMacScrollUnsupported(t *testing.T) {
	b, _ := NewFor("darwin", (&recorder{}).run)
	if err := b.Scroll(context.Background(), 3); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Scroll() error = %v, want ErrUnsupported", err)
	}
}

func TestWindowsBackend(t *testing.T) {
	rec := &recorder{}
	b, _ := NewFor("windows", rec.run)
	ctx := context.Background()

	if err := b.Scroll(ctx, -3); err != nil {
		t.Fatal(err)
	}
	if script := rec.last()[len(rec.last())-1]; !strings.Contains(script, "mouse_event(0x0800,0,0,-360") {
		t.Errorf("unexpected scroll script: %s", script)
	}

	if err := b.KeyCombo(ctx, "ctrl", "s"); err != nil {
		t.Fatal(err)
	}
	if script := rec.last()[len(rec.last())-1]; !strings.Contains(script, "SendWait('^s')") {
		t.Errorf("unexpected key script: %s", script)
	}

	if err := b.KeyCombo(ctx, "cmd", "q"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("KeyCombo(cmd) error = %v, want ErrUnsupported", err)
	}
}

func TestSendKeysEscaping(t *testing.T) {
	tests := map[rune]string{'a': "a", '+': "{+}", '\'': "''", '\n': "{ENTER}", '{': "{{}"}
	for r, want := range tests {
		if got := escapeSendKeys(r); got != want {
			t.Errorf("escapeSendKeys(%q) = %q, want %q", r, got, want)
		}
	}
	if seq, _ := sendKeysSequence([]string{"alt", "F4"}); seq != "%{F4}" {
		t.Errorf("sendKeysSequence(alt,F4) = %q", seq)
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	if _, err := NewFor("plan9", nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("NewFor(plan9) error = %v, want ErrUnsupported", err)
	}
	if Tools("plan9") != nil {
		t.Error("Tools(plan9) should be empty")
	}
}
