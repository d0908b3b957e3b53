package executor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/vikthevar/Heimdall/internal/automation"
	"github.com/vikthevar/Heimdall/internal/security"
	"github.com/vikthevar/Heimdall/pkg/types"
)

type fakeBackend struct {
	calls   []string
	err     error
	panicOn string
	states  []types.WindowState
	typed   time.Duration
}

func (f *fakeBackend) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	if f.panicOn != "" && strings.HasPrefix(call, f.panicOn) {
		panic("backend exploded")
	}
	return f.err
}

func (f *fakeBackend) Click(ctx context.Context, x, y int) error {
	return f.record("click %d,%d", x, y)
}

func (f *fakeBackend) Scroll(ctx context.Context, amount int) error {
	return f.record("scroll %d", amount)
}

func (f *fakeBackend) TypeText(ctx context.Context, text string, interval time.Duration) error {
	f.typed = interval
	return f.record("type %s", text)
}

func (f *fakeBackend) KeyCombo(ctx context.Context, keys ...string) error {
	return f.record("key %s", strings.Join(keys, "+"))
}

func (f *fakeBackend) EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error) {
	return nil, nil
}

func (f *fakeBackend) SetWindowState(ctx context.Context, h types.WindowHandle, state types.WindowState) error {
	f.states = append(f.states, state)
	return f.record("window %s %s", h.ID, state)
}

type fakeLocator struct {
	LocateFunc func(ctx context.Context, description string) (image.Point, bool)
}

func (f *fakeLocator) Locate(ctx context.Context, description string) (image.Point, bool) {
	return f.LocateFunc(ctx, description)
}

type fakeWindows struct {
	matches map[string][]types.WindowHandle
	open    []types.WindowHandle
}

func (f *fakeWindows) Resolve(ctx context.Context, ref types.WindowRef) []types.WindowHandle {
	return f.matches[ref.Name]
}

func (f *fakeWindows) ListOpen(ctx context.Context) []types.WindowHandle { return f.open }

type fakeAuditor struct {
	events []string
	err    error
}

func (f *fakeAuditor) RecordExecution(ctx context.Context, event string, in types.AutomationIntent, result *types.ExecutionResult) error {
	f.events = append(f.events, event)
	return f.err
}

func newTestExecutor(t *testing.T, backend automation.Backend) (*Executor, *[]time.Duration) {
	t.Helper()
	guard, err := security.NewGuard(security.Options{PID: 4242, ParentPID: 4000}, nil)
	if err != nil {
		t.Fatal(err)
	}

	windows := &fakeWindows{
		matches: map[string][]types.WindowHandle{
			"notepad": {{ID: "1", Title: "Untitled - Notepad", PID: 10}},
			"browser": {{ID: "2", Title: "Docs - Chrome", PID: 11}, {ID: "3", Title: "Mail - Firefox", PID: 12}},
			"scratch": {{ID: "4", Title: "scratch", PID: 4242}},
		},
		open: []types.WindowHandle{{ID: "1", Title: "Untitled - Notepad"}},
	}
	locator := &fakeLocator{LocateFunc: func(ctx context.Context, d string) (image.Point, bool) {
		if d == "submit button" {
			return image.Pt(400, 300), true
		}
		return image.Point{}, false
	}}

	e := NewExecutor(Config{
		Backend: backend,
		Locator: locator,
		Windows: windows,
		Guard:   guard,
	})
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestNewExecutor(t *testing.T) {
	e := NewExecutor(Config{})

	requiredHandlers := []types.Action{
		types.ActionClick, types.ActionScroll, types.ActionType, types.ActionKey,
		types.ActionMinimize, types.ActionMaximize, types.ActionClose, types.ActionVolume,
	}
	for _, action := range requiredHandlers {
		if _, exists := e.handlers[action]; !exists {
			t.Errorf("Required handler '%s' not registered", action)
		}
	}
	if e.settleDelay != DefaultSettleDelay || e.charInterval != DefaultCharInterval {
		t.Errorf("unexpected default delays: %v, %v", e.settleDelay, e.charInterval)
	}
}

func TestRegisterHandler(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeBackend{})
	e.RegisterHandler("wave", func(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
		return types.Succeeded("waved")
	})
	e.guard.AddAllowedAction("wave")

	if got := e.Execute(context.Background(), types.AutomationIntent{Action: "wave"}); got.Message != "waved" {
		t.Errorf("custom handler not used: %+v", got)
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name        string
		intent      types.AutomationIntent
		wantOutcome types.Outcome
		wantCall    string
		wantMsg     string
	}{
		{
			name:        "click coordinates",
			intent:      types.AutomationIntent{Action: types.ActionClick, Coordinates: &types.Point{X: 5, Y: 6}},
			wantOutcome: types.OutcomeOK,
			wantCall:    "click 5,6",
		},
		{
			name:        "click located target",
			intent:      types.AutomationIntent{Action: types.ActionClick, Target: "submit button"},
			wantOutcome: types.OutcomeOK,
			wantCall:    "click 400,300",
			wantMsg:     "Clicked 'submit button' at (400, 300)",
		},
		{
			name:        "click missing target",
			intent:      types.AutomationIntent{Action: types.ActionClick, Target: "unicorn"},
			wantOutcome: types.OutcomeNotFound,
			wantMsg:     "Could not find 'unicorn'",
		},
		{
			name:        "scroll up is positive",
			intent:      types.AutomationIntent{Action: types.ActionScroll, Direction: types.DirectionUp, Amount: 3},
			wantOutcome: types.OutcomeOK,
			wantCall:    "scroll 3",
		},
		{
			name:        "scroll down is negative with default amount",
			intent:      types.AutomationIntent{Action: types.ActionScroll, Direction: types.DirectionDown},
			wantOutcome: types.OutcomeOK,
			wantCall:    "scroll -3",
		},
		{
			name:        "type text",
			intent:      types.AutomationIntent{Action: types.ActionType, Text: "hello world"},
			wantOutcome: types.OutcomeOK,
			wantCall:    "type hello world",
		},
		{
			name:        "type without text",
			intent:      types.AutomationIntent{Action: types.ActionType},
			wantOutcome: types.OutcomeInvalid,
		},
		{
			name:        "key combo",
			intent:      types.AutomationIntent{Action: types.ActionKey, Keys: []string{"ctrl", "c"}},
			wantOutcome: types.OutcomeOK,
			wantCall:    "key ctrl+c",
		},
		{
			name:        "dangerous key combo",
			intent:      types.AutomationIntent{Action: types.ActionKey, Keys: []string{"alt", "f4"}},
			wantOutcome: types.OutcomeRefused,
		},
		{
			name:        "volume mute",
			intent:      types.AutomationIntent{Action: types.ActionVolume, Volume: types.VolumeMute, Amount: 4},
			wantOutcome: types.OutcomeOK,
			wantCall:    "key volumemute",
		},
		{
			name:        "minimize named window",
			intent:      types.AutomationIntent{Action: types.ActionMinimize, Window: types.NamedWindow("notepad")},
			wantOutcome: types.OutcomeOK,
			wantCall:    "window 1 minimized",
			wantMsg:     "Minimized 'Untitled - Notepad'",
		},
		{
			name:        "minimize self",
			intent:      types.AutomationIntent{Action: types.ActionMinimize, Window: types.SelfWindow()},
			wantOutcome: types.OutcomeRefused,
		},
		{
			name:        "close current window asks which",
			intent:      types.AutomationIntent{Action: types.ActionClose},
			wantOutcome: types.OutcomeNeedsTarget,
			wantMsg:     "- Untitled - Notepad",
		},
		{
			name:        "ambiguous window",
			intent:      types.AutomationIntent{Action: types.ActionMaximize, Window: types.NamedWindow("browser")},
			wantOutcome: types.OutcomeNeedsTarget,
			wantMsg:     "- Mail - Firefox",
		},
		{
			name:        "unknown window",
			intent:      types.AutomationIntent{Action: types.ActionClose, Window: types.NamedWindow("spotify")},
			wantOutcome: types.OutcomeNotFound,
			wantMsg:     "Open windows:",
		},
		{
			name:        "window of own process",
			intent:      types.AutomationIntent{Action: types.ActionClose, Window: types.NamedWindow("scratch")},
			wantOutcome: types.OutcomeRefused,
		},
		{
			name:        "unknown action",
			intent:      types.AutomationIntent{Action: "teleport"},
			wantOutcome: types.OutcomeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			e, _ := newTestExecutor(t, backend)

			result := e.Execute(context.Background(), tt.intent)

			if result.Outcome != tt.wantOutcome {
				t.Fatalf("Execute() outcome = %s (%s), want %s", result.Outcome, result.Message, tt.wantOutcome)
			}
			if result.Success != (tt.wantOutcome == types.OutcomeOK) {
				t.Errorf("Success = %v inconsistent with outcome %s", result.Success, result.Outcome)
			}
			if tt.wantCall == "" && len(backend.calls) > 0 {
				t.Errorf("backend should not be called, got %v", backend.calls)
			}
			if tt.wantCall != "" && (len(backend.calls) != 1 || backend.calls[0] != tt.wantCall) {
				t.Errorf("backend calls = %v, want [%s]", backend.calls, tt.wantCall)
			}
			if tt.wantMsg != "" && !strings.Contains(result.Message, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", result.Message, tt.wantMsg)
			}
		})
	}
}

func TestTypeWaitsForFocus(t *testing.T) {
	backend := &fakeBackend{}
	e, slept := newTestExecutor(t, backend)

	e.Execute(context.Background(), types.AutomationIntent{Action: types.ActionType, Text: "abc"})

	if len(*slept) != 1 || (*slept)[0] != DefaultSettleDelay {
		t.Errorf("settle delays = %v, want [%v]", *slept, DefaultSettleDelay)
	}
	if backend.typed != DefaultCharInterval {
		t.Errorf("char interval = %v, want %v", backend.typed, DefaultCharInterval)
	}
}

func TestBackendFailures(t *testing.T) {
	ctx := context.Background()

	e, _ := newTestExecutor(t, &fakeBackend{err: errors.New("xdotool: cannot open display")})
	if got := e.Execute(ctx, types.AutomationIntent{Action: types.ActionScroll}); got.Outcome != types.OutcomeBackendFailure {
		t.Errorf("outcome = %s, want backend_failure", got.Outcome)
	}

	e, _ = newTestExecutor(t, &fakeBackend{err: fmt.Errorf("scroll %w", automation.ErrUnsupported)})
	if got := e.Execute(ctx, types.AutomationIntent{Action: types.ActionScroll}); got.Outcome != types.OutcomeUnavailable {
		t.Errorf("outcome = %s, want unavailable", got.Outcome)
	}

	e, _ = newTestExecutor(t, &fakeBackend{panicOn: "click"})
	got := e.Execute(ctx, types.AutomationIntent{Action: types.ActionClick, Coordinates: &types.Point{X: 1, Y: 1}})
	if got.Success || got.Outcome != types.OutcomeBackendFailure || !strings.Contains(got.Message, "backend exploded") {
		t.Errorf("panic not converted: %+v", got)
	}
}

func TestNoBackend(t *testing.T) {
	e := NewExecutor(Config{})
	got := e.Execute(context.Background(), types.AutomationIntent{Action: types.ActionClick, Coordinates: &types.Point{}})
	if got.Outcome != types.OutcomeUnavailable {
		t.Errorf("outcome = %s, want unavailable", got.Outcome)
	}
}

func TestAuditTrail(t *testing.T) {
	auditor := &fakeAuditor{err: errors.New("disk full")}
	e := NewExecutor(Config{Backend: &fakeBackend{}, Auditor: auditor})
	e.sleep = func(context.Context, time.Duration) error { return nil }

	got := e.Execute(context.Background(), types.AutomationIntent{Action: types.ActionKey, Keys: []string{"enter"}})
	if !got.Success {
		t.Fatalf("audit failure must not fail the action: %+v", got)
	}
	if len(auditor.events) != 2 || auditor.events[0] != EventAttempt || auditor.events[1] != EventResult {
		t.Errorf("audit events = %v", auditor.events)
	}
}

func TestSafeModeRefusesEveryAction(t *testing.T) {
	guard, err := security.NewGuard(security.Options{SafeMode: true, PID: 4242, ParentPID: 4000}, nil)
	if err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{}
	e := NewExecutor(Config{Backend: backend, Guard: guard})

	intents := []types.AutomationIntent{
		{Action: types.ActionType, Text: "hello world"},
		{Action: types.ActionScroll, Direction: types.DirectionUp, Amount: 3},
		{Action: types.ActionKey, Keys: []string{"enter"}},
		{Action: types.ActionClick, Coordinates: &types.Point{X: 5, Y: 5}},
		{Action: types.ActionVolume, Volume: types.VolumeMute},
	}
	for _, in := range intents {
		got := e.Execute(context.Background(), in)
		if got.Success || got.Outcome != types.OutcomeRefused {
			t.Errorf("%s: result = %+v, want refused", in.Action, got)
		}
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called in safe mode: %v", backend.calls)
	}
}
