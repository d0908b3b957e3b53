package executor

import (
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/internal/automation"
	"github.com/vikthevar/Heimdall/internal/security"
	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultCharInterval = 50 * time.Millisecond
)

// Audit event names
const (
	EventAttempt = "EXECUTION_ATTEMPT"
	EventResult  = "EXECUTION_RESULT"
)

// ElementLocator finds a described element on screen
type ElementLocator interface {
	Locate(ctx context.Context, description string) (image.Point, bool)
}

// WindowResolver maps window references to handles
type WindowResolver interface {
	Resolve(ctx context.Context, ref types.WindowRef) []types.WindowHandle
	ListOpen(ctx context.Context) []types.WindowHandle
}

// Auditor records execution attempts and their results
type Auditor interface {
	RecordExecution(ctx context.Context, event string, in types.AutomationIntent, result *types.ExecutionResult) error
}

// ActionHandler performs one automation action
type ActionHandler func(ctx context.Context, in types.AutomationIntent) types.ExecutionResult

// Config wires an Executor to its collaborators. Only Backend is needed for
// coordinate clicks, scrolling, typing and keys.
type Config struct {
	Backend      automation.Backend
	Locator      ElementLocator
	Windows      WindowResolver
	Guard        *security.Guard
	Auditor      Auditor
	SettleDelay  time.Duration
	CharInterval time.Duration
	Logger       *zap.Logger
}

// Executor performs automation intents against the desktop. It has no
// simulation mode: every call it makes is real.
type Executor struct {
	handlers     map[types.Action]ActionHandler
	backend      automation.Backend
	locator      ElementLocator
	windows      WindowResolver
	guard        *security.Guard
	auditor      Auditor
	settleDelay  time.Duration
	charInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

// NewExecutor creates a new executor
func NewExecutor(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.CharInterval <= 0 {
		cfg.CharInterval = DefaultCharInterval
	}

	e := &Executor{
		handlers:     make(map[types.Action]ActionHandler),
		backend:      cfg.Backend,
		locator:      cfg.Locator,
		windows:      cfg.Windows,
		guard:        cfg.Guard,
		auditor:      cfg.Auditor,
		settleDelay:  cfg.SettleDelay,
		charInterval: cfg.CharInterval,
		sleep:        sleep,
		logger:       cfg.Logger,
	}

	// Register action handlers
	e.RegisterHandler(types.ActionClick, e.handleClick)
	e.RegisterHandler(types.ActionScroll, e.handleScroll)
	e.RegisterHandler(types.ActionType, e.handleType)
	e.RegisterHandler(types.ActionKey, e.handleKey)
	e.RegisterHandler(types.ActionMinimize, e.handleWindow)
	e.RegisterHandler(types.ActionMaximize, e.handleWindow)
	e.RegisterHandler(types.ActionClose, e.handleWindow)
	e.RegisterHandler(types.ActionVolume, e.handleVolume)

	return e
}

// RegisterHandler registers a handler for a specific action
func (e *Executor) RegisterHandler(action types.Action, handler ActionHandler) {
	e.handlers[action] = handler
}

// Execute performs in and describes the outcome. It never panics and never
// returns an error; every failure is folded into the result.
func (e *Executor) Execute(ctx context.Context, in types.AutomationIntent) (result types.ExecutionResult) {
	log := e.logger.With(zap.String("action", string(in.Action)))
	log.Info("Executing automation intent")
	e.audit(ctx, EventAttempt, in, nil)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Automation handler panicked", zap.Any("panic", r))
			result = types.Failed(types.OutcomeBackendFailure, "Automation failed unexpectedly: %v", r)
		}
		log.Info("Execution finished",
			zap.Bool("success", result.Success),
			zap.String("outcome", string(result.Outcome)))
		e.audit(ctx, EventResult, in, &result)
	}()

	handler, exists := e.handlers[in.Action]
	if !exists {
		return types.Failed(types.OutcomeInvalid, "Unknown action: %s", in.Action)
	}
	if e.guard != nil {
		if err := e.guard.CheckIntent(in); err != nil {
			return refused(err)
		}
		if err := e.guard.CheckExecution(in); err != nil {
			return refused(err)
		}
	}
	if e.backend == nil {
		return types.Failed(types.OutcomeUnavailable, "Screen automation is not available on this system.")
	}
	return handler(ctx, in)
}

func (e *Executor) audit(ctx context.Context, event string, in types.AutomationIntent, res *types.ExecutionResult) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.RecordExecution(ctx, event, in, res); err != nil {
		e.logger.Warn("Failed to record execution audit", zap.String("event", event), zap.Error(err))
	}
}

func (e *Executor) handleClick(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	if in.Coordinates != nil {
		p := *in.Coordinates
		if err := e.backend.Click(ctx, p.X, p.Y); err != nil {
			return backendFailure("click", err)
		}
		return types.Succeeded("Clicked at %s", p)
	}

	target := in.Target
	if target == "" {
		target = "button"
	}
	if e.locator == nil {
		return types.Failed(types.OutcomeUnavailable, "Cannot search the screen for '%s': screen reading is not available.", target)
	}
	pt, ok := e.locator.Locate(ctx, target)
	if !ok {
		return types.Failed(types.OutcomeNotFound, "Could not find '%s' on screen.", target)
	}
	if err := e.backend.Click(ctx, pt.X, pt.Y); err != nil {
		return backendFailure("click", err)
	}
	return types.Succeeded("Clicked '%s' at %s", target, types.Point{X: pt.X, Y: pt.Y})
}

func (e *Executor) handleScroll(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	amount := in.Amount
	if amount <= 0 {
		amount = types.DefaultScrollAmount
	}
	dir := in.Direction
	if dir == "" {
		dir = types.DirectionDown
	}

	delta := amount
	if dir == types.DirectionDown {
		delta = -amount
	}
	if err := e.backend.Scroll(ctx, delta); err != nil {
		return backendFailure("scroll", err)
	}
	return types.Succeeded("Scrolled %s %d units", dir, amount)
}

func (e *Executor) handleType(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	if in.Text == "" {
		return types.Failed(types.OutcomeInvalid, "No text to type.")
	}
	if err := e.sleep(ctx, e.settleDelay); err != nil {
		return types.Failed(types.OutcomeBackendFailure, "Typing cancelled: %v", err)
	}
	if err := e.backend.TypeText(ctx, in.Text, e.charInterval); err != nil {
		return backendFailure("type", err)
	}
	return types.Succeeded("Typed: %s", in.Text)
}

func (e *Executor) handleKey(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	if len(in.Keys) == 0 {
		return types.Failed(types.OutcomeInvalid, "No keys to press.")
	}
	if err := e.backend.KeyCombo(ctx, in.Keys...); err != nil {
		return backendFailure("press keys", err)
	}
	return types.Succeeded("Pressed %s", strings.Join(in.Keys, "+"))
}

var volumeKeys = map[types.VolumeOp]string{
	types.VolumeUp:   "volumeup",
	types.VolumeDown: "volumedown",
	types.VolumeMute: "volumemute",
}

func (e *Executor) handleVolume(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	op := in.Volume
	if op == "" {
		op = types.VolumeUp
	}
	key, ok := volumeKeys[op]
	if !ok {
		return types.Failed(types.OutcomeInvalid, "Unknown volume operation: %s", op)
	}

	presses := in.Amount
	if presses <= 0 || op == types.VolumeMute {
		presses = 1
	}
	for i := 0; i < presses; i++ {
		if err := e.backend.KeyCombo(ctx, key); err != nil {
			return backendFailure("change volume", err)
		}
	}
	if op == types.VolumeMute {
		return types.Succeeded("Toggled mute")
	}
	return types.Succeeded("Volume %s", op)
}

func (e *Executor) handleWindow(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	state, _ := types.StateFor(in.Action)

	switch in.Window.Kind {
	case types.WindowSelf:
		return types.Failed(types.OutcomeRefused, "I can't %s my own window.", in.Action)
	case types.WindowCurrent:
		return types.Failed(types.OutcomeNeedsTarget,
			"Which window should I %s? Open windows:\n%s", in.Action, e.openTitles(ctx))
	}

	if e.windows == nil {
		return types.Failed(types.OutcomeUnavailable, "Window management is not available on this system.")
	}
	candidates := e.windows.Resolve(ctx, in.Window)
	switch len(candidates) {
	case 0:
		return types.Failed(types.OutcomeNotFound,
			"No window matching '%s' found. Open windows:\n%s", in.Window, e.openTitles(ctx))
	case 1:
	default:
		return types.Failed(types.OutcomeNeedsTarget,
			"Several windows match '%s':\n%s\nPlease be more specific.", in.Window, window.Titles(candidates))
	}

	target := candidates[0]
	if target.Self {
		return types.Failed(types.OutcomeRefused, "I can't %s my own window.", in.Action)
	}
	if e.guard != nil {
		if err := e.guard.CheckWindow(target); err != nil {
			return refused(err)
		}
	}
	if err := e.backend.SetWindowState(ctx, target, state); err != nil {
		return backendFailure(string(in.Action)+" window", err)
	}
	return types.Succeeded("%s '%s'", pastTense(in.Action), target.Title)
}

func (e *Executor) openTitles(ctx context.Context) string {
	if e.windows == nil {
		return window.Titles(nil)
	}
	return window.Titles(e.windows.ListOpen(ctx))
}

func pastTense(a types.Action) string {
	switch a {
	case types.ActionMinimize:
		return "Minimized"
	case types.ActionMaximize:
		return "Maximized"
	default:
		return "Closed"
	}
}

func refused(err error) types.ExecutionResult {
	var r *security.RefusedError
	if errors.As(err, &r) {
		return types.Failed(types.OutcomeRefused, "%s", r.Reason)
	}
	return types.Failed(types.OutcomeRefused, "%v", err)
}

func backendFailure(what string, err error) types.ExecutionResult {
	if errors.Is(err, automation.ErrUnsupported) {
		return types.Failed(types.OutcomeUnavailable, "Cannot %s: %v", what, err)
	}
	return types.Failed(types.OutcomeBackendFailure, "Failed to %s: %v", what, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

