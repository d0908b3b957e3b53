package security

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// RefusedError is returned when the safety policy blocks an action.
// Reason is shown to the user as is.
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string { return e.Reason }

func refuse(format string, args ...any) error {
	return &RefusedError{Reason: fmt.Sprintf(format, args...)}
}

// Options configures a Guard. Zero PIDs are filled from the running process.
type Options struct {
	SafeMode        bool
	ProtectedTitles []string
	DisabledActions []types.Action
	PID             int
	ParentPID       int
}

// DefaultProtectedTitles keeps the assistant's own windows out of reach
var DefaultProtectedTitles = []string{"*heimdall*"}

// Guard manages safety checks for automation intents and window targets
type Guard struct {
	safeMode        bool
	allowedActions  map[types.Action]bool
	dangerousCombos map[string]bool
	dangerousText   []string
	protectedTitles []string
	pid, ppid       int
	logger          *zap.Logger
}

// NewGuard creates a guard. Invalid title globs are rejected.
func NewGuard(opts Options, logger *zap.Logger) (*Guard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.ParentPID == 0 {
		opts.ParentPID = os.Getppid()
	}

	titles := opts.ProtectedTitles
	if len(titles) == 0 {
		titles = DefaultProtectedTitles
	}
	protected := make([]string, 0, len(titles))
	for _, p := range titles {
		p = strings.ToLower(strings.TrimSpace(p))
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid protected window pattern %q", p)
		}
		protected = append(protected, p)
	}

	g := &Guard{
		safeMode: opts.SafeMode,
		allowedActions: map[types.Action]bool{
			types.ActionClick:    true,
			types.ActionScroll:   true,
			types.ActionType:     true,
			types.ActionKey:      true,
			types.ActionMinimize: true,
			types.ActionMaximize: true,
			types.ActionVolume:   true,
			types.ActionClose:    true,
		},
		dangerousCombos: make(map[string]bool),
		dangerousText: []string{
			"rm -rf", "sudo ", "shutdown", "reboot",
			"mkfs", "dd if=", "format c:", "del /f", "killall",
		},
		protectedTitles: protected,
		pid:             opts.PID,
		ppid:            opts.ParentPID,
		logger:          logger,
	}
	for _, c := range []string{"alt+f4", "ctrl+w", "ctrl+q", "cmd+q", "cmd+w", "ctrl+alt+delete", "super+l"} {
		g.AddDangerousCombo(c)
	}
	for _, a := range opts.DisabledActions {
		g.RemoveAllowedAction(a)
	}
	return g, nil
}

// CheckIntent validates an automation intent before it is planned or run
func (g *Guard) CheckIntent(in types.AutomationIntent) error {
	allowed, exists := g.allowedActions[in.Action]
	if !exists {
		return refuse("Unknown action: %s", in.Action)
	}
	if !allowed {
		g.logger.Info("Blocked disabled action", zap.String("action", string(in.Action)))
		return refuse("The %s action is disabled.", in.Action)
	}

	switch in.Action {
	case types.ActionMinimize, types.ActionMaximize, types.ActionClose:
		if in.Window.IsSelf() {
			g.logger.Info("Blocked action on own window", zap.String("action", string(in.Action)))
			return refuse("I can't %s my own window. That would cut off our conversation.", in.Action)
		}
	case types.ActionKey:
		if combo := NormalizeCombo(in.Keys); g.dangerousCombos[combo] {
			g.logger.Info("Blocked dangerous key combo", zap.String("combo", combo))
			return refuse("The key combination %s could close or lock applications, so I won't press it.", combo)
		}
	case types.ActionType:
		text := strings.ToLower(in.Text)
		for _, kw := range g.dangerousText {
			if strings.Contains(text, kw) {
				g.logger.Info("Blocked dangerous text", zap.String("keyword", kw))
				return refuse("The text contains a dangerous command (%s), so I won't type it.", strings.TrimSpace(kw))
			}
		}
	}
	return nil
}

// SafeModeReason is the refusal shown for any execution while safe mode is on
const SafeModeReason = "Demo safe mode is on, so actions are planned but not executed. Turn off demo_safe_mode to run them."

// CheckExecution reports whether intents may have real side effects. Safe
// mode refuses every execution; plans are still allowed.
func (g *Guard) CheckExecution(in types.AutomationIntent) error {
	if g.safeMode {
		g.logger.Info("Blocked execution in safe mode", zap.String("action", string(in.Action)))
		return refuse("%s", SafeModeReason)
	}
	return nil
}

// SafeMode reports whether real execution is switched off
func (g *Guard) SafeMode() bool { return g.safeMode }

// CheckWindow refuses windows owned by this process or its parent, and
// windows whose title matches a protected pattern.
func (g *Guard) CheckWindow(h types.WindowHandle) error {
	if h.Self {
		return refuse("That is my own window, so I won't touch it.")
	}
	if h.PID > 0 && (h.PID == g.pid || h.PID == g.ppid) {
		g.logger.Info("Blocked window of own process tree",
			zap.Int("pid", h.PID), zap.String("title", h.Title))
		return refuse("%q belongs to me or the program hosting me, so I won't touch it.", h.Title)
	}

	// titles are not paths; a '/' would stop '*' from matching across it
	title := strings.ReplaceAll(strings.ToLower(h.Title), "/", " ")
	for _, p := range g.protectedTitles {
		if ok, _ := doublestar.Match(p, title); ok {
			g.logger.Info("Blocked protected window",
				zap.String("pattern", p), zap.String("title", h.Title))
			return refuse("%q is a protected window, so I won't touch it.", h.Title)
		}
	}
	return nil
}

// AddAllowedAction adds an action to the allowed list
func (g *Guard) AddAllowedAction(action types.Action) {
	g.allowedActions[action] = true
	g.logger.Debug("Added allowed action", zap.String("action", string(action)))
}

// RemoveAllowedAction removes an action from the allowed list
func (g *Guard) RemoveAllowedAction(action types.Action) {
	g.allowedActions[action] = false
	g.logger.Debug("Removed allowed action", zap.String("action", string(action)))
}

// AddDangerousCombo adds a key combination, e.g. "ctrl+shift+q", to the blocked list
func (g *Guard) AddDangerousCombo(combo string) {
	g.dangerousCombos[NormalizeCombo(strings.Split(combo, "+"))] = true
}

var keyAliases = map[string]string{
	"control": "ctrl", "command": "cmd", "meta": "cmd", "option": "alt",
	"win": "super", "windows": "super", "del": "delete", "escape": "esc",
}

// NormalizeCombo lowercases keys, maps aliases and sorts them so that
// "F4+Alt" and "alt+f4" compare equal.
func NormalizeCombo(keys []string) string {
	norm := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if a, ok := keyAliases[k]; ok {
			k = a
		}
		norm = append(norm, k)
	}
	sort.Strings(norm)
	return strings.Join(norm, "+")
}
