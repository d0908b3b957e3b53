package types

import (
	"encoding/json"
	"strings"
)

// WindowKind distinguishes the three kinds of window reference
type WindowKind int

const (
	// WindowCurrent is the zero value: no window was named
	WindowCurrent WindowKind = iota
	// WindowSelf is the assistant's own window and is never acted on
	WindowSelf
	// WindowNamed carries a free-text application name
	WindowNamed
)

const (
	selfName    = "heimdall"
	currentName = "current"
)

// WindowRef is a parsed reference to a window
type WindowRef struct {
	Kind WindowKind
	Name string
}

// CurrentWindow returns the unspecified/current reference
func CurrentWindow() WindowRef { return WindowRef{Kind: WindowCurrent} }

// SelfWindow returns the self-sentinel reference
func SelfWindow() WindowRef { return WindowRef{Kind: WindowSelf} }

// NamedWindow returns a reference to an application by name
func NamedWindow(name string) WindowRef {
	return WindowRef{Kind: WindowNamed, Name: strings.ToLower(strings.TrimSpace(name))}
}

func (w WindowRef) IsSelf() bool    { return w.Kind == WindowSelf }
func (w WindowRef) IsCurrent() bool { return w.Kind == WindowCurrent }

func (w WindowRef) String() string {
	switch w.Kind {
	case WindowSelf:
		return selfName
	case WindowNamed:
		return w.Name
	default:
		return currentName
	}
}

// MarshalJSON encodes the reference as its string form
func (w WindowRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON accepts "current", "heimdall"/"self" or an application name
func (w *WindowRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*w = WindowRefFromString(s)
	return nil
}

// WindowRefFromString is the inverse of String
func WindowRefFromString(s string) WindowRef {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", currentName:
		return CurrentWindow()
	case selfName, "self":
		return SelfWindow()
	default:
		return NamedWindow(s)
	}
}

// WindowHandle is one enumerated top-level window
type WindowHandle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	App   string `json:"app,omitempty"`
	PID   int    `json:"pid,omitempty"`
	Self  bool   `json:"self,omitempty"`
}

// SelfHandle is the sentinel handle for the assistant's own window
var SelfHandle = WindowHandle{ID: "self", Title: "Heimdall", App: selfName, Self: true}

// WindowState is the state a window action moves a window to
type WindowState string

const (
	StateMinimized WindowState = "minimized"
	StateMaximized WindowState = "maximized"
	StateClosed    WindowState = "closed"
)

// StateFor maps a window action to the state it applies
func StateFor(a Action) (WindowState, bool) {
	switch a {
	case ActionMinimize:
		return StateMinimized, true
	case ActionMaximize:
		return StateMaximized, true
	case ActionClose:
		return StateClosed, true
	}
	return "", false
}
