package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// IntentType is the closed set of intent categories
type IntentType string

const (
	TypeAutomation IntentType = "automation"
	TypeScreenRead IntentType = "screen_read"
	TypeVoice      IntentType = "voice"
	TypeHelp       IntentType = "help"
	TypeGreeting   IntentType = "greeting"
	TypeChat       IntentType = "chat"
	TypeError      IntentType = "error"
)

// Action is the sub-operation of an automation intent
type Action string

const (
	ActionClick    Action = "click"
	ActionScroll   Action = "scroll"
	ActionType     Action = "type"
	ActionKey      Action = "key"
	ActionMinimize Action = "minimize"
	ActionMaximize Action = "maximize"
	ActionClose    Action = "close"
	ActionVolume   Action = "volume"
)

// IsWindowAction reports whether the action changes a window's state
func (a Action) IsWindowAction() bool {
	return a == ActionMinimize || a == ActionMaximize || a == ActionClose
}

// Direction of a scroll
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// VolumeOp is the media key a volume intent maps to
type VolumeOp string

const (
	VolumeUp   VolumeOp = "up"
	VolumeDown VolumeOp = "down"
	VolumeMute VolumeOp = "mute"
)

// ChatTier separates the general chat fallback from the unknown fallback
type ChatTier string

const (
	ChatGeneral ChatTier = "general"
	ChatUnknown ChatTier = "unknown"
)

// DefaultScrollAmount is used when the user names no magnitude
const DefaultScrollAmount = 3

// Point is a screen coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// Intent is the structured representation of a user request.
// The set of implementations is closed to this package.
type Intent interface {
	Type() IntentType
	Score() float64
	intent()
}

// AutomationIntent asks for a real mouse, keyboard or window action
type AutomationIntent struct {
	Action      Action    `json:"action"`
	Target      string    `json:"target,omitempty"`
	Text        string    `json:"text,omitempty"`
	Window      WindowRef `json:"window"`
	Direction   Direction `json:"direction,omitempty"`
	Amount      int       `json:"amount,omitempty"`
	Coordinates *Point    `json:"coordinates,omitempty"`
	Keys        []string  `json:"keys,omitempty"`
	Volume      VolumeOp  `json:"volume,omitempty"`
	Confidence  float64   `json:"confidence"`
}

func (AutomationIntent) Type() IntentType  { return TypeAutomation }
func (i AutomationIntent) Score() float64 { return i.Confidence }
func (AutomationIntent) intent()           {}

// ScreenReadIntent asks for OCR of the screen or of one window
type ScreenReadIntent struct {
	Window     WindowRef `json:"window"`
	Confidence float64   `json:"confidence"`
}

func (ScreenReadIntent) Type() IntentType  { return TypeScreenRead }
func (i ScreenReadIntent) Score() float64 { return i.Confidence }
func (ScreenReadIntent) intent()           {}

type VoiceIntent struct {
	Confidence float64 `json:"confidence"`
}

func (VoiceIntent) Type() IntentType  { return TypeVoice }
func (i VoiceIntent) Score() float64 { return i.Confidence }
func (VoiceIntent) intent()           {}

type HelpIntent struct {
	Confidence float64 `json:"confidence"`
}

func (HelpIntent) Type() IntentType  { return TypeHelp }
func (i HelpIntent) Score() float64 { return i.Confidence }
func (HelpIntent) intent()           {}

type GreetingIntent struct {
	Confidence float64 `json:"confidence"`
}

func (GreetingIntent) Type() IntentType  { return TypeGreeting }
func (i GreetingIntent) Score() float64 { return i.Confidence }
func (GreetingIntent) intent()           {}

// ChatIntent is the fallback for anything no rule matched
type ChatIntent struct {
	Input      string   `json:"input"`
	Tier       ChatTier `json:"tier"`
	Confidence float64  `json:"confidence"`
}

func (ChatIntent) Type() IntentType  { return TypeChat }
func (i ChatIntent) Score() float64 { return i.Confidence }
func (ChatIntent) intent()           {}

// ErrorIntent marks a turn that failed before an intent could be formed
type ErrorIntent struct {
	Err        string  `json:"error"`
	Confidence float64 `json:"confidence"`
}

func (ErrorIntent) Type() IntentType  { return TypeError }
func (i ErrorIntent) Score() float64 { return i.Confidence }
func (ErrorIntent) intent()           {}

// MarshalIntent encodes an intent as {"type": ..., <fields>}
func MarshalIntent(in Intent) ([]byte, error) {
	if in == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten intent: %w", err)
	}
	typ, _ := json.Marshal(in.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}

// UnmarshalIntent decodes the envelope produced by MarshalIntent
func UnmarshalIntent(data []byte) (Intent, error) {
	var head struct {
		Type IntentType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to read intent type: %w", err)
	}

	var target Intent
	switch head.Type {
	case TypeAutomation:
		var v AutomationIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		if v.Action == "" {
			return nil, fmt.Errorf("automation intent without action")
		}
		target = v
	case TypeScreenRead:
		var v ScreenReadIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		target = v
	case TypeVoice:
		var v VoiceIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		target = v
	case TypeHelp:
		var v HelpIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		target = v
	case TypeGreeting:
		var v GreetingIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		target = v
	case TypeChat:
		var v ChatIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		target = v
	case TypeError:
		var v ErrorIntent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		target = v
	default:
		return nil, fmt.Errorf("unknown intent type %q", head.Type)
	}
	return target, nil
}

// Outcome classifies an ExecutionResult
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeRefused        Outcome = "refused"
	OutcomeNeedsTarget    Outcome = "needs_target"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeBackendFailure Outcome = "backend_failure"
	OutcomeUnavailable    Outcome = "unavailable"
)

// ExecutionResult represents the result of dispatching one automation intent
type ExecutionResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Outcome Outcome `json:"outcome"`
}

// Succeeded builds a successful result
func Succeeded(format string, args ...any) ExecutionResult {
	return ExecutionResult{Success: true, Message: fmt.Sprintf(format, args...), Outcome: OutcomeOK}
}

// Failed builds a failed result with the given outcome
func Failed(outcome Outcome, format string, args ...any) ExecutionResult {
	return ExecutionResult{Success: false, Message: fmt.Sprintf(format, args...), Outcome: outcome}
}

// ProcessResult is what the orchestrator returns for one user turn
type ProcessResult struct {
	Reply           string           `json:"reply"`
	Intent          Intent           `json:"-"`
	Executed        bool             `json:"executed"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	IsError         bool             `json:"is_error"`
}

// MarshalJSON inlines the intent envelope
func (r ProcessResult) MarshalJSON() ([]byte, error) {
	intent, err := MarshalIntent(r.Intent)
	if err != nil {
		return nil, err
	}
	type alias ProcessResult
	return json.Marshal(struct {
		alias
		Intent json.RawMessage `json:"intent"`
	}{alias(r), intent})
}

// ConversationRecord is one persisted turn
type ConversationRecord struct {
	ID               string          `json:"id" yaml:"id"`
	Timestamp        time.Time       `json:"timestamp" yaml:"timestamp"`
	UserMessage      string          `json:"user_message" yaml:"user_message"`
	AssistantMessage string          `json:"assistant_message" yaml:"assistant_message"`
	Intent           json.RawMessage `json:"intent,omitempty" yaml:"-"`
}

// IntentType returns the type recorded with the turn, or "" if absent
func (r ConversationRecord) IntentType() IntentType {
	if len(r.Intent) == 0 {
		return ""
	}
	var head struct {
		Type IntentType `json:"type"`
	}
	if err := json.Unmarshal(r.Intent, &head); err != nil {
		return ""
	}
	return head.Type
}
