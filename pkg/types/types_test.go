package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestIntentEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Intent
	}{
		{
			name: "click with target",
			in:   AutomationIntent{Action: ActionClick, Target: "submit button", Confidence: 0.8},
		},
		{
			name: "minimize self",
			in:   AutomationIntent{Action: ActionMinimize, Window: SelfWindow(), Confidence: 0.9},
		},
		{
			name: "screen read of a named window",
			in:   ScreenReadIntent{Window: NamedWindow("browser"), Confidence: 0.9},
		},
		{
			name: "unknown chat",
			in:   ChatIntent{Input: "???", Tier: ChatUnknown, Confidence: 0.1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalIntent(tt.in)
			if err != nil {
				t.Fatalf("MarshalIntent() error = %v", err)
			}
			if !strings.Contains(string(data), `"type":"`+string(tt.in.Type())+`"`) {
				t.Errorf("envelope %s does not carry type %s", data, tt.in.Type())
			}

			out, err := UnmarshalIntent(data)
			if err != nil {
				t.Fatalf("UnmarshalIntent() error = %v", err)
			}
			if out.Type() != tt.in.Type() || out.Score() != tt.in.Score() {
				t.Errorf("got %#v, want %#v", out, tt.in)
			}
		})
	}
}

func TestUnmarshalIntentRejectsAutomationWithoutAction(t *testing.T) {
	if _, err := UnmarshalIntent([]byte(`{"type":"automation","confidence":0.5}`)); err == nil {
		t.Error("expected error for automation intent without action")
	}
	if _, err := UnmarshalIntent([]byte(`{"type":"dance"}`)); err == nil {
		t.Error("expected error for unknown intent type")
	}
}

func TestWindowRefFromString(t *testing.T) {
	tests := []struct {
		in   string
		want WindowRef
	}{
		{"", CurrentWindow()},
		{"current", CurrentWindow()},
		{"heimdall", SelfWindow()},
		{"Self", SelfWindow()},
		{"Notepad", NamedWindow("notepad")},
	}
	for _, tt := range tests {
		if got := WindowRefFromString(tt.in); got != tt.want {
			t.Errorf("WindowRefFromString(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestProcessResultJSONInlinesIntent(t *testing.T) {
	res := ProcessResult{
		Reply:  "ok",
		Intent: AutomationIntent{Action: ActionScroll, Direction: DirectionUp, Amount: 3, Confidence: 0.8},
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	intent, ok := decoded["intent"].(map[string]any)
	if !ok {
		t.Fatalf("intent not inlined: %s", data)
	}
	if intent["type"] != "automation" || intent["direction"] != "up" {
		t.Errorf("unexpected intent payload: %v", intent)
	}
}

func TestConversationRecordIntentType(t *testing.T) {
	rec := ConversationRecord{Intent: json.RawMessage(`{"type":"help","confidence":1}`)}
	if rec.IntentType() != TypeHelp {
		t.Errorf("IntentType() = %q, want help", rec.IntentType())
	}
	if (ConversationRecord{}).IntentType() != "" {
		t.Error("empty record should have no intent type")
	}
}
