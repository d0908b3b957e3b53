package plan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/vikthevar/Heimdall/pkg/types"
)

func TestRenderStepCounts(t *testing.T) {
	tests := []struct {
		name   string
		intent types.AutomationIntent
		steps  int
		want   string
	}{
		{
			name:   "click with coordinates",
			intent: types.AutomationIntent{Action: types.ActionClick, Coordinates: &types.Point{X: 10, Y: 20}},
			steps:  2,
			want:   "(10, 20)",
		},
		{
			name:   "click with target",
			intent: types.AutomationIntent{Action: types.ActionClick, Target: "submit button"},
			steps:  3,
			want:   `"submit button"`,
		},
		{
			name:   "scroll",
			intent: types.AutomationIntent{Action: types.ActionScroll, Direction: types.DirectionUp, Amount: 5},
			steps:  2,
			want:   "Scroll up by 5 units",
		},
		{
			name:   "scroll default amount",
			intent: types.AutomationIntent{Action: types.ActionScroll},
			steps:  2,
			want:   "Scroll down by 3 units",
		},
		{
			name:   "type",
			intent: types.AutomationIntent{Action: types.ActionType, Text: "hello world"},
			steps:  3,
			want:   `Type "hello world"`,
		},
		{
			name:   "key",
			intent: types.AutomationIntent{Action: types.ActionKey, Keys: []string{"ctrl", "s"}},
			steps:  2,
			want:   "Press ctrl+s",
		},
		{
			name:   "minimize",
			intent: types.AutomationIntent{Action: types.ActionMinimize, Window: types.NamedWindow("notepad")},
			steps:  2,
			want:   "Minimize the window",
		},
		{
			name:   "volume",
			intent: types.AutomationIntent{Action: types.ActionVolume, Volume: types.VolumeMute},
			steps:  1,
			want:   "volume mute",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.intent)
			lines := strings.Split(got, "\n")
			if len(lines) != tt.steps {
				t.Fatalf("Render() has %d steps, want %d:\n%s", len(lines), tt.steps, got)
			}
			if !strings.HasPrefix(lines[0], "1. ") {
				t.Errorf("first step not numbered: %q", lines[0])
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Render() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestRenderUnknownAction(t *testing.T) {
	got := Render(types.AutomationIntent{Action: "dance"})
	if got != "Unknown action plan for: dance" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRenderIsPure(t *testing.T) {
	in := types.AutomationIntent{Action: types.ActionKey, Keys: []string{"ctrl", "c"}}
	first := Render(in)
	if second := Render(in); first != second {
		t.Errorf("Render() not stable: %q vs %q", first, second)
	}
	if len(in.Keys) != 2 || in.Keys[0] != "ctrl" {
		t.Errorf("Render() mutated its input: %v", in.Keys)
	}
}

func ExampleRender() {
	fmt.Println(Render(types.AutomationIntent{Action: types.ActionScroll, Direction: types.DirectionDown, Amount: 3}))
	// Output:
	// 1. Focus the active window
	// 2. Scroll down by 3 units
}
