// Package plan renders automation intents as numbered, human-readable steps.
package plan

import (
	"fmt"
	"strings"

	"github.com/vikthevar/Heimdall/pkg/types"
)

// Render describes what executing in would do. It has no side effects.
func Render(in types.AutomationIntent) string {
	var steps []string

	switch in.Action {
	case types.ActionClick:
		if in.Coordinates != nil {
			steps = []string{
				fmt.Sprintf("Move mouse to %s", in.Coordinates),
				"Click left mouse button",
			}
		} else {
			target := in.Target
			if target == "" {
				target = "button"
			}
			steps = []string{
				fmt.Sprintf("Search the screen for %q", target),
				"Move mouse to the matched element",
				"Click left mouse button",
			}
		}
	case types.ActionScroll:
		amount := in.Amount
		if amount <= 0 {
			amount = types.DefaultScrollAmount
		}
		dir := in.Direction
		if dir == "" {
			dir = types.DirectionDown
		}
		steps = []string{
			"Focus the active window",
			fmt.Sprintf("Scroll %s by %d units", dir, amount),
		}
	case types.ActionType:
		steps = []string{
			"Focus the active text field",
			fmt.Sprintf("Type %q", in.Text),
			"Confirm the text was entered",
		}
	case types.ActionKey:
		steps = []string{
			"Focus the active window",
			fmt.Sprintf("Press %s", strings.Join(in.Keys, "+")),
		}
	case types.ActionMinimize, types.ActionMaximize, types.ActionClose:
		steps = []string{
			fmt.Sprintf("Find the %s window", in.Window),
			fmt.Sprintf("%s the window", verb(in.Action)),
		}
	case types.ActionVolume:
		steps = []string{fmt.Sprintf("Press the volume %s key", in.Volume)}
	default:
		return fmt.Sprintf("Unknown action plan for: %s", in.Action)
	}

	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, s)
	}
	return b.String()
}

func verb(a types.Action) string {
	s := string(a)
	return strings.ToUpper(s[:1]) + s[1:]
}
