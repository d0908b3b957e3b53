package brain

import (
	"fmt"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/pkg/types"
)

// demoCommand is a literal phrase that skips classification
type demoCommand struct {
	intent  types.AutomationIntent
	confirm string
}

// demoOverrides is matched on exact lowercased, trimmed input. Simulated
// turns get the plan; executed ones reply with the fixed confirmation.
var demoOverrides = map[string]demoCommand{
	"scroll down": {
		intent:  types.AutomationIntent{Action: types.ActionScroll, Direction: types.DirectionDown, Amount: types.DefaultScrollAmount, Confidence: 1},
		confirm: "Scrolled down.",
	},
	"scroll up": {
		intent:  types.AutomationIntent{Action: types.ActionScroll, Direction: types.DirectionUp, Amount: types.DefaultScrollAmount, Confidence: 1},
		confirm: "Scrolled up.",
	},
	"type hello world": {
		intent:  types.AutomationIntent{Action: types.ActionType, Text: "hello world", Confidence: 1},
		confirm: "Typed 'hello world'.",
	},
	"press enter": {
		intent:  types.AutomationIntent{Action: types.ActionKey, Keys: []string{"enter"}, Confidence: 1},
		confirm: "Pressed Enter.",
	},
}

const screenReadReply = "I'll analyze your screen content for you."

const voiceReply = "Voice features are available! I can listen to voice commands and speak responses."

const voiceUnavailableReply = "Voice input is not available on this system. Check that a recorder is installed and a speech-to-text provider is configured."

const helpReply = `Heimdall AI Assistant Help

I can help you with:

Screen control:
- "Read my screen" - analyze screen content
- "Click the submit button" or "click at 100, 200" - click UI elements
- "Scroll down 5" - navigate pages
- "Type hello world" - enter text
- "Press ctrl+c" - press keys
- "Minimize notepad", "maximize the browser", "close calculator" - manage windows
- "Volume up", "mute" - control audio

Voice:
- "Listen" - voice recognition

Actions are simulated unless you ask me to execute them.`

func greetingReply(now time.Time) string {
	return fmt.Sprintf(`Hello! I'm Heimdall, your AI assistant.

Status: all systems operational
Time: %s
Ready for: screen control, voice commands, automation

What would you like me to help you with?`, now.Format("15:04:05"))
}

func chatFallbackReply(input string) string {
	return fmt.Sprintf(`I understand you said: %q

I'm ready to help! Here are some things you can try:
- "Read my screen" - analyze what's on your screen
- "Click the submit button" - interact with UI elements
- "Help" - see all available commands

What would you like me to do?`, input)
}

// automationReply is the line that precedes the plan or execution result
func automationReply(in types.AutomationIntent) string {
	switch in.Action {
	case types.ActionClick:
		if in.Coordinates != nil {
			return fmt.Sprintf("I'll click at %s for you.", in.Coordinates)
		}
		target := in.Target
		if target == "" {
			target = "button"
		}
		return fmt.Sprintf("I'll click the %s for you.", target)
	case types.ActionScroll:
		dir := in.Direction
		if dir == "" {
			dir = types.DirectionDown
		}
		return fmt.Sprintf("I'll scroll %s for you.", dir)
	case types.ActionType:
		if in.Text == "" {
			return "What would you like me to type?"
		}
		return fmt.Sprintf("I'll type '%s' for you.", in.Text)
	case types.ActionKey:
		return fmt.Sprintf("I'll press %s for you.", strings.Join(in.Keys, "+"))
	case types.ActionMinimize, types.ActionMaximize, types.ActionClose:
		return fmt.Sprintf("I'll %s the %s window for you.", in.Action, in.Window)
	case types.ActionVolume:
		if in.Volume == types.VolumeMute {
			return "I'll toggle mute for you."
		}
		return fmt.Sprintf("I'll turn the volume %s for you.", in.Volume)
	default:
		return fmt.Sprintf("I'll %s for you.", in.Action)
	}
}

func chatPrompt(input string, history []types.ConversationRecord) string {
	var b strings.Builder
	b.WriteString("You are Heimdall, a concise desktop assistant. Answer the user in a few sentences.\n")
	if len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, r := range history {
			fmt.Fprintf(&b, "User: %s\nHeimdall: %s\n", r.UserMessage, firstLine(r.AssistantMessage))
		}
	}
	fmt.Fprintf(&b, "\nUser: %s\nHeimdall:", input)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// speakable trims a reply to what is worth reading aloud: the first
// paragraph, without list markers
func speakable(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	return strings.NewReplacer("- ", "", "\n", " ").Replace(text)
}
