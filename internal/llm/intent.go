package llm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/vikthevar/Heimdall/pkg/types"
)

//go:embed intent.schema.json
var intentSchemaJSON []byte

const intentSchemaURL = "mem://schemas/intent.schema.json"

var (
	compileOnce  sync.Once
	intentSchema *jsonschema.Schema
	compileErr   error
)

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(intentSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("decode intent schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(intentSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("register intent schema: %w", err)
			return
		}
		intentSchema, compileErr = c.Compile(intentSchemaURL)
	})
	return intentSchema, compileErr
}

// ErrNoIntent means the model answered but did not name an actionable intent
var ErrNoIntent = errors.New("model returned no actionable intent")

// defaultModelConfidence is used when the model omits a confidence
const defaultModelConfidence = 0.6

// parsedCommand mirrors intent.schema.json
type parsedCommand struct {
	Action      string       `json:"action"`
	Target      string       `json:"target"`
	Text        string       `json:"text"`
	Window      string       `json:"window"`
	Direction   string       `json:"direction"`
	Amount      int          `json:"amount"`
	Keys        []string     `json:"keys"`
	Volume      string       `json:"volume"`
	Coordinates *types.Point `json:"coordinates"`
	Confidence  *float64     `json:"confidence"`
}

// IntentPrompt builds the prompt asking the model for a JSON command
func IntentPrompt(userInput, screenContext string) string {
	if len(screenContext) > 500 {
		screenContext = screenContext[:500]
	}
	if screenContext == "" {
		screenContext = "No screen context available"
	}
	return fmt.Sprintf(`You are an AI assistant that parses commands for desktop automation.

Parse the user command into a JSON object with these fields:
- action: one of click, scroll, type, key, minimize, maximize, close, volume, read, chat, unknown
- target: the element to click, described by its visible text
- text: the text to type
- window: the application a window action applies to
- direction: up or down, for scroll
- amount: scroll units, for scroll
- keys: list of keys to press together, for key
- volume: up, down or mute, for volume
- confidence: your confidence from 0.0 to 1.0

Screen context: %s

User command: %q

Respond ONLY with valid JSON:`, screenContext, userInput)
}

// ParseIntent asks gen to interpret text and validates its answer against
// the intent schema. Only answers that map to an automation or screen-read
// intent are returned.
func ParseIntent(ctx context.Context, gen Generator, text, screenContext string) (types.Intent, error) {
	out, err := gen.Generate(ctx, IntentPrompt(text, screenContext))
	if err != nil {
		return nil, err
	}
	return DecodeIntent(out)
}

// DecodeIntent validates a model answer and converts it to an intent
func DecodeIntent(answer string) (types.Intent, error) {
	raw := extractJSON(answer)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in answer", ErrNoIntent)
	}

	schema, err := getSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON from model: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("model answer does not match intent schema: %w", err)
	}

	var cmd parsedCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode model answer: %w", err)
	}
	return cmd.toIntent()
}

func (c parsedCommand) toIntent() (types.Intent, error) {
	conf := defaultModelConfidence
	if c.Confidence != nil {
		conf = *c.Confidence
	}
	win := types.WindowRefFromString(c.Window)

	switch c.Action {
	case "chat", "unknown":
		return nil, ErrNoIntent
	case "read":
		return types.ScreenReadIntent{Window: win, Confidence: conf}, nil
	}

	in := types.AutomationIntent{
		Action:      types.Action(c.Action),
		Target:      strings.TrimSpace(c.Target),
		Text:        c.Text,
		Window:      win,
		Direction:   types.Direction(c.Direction),
		Amount:      c.Amount,
		Coordinates: c.Coordinates,
		Keys:        c.Keys,
		Volume:      types.VolumeOp(c.Volume),
		Confidence:  conf,
	}
	switch in.Action {
	case types.ActionClick:
		if in.Target == "" && in.Coordinates == nil {
			return nil, fmt.Errorf("%w: click without target", ErrNoIntent)
		}
	case types.ActionScroll:
		if in.Direction == "" {
			in.Direction = types.DirectionDown
		}
		if in.Amount == 0 {
			in.Amount = types.DefaultScrollAmount
		}
	case types.ActionType:
		if in.Text == "" {
			return nil, fmt.Errorf("%w: type without text", ErrNoIntent)
		}
	case types.ActionKey:
		if len(in.Keys) == 0 {
			return nil, fmt.Errorf("%w: key without keys", ErrNoIntent)
		}
	case types.ActionVolume:
		if in.Volume == "" {
			in.Volume = types.VolumeUp
		}
	}
	return in, nil
}

// extractJSON returns the outermost {...} span, tolerating code fences and
// chatter around the object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
