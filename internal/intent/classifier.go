package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/pkg/types"
)

// Classifier maps free text to an intent using an ordered keyword rule table.
// The first matching rule wins, so the order of rules is part of the contract.
type Classifier struct {
	conf  Confidences
	rules []rule
}

type rule struct {
	name  string
	match func(u utterance) bool
	build func(c *Classifier, u utterance) types.Intent
}

// utterance is the normalised form of one input
type utterance struct {
	raw   string
	lower string
	words []string
}

func newUtterance(text string) utterance {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	fields := strings.Fields(lower)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		words = append(words, strings.Trim(f, ".,!?;:'\"()"))
	}
	return utterance{raw: raw, lower: lower, words: words}
}

func (u utterance) has(term string) bool {
	if strings.Contains(term, " ") || strings.Contains(term, "'") {
		return strings.Contains(u.lower, term)
	}
	for _, w := range u.words {
		if w == term {
			return true
		}
	}
	return false
}

func (u utterance) hasAny(terms []string) bool {
	for _, t := range terms {
		if u.has(t) {
			return true
		}
	}
	return false
}

var (
	volumeWords   = []string{"volume", "mute", "unmute", "louder", "quieter"}
	closeWords    = []string{"close", "quit", "exit"}
	minimizeWords = []string{"minimize", "minimise"}
	maximizeWords = []string{"maximize", "maximise", "fullscreen", "full screen"}
	screenWords   = []string{"read", "screen", "see", "what", "show", "display", "what's on", "whats on"}
	clickWords    = []string{"click", "press", "tap", "select"}
	scrollWords   = []string{"scroll", "page"}
	typeWords     = []string{"type", "enter", "input", "write"}
	voiceWords    = []string{"voice", "speak", "say", "listen", "microphone", "record"}
	helpWords     = []string{"help", "how", "can", "commands"}
	greetWords    = []string{"hello", "hi", "hey", "status", "ready"}
)

// NewClassifier creates a classifier reporting the given confidences
func NewClassifier(conf Confidences) *Classifier {
	c := &Classifier{conf: conf}
	c.rules = []rule{
		{name: "volume", match: matchAny(volumeWords), build: buildVolume},
		{name: "close", match: windowRule(closeWords), build: buildWindow(types.ActionClose)},
		{name: "minimize", match: windowRule(minimizeWords), build: buildWindow(types.ActionMinimize)},
		{name: "maximize", match: windowRule(maximizeWords), build: buildWindow(types.ActionMaximize)},
		{name: "screen_read", match: matchAny(screenWords), build: buildScreenRead},
		{name: "click", match: matchAny(clickWords), build: buildClick},
		{name: "scroll", match: matchAny(scrollWords), build: buildScroll},
		{name: "type", match: matchAny(typeWords), build: buildType},
		{name: "voice", match: matchAny(voiceWords), build: func(c *Classifier, u utterance) types.Intent {
			return types.VoiceIntent{Confidence: c.conf.Voice}
		}},
		{name: "help", match: matchAny(helpWords), build: func(c *Classifier, u utterance) types.Intent {
			return types.HelpIntent{Confidence: c.conf.Help}
		}},
		{name: "greeting", match: matchAny(greetWords), build: func(c *Classifier, u utterance) types.Intent {
			return types.GreetingIntent{Confidence: c.conf.Greeting}
		}},
	}
	return c
}

// Classify never fails: unmatched text falls through to one of the chat tiers
func (c *Classifier) Classify(text string) types.Intent {
	u := newUtterance(text)
	for _, r := range c.rules {
		if r.match(u) {
			return r.build(c, u)
		}
	}
	return c.fallback(u)
}

// RuleNames lists the rules in precedence order
func (c *Classifier) RuleNames() []string {
	names := make([]string, 0, len(c.rules)+1)
	for _, r := range c.rules {
		names = append(names, r.name)
	}
	return append(names, "chat")
}

func (c *Classifier) fallback(u utterance) types.Intent {
	if !hasAlnum(u.lower) {
		return types.ChatIntent{Input: u.raw, Tier: types.ChatUnknown, Confidence: c.conf.Unknown}
	}
	return types.ChatIntent{Input: u.raw, Tier: types.ChatGeneral, Confidence: c.conf.Chat}
}

func matchAny(terms []string) func(u utterance) bool {
	return func(u utterance) bool { return u.hasAny(terms) }
}

// windowRule matches window-management verbs unless the text is really about
// clicking a control, e.g. "click the close button".
func windowRule(terms []string) func(u utterance) bool {
	return func(u utterance) bool {
		return u.hasAny(terms) && !u.hasAny(clickWords) && !u.has("button")
	}
}

func buildVolume(c *Classifier, u utterance) types.Intent {
	op := types.VolumeUp
	switch {
	case u.hasAny([]string{"mute", "unmute", "silence"}):
		op = types.VolumeMute
	case u.hasAny([]string{"down", "decrease", "lower", "quieter", "reduce"}):
		op = types.VolumeDown
	}
	return types.AutomationIntent{
		Action:     types.ActionVolume,
		Volume:     op,
		Amount:     firstNumber(u.words, 1),
		Confidence: c.conf.Volume,
	}
}

// windowFiller words never name an application on their own
var windowFiller = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "window": true, "windows": true,
	"app": true, "application": true, "program": true, "please": true,
	"current": true, "active": true, "focused": true, "now": true,
	"and": true, "or": true, "then": true, "full": true, "screen": true,
}

func isWindowVerb(w string) bool {
	return contains(closeWords, w) || contains(minimizeWords, w) || contains(maximizeWords, w)
}

func buildWindow(action types.Action) func(c *Classifier, u utterance) types.Intent {
	return func(c *Classifier, u utterance) types.Intent {
		ref := window.ParseReference(u.lower)
		if ref.IsCurrent() {
			var rest []string
			for _, w := range u.words {
				if w == "" || windowFiller[w] || isWindowVerb(w) {
					continue
				}
				rest = append(rest, w)
			}
			if len(rest) > 0 {
				ref = types.NamedWindow(strings.Join(rest, " "))
			}
		}
		return types.AutomationIntent{
			Action:     action,
			Window:     ref,
			Confidence: c.conf.Window,
		}
	}
}

func buildScreenRead(c *Classifier, u utterance) types.Intent {
	return types.ScreenReadIntent{
		Window:     window.ParseReference(u.lower),
		Confidence: c.conf.ScreenRead,
	}
}

// clickTargets is checked in order; the first fragment found names the target
var clickTargets = []struct {
	fragment string
	target   string
}{
	{"submit", "submit button"},
	{"close", "close button"},
	{"minimize", "minimize button"},
	{"maximize", "maximize button"},
	{"ok", "ok button"},
	{"cancel", "cancel button"},
	{"save", "save button"},
	{"screen button", "screen button"},
	{"voice button", "voice button"},
}

var namedKeys = map[string]string{
	"enter": "enter", "return": "enter", "escape": "esc", "esc": "esc",
	"tab": "tab", "space": "space", "spacebar": "space", "backspace": "backspace",
	"delete": "delete", "home": "home", "end": "end",
	"pageup": "pageup", "pagedown": "pagedown",
}

var coordinatePattern = regexp.MustCompile(`\(?\s*(\d{1,5})\s*(?:,|\s)\s*(\d{1,5})\s*\)?`)

var clickFiller = map[string]bool{
	"the": true, "a": true, "an": true, "on": true, "at": true, "please": true, "to": true,
}

func buildClick(c *Classifier, u utterance) types.Intent {
	if keys := extractKeys(u); len(keys) > 0 {
		return types.AutomationIntent{
			Action:     types.ActionKey,
			Keys:       keys,
			Confidence: c.conf.Key,
		}
	}

	in := types.AutomationIntent{
		Action:     types.ActionClick,
		Confidence: c.conf.Click,
	}
	if m := coordinatePattern.FindStringSubmatch(u.lower); m != nil {
		x, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		in.Coordinates = &types.Point{X: x, Y: y}
		return in
	}
	in.Target = extractClickTarget(u)
	return in
}

// extractKeys recognises "press enter" and "press ctrl+c"; buttons are never keys
func extractKeys(u utterance) []string {
	if !u.has("press") && !u.has("hit") || u.has("button") {
		return nil
	}
	for _, w := range u.words {
		if strings.Contains(w, "+") {
			var keys []string
			for _, k := range strings.Split(w, "+") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
			return keys
		}
	}
	for _, w := range u.words {
		if k, ok := namedKeys[w]; ok {
			return []string{k}
		}
	}
	return nil
}

func extractClickTarget(u utterance) string {
	for _, t := range clickTargets {
		if u.has(t.fragment) {
			return t.target
		}
	}

	var rest []string
	for _, w := range u.words {
		if w == "" || clickFiller[w] || contains(clickWords, w) {
			continue
		}
		rest = append(rest, w)
	}
	if len(rest) == 0 {
		return "button"
	}
	return strings.Join(rest, " ")
}

func buildScroll(c *Classifier, u utterance) types.Intent {
	dir := types.DirectionDown
	if u.has("up") || u.has("pageup") {
		dir = types.DirectionUp
	}
	return types.AutomationIntent{
		Action:     types.ActionScroll,
		Direction:  dir,
		Amount:     firstNumber(u.words, types.DefaultScrollAmount),
		Confidence: c.conf.Scroll,
	}
}

func buildType(c *Classifier, u utterance) types.Intent {
	text := extractTypedText(u.raw)
	conf := c.conf.Type
	if text == "" {
		conf = c.conf.TypeNoText
	}
	return types.AutomationIntent{
		Action:     types.ActionType,
		Text:       text,
		Confidence: conf,
	}
}

// extractTypedText returns what follows the first trigger verb, keeping the
// user's casing and dropping surrounding quotes.
func extractTypedText(raw string) string {
	fields := strings.Fields(raw)
	for i, f := range fields {
		word := strings.ToLower(strings.Trim(f, ".,!?;:'\"()"))
		if !contains(typeWords, word) {
			continue
		}
		rest := strings.TrimSpace(strings.Join(fields[i+1:], " "))
		return strings.Trim(rest, "'\"“”‘’")
	}
	return ""
}

func firstNumber(words []string, def int) int {
	for _, w := range words {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
