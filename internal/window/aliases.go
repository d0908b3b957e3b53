package window

import (
	"strings"

	"github.com/vikthevar/Heimdall/pkg/types"
)

// alias maps a canonical application key to the words that refer to it
// and the title fragments that identify its windows.
type alias struct {
	key    string
	words  []string
	titles []string
}

// aliases is ordered: the first entry whose word appears in the text wins.
var aliases = []alias{
	{key: "notepad", words: []string{"notepad", "text editor"}, titles: []string{"notepad", "gedit", "textedit", "text editor"}},
	{key: "browser", words: []string{"browser", "chrome", "firefox", "edge", "safari"}, titles: []string{"chrome", "chromium", "firefox", "edge", "safari", "brave"}},
	{key: "explorer", words: []string{"explorer", "file manager", "files", "file", "finder"}, titles: []string{"explorer", "finder", "files", "nautilus", "dolphin"}},
	{key: "calculator", words: []string{"calculator", "calc"}, titles: []string{"calculator", "calc"}},
	{key: "terminal", words: []string{"terminal", "cmd", "powershell", "command prompt", "console"}, titles: []string{"terminal", "command prompt", "powershell", "cmd.exe", "konsole", "iterm"}},
}

// selfWords refer to the assistant's own window. Anything else that is not a
// known application (including "current" or "active") is the current window.
var selfWords = []string{"this", "heimdall", "yourself", "assistant"}

// ParseReference extracts a window reference from lowercased user text.
// Known application names win over self and current references.
func ParseReference(text string) types.WindowRef {
	text = strings.ToLower(text)
	words := strings.Fields(text)

	for _, a := range aliases {
		for _, w := range a.words {
			if containsTerm(text, words, w) {
				return types.NamedWindow(a.key)
			}
		}
	}
	for _, w := range selfWords {
		if containsTerm(text, words, w) {
			return types.SelfWindow()
		}
	}
	return types.CurrentWindow()
}

// Canonical returns the alias key for a free-text name, or the name itself
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	words := strings.Fields(name)
	for _, a := range aliases {
		if a.key == name {
			return a.key
		}
		for _, w := range a.words {
			if containsTerm(name, words, w) {
				return a.key
			}
		}
	}
	return name
}

// titleTerms returns the title fragments a window must contain to match name
func titleTerms(name string) []string {
	key := Canonical(name)
	for _, a := range aliases {
		if a.key == key {
			return a.titles
		}
	}
	return []string{key}
}

// containsTerm matches single words against whole tokens and phrases as substrings
func containsTerm(text string, words []string, term string) bool {
	if strings.Contains(term, " ") {
		return strings.Contains(text, term)
	}
	for _, w := range words {
		if strings.Trim(w, ".,!?;:'\"()") == term {
			return true
		}
	}
	return false
}
