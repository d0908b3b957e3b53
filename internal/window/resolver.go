package window

import (
	"context"
	"strings"

	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// Enumerator lists the top-level windows of the desktop session
type Enumerator interface {
	EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error)
}

// Resolver maps window references to enumerated window handles
type Resolver struct {
	enum   Enumerator
	logger *zap.Logger
}

// NewResolver creates a resolver over the given enumerator
func NewResolver(enum Enumerator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{enum: enum, logger: logger}
}

// ListOpen returns every titled window. Enumeration failures yield an empty list.
func (r *Resolver) ListOpen(ctx context.Context) []types.WindowHandle {
	if r.enum == nil {
		return []types.WindowHandle{}
	}
	handles, err := r.enum.EnumerateWindows(ctx)
	if err != nil {
		r.logger.Warn("Window enumeration failed", zap.Error(err))
		return []types.WindowHandle{}
	}

	open := make([]types.WindowHandle, 0, len(handles))
	for _, h := range handles {
		if strings.TrimSpace(h.Title) == "" {
			continue
		}
		open = append(open, h)
	}
	return open
}

// Resolve returns every window matching ref. The self reference resolves to
// the self sentinel; the current reference resolves to nothing so callers
// have to ask the user to be specific.
func (r *Resolver) Resolve(ctx context.Context, ref types.WindowRef) []types.WindowHandle {
	switch ref.Kind {
	case types.WindowSelf:
		return []types.WindowHandle{types.SelfHandle}
	case types.WindowCurrent:
		return []types.WindowHandle{}
	}

	terms := titleTerms(ref.Name)
	var matches []types.WindowHandle
	for _, h := range r.ListOpen(ctx) {
		if matchesAny(h, terms) {
			matches = append(matches, h)
		}
	}

	r.logger.Debug("Resolved window reference",
		zap.String("reference", ref.String()),
		zap.Int("candidates", len(matches)))
	return matches
}

func matchesAny(h types.WindowHandle, terms []string) bool {
	title := strings.ToLower(h.Title)
	app := strings.ToLower(h.App)
	for _, t := range terms {
		if strings.Contains(title, t) || (app != "" && strings.Contains(app, t)) {
			return true
		}
	}
	return false
}

// Titles renders handles as a bullet list for disambiguation prompts
func Titles(handles []types.WindowHandle) string {
	if len(handles) == 0 {
		return "(no open windows found)"
	}
	var b strings.Builder
	for i, h := range handles {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(h.Title)
	}
	return b.String()
}
