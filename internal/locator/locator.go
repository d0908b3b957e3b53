// Package locator finds on-screen elements from a natural-language
// description. Window controls are found with a colour heuristic and OCR,
// everything else by scoring OCR words against the description.
package locator

import (
	"context"
	"image"
	"strings"
	"sync"

	"github.com/vikthevar/Heimdall/internal/ocr"
	"go.uber.org/zap"
)

const (
	// controlRegionWidth and controlRegionHeight bound the top-right area
	// searched for window controls.
	controlRegionWidth  = 300
	controlRegionHeight = 100

	minimizeOffset = 35
	maximizeOffset = 70

	matchThreshold = 0.3
)

var closeGlyphs = map[string]bool{"x": true, "×": true, "✕": true, "✖": true}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "button": true, "on": true, "click": true,
	"to": true, "of": true, "in": true, "at": true, "please": true, "icon": true,
}

// Locator resolves descriptions to screen coordinates. One request at a time
// owns the capture, OCR and resolution steps.
type Locator struct {
	mu      sync.Mutex
	capture ocr.Capturer
	words   ocr.WordReader
	logger  *zap.Logger
}

// New creates a locator
func New(capture ocr.Capturer, words ocr.WordReader, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{capture: capture, words: words, logger: logger}
}

// Locate returns the point to click for description. Failures of the
// capture or OCR backends are logged and reported as not found.
func (l *Locator) Locate(ctx context.Context, description string) (image.Point, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return image.Point{}, false
	}

	img, err := l.capture.Capture(ctx)
	if err != nil {
		l.logger.Warn("Screen capture failed", zap.Error(err))
		return image.Point{}, false
	}

	switch {
	case strings.Contains(desc, "minimize") || strings.Contains(desc, "minimise"):
		p := l.closeButton(ctx, img)
		return image.Pt(p.X-minimizeOffset, p.Y), true
	case strings.Contains(desc, "maximize") || strings.Contains(desc, "maximise"):
		p := l.closeButton(ctx, img)
		return image.Pt(p.X-maximizeOffset, p.Y), true
	case isCloseDescription(desc):
		return l.closeButton(ctx, img), true
	}

	words, err := l.words.ReadWords(ctx, img)
	if err != nil {
		l.logger.Warn("OCR failed", zap.Error(err))
		return image.Point{}, false
	}
	p, score, ok := bestMatch(words, keywords(desc))
	l.logger.Debug("Located element",
		zap.String("description", desc),
		zap.Float64("score", score),
		zap.Bool("found", ok))
	return p, ok
}

func isCloseDescription(desc string) bool {
	if strings.Contains(desc, "close") {
		return true
	}
	for _, f := range strings.Fields(desc) {
		if closeGlyphs[f] {
			return true
		}
	}
	return false
}

// closeButton always yields a point: the red blob, an OCR glyph, or the
// conventional position near the top-right corner.
func (l *Locator) closeButton(ctx context.Context, img image.Image) image.Point {
	b := img.Bounds()
	region := image.Rect(b.Max.X-controlRegionWidth, b.Min.Y, b.Max.X, b.Min.Y+controlRegionHeight).Intersect(b)

	if p, ok := findRedBlob(img, region); ok {
		l.logger.Debug("Close button found by colour", zap.Stringer("point", p))
		return p
	}

	words, err := l.words.ReadWords(ctx, img)
	if err != nil {
		l.logger.Warn("OCR failed while looking for close glyph", zap.Error(err))
	} else {
		for _, w := range words {
			c := w.Center()
			if closeGlyphs[strings.ToLower(w.Text)] && c.In(region) {
				l.logger.Debug("Close button found by OCR", zap.Stringer("point", c))
				return c
			}
		}
	}

	return image.Pt(b.Max.X-20, b.Min.Y+20)
}

func keywords(desc string) []string {
	var out []string
	for _, f := range strings.Fields(desc) {
		f = strings.Trim(f, ".,!?;:'\"()")
		if f == "" || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// bestMatch scores each word by the fraction of keywords found in it or its
// immediate neighbours. Ties go to the word with more direct hits, then to the
// earliest word in reading order.
func bestMatch(words []ocr.Word, keys []string) (image.Point, float64, bool) {
	if len(keys) == 0 || len(words) == 0 {
		return image.Point{}, 0, false
	}

	lower := make([]string, len(words))
	for i, w := range words {
		lower[i] = strings.ToLower(w.Text)
	}

	bestIdx, bestScore, bestDirect := -1, 0.0, 0
	for i := range words {
		hits, direct := 0, 0
		for _, k := range keys {
			if strings.Contains(lower[i], k) {
				direct++
			}
			for j := i - 1; j <= i+1; j++ {
				if j >= 0 && j < len(words) && strings.Contains(lower[j], k) {
					hits++
					break
				}
			}
		}
		score := float64(hits) / float64(len(keys))
		if score > bestScore || (score == bestScore && score > 0 && direct > bestDirect) {
			bestIdx, bestScore, bestDirect = i, score, direct
		}
	}

	if bestIdx < 0 || bestScore < matchThreshold {
		return image.Point{}, bestScore, false
	}
	return words[bestIdx].Center(), bestScore, true
}
