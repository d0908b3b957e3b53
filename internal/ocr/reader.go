// Package ocr captures the screen and extracts its text with tesseract.
package ocr

import (
	"context"
	"errors"
	"image"
	"strings"

	"go.uber.org/zap"
)

// Capturer grabs a frame of the screen
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// WordReader extracts positioned words from an image
type WordReader interface {
	ReadWords(ctx context.Context, img image.Image) ([]Word, error)
}

// ErrNoText is returned when OCR ran but found nothing readable
var ErrNoText = errors.New("no text found on screen")

// ScreenReader combines a capturer and an OCR engine
type ScreenReader struct {
	capture Capturer
	words   WordReader
	logger  *zap.Logger
}

// NewScreenReader creates a screen reader
func NewScreenReader(capture Capturer, words WordReader, logger *zap.Logger) *ScreenReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreenReader{capture: capture, words: words, logger: logger}
}

// CaptureAndRead captures the screen and returns its text. A non-nil region
// restricts the read to that rectangle.
func (r *ScreenReader) CaptureAndRead(ctx context.Context, region *image.Rectangle) (string, error) {
	img, err := r.capture.Capture(ctx)
	if err != nil {
		return "", err
	}
	if region != nil {
		img = crop(img, *region)
	}

	words, err := r.words.ReadWords(ctx, img)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(Text(words))
	r.logger.Debug("Screen read", zap.Int("words", len(words)))
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if s, ok := img.(subImager); ok && !r.Empty() {
		return s.SubImage(r)
	}
	return img
}
