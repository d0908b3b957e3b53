package ocr

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vikthevar/Heimdall/internal/command"
)

// Word is one OCR token with its bounding box in image coordinates
type Word struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
	Block      int
	Paragraph  int
	Line       int
}

// Center returns the middle of the word's bounding box
func (w Word) Center() image.Point {
	return image.Pt((w.Box.Min.X+w.Box.Max.X)/2, (w.Box.Min.Y+w.Box.Max.Y)/2)
}

// Tesseract reads words from images with the tesseract CLI
type Tesseract struct {
	run  command.Runner
	lang string
}

// NewTesseract creates a tesseract engine for the given language ("eng" if empty)
func NewTesseract(run command.Runner, lang string) *Tesseract {
	if run == nil {
		run = command.Exec
	}
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{run: run, lang: lang}
}

// ReadWords runs OCR over img and returns its words in reading order
func (t *Tesseract) ReadWords(ctx context.Context, img image.Image) ([]Word, error) {
	dir, err := os.MkdirTemp("", "heimdall-ocr-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "frame.png")
	if err := writePNG(path, img); err != nil {
		return nil, err
	}

	out, err := t.run(ctx, "tesseract", path, "stdout", "-l", t.lang, "tsv")
	if err != nil {
		return nil, fmt.Errorf("tesseract failed: %w", err)
	}

	words := ParseTSV(string(out))
	offset := img.Bounds().Min
	for i := range words {
		words[i].Box = words[i].Box.Add(offset)
	}
	return words, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// ParseTSV parses tesseract's tsv output, keeping only word rows (level 5)
// that carry text.
//
//	level page_num block_num par_num line_num word_num left top width height conf text
func ParseTSV(out string) []Word {
	var words []Word
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		cols := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		n := make([]int, 10)
		ok := true
		for i := 0; i < 10; i++ {
			v, err := strconv.Atoi(cols[i])
			if err != nil {
				ok = false
				break
			}
			n[i] = v
		}
		if !ok {
			continue
		}
		conf, _ := strconv.ParseFloat(cols[10], 64)
		words = append(words, Word{
			Text:       text,
			Box:        image.Rect(n[6], n[7], n[6]+n[8], n[7]+n[9]),
			Confidence: conf,
			Block:      n[2],
			Paragraph:  n[3],
			Line:       n[4],
		})
	}
	return words
}

// Text joins words into lines, one line per tesseract line
func Text(words []Word) string {
	type key struct{ block, par, line int }
	var order []key
	lines := make(map[key][]string)
	for _, w := range words {
		k := key{w.Block, w.Paragraph, w.Line}
		if _, seen := lines[k]; !seen {
			order = append(order, k)
		}
		lines[k] = append(lines[k], w.Text)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.block != b.block {
			return a.block < b.block
		}
		if a.par != b.par {
			return a.par < b.par
		}
		return a.line < b.line
	})

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, strings.Join(lines[k], " "))
	}
	return strings.Join(out, "\n")
}
