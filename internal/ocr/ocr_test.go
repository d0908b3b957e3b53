package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t50\t12\t96.5\tFile\n" +
	"5\t1\t1\t1\t1\t2\t70\t20\t40\t12\t95.1\tEdit\n" +
	"5\t1\t2\t1\t1\t1\t300\t400\t80\t20\t91.0\tSubmit\n" +
	"5\t1\t2\t1\t1\t2\t390\t400\t10\t20\t12.0\t \n"

func TestParseTSV(t *testing.T) {
	words := ParseTSV(sampleTSV)
	if len(words) != 3 {
		t.Fatalf("ParseTSV() returned %d words, want 3", len(words))
	}

	w := words[2]
	if w.Text != "Submit" || w.Box != image.Rect(300, 400, 380, 420) || w.Block != 2 {
		t.Errorf("unexpected word: %+v", w)
	}
	if c := w.Center(); c != image.Pt(340, 410) {
		t.Errorf("Center() = %v, want (340,410)", c)
	}
}

func TestText(t *testing.T) {
	got := Text(ParseTSV(sampleTSV))
	if got != "File Edit\nSubmit" {
		t.Errorf("Text() = %q", got)
	}
}

func TestTesseractReadWords(t *testing.T) {
	var args []string
	run := func(ctx context.Context, name string, a ...string) ([]byte, error) {
		args = append([]string{name}, a...)
		return []byte(sampleTSV), nil
	}

	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	words, err := NewTesseract(run, "").ReadWords(context.Background(), img)
	if err != nil {
		t.Fatalf("ReadWords() error = %v", err)
	}
	if len(words) != 3 {
		t.Errorf("got %d words, want 3", len(words))
	}
	if args[0] != "tesseract" || args[2] != "stdout" || args[4] != "eng" || args[5] != "tsv" {
		t.Errorf("unexpected invocation: %v", args)
	}
}

func TestTesseractOffsetsSubImages(t *testing.T) {
	run := func(ctx context.Context, name string, a ...string) ([]byte, error) {
		return []byte(sampleTSV), nil
	}
	full := image.NewRGBA(image.Rect(0, 0, 1000, 1000))
	sub := full.SubImage(image.Rect(100, 100, 900, 900))

	words, err := NewTesseract(run, "eng").ReadWords(context.Background(), sub)
	if err != nil {
		t.Fatalf("ReadWords() error = %v", err)
	}
	if words[0].Box.Min != image.Pt(110, 120) {
		t.Errorf("box not translated to screen coordinates: %v", words[0].Box)
	}
}

func TestScreenCapturer(t *testing.T) {
	run := func(ctx context.Context, name string, a ...string) ([]byte, error) {
		if name != "import" {
			t.Errorf("unexpected tool %q", name)
		}
		path := a[len(a)-1]
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img := image.NewRGBA(image.Rect(0, 0, 4, 3))
		img.Set(1, 1, color.RGBA{R: 255, A: 255})
		return nil, png.Encode(f, img)
	}

	c := NewScreenCapturerFor("linux", run)
	img, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}

	if _, err := NewScreenCapturerFor("plan9", run).Capture(context.Background()); err == nil {
		t.Error("expected error on unsupported platform")
	}
}

type fakeCapturer struct {
	img image.Image
	err error
}

func (f *fakeCapturer) Capture(ctx context.Context) (image.Image, error) { return f.img, f.err }

type fakeWords struct {
	words []Word
	err   error
	seen  image.Rectangle
}

func (f *fakeWords) ReadWords(ctx context.Context, img image.Image) ([]Word, error) {
	f.seen = img.Bounds()
	return f.words, f.err
}

func TestScreenReader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	words := &fakeWords{words: ParseTSV(sampleTSV)}
	r := NewScreenReader(&fakeCapturer{img: img}, words, nil)

	text, err := r.CaptureAndRead(context.Background(), nil)
	if err != nil || text != "File Edit\nSubmit" {
		t.Fatalf("CaptureAndRead() = %q, %v", text, err)
	}

	region := image.Rect(0, 0, 50, 50)
	if _, err := r.CaptureAndRead(context.Background(), &region); err != nil {
		t.Fatalf("CaptureAndRead(region) error = %v", err)
	}
	if words.seen != region {
		t.Errorf("OCR saw %v, want cropped %v", words.seen, region)
	}

	empty := NewScreenReader(&fakeCapturer{img: img}, &fakeWords{}, nil)
	if _, err := empty.CaptureAndRead(context.Background(), nil); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}

	broken := NewScreenReader(&fakeCapturer{err: errors.New("no display")}, words, nil)
	if _, err := broken.CaptureAndRead(context.Background(), nil); err == nil {
		t.Error("expected capture error")
	}
}
