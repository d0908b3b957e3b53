package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vikthevar/Heimdall/internal/command"
)

const windowsCaptureScript = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing
$b = [System.Windows.Forms.SystemInformation]::VirtualScreen
$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($b.Left, $b.Top, 0, 0, $bmp.Size)
$bmp.Save('%s', [System.Drawing.Imaging.ImageFormat]::Png)`

// ScreenCapturer grabs the whole screen with the platform screenshot tool
type ScreenCapturer struct {
	goos string
	run  command.Runner
}

// NewScreenCapturer creates a capturer for the running platform
func NewScreenCapturer(run command.Runner) *ScreenCapturer {
	return NewScreenCapturerFor(runtime.GOOS, run)
}

// NewScreenCapturerFor creates a capturer for a specific platform
func NewScreenCapturerFor(goos string, run command.Runner) *ScreenCapturer {
	if run == nil {
		run = command.Exec
	}
	return &ScreenCapturer{goos: goos, run: run}
}

// Tool names the screenshot program used on the capturer's platform
func (c *ScreenCapturer) Tool() string {
	switch c.goos {
	case "linux":
		return "import"
	case "darwin":
		return "screencapture"
	case "windows":
		return "powershell"
	default:
		return ""
	}
}

// Capture takes a screenshot and decodes it
func (c *ScreenCapturer) Capture(ctx context.Context) (image.Image, error) {
	dir, err := os.MkdirTemp("", "heimdall-capture-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "screen.png")

	switch c.goos {
	case "linux":
		_, err = c.run(ctx, "import", "-window", "root", path)
	case "darwin":
		_, err = c.run(ctx, "screencapture", "-x", "-t", "png", path)
	case "windows":
		_, err = c.run(ctx, "powershell", "-NoProfile", "-Command", fmt.Sprintf(windowsCaptureScript, path))
	default:
		return nil, fmt.Errorf("screen capture not supported on %s", c.goos)
	}
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("screenshot not written: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}
