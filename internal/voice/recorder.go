package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"time"

	"github.com/vikthevar/Heimdall/internal/command"
	"go.uber.org/zap"
)

// DefaultRecordDuration is how long one Listen records for
const DefaultRecordDuration = 5 * time.Second

// CommandRecorder records through arecord on linux and sox elsewhere
type CommandRecorder struct {
	goos     string
	stream   command.Streamer
	duration time.Duration
	logger   *zap.Logger
}

// NewRecorder creates a recorder for the running platform
func NewRecorder(stream command.Streamer, duration time.Duration, logger *zap.Logger) *CommandRecorder {
	return NewRecorderFor(runtime.GOOS, stream, duration, logger)
}

// NewRecorderFor creates a recorder for a specific platform
func NewRecorderFor(goos string, stream command.Streamer, duration time.Duration, logger *zap.Logger) *CommandRecorder {
	if stream == nil {
		stream = command.Stream
	}
	if duration <= 0 {
		duration = DefaultRecordDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandRecorder{goos: goos, stream: stream, duration: duration, logger: logger}
}

// RecorderTool names the binary a platform records with
func RecorderTool(goos string) string {
	if goos == "linux" {
		return "arecord"
	}
	return "sox"
}

func (r *CommandRecorder) args() []string {
	secs := strconv.Itoa(int((r.duration + time.Second - 1) / time.Second))
	raw := []string{"-t", "raw", "-r", "16000", "-b", "16", "-c", "1", "-e", "signed-integer", "-", "trim", "0", secs}
	switch r.goos {
	case "linux":
		return []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw", "-d", secs}
	case "windows":
		return append([]string{"-q", "-t", "waveaudio", "default"}, raw...)
	default:
		return append([]string{"-q", "-d"}, raw...)
	}
}

// Record captures up to the configured duration of audio. The tool is also
// killed when the duration elapses, in case it ignores its own limit.
func (r *CommandRecorder) Record(ctx context.Context) ([]byte, error) {
	recCtx, cancel := context.WithTimeout(ctx, r.duration+time.Second)
	defer cancel()

	tool := RecorderTool(r.goos)
	out, err := r.stream(recCtx, tool, r.args()...)
	if err != nil {
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}
	pcm, err := io.ReadAll(out)
	out.Close()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && len(pcm) == 0 && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	r.logger.Debug("Recording finished",
		zap.String("tool", tool),
		zap.Int("bytes", len(pcm)))
	return pcm, nil
}
