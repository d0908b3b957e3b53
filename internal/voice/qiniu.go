package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/vikthevar/Heimdall/internal/command"
	"go.uber.org/zap"
)

// QiniuASR is the subset of the Qiniu client used for recognition
type QiniuASR interface {
	ASR(ctx context.Context, wav []byte) (string, error)
	StreamASR(ctx context.Context, pcm []byte) (string, error)
}

// QiniuTranscriber sends recordings to Qiniu, over the websocket endpoint
// when streaming is set and as one HTTP request otherwise.
type QiniuTranscriber struct {
	client    QiniuASR
	streaming bool
}

// NewQiniuTranscriber creates a Qiniu backed transcriber
func NewQiniuTranscriber(client QiniuASR, streaming bool) *QiniuTranscriber {
	return &QiniuTranscriber{client: client, streaming: streaming}
}

func (t *QiniuTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if t.streaming {
		return t.client.StreamASR(ctx, pcm)
	}
	return t.client.ASR(ctx, WAV(pcm))
}

// QiniuTTS is the subset of the Qiniu client used for synthesis
type QiniuTTS interface {
	TTS(ctx context.Context, text string) ([]byte, error)
	Encoding() string
}

// QiniuSpeaker synthesizes speech in the cloud and plays it with a local player
type QiniuSpeaker struct {
	client QiniuTTS
	goos   string
	run    command.Runner
	look   command.LookPath
	tmpDir string
	logger *zap.Logger
}

// NewQiniuSpeaker creates a speaker playing Qiniu TTS audio
func NewQiniuSpeaker(client QiniuTTS, run command.Runner, logger *zap.Logger) *QiniuSpeaker {
	if run == nil {
		run = command.Exec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QiniuSpeaker{client: client, goos: runtime.GOOS, run: run, logger: logger}
}

// PlayerTools lists the audio players tried, in order, for a platform
func PlayerTools(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"afplay"}
	case "windows":
		return []string{"powershell"}
	default:
		return []string{"mpg123", "ffplay", "paplay"}
	}
}

func playerArgs(tool, path string) []string {
	switch tool {
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
	case "mpg123":
		return []string{"-q", path}
	case "powershell":
		script := fmt.Sprintf(`Add-Type -AssemblyName presentationCore; $p = New-Object System.Windows.Media.MediaPlayer; $p.Open([uri]'%s'); $p.Play(); Start-Sleep -Milliseconds 500; while ($p.Position -lt $p.NaturalDuration.TimeSpan) { Start-Sleep -Milliseconds 100 }`, path)
		return []string{"-NoProfile", "-Command", script}
	default:
		return []string{path}
	}
}

func (s *QiniuSpeaker) Speak(ctx context.Context, text string) error {
	tool := command.Available(s.look, PlayerTools(s.goos)...)
	if tool == "" {
		return ErrNoTool
	}

	audio, err := s.client.TTS(ctx, text)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(s.tmpDir, "heimdall-tts-*."+s.client.Encoding())
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(audio); err != nil {
		f.Close()
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	s.logger.Debug("Playing synthesized speech", zap.String("player", tool), zap.String("file", filepath.Base(path)))
	if _, err := s.run(ctx, tool, playerArgs(tool, path)...); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}
