package voice

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/vikthevar/Heimdall/internal/command"
)

// DefaultSpeechRate is in words per minute
const DefaultSpeechRate = 175

// SystemSpeaker speaks through the platform's built-in synthesizer
type SystemSpeaker struct {
	goos string
	run  command.Runner
	look command.LookPath
	rate int
}

// NewSystemSpeaker creates a speaker for the running platform
func NewSystemSpeaker(run command.Runner, rate int) *SystemSpeaker {
	return NewSystemSpeakerFor(runtime.GOOS, run, nil, rate)
}

// NewSystemSpeakerFor creates a speaker for a specific platform
func NewSystemSpeakerFor(goos string, run command.Runner, look command.LookPath, rate int) *SystemSpeaker {
	if run == nil {
		run = command.Exec
	}
	if rate <= 0 {
		rate = DefaultSpeechRate
	}
	return &SystemSpeaker{goos: goos, run: run, look: look, rate: rate}
}

// SpeakerTools lists the synthesizers tried, in order, for a platform
func SpeakerTools(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"say"}
	case "windows":
		return []string{"powershell"}
	default:
		return []string{"espeak-ng", "espeak", "spd-say"}
	}
}

func (s *SystemSpeaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	tool := command.Available(s.look, SpeakerTools(s.goos)...)
	if tool == "" {
		return ErrNoTool
	}

	rate := strconv.Itoa(s.rate)
	var args []string
	switch tool {
	case "say":
		args = []string{"-r", rate, text}
	case "spd-say":
		args = []string{"-w", text}
	case "powershell":
		// SAPI rate runs from -10 to 10 with 0 near 180 wpm
		sapiRate := max(-10, min(10, (s.rate-180)/20))
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Speech; $s = New-Object System.Speech.Synthesis.SpeechSynthesizer; $s.Rate = %d; $s.Speak('%s')`,
			sapiRate, strings.ReplaceAll(text, "'", "''"))
		args = []string{"-NoProfile", "-Command", script}
	default:
		args = []string{"-s", rate, text}
	}

	if _, err := s.run(ctx, tool, args...); err != nil {
		return fmt.Errorf("speech failed: %w", err)
	}
	return nil
}
