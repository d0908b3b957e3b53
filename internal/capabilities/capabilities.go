// Package capabilities probes the host once at startup for the external
// tools and services the assistant can use.
package capabilities

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/internal/automation"
	"github.com/vikthevar/Heimdall/internal/command"
	"github.com/vikthevar/Heimdall/internal/ocr"
	"github.com/vikthevar/Heimdall/internal/voice"
	"go.uber.org/zap"
)

// DefaultPingTimeout bounds each network probe
const DefaultPingTimeout = 3 * time.Second

// Pinger is anything that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config lists what to probe. Nil services are reported unavailable.
type Config struct {
	GOOS string
	Look command.LookPath

	LLM         Pinger
	LLMProvider string

	// STTProvider names the configured transcriber; STTConfigured is false
	// when its credentials are missing
	STTProvider   string
	STTConfigured bool

	TTSProvider   string // system or qiniu
	TTSConfigured bool

	Storage        func(ctx context.Context) error
	StorageBackend string

	PingTimeout time.Duration
}

// Available is the probe result consulted by the orchestrator and the API
type Available struct {
	Platform string `json:"platform"`

	OCR         bool   `json:"ocr"`
	CaptureTool string `json:"capture_tool,omitempty"`

	Automation      bool     `json:"automation"`
	AutomationTools []string `json:"automation_tools,omitempty"`
	Windows         bool     `json:"windows"`

	LLM         bool   `json:"llm"`
	LLMProvider string `json:"llm_provider,omitempty"`

	Recorder     bool   `json:"recorder"`
	RecorderTool string `json:"recorder_tool,omitempty"`
	Transcriber  bool   `json:"transcriber"`
	STTProvider  string `json:"stt_provider,omitempty"`

	TTS         bool   `json:"tts"`
	TTSProvider string `json:"tts_provider,omitempty"`
	TTSTool     string `json:"tts_tool,omitempty"`

	Storage        bool   `json:"storage"`
	StorageBackend string `json:"storage_backend,omitempty"`

	// Missing explains each unavailable capability
	Missing []string `json:"missing,omitempty"`
}

// Voice reports whether a full listen round trip is possible.
func (a Available) Voice() bool { return a.Recorder && a.Transcriber }

// Probe checks every capability once
func Probe(ctx context.Context, cfg Config, logger *zap.Logger) Available {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	has := func(names ...string) string { return command.Available(cfg.Look, names...) }

	a := Available{Platform: cfg.GOOS}
	missing := func(format string, args ...any) {
		a.Missing = append(a.Missing, fmt.Sprintf(format, args...))
	}

	capture := ocr.NewScreenCapturerFor(cfg.GOOS, nil).Tool()
	switch {
	case capture == "" || has(capture) == "":
		missing("ocr: screenshot tool %q not found", capture)
	case has("tesseract") == "":
		missing("ocr: tesseract not found")
	default:
		a.OCR, a.CaptureTool = true, capture
	}

	tools := automation.Tools(cfg.GOOS)
	a.Automation = len(tools) > 0
	for _, tool := range tools {
		if has(tool) == "" {
			a.Automation = false
			missing("automation: %s not found", tool)
		}
	}
	if a.Automation {
		a.AutomationTools = tools
	}
	// the window enumerator is the last tool in each platform's list
	a.Windows = len(tools) > 0 && has(tools[len(tools)-1]) != ""

	a.LLMProvider = cfg.LLMProvider
	if cfg.LLM == nil {
		missing("llm: not configured")
	} else if err := ping(ctx, cfg.PingTimeout, cfg.LLM.Ping); err != nil {
		missing("llm: %v", err)
	} else {
		a.LLM = true
	}

	if rec := voice.RecorderTool(cfg.GOOS); has(rec) != "" {
		a.Recorder, a.RecorderTool = true, rec
	} else {
		missing("voice: recorder %s not found", rec)
	}
	a.STTProvider = cfg.STTProvider
	if cfg.STTConfigured {
		a.Transcriber = true
	} else {
		missing("voice: %s transcriber has no credentials", orNone(cfg.STTProvider))
	}

	a.TTSProvider = cfg.TTSProvider
	speakTools := voice.SpeakerTools(cfg.GOOS)
	if cfg.TTSProvider == "qiniu" {
		speakTools = voice.PlayerTools(cfg.GOOS)
	}
	switch tool := has(speakTools...); {
	case cfg.TTSProvider == "qiniu" && !cfg.TTSConfigured:
		missing("tts: qiniu has no credentials")
	case tool == "":
		missing("tts: none of %s found", strings.Join(speakTools, ", "))
	default:
		a.TTS, a.TTSTool = true, tool
	}

	a.StorageBackend = cfg.StorageBackend
	if cfg.Storage == nil {
		missing("storage: not configured")
	} else if err := ping(ctx, cfg.PingTimeout, cfg.Storage); err != nil {
		missing("storage: %v", err)
	} else {
		a.Storage = true
	}

	logger.Info("Capabilities probed",
		zap.String("platform", a.Platform),
		zap.Bool("ocr", a.OCR),
		zap.Bool("automation", a.Automation),
		zap.Bool("llm", a.LLM),
		zap.Bool("voice", a.Voice()),
		zap.Bool("tts", a.TTS),
		zap.Bool("storage", a.Storage),
		zap.Strings("missing", a.Missing))
	return a
}

func ping(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func orNone(s string) string {
	if s == "" {
		return "no"
	}
	return s
}
