// Package app wires the assistant from configuration. It is the only place
// that knows which concrete adapters back each collaborator.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/vikthevar/Heimdall/internal/automation"
	"github.com/vikthevar/Heimdall/internal/brain"
	"github.com/vikthevar/Heimdall/internal/capabilities"
	"github.com/vikthevar/Heimdall/internal/command"
	"github.com/vikthevar/Heimdall/internal/config"
	"github.com/vikthevar/Heimdall/internal/executor"
	"github.com/vikthevar/Heimdall/internal/handler"
	"github.com/vikthevar/Heimdall/internal/intent"
	"github.com/vikthevar/Heimdall/internal/llm"
	"github.com/vikthevar/Heimdall/internal/locator"
	"github.com/vikthevar/Heimdall/internal/metrics"
	"github.com/vikthevar/Heimdall/internal/ocr"
	"github.com/vikthevar/Heimdall/internal/qiniu"
	"github.com/vikthevar/Heimdall/internal/security"
	"github.com/vikthevar/Heimdall/internal/storage"
	"github.com/vikthevar/Heimdall/internal/voice"
	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/internal/worker"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// Deps replaces the process boundary. The zero value uses the real system.
type Deps struct {
	GOOS   string
	Run    command.Runner
	Stream command.Streamer
	Look   command.LookPath
}

func (d Deps) withDefaults() Deps {
	if d.GOOS == "" {
		d.GOOS = runtime.GOOS
	}
	if d.Run == nil {
		d.Run = command.Exec
	}
	if d.Stream == nil {
		d.Stream = command.Stream
	}
	if d.Look == nil {
		d.Look = exec.LookPath
	}
	return d
}

// Tuning holds the values resolved from config and stored settings
type Tuning struct {
	RecordDuration time.Duration
	TTSRate        int
	SafeMode       bool
}

// App is a fully wired assistant
type App struct {
	Config       *config.Config
	Brain        *brain.Brain
	Runner       *worker.Runner
	Store        storage.Store
	Settings     storage.Settings // nil unless the backend keeps settings
	Windows      *window.Resolver
	Transcriber  voice.Transcriber
	Capabilities capabilities.Available
	Metrics      *metrics.Metrics
	Tuning       Tuning

	logger *zap.Logger
}

// Build opens storage, probes the desktop and wires the brain
func Build(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	deps = deps.withDefaults()

	store, err := storage.Open(ctx, storage.Config{
		Backend:       cfg.StorageBackend,
		SQLitePath:    cfg.SQLitePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisKey:      cfg.RedisKey,
		JSONPath:      cfg.JSONPath,
		MaxHistory:    cfg.MaxHistory,
	}, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}

	a := &App{Config: cfg, Store: store, Metrics: metrics.New(), logger: logger}
	if s, ok := store.(storage.Settings); ok {
		a.Settings = s
	}
	a.Tuning = resolveTuning(ctx, cfg, a.Settings, logger)

	if err := a.wire(ctx, deps); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, deps Deps) error {
	cfg, logger := a.Config, a.logger

	disabled := make([]types.Action, 0, len(cfg.DisabledActions))
	for _, d := range cfg.DisabledActions {
		disabled = append(disabled, types.Action(d))
	}
	guard, err := security.NewGuard(security.Options{
		SafeMode:        a.Tuning.SafeMode,
		ProtectedTitles: cfg.ProtectedTitles,
		DisabledActions: disabled,
	}, logger.Named("guard"))
	if err != nil {
		return fmt.Errorf("security guard: %w", err)
	}

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}
	var pinger capabilities.Pinger
	if gen != nil {
		pinger = gen
	}

	a.Capabilities = capabilities.Probe(ctx, capabilities.Config{
		GOOS:           deps.GOOS,
		Look:           deps.Look,
		LLM:            pinger,
		LLMProvider:    cfg.LLMProvider,
		STTProvider:    cfg.STTProvider,
		STTConfigured:  cfg.STTConfigured(),
		TTSProvider:    cfg.TTSProvider,
		TTSConfigured:  cfg.TTSProvider == "system" || cfg.QiniuAPIKey != "",
		Storage:        func(ctx context.Context) error { _, err := a.Store.Stats(ctx); return err },
		StorageBackend: cfg.StorageBackend,
	}, logger.Named("capabilities"))
	caps := a.Capabilities

	a.Windows = window.NewResolver(window.NewCommandEnumeratorFor(deps.GOOS, deps.Run), logger.Named("window"))
	capturer := ocr.NewScreenCapturerFor(deps.GOOS, deps.Run)
	tesseract := ocr.NewTesseract(deps.Run, cfg.TesseractLang)

	var actions brain.Executor
	if backend, err := automation.NewFor(deps.GOOS, deps.Run); err != nil {
		logger.Warn("Automation disabled", zap.Error(err))
	} else {
		var loc executor.ElementLocator
		if caps.OCR {
			loc = locator.New(capturer, tesseract, logger.Named("locator"))
		}
		actions = executor.NewExecutor(executor.Config{
			Backend:      backend,
			Locator:      loc,
			Windows:      a.Windows,
			Guard:        guard,
			Auditor:      storage.NewAuditor(a.Store),
			SettleDelay:  cfg.SettleDelay,
			CharInterval: cfg.CharInterval,
			Logger:       logger.Named("executor"),
		})
	}

	var (
		recorder voice.Recorder
		speaker  voice.Speaker
		qc       *qiniu.Client
	)
	if cfg.QiniuAPIKey != "" {
		qc = newQiniu(cfg, logger)
	}
	if caps.Recorder {
		recorder = voice.NewRecorderFor(deps.GOOS, deps.Stream, a.Tuning.RecordDuration, logger.Named("recorder"))
	}
	if caps.Transcriber {
		a.Transcriber = newTranscriber(cfg, qc, logger)
	}
	if caps.TTS {
		switch cfg.TTSProvider {
		case "qiniu":
			speaker = voice.NewQiniuSpeaker(qc, deps.Run, logger.Named("tts"))
		default:
			speaker = voice.NewSystemSpeakerFor(deps.GOOS, deps.Run, deps.Look, a.Tuning.TTSRate)
		}
	}

	a.Runner = worker.NewRunner(worker.Config{
		QueueSize:  cfg.QueueSize,
		JobTimeout: cfg.TaskTimeout,
	}, logger.Named("worker"))

	a.Brain = brain.New(brain.Config{
		Classifier:   intent.NewClassifier(cfg.Confidences),
		Executor:     actions,
		Guard:        guard,
		Screen:       ocr.NewScreenReader(capturer, tesseract, logger.Named("ocr")),
		Windows:      a.Windows,
		LLM:          gen,
		LLMTimeout:   cfg.LLMTimeout,
		Recorder:     recorder,
		Transcriber:  a.Transcriber,
		Speaker:      speaker,
		Store:        a.Store,
		Capabilities: &a.Capabilities,
		Metrics:      a.Metrics,
		Logger:       logger.Named("brain"),
	})
	return nil
}

// newGenerator returns nil when no language model is configured
func newGenerator(cfg *config.Config, logger *zap.Logger) (llm.Generator, error) {
	switch cfg.LLMProvider {
	case "ollama":
		return llm.NewOllama(llm.OllamaConfig{
			Host:        cfg.OllamaHost,
			Model:       cfg.OllamaModel,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
		}, logger.Named("ollama")), nil
	case "qiniu":
		if cfg.QiniuAPIKey == "" {
			return nil, errors.New("qiniu language model needs QINIU_API_KEY")
		}
		return newQiniu(cfg, logger), nil
	default:
		return nil, nil
	}
}

func newQiniu(cfg *config.Config, logger *zap.Logger) *qiniu.Client {
	return qiniu.NewClient(qiniu.Config{
		APIKey:      cfg.QiniuAPIKey,
		BaseURL:     cfg.QiniuBaseURL,
		StreamURL:   cfg.QiniuStreamURL,
		ChatModel:   cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		VoiceType:   cfg.TTSVoiceType,
		Encoding:    cfg.TTSEncoding,
		SpeedRatio:  cfg.TTSSpeedRatio,
		Timeout:     cfg.LLMTimeout,
	}, logger.Named("qiniu"))
}

func newTranscriber(cfg *config.Config, qc *qiniu.Client, logger *zap.Logger) voice.Transcriber {
	switch cfg.STTProvider {
	case "deepgram":
		return voice.NewDeepgram(voice.DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
		}, logger.Named("deepgram"))
	case "qiniu", "qiniu-stream":
		return voice.NewQiniuTranscriber(qc, cfg.STTProvider == "qiniu-stream")
	default:
		return nil
	}
}

// resolveTuning reads the user-editable settings. On a backend with a
// settings table the stored recording length and speech rate replace the
// config values; safe mode is on if either source enables it.
func resolveTuning(ctx context.Context, cfg *config.Config, settings storage.Settings, logger *zap.Logger) Tuning {
	t := Tuning{RecordDuration: cfg.RecordDuration, TTSRate: cfg.TTSRate, SafeMode: cfg.SafeMode}
	if settings == nil {
		return t
	}
	get := func(key string) (any, bool) {
		v, ok, err := settings.GetSetting(ctx, key)
		if err != nil {
			logger.Warn("Setting unreadable, using config", zap.String("key", key), zap.Error(err))
			return nil, false
		}
		return v, ok
	}
	if v, ok := get("max_recording_duration"); ok {
		if secs, isInt := v.(int); isInt && secs > 0 {
			t.RecordDuration = time.Duration(secs) * time.Second
		}
	}
	if v, ok := get("tts_rate"); ok {
		if rate, isInt := v.(int); isInt && rate > 0 {
			t.TTSRate = rate
		}
	}
	if v, ok := get("demo_safe_mode"); ok {
		if on, isBool := v.(bool); isBool {
			t.SafeMode = t.SafeMode || on
		}
	}
	return t
}

// Handler builds the HTTP handler for this app
func (a *App) Handler() *handler.Handler {
	return handler.NewHandler(handler.Config{
		Assistant:      a.Brain,
		Runner:         a.Runner,
		Transcriber:    a.Transcriber,
		Windows:        a.Windows,
		Store:          a.Store,
		Settings:       a.Settings,
		Capabilities:   a.Capabilities,
		Simulate:       a.Config.Simulate,
		VoiceOutput:    a.Config.VoiceOutput,
		MaxAudioSize:   a.Config.MaxAudioSize,
		AllowedOrigins: a.Config.AllowedOrigins,
		Logger:         a.logger.Named("http"),
	})
}

// Simulate resolves the default mode from the stored setting, then config
func (a *App) Simulate(ctx context.Context) bool {
	if a.Settings != nil {
		if v, ok, err := a.Settings.GetSetting(ctx, "simulation_mode"); err == nil && ok {
			if b, isBool := v.(bool); isBool {
				return b
			}
		}
	}
	return a.Config.Simulate
}

// Close stops the task runner and closes storage
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Shutdown()
	}
	return a.Store.Close()
}
