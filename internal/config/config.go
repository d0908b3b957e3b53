package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/vikthevar/Heimdall/internal/intent"
)

// DefaultConfigFile is read when HEIMDALL_CONFIG is unset
const DefaultConfigFile = "heimdall.jsonc"

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	// LLM configuration
	LLMProvider    string // ollama, qiniu or none
	OllamaHost     string
	OllamaModel    string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration

	// Qiniu Cloud API configuration
	QiniuAPIKey    string
	QiniuBaseURL   string
	QiniuStreamURL string
	TTSVoiceType   string
	TTSEncoding    string
	TTSSpeedRatio  float64

	// Voice configuration
	STTProvider      string // deepgram, qiniu, qiniu-stream or none
	DeepgramAPIKey   string
	DeepgramModel    string
	DeepgramLanguage string
	TTSProvider      string // system, qiniu or none
	TTSRate          int
	RecordDuration   time.Duration
	VoiceOutput      bool
	MaxAudioSize     int64 // in bytes

	// Storage
	StorageBackend string // sqlite, redis or json
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKey       string
	JSONPath       string
	MaxHistory     int

	// Automation and security
	Simulate        bool
	SafeMode        bool
	SettleDelay     time.Duration
	CharInterval    time.Duration
	TesseractLang   string
	ProtectedTitles []string
	DisabledActions []string
	Confidences     intent.Confidences

	// Task runner
	QueueSize   int
	TaskTimeout time.Duration

	// ConfigFile is the JSONC file that was read, empty if none
	ConfigFile string
}

// File is the optional JSONC configuration file. Environment variables win
// over anything set here.
type File struct {
	Confidences      intent.Confidences `json:"confidences"`
	ProtectedWindows []string           `json:"protected_windows"`
	DisabledActions  []string           `json:"disabled_actions"`
	Demo             struct {
		Simulate *bool `json:"simulate"`
		SafeMode *bool `json:"safe_mode"`
	} `json:"demo"`
}

var (
	llmProviders     = []string{"ollama", "qiniu", "none"}
	sttProviders     = []string{"deepgram", "qiniu", "qiniu-stream", "none"}
	ttsProviders     = []string{"system", "qiniu", "none"}
	storageBackends  = []string{"sqlite", "redis", "json"}
	logLevels        = []string{"debug", "info", "warn", "error"}
	logFormats       = []string{"console", "json"}
	errInvalidConfig = errors.New("invalid configuration")
)

// Load reads .env, the JSONC file and the environment, in that order of
// increasing precedence
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	file, path, err := loadFile(getEnv("HEIMDALL_CONFIG", DefaultConfigFile))
	if err != nil {
		return nil, err
	}

	simulate, safeMode := true, true
	if file.Demo.Simulate != nil {
		simulate = *file.Demo.Simulate
	}
	if file.Demo.SafeMode != nil {
		safeMode = *file.Demo.SafeMode
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "console")),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:    getEnv("OLLAMA_MODEL", "llama3.1:8b"),
		LLMModel:       getEnv("LLM_MODEL", "deepseek/deepseek-v3.1-terminus"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2000),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),

		QiniuAPIKey:    getEnv("QINIU_API_KEY", ""),
		QiniuBaseURL:   getEnv("QINIU_BASE_URL", "https://openai.qiniu.com/v1"),
		QiniuStreamURL: getEnv("QINIU_STREAM_URL", "wss://openai.qiniu.com/v1/voice/asr"),
		TTSVoiceType:   getEnv("TTS_VOICE_TYPE", "qiniu_zh_female_wwxkjx"),
		TTSEncoding:    getEnv("TTS_ENCODING", "mp3"),
		TTSSpeedRatio:  getEnvFloat("TTS_SPEED_RATIO", 1.0),

		STTProvider:      strings.ToLower(getEnv("STT_PROVIDER", "deepgram")),
		DeepgramAPIKey:   getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramModel:    getEnv("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage: getEnv("DEEPGRAM_LANGUAGE", "en"),
		TTSProvider:      strings.ToLower(getEnv("TTS_PROVIDER", "system")),
		TTSRate:          getEnvInt("TTS_RATE", 175),
		RecordDuration:   getEnvDuration("RECORD_DURATION", 5*time.Second),
		VoiceOutput:      getEnvBool("VOICE_OUTPUT", false),
		MaxAudioSize:     getEnvInt64("MAX_AUDIO_SIZE", 10*1024*1024), // 10MB default

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "sqlite")),
		SQLitePath:     getEnv("SQLITE_PATH", "data/heimdall.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKey:       getEnv("REDIS_KEY", "heimdall:messages"),
		JSONPath:       getEnv("SESSION_FILE", "data/session.json"),
		MaxHistory:     getEnvInt("MAX_HISTORY", 500),

		Simulate:        getEnvBool("SIMULATE", simulate),
		SafeMode:        getEnvBool("ENABLE_SAFE_MODE", safeMode),
		SettleDelay:     getEnvDuration("SETTLE_DELAY", 500*time.Millisecond),
		CharInterval:    getEnvDuration("TYPE_INTERVAL", 50*time.Millisecond),
		TesseractLang:   getEnv("TESSERACT_LANG", "eng"),
		ProtectedTitles: getEnvList("PROTECTED_WINDOWS", file.ProtectedWindows),
		DisabledActions: getEnvList("DISABLED_ACTIONS", file.DisabledActions),
		Confidences:     intent.DefaultConfidences().Merge(file.Confidences),

		QueueSize:   getEnvInt("TASK_QUEUE_SIZE", 16),
		TaskTimeout: getEnvDuration("TASK_TIMEOUT", 2*time.Minute),

		ConfigFile: path,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum settings and provider credentials
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(name, value string, allowed []string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%w: %s=%q, want one of %s", errInvalidConfig, name, value, strings.Join(allowed, ", ")))
	}
	oneOf("LLM_PROVIDER", c.LLMProvider, llmProviders)
	oneOf("STT_PROVIDER", c.STTProvider, sttProviders)
	oneOf("TTS_PROVIDER", c.TTSProvider, ttsProviders)
	oneOf("STORAGE_BACKEND", c.StorageBackend, storageBackends)
	oneOf("LOG_LEVEL", c.LogLevel, logLevels)
	oneOf("LOG_FORMAT", c.LogFormat, logFormats)

	if c.LLMProvider == "qiniu" && c.QiniuAPIKey == "" {
		errs = append(errs, fmt.Errorf("%w: QINIU_API_KEY is required when LLM_PROVIDER=qiniu", errInvalidConfig))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: LLM_TIMEOUT must be positive", errInvalidConfig))
	}
	if c.RecordDuration < time.Second || c.RecordDuration > 30*time.Second {
		errs = append(errs, fmt.Errorf("%w: RECORD_DURATION must be between 1s and 30s", errInvalidConfig))
	}
	if c.TTSRate < 50 || c.TTSRate > 300 {
		errs = append(errs, fmt.Errorf("%w: TTS_RATE must be between 50 and 300", errInvalidConfig))
	}
	return errors.Join(errs...)
}

// STTConfigured reports whether the selected transcriber has credentials
func (c *Config) STTConfigured() bool {
	switch c.STTProvider {
	case "deepgram":
		return c.DeepgramAPIKey != ""
	case "qiniu", "qiniu-stream":
		return c.QiniuAPIKey != ""
	default:
		return false
	}
}

// loadFile decodes the JSONC file at path. A missing file is not an error.
func loadFile(path string) (File, string, error) {
	var f File
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, "", nil
	}
	if err != nil {
		return f, "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return f, "", fmt.Errorf("parse %s: %w", path, err)
	}
	return f, path, nil
}

// Helper functions for getting environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or whole seconds ("30")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
