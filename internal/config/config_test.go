package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points Load at an empty temp config and clears variables the
// tests assert on
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HEIMDALL_CONFIG", filepath.Join(dir, "missing.jsonc"))
	for _, k := range []string{
		"PORT", "LLM_PROVIDER", "STT_PROVIDER", "TTS_PROVIDER", "STORAGE_BACKEND",
		"LOG_LEVEL", "LOG_FORMAT", "QINIU_API_KEY", "SIMULATE", "ENABLE_SAFE_MODE",
		"PROTECTED_WINDOWS", "DISABLED_ACTIONS", "RECORD_DURATION", "TTS_RATE",
		"LLM_TIMEOUT", "DEEPGRAM_API_KEY",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got: %s", cfg.Port)
	}
	if cfg.LLMProvider != "ollama" || cfg.StorageBackend != "sqlite" || cfg.TTSProvider != "system" {
		t.Errorf("unexpected providers %s/%s/%s", cfg.LLMProvider, cfg.StorageBackend, cfg.TTSProvider)
	}
	if !cfg.Simulate || !cfg.SafeMode {
		t.Error("Expected simulate and safe mode to be enabled by default")
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Errorf("Expected 30s LLM timeout, got: %v", cfg.LLMTimeout)
	}
	if cfg.Confidences.Unknown != 0.1 || cfg.Confidences.Help != 1.0 {
		t.Errorf("unexpected confidences %+v", cfg.Confidences)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile = %q for a missing file", cfg.ConfigFile)
	}
}

func TestLoadJSONCFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "heimdall.jsonc")
	content := `{
  // per-rule scores
  "confidences": {"click": 0.95, "unknown": 0.2},
  "protected_windows": ["*heimdall*", "*password*"],
  "disabled_actions": ["close"],
  "demo": {"simulate": false, "safe_mode": false}, // trailing comma below
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HEIMDALL_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.Confidences.Click != 0.95 || cfg.Confidences.Unknown != 0.2 || cfg.Confidences.Scroll != 0.8 {
		t.Errorf("confidences not merged: %+v", cfg.Confidences)
	}
	if len(cfg.ProtectedTitles) != 2 || cfg.DisabledActions[0] != "close" {
		t.Errorf("lists = %v / %v", cfg.ProtectedTitles, cfg.DisabledActions)
	}
	if cfg.Simulate || cfg.SafeMode {
		t.Error("file demo flags ignored")
	}

	// environment wins over the file
	t.Setenv("SIMULATE", "true")
	t.Setenv("PROTECTED_WINDOWS", " *vault* ,, *bank* ")
	cfg, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Simulate {
		t.Error("SIMULATE env did not override the file")
	}
	if strings.Join(cfg.ProtectedTitles, "|") != "*vault*|*bank*" {
		t.Errorf("ProtectedTitles = %v", cfg.ProtectedTitles)
	}
}

func TestLoadBadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.jsonc")
	os.WriteFile(path, []byte(`{"confidences": [}`), 0o644)
	t.Setenv("HEIMDALL_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Error("Expected error for malformed config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad llm provider", map[string]string{"LLM_PROVIDER": "gpt"}, "LLM_PROVIDER"},
		{"bad storage", map[string]string{"STORAGE_BACKEND": "mongo"}, "STORAGE_BACKEND"},
		{"qiniu without key", map[string]string{"LLM_PROVIDER": "qiniu"}, "QINIU_API_KEY is required"},
		{"recording too long", map[string]string{"RECORD_DURATION": "45s"}, "RECORD_DURATION"},
		{"tts rate", map[string]string{"TTS_RATE": "20"}, "TTS_RATE"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if !errors.Is(err, errInvalidConfig) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestSTTConfigured(t *testing.T) {
	tests := []struct {
		cfg  Config
		want bool
	}{
		{Config{STTProvider: "deepgram", DeepgramAPIKey: "k"}, true},
		{Config{STTProvider: "deepgram"}, false},
		{Config{STTProvider: "qiniu-stream", QiniuAPIKey: "k"}, true},
		{Config{STTProvider: "none", QiniuAPIKey: "k"}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.STTConfigured(); got != tt.want {
			t.Errorf("STTConfigured(%s) = %v, want %v", tt.cfg.STTProvider, got, tt.want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	if result := getEnv("TEST_KEY", "default"); result != "test-value" {
		t.Errorf("Expected 'test-value', got: %s", result)
	}
	if result := getEnv("NON_EXISTENT_KEY", "default"); result != "default" {
		t.Errorf("Expected 'default', got: %s", result)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("INVALID_INT", "not-a-number")

	if result := getEnvInt("TEST_INT", 0); result != 42 {
		t.Errorf("Expected 42, got: %d", result)
	}
	if result := getEnvInt("NON_EXISTENT_INT", 10); result != 10 {
		t.Errorf("Expected 10, got: %d", result)
	}
	if result := getEnvInt("INVALID_INT", 5); result != 5 {
		t.Errorf("Expected default value 5 for invalid int, got: %d", result)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "3.14")

	if result := getEnvFloat("TEST_FLOAT", 0.0); result != 3.14 {
		t.Errorf("Expected 3.14, got: %f", result)
	}
	if result := getEnvFloat("NON_EXISTENT_FLOAT", 1.0); result != 1.0 {
		t.Errorf("Expected 1.0, got: %f", result)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if result := getEnvBool("TEST_BOOL", false); result != true {
		t.Errorf("Expected true, got: %v", result)
	}
	if result := getEnvBool("NON_EXISTENT_BOOL", false); result != false {
		t.Errorf("Expected false, got: %v", result)
	}
	t.Setenv("TEST_BOOL", "false")
	if result := getEnvBool("TEST_BOOL", true); result != false {
		t.Errorf("Expected false, got: %v", result)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"750ms", 750 * time.Millisecond},
		{"30", 30 * time.Second},
		{"soon", time.Minute},
		{"", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
