// Package qiniu is a client for the Qiniu Cloud AI API. It serves three
// roles in Heimdall: a hosted chat model behind llm.Generator, speech
// recognition (HTTP and streaming websocket) and speech synthesis.
package qiniu

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/internal/llm"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://openai.qiniu.com/v1"
	DefaultStreamURL = "wss://openai.qiniu.com/v1/voice/asr"
	DefaultChatModel = "deepseek/deepseek-v3.1-terminus"
)

// Config configures a Client
type Config struct {
	APIKey    string
	BaseURL   string
	StreamURL string

	ChatModel   string
	MaxTokens   int
	Temperature float64

	VoiceType  string
	Encoding   string
	SpeedRatio float64

	// Timeout bounds chat requests; speech requests use the client timeout of 60s
	Timeout time.Duration
	// ChunkInterval paces streamed audio frames
	ChunkInterval time.Duration
}

// Client is the Qiniu Cloud API client
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Qiniu Cloud API client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.StreamURL == "" {
		cfg.StreamURL = DefaultStreamURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.VoiceType == "" {
		cfg.VoiceType = "qiniu_zh_female_wwxkjx"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mp3"
	}
	if cfg.SpeedRatio <= 0 {
		cfg.SpeedRatio = 1.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}
	if cfg.ChunkInterval < 0 {
		cfg.ChunkInterval = 0
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Encoding is the audio container TTS returns
func (c *Client) Encoding() string {
	return c.cfg.Encoding
}

// APIError is a non-200 answer from the API
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Status, e.Body)
}

// post sends a JSON request and decodes the JSON answer into out
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Qiniu API error response",
			zap.String("endpoint", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)))
		return &APIError{Endpoint: path, Status: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ASR transcribes a WAV recording in one request
func (c *Client) ASR(ctx context.Context, wav []byte) (string, error) {
	c.logger.Debug("Starting ASR", zap.Int("bytes", len(wav)))

	reqBody := map[string]any{
		"model": "asr",
		"audio": map[string]any{
			"format": "wav",
			"url":    "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wav),
		},
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, "/voice/asr", reqBody, &result); err != nil {
		return "", fmt.Errorf("asr: %w", err)
	}

	c.logger.Debug("Recognized text", zap.String("text", result.Text))
	return strings.TrimSpace(result.Text), nil
}

// TTS synthesizes text and returns the encoded audio. Answers carrying a URL
// instead of inline data are downloaded.
func (c *Client) TTS(ctx context.Context, text string) ([]byte, error) {
	reqBody := map[string]any{
		"audio": map[string]any{
			"voice_type":  c.cfg.VoiceType,
			"encoding":    c.cfg.Encoding,
			"speed_ratio": c.cfg.SpeedRatio,
		},
		"request": map[string]string{
			"text": text,
		},
	}

	var result map[string]any
	if err := c.post(ctx, "/voice/tts", reqBody, &result); err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}

	var audioData string
	switch {
	case stringField(result, "data") != "":
		audioData = stringField(result, "data")
	case stringField(result, "audio") != "":
		audioData = stringField(result, "audio")
	default:
		if m, ok := result["audio"].(map[string]any); ok {
			audioData = stringField(m, "data")
		}
	}
	if audioData != "" {
		decoded, err := base64.StdEncoding.DecodeString(audioData)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio data: %w", err)
		}
		return decoded, nil
	}

	if url := stringField(result, "url"); url != "" {
		return c.download(ctx, url)
	}

	c.logger.Warn("TTS response had no audio", zap.Any("response", result))
	return nil, errors.New("tts: no audio URL or data in response")
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletion performs a non-streaming chat completion
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (string, error) {
	reqBody := map[string]any{
		"model":       c.cfg.ChatModel,
		"messages":    messages,
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
		"stream":      false,
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", reqBody, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// Generate implements llm.Generator with a single user message
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	answer, err := c.ChatCompletion(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", asLLMError(err)
	}
	c.logger.Debug("Qiniu generation finished",
		zap.String("model", c.cfg.ChatModel),
		zap.Duration("elapsed", time.Since(start)))
	return answer, nil
}

// Ping checks that the key is accepted by listing the available models
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%w: QINIU_API_KEY is not set", llm.ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return asLLMError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: qiniu returned status %d", llm.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// asLLMError maps failures onto the llm sentinels so callers fall back to rules
func asLLMError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return llm.ErrTimeout
	}
	return errors.Join(llm.ErrUnavailable, err)
}
