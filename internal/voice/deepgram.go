package voice

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"go.uber.org/zap"
)

// DeepgramConfig configures the live transcription backend
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
	// Quiet is how long to wait for more results once all audio is sent
	Quiet time.Duration
}

// liveStream is the part of the Deepgram websocket client we drive
type liveStream interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

type dialFunc func(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveStream, error)

// Deepgram transcribes through the Deepgram live websocket API
type Deepgram struct {
	cfg    DeepgramConfig
	dial   dialFunc
	logger *zap.Logger
}

// NewDeepgram creates a Deepgram transcriber
func NewDeepgram(cfg DeepgramConfig, logger *zap.Logger) *Deepgram {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = 1500 * time.Millisecond
	}
	d := &Deepgram{cfg: cfg, logger: logger}
	d.dial = d.dialLive
	return d
}

func (d *Deepgram) options() *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Language:       d.cfg.Language,
		Encoding:       "linear16",
		SampleRate:     SampleRate,
		Channels:       Channels,
		Endpointing:    "300",
		InterimResults: false,
		Model:          d.cfg.Model,
	}
	if d.cfg.Language != "en" && d.cfg.Model == "nova-3" {
		opts.Language = "multi"
	}
	return opts
}

func (d *Deepgram) dialLive(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveStream, error) {
	if d.cfg.APIKey == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not set")
	}
	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	return listen.NewWebSocketUsingCallback(ctx, d.cfg.APIKey, clientOptions, d.options(), cb)
}

// Transcribe streams the recording and joins the final transcripts
func (d *Deepgram) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	cb := newDeepgramCallback(d.logger)
	conn, err := d.dial(ctx, cb)
	if err != nil {
		return "", fmt.Errorf("failed to create Deepgram connection: %w", err)
	}
	if !conn.Connect() {
		return "", errors.New("failed to connect to Deepgram websocket")
	}
	defer conn.Stop()

	if err := conn.Stream(bufio.NewReader(bytes.NewReader(pcm))); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("error streaming to Deepgram: %w", err)
	}

	quiet := time.NewTimer(d.cfg.Quiet)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-cb.ended:
			return cb.transcript(), nil
		case <-cb.activity:
			quiet.Reset(d.cfg.Quiet)
		case <-quiet.C:
			return cb.transcript(), nil
		}
	}
}

// deepgramCallback collects final transcripts from the websocket callbacks
type deepgramCallback struct {
	mu       sync.Mutex
	finals   []string
	activity chan struct{}
	ended    chan struct{}
	endOnce  sync.Once
	logger   *zap.Logger
}

func newDeepgramCallback(logger *zap.Logger) *deepgramCallback {
	return &deepgramCallback{
		activity: make(chan struct{}, 1),
		ended:    make(chan struct{}),
		logger:   logger,
	}
}

func (c *deepgramCallback) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.finals, " ")
}

func (c *deepgramCallback) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *deepgramCallback) end() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *deepgramCallback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Debug("Deepgram socket connection opened")
	return nil
}

func (c *deepgramCallback) Message(mr *msginterfaces.MessageResponse) error {
	c.touch()
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if transcript == "" || !mr.IsFinal {
		return nil
	}
	c.mu.Lock()
	c.finals = append(c.finals, transcript)
	c.mu.Unlock()
	c.logger.Debug("Final transcript received", zap.String("text", transcript))
	if mr.SpeechFinal {
		c.end()
	}
	return nil
}

func (c *deepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	return nil
}

func (c *deepgramCallback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.touch()
	return nil
}

func (c *deepgramCallback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.end()
	return nil
}

func (c *deepgramCallback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Debug("Deepgram socket connection closed")
	c.end()
	return nil
}

func (c *deepgramCallback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Warn("Deepgram websocket error", zap.Any("error", er))
	c.end()
	return nil
}

func (c *deepgramCallback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("Unhandled Deepgram event", zap.ByteString("data", byData))
	return nil
}
