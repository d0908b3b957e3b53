package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vikthevar/Heimdall/internal/brain"
	"github.com/vikthevar/Heimdall/internal/capabilities"
	"github.com/vikthevar/Heimdall/internal/metrics"
	"github.com/vikthevar/Heimdall/internal/storage"
	"github.com/vikthevar/Heimdall/internal/voice"
	"github.com/vikthevar/Heimdall/internal/worker"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

// Assistant is the part of the brain the HTTP API drives
type Assistant interface {
	Process(ctx context.Context, text string, simulate bool) types.ProcessResult
	PreviewPlan(text string) brain.Preview
	ReadScreen(ctx context.Context, ref types.WindowRef) (string, error)
	Listen(ctx context.Context) (string, error)
	Speak(ctx context.Context, text string) error
	SpeakReply(ctx context.Context, reply string) error
	RecentMessages(ctx context.Context, limit int) ([]types.ConversationRecord, error)
	Metrics() *metrics.Metrics
}

// WindowLister enumerates open top-level windows
type WindowLister interface {
	ListOpen(ctx context.Context) []types.WindowHandle
}

// Config wires a Handler. Transcriber, Windows, Store and Settings are
// optional; the matching endpoints answer 503 or 501 without them.
type Config struct {
	Assistant    Assistant
	Runner       *worker.Runner
	Transcriber  voice.Transcriber
	Windows      WindowLister
	Store        storage.Store
	Settings     storage.Settings
	Capabilities capabilities.Available
	// Simulate and VoiceOutput are the defaults when no setting overrides them
	Simulate       bool
	VoiceOutput    bool
	MaxAudioSize   int64
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Handler handles HTTP requests
type Handler struct {
	assistant    Assistant
	runner       *worker.Runner
	transcriber  voice.Transcriber
	windows      WindowLister
	store        storage.Store
	settings     storage.Settings
	caps         capabilities.Available
	simulate     bool
	voiceOutput  bool
	maxAudioSize int64
	origins      []string
	logger       *zap.Logger
	now          func() time.Time
}

// NewHandler creates a new handler
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxAudioSize <= 0 {
		cfg.MaxAudioSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Handler{
		assistant:    cfg.Assistant,
		runner:       cfg.Runner,
		transcriber:  cfg.Transcriber,
		windows:      cfg.Windows,
		store:        cfg.Store,
		settings:     cfg.Settings,
		caps:         cfg.Capabilities,
		simulate:     cfg.Simulate,
		voiceOutput:  cfg.VoiceOutput,
		maxAudioSize: cfg.MaxAudioSize,
		origins:      cfg.AllowedOrigins,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// Router builds the gin engine with every API route registered
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if allowAll(h.origins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = h.origins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	api := r.Group("/api")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/capabilities", h.Capabilities)
		api.GET("/metrics", h.Metrics)

		// Interaction
		api.POST("/text", h.TextInteraction)
		api.POST("/plan", h.PreviewPlan)
		api.POST("/voice", h.VoiceInteraction)
		api.POST("/screen/read", h.ReadScreen)
		api.POST("/speak", h.Speak)
		api.GET("/windows", h.ListWindows)
		api.GET("/ws", h.ServeWS)

		// History
		api.GET("/history", h.History)
		api.GET("/history/export", h.ExportHistory)
		api.DELETE("/history", h.ClearHistory)

		// Settings
		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)
		api.GET("/settings/history", h.SettingsHistory)
		api.POST("/settings/reset", h.ResetSettings)

		// Tasks
		api.GET("/tasks/:id", h.GetTask)
		api.POST("/tasks/:id/cancel", h.CancelTask)
	}
	return r
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("Request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func allowAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

// turnResponse is the body of a completed text or voice turn
type turnResponse struct {
	Success  bool                `json:"success"`
	Simulate bool                `json:"simulate"`
	Result   types.ProcessResult `json:"result"`
}

// TextInteraction handles text-based interaction requests
func (h *Handler) TextInteraction(c *gin.Context) {
	var req struct {
		Text     string `json:"text" binding:"required"`
		Simulate *bool  `json:"simulate"`
		Async    bool   `json:"async"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text is required")
		return
	}

	ctx := c.Request.Context()
	simulate := h.resolveSimulate(ctx, req.Simulate)
	job := h.turnJob(req.Text, simulate)

	if req.Async {
		t, err := h.runner.Submit("text", job)
		if err != nil {
			h.failTask(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"task_id": t.ID(),
			"status":  t.Status(),
		})
		return
	}

	out, err := h.runner.Do(ctx, "text", job)
	if err != nil {
		h.failTask(c, err)
		return
	}
	res := out.(types.ProcessResult)
	c.JSON(http.StatusOK, turnResponse{Success: !res.IsError, Simulate: simulate, Result: res})
}

// turnJob processes one turn and queues the spoken reply when enabled
func (h *Handler) turnJob(text string, simulate bool) worker.Job {
	return func(ctx context.Context) (any, error) {
		res := h.assistant.Process(ctx, text, simulate)
		if h.shouldSpeak(ctx) {
			h.speakLater(res.Reply)
		}
		return res, nil
	}
}

func (h *Handler) speakLater(reply string) {
	_, err := h.runner.Submit("speak", func(ctx context.Context) (any, error) {
		return nil, h.assistant.SpeakReply(ctx, reply)
	})
	if err != nil {
		h.logger.Warn("Reply not spoken", zap.Error(err))
	}
}

// PreviewPlan renders the plan a command would run, for confirmation dialogs
func (h *Handler) PreviewPlan(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text is required")
		return
	}
	p := h.assistant.PreviewPlan(req.Text)
	var typ types.IntentType
	if p.Intent != nil {
		typ = p.Intent.Type()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"intent_type": typ,
		"preview":     p,
	})
}

// VoiceInteraction transcribes an uploaded WAV file, or records from the
// microphone when no file is sent, and then processes the transcript
func (h *Handler) VoiceInteraction(c *gin.Context) {
	ctx := c.Request.Context()

	var pcm []byte
	file, err := c.FormFile("audio")
	switch {
	case err == nil:
		if file.Size > h.maxAudioSize {
			fail(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("audio file too large (max %d MB)", h.maxAudioSize/1024/1024))
			return
		}
		if h.transcriber == nil {
			fail(c, http.StatusServiceUnavailable, "speech-to-text is not configured")
			return
		}
		src, err := file.Open()
		if err != nil {
			fail(c, http.StatusInternalServerError, "failed to open audio file")
			return
		}
		data, err := io.ReadAll(io.LimitReader(src, h.maxAudioSize))
		src.Close()
		if err != nil {
			fail(c, http.StatusInternalServerError, "failed to read audio file")
			return
		}
		if pcm, err = voice.DecodeWAV(data); err != nil {
			fail(c, http.StatusUnsupportedMediaType, err.Error())
			return
		}
	case errors.Is(err, http.ErrMissingFile) || strings.HasPrefix(c.ContentType(), "application/json") || c.Request.ContentLength == 0:
		// record from the microphone
	default:
		fail(c, http.StatusBadRequest, "invalid multipart form")
		return
	}

	out, err := h.runner.Do(ctx, "voice", func(ctx context.Context) (any, error) {
		if pcm != nil {
			return h.transcribe(ctx, pcm)
		}
		return h.assistant.Listen(ctx)
	})
	switch {
	case errors.Is(err, brain.ErrVoiceUnavailable):
		fail(c, http.StatusServiceUnavailable, "voice input is not available on this system")
		return
	case errors.Is(err, voice.ErrNoSpeech):
		fail(c, http.StatusUnprocessableEntity, "no speech detected")
		return
	case err != nil:
		h.failTask(c, err)
		return
	}
	transcript := out.(string)

	if c.PostForm("process") == "false" || c.Query("process") == "false" {
		c.JSON(http.StatusOK, gin.H{"success": true, "transcript": transcript})
		return
	}

	simulate := h.resolveSimulate(ctx, parseBool(c.PostForm("simulate")))
	out, err = h.runner.Do(ctx, "voice_turn", h.turnJob(transcript, simulate))
	if err != nil {
		h.failTask(c, err)
		return
	}
	res := out.(types.ProcessResult)
	c.JSON(http.StatusOK, gin.H{
		"success":    !res.IsError,
		"transcript": transcript,
		"simulate":   simulate,
		"result":     res,
	})
}

func (h *Handler) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if voice.RMS(pcm) < voice.SilenceThreshold {
		return "", voice.ErrNoSpeech
	}
	text, err := h.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", voice.ErrNoSpeech
	}
	h.assistant.Metrics().Transcription()
	return text, nil
}

// ReadScreen runs OCR, optionally checking that a named window is open
func (h *Handler) ReadScreen(c *gin.Context) {
	var req struct {
		Window string `json:"window"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ref := types.WindowRefFromString(req.Window)

	out, err := h.runner.Do(c.Request.Context(), "screen_read", func(ctx context.Context) (any, error) {
		return h.assistant.ReadScreen(ctx, ref)
	})
	switch {
	case errors.Is(err, brain.ErrScreenUnavailable):
		fail(c, http.StatusServiceUnavailable, "screen reading is not available on this system")
	case errors.Is(err, brain.ErrWindowNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case err != nil:
		h.failTask(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "window": ref, "text": out})
	}
}

// Speak reads the given text aloud
func (h *Handler) Speak(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "text is required")
		return
	}
	_, err := h.runner.Do(c.Request.Context(), "speak", func(ctx context.Context) (any, error) {
		return nil, h.assistant.Speak(ctx, req.Text)
	})
	switch {
	case errors.Is(err, brain.ErrVoiceUnavailable):
		fail(c, http.StatusServiceUnavailable, "text-to-speech is not available on this system")
	case err != nil:
		h.failTask(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// ListWindows returns the open top-level windows
func (h *Handler) ListWindows(c *gin.Context) {
	if h.windows == nil || !h.caps.Windows {
		fail(c, http.StatusServiceUnavailable, "window enumeration is not available on this system")
		return
	}
	handles := h.windows.ListOpen(c.Request.Context())
	if handles == nil {
		handles = []types.WindowHandle{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "windows": handles})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"time":         h.now().Unix(),
		"queue_length": h.runner.QueueLength(),
	})
}

// Capabilities reports what the startup probe found
func (h *Handler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, h.caps)
}

// Metrics reports the assistant counters
func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.assistant.Metrics().Get())
}

// History returns recent turns and totals
func (h *Handler) History(c *gin.Context) {
	ctx := c.Request.Context()
	limit := queryInt(c, "limit", 50)
	recs, err := h.assistant.RecentMessages(ctx, limit)
	if err != nil {
		h.logger.Error("Failed to load history", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	if recs == nil {
		recs = []types.ConversationRecord{}
	}
	body := gin.H{"success": true, "messages": recs}
	if h.store != nil {
		if stats, err := h.store.Stats(ctx); err == nil {
			body["stats"] = stats
		}
	}
	c.JSON(http.StatusOK, body)
}

// ExportHistory streams the history as json, yaml or txt
func (h *Handler) ExportHistory(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if !validFormat(format) {
		fail(c, http.StatusBadRequest,
			fmt.Sprintf("unknown export format %q, want one of %s", format, strings.Join(storage.ExportFormats, ", ")))
		return
	}
	recs, err := h.assistant.RecentMessages(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	var buf bytes.Buffer
	now := h.now()
	if err := storage.Export(&buf, format, recs, now); err != nil {
		h.logger.Error("Export failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to export history")
		return
	}
	name := fmt.Sprintf("heimdall_history_%s.%s", now.Format("20060102_150405"), format)
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, storage.ContentType(format), buf.Bytes())
}

// ClearHistory deletes every stored turn
func (h *Handler) ClearHistory(c *gin.Context) {
	if h.store == nil {
		fail(c, http.StatusNotImplemented, "no history store configured")
		return
	}
	if err := h.store.Clear(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear history", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to clear history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSettings returns every setting
func (h *Handler) GetSettings(c *gin.Context) {
	if !h.requireSettings(c) {
		return
	}
	all, err := h.settings.AllSettings(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": all})
}

// UpdateSettings applies a JSON object of key/value pairs. Each key is
// validated; the first invalid value aborts the remaining writes.
func (h *Handler) UpdateSettings(c *gin.Context) {
	if !h.requireSettings(c) {
		return
	}
	var req map[string]any
	if err := c.ShouldBindJSON(&req); err != nil || len(req) == 0 {
		fail(c, http.StatusBadRequest, "expected a JSON object of settings")
		return
	}
	ctx := c.Request.Context()
	for key, value := range req {
		if err := h.settings.SetSetting(ctx, key, value, "api"); err != nil {
			if errors.Is(err, storage.ErrInvalidSetting) {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.Error("Failed to save setting", zap.String("key", key), zap.Error(err))
			fail(c, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}
	h.GetSettings(c)
}

// SettingsHistory returns the audit trail, optionally for one key
func (h *Handler) SettingsHistory(c *gin.Context) {
	if !h.requireSettings(c) {
		return
	}
	changes, err := h.settings.SettingsHistory(c.Request.Context(), c.Query("key"), queryInt(c, "limit", 50))
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load settings history")
		return
	}
	if changes == nil {
		changes = []storage.SettingChange{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": changes})
}

// ResetSettings restores the defaults
func (h *Handler) ResetSettings(c *gin.Context) {
	if !h.requireSettings(c) {
		return
	}
	if err := h.settings.ResetSettings(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, "failed to reset settings")
		return
	}
	h.GetSettings(c)
}

func (h *Handler) requireSettings(c *gin.Context) bool {
	if h.settings == nil {
		fail(c, http.StatusNotImplemented, "settings require the sqlite storage backend")
		return false
	}
	return true
}

// GetTask reports the state of a queued, running or recently finished task
func (h *Handler) GetTask(c *gin.Context) {
	t, ok := h.runner.Get(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": t.Snapshot()})
}

// CancelTask cancels a queued or running task
func (h *Handler) CancelTask(c *gin.Context) {
	t, ok := h.runner.Get(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	if !t.Cancel() {
		fail(c, http.StatusConflict, "task already finished")
		return
	}
	h.assistant.Metrics().TaskCancelled()
	c.JSON(http.StatusOK, gin.H{"success": true, "task": t.Snapshot()})
}

// failTask maps runner errors to status codes
func (h *Handler) failTask(c *gin.Context, err error) {
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		fail(c, http.StatusServiceUnavailable, "assistant is busy, try again shortly")
	case errors.Is(err, worker.ErrStopped):
		fail(c, http.StatusServiceUnavailable, "assistant is shutting down")
	case errors.Is(err, worker.ErrCancelled), errors.Is(err, context.Canceled):
		fail(c, http.StatusRequestTimeout, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error("Task failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

// resolveSimulate picks the request flag, then the stored setting, then config
func (h *Handler) resolveSimulate(ctx context.Context, requested *bool) bool {
	if requested != nil {
		return *requested
	}
	return h.boolSetting(ctx, "simulation_mode", h.simulate)
}

// shouldSpeak needs both the config switch and the stored setting
func (h *Handler) shouldSpeak(ctx context.Context) bool {
	return h.voiceOutput && h.boolSetting(ctx, "voice_output_enabled", true)
}

func (h *Handler) boolSetting(ctx context.Context, key string, fallback bool) bool {
	if h.settings == nil {
		return fallback
	}
	v, ok, err := h.settings.GetSetting(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	b, isBool := v.(bool)
	if !isBool {
		return fallback
	}
	return b
}

func validFormat(format string) bool {
	for _, f := range storage.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseBool(s string) *bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}
