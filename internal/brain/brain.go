// Package brain routes one user turn through the classifier, the safety
// guard and either the plan renderer or the executor, and composes the reply.
package brain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/vikthevar/Heimdall/internal/capabilities"
	"github.com/vikthevar/Heimdall/internal/llm"
	"github.com/vikthevar/Heimdall/internal/metrics"
	"github.com/vikthevar/Heimdall/internal/plan"
	"github.com/vikthevar/Heimdall/internal/security"
	"github.com/vikthevar/Heimdall/internal/storage"
	"github.com/vikthevar/Heimdall/internal/voice"
	"github.com/vikthevar/Heimdall/internal/window"
	"github.com/vikthevar/Heimdall/pkg/types"
	"go.uber.org/zap"
)

const simulationNote = "Simulation mode - actions not executed"

// persistTimeout bounds the history write, which outlives a cancelled turn
const persistTimeout = 5 * time.Second

var (
	// ErrVoiceUnavailable is returned by Listen and Speak when no backend is wired
	ErrVoiceUnavailable = errors.New("voice is not available")
	// ErrScreenUnavailable is returned by ReadScreen when OCR is not wired
	ErrScreenUnavailable = errors.New("screen reading is not available")
	// ErrWindowNotFound is returned by ReadScreen for a named window that is not open
	ErrWindowNotFound = errors.New("no window found")
)

// Classifier maps text to an intent; it never fails
type Classifier interface {
	Classify(text string) types.Intent
}

// Executor performs automation intents for real
type Executor interface {
	Execute(ctx context.Context, in types.AutomationIntent) types.ExecutionResult
}

// Guard refuses unsafe automation. CheckIntent applies to plans and
// executions alike; CheckExecution only to real side effects.
type Guard interface {
	CheckIntent(in types.AutomationIntent) error
	CheckExecution(in types.AutomationIntent) error
}

// ScreenReader is the OCR collaborator
type ScreenReader interface {
	CaptureAndRead(ctx context.Context, region *image.Rectangle) (string, error)
}

// WindowResolver finds windows named in screen-read requests
type WindowResolver interface {
	Resolve(ctx context.Context, ref types.WindowRef) []types.WindowHandle
	ListOpen(ctx context.Context) []types.WindowHandle
}

// Config wires a Brain. Only Classifier is required; every other
// collaborator is optional and its absence degrades the matching feature.
type Config struct {
	Classifier  Classifier
	Executor    Executor
	Guard       Guard
	Screen      ScreenReader
	Windows     WindowResolver
	LLM         llm.Generator
	LLMTimeout  time.Duration
	Recorder    voice.Recorder
	Transcriber voice.Transcriber
	Speaker     voice.Speaker
	Store       storage.Store
	// Capabilities, when set, switches off features the probe found missing
	Capabilities *capabilities.Available
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Brain is the dispatch orchestrator. It is the only place that decides
// between simulating and executing.
type Brain struct {
	classifier  Classifier
	executor    Executor
	guard       Guard
	screen      ScreenReader
	windows     WindowResolver
	llm         llm.Generator
	llmTimeout  time.Duration
	recorder    voice.Recorder
	transcriber voice.Transcriber
	speaker     voice.Speaker
	store       storage.Store
	caps        *capabilities.Available
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a Brain
func New(cfg Config) *Brain {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = llm.DefaultTimeout
	}
	b := &Brain{
		classifier:  cfg.Classifier,
		executor:    cfg.Executor,
		guard:       cfg.Guard,
		screen:      cfg.Screen,
		windows:     cfg.Windows,
		llm:         cfg.LLM,
		llmTimeout:  cfg.LLMTimeout,
		recorder:    cfg.Recorder,
		transcriber: cfg.Transcriber,
		speaker:     cfg.Speaker,
		store:       cfg.Store,
		caps:        cfg.Capabilities,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	// drop collaborators the probe found unusable
	if b.caps != nil {
		if !b.caps.LLM {
			b.llm = nil
		}
		if !b.caps.OCR {
			b.screen = nil
		}
	}
	return b
}

// Metrics returns the counters the brain updates
func (b *Brain) Metrics() *metrics.Metrics { return b.metrics }

// Process handles one user turn. It always returns a reply; failures inside
// any collaborator are folded into the reply text.
func (b *Brain) Process(ctx context.Context, text string, simulate bool) (res types.ProcessResult) {
	log := b.logger.With(zap.Bool("simulate", simulate))
	log.Info("Processing message", zap.String("text", text))

	defer func() {
		b.persist(ctx, text, res)
		if res.IsError {
			b.metrics.TurnFailed()
		} else {
			b.metrics.TurnProcessed()
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			log.Error("Turn panicked", zap.Any("panic", p))
			res = apology(fmt.Errorf("%v", p))
		}
	}()

	if cmd, ok := demoOverrides[normalize(text)]; ok {
		return b.runDemo(ctx, cmd, simulate, log)
	}

	in := b.classifier.Classify(text)
	if chat, ok := in.(types.ChatIntent); ok && chat.Tier == types.ChatUnknown && b.llm != nil {
		in = b.askModel(ctx, text, chat)
	}
	log = log.With(zap.String("intent", string(in.Type())))

	switch v := in.(type) {
	case types.AutomationIntent:
		return b.automate(ctx, v, simulate, log)
	case types.ScreenReadIntent:
		reply := screenReadReply + "\n\n" + b.describeScreen(ctx, v.Window)
		return types.ProcessResult{Reply: reply, Intent: v}
	case types.ChatIntent:
		return types.ProcessResult{Reply: b.chatReply(ctx, v), Intent: v}
	case types.VoiceIntent:
		return types.ProcessResult{Reply: b.voiceReply(), Intent: v}
	case types.HelpIntent:
		return types.ProcessResult{Reply: helpReply, Intent: v}
	case types.GreetingIntent:
		return types.ProcessResult{Reply: greetingReply(b.now()), Intent: v}
	case types.ErrorIntent:
		return types.ProcessResult{Reply: "Sorry, I encountered an error: " + v.Err, Intent: v, IsError: true}
	default:
		return apology(fmt.Errorf("unhandled intent type %s", in.Type()))
	}
}

// automate applies the guard and then simulates or executes
func (b *Brain) automate(ctx context.Context, in types.AutomationIntent, simulate bool, log *zap.Logger) types.ProcessResult {
	if res, refused := b.vet(in, simulate, log); refused {
		return res
	}

	reply := automationReply(in)
	if simulate {
		b.metrics.ActionSimulated()
		reply += "\n\nExecution plan:\n" + plan.Render(in) + "\n\n" + simulationNote
		return types.ProcessResult{Reply: reply, Intent: in}
	}

	res, invoked := b.execute(ctx, in)
	if res.Success {
		reply += "\n\nExecuted: " + res.Message
	} else {
		reply += "\n\nExecution failed: " + res.Message
	}
	return types.ProcessResult{Reply: reply, Intent: in, Executed: invoked, ExecutionResult: &res}
}

// vet runs the guard. A refused execution still shows the plan so the user
// sees what would have happened.
func (b *Brain) vet(in types.AutomationIntent, simulate bool, log *zap.Logger) (types.ProcessResult, bool) {
	if b.guard == nil {
		return types.ProcessResult{}, false
	}
	var steps string
	err := b.guard.CheckIntent(in)
	if err == nil && !simulate {
		if err = b.guard.CheckExecution(in); err != nil {
			steps = plan.Render(in)
		}
	}
	if err == nil {
		return types.ProcessResult{}, false
	}

	b.metrics.ActionRefused()
	log.Warn("Automation refused", zap.Error(err))
	res := types.Failed(types.OutcomeRefused, "%s", refusalReason(err))
	reply := automationReply(in) + "\n\nRefused: " + res.Message
	if steps != "" {
		reply += "\n\nExecution plan:\n" + steps
	}
	return types.ProcessResult{Reply: reply, Intent: in, ExecutionResult: &res}, true
}

// execute runs the intent and reports whether the executor was invoked
func (b *Brain) execute(ctx context.Context, in types.AutomationIntent) (types.ExecutionResult, bool) {
	if b.executor == nil || (b.caps != nil && !b.caps.Automation) {
		b.metrics.ActionFailed()
		return types.Failed(types.OutcomeUnavailable, "Screen automation is not available on this system."), false
	}
	res := b.executor.Execute(ctx, in)
	switch {
	case res.Success:
		b.metrics.ActionExecuted()
	case res.Outcome == types.OutcomeRefused:
		b.metrics.ActionRefused()
	default:
		b.metrics.ActionFailed()
	}
	return res, true
}

// runDemo handles a literal demo phrase. It skips the classifier but not
// the simulate flag or the guard.
func (b *Brain) runDemo(ctx context.Context, cmd demoCommand, simulate bool, log *zap.Logger) types.ProcessResult {
	log = log.With(zap.String("intent", string(types.TypeAutomation)))
	log.Info("Demo override", zap.String("action", string(cmd.intent.Action)))
	if simulate {
		return b.automate(ctx, cmd.intent, true, log)
	}
	if res, refused := b.vet(cmd.intent, false, log); refused {
		return res
	}

	res, invoked := b.execute(ctx, cmd.intent)
	reply := cmd.confirm
	if !res.Success {
		reply += "\n\n(" + res.Message + ")"
	}
	return types.ProcessResult{Reply: reply, Intent: cmd.intent, Executed: invoked, ExecutionResult: &res}
}

// askModel lets the model interpret text the rules could not. The rule
// result is kept unless the model returns a valid actionable intent.
func (b *Brain) askModel(ctx context.Context, text string, fallback types.ChatIntent) types.Intent {
	b.metrics.LLMFallback()
	ctx, cancel := context.WithTimeout(ctx, b.llmTimeout)
	defer cancel()

	in, err := llm.ParseIntent(ctx, b.llm, text, "")
	if err != nil {
		b.logger.Debug("Model gave no usable intent", zap.Error(err))
		return fallback
	}
	return in
}

func (b *Brain) chatReply(ctx context.Context, in types.ChatIntent) string {
	if b.llm == nil {
		return chatFallbackReply(in.Input)
	}
	ctx, cancel := context.WithTimeout(ctx, b.llmTimeout)
	defer cancel()

	out, err := b.llm.Generate(ctx, chatPrompt(in.Input, b.recentContext(ctx)))
	switch {
	case errors.Is(err, llm.ErrTimeout):
		b.logger.Warn("Language model timed out")
		return chatFallbackReply(in.Input) + "\n\n(The language model timed out.)"
	case err != nil:
		b.logger.Warn("Language model unavailable", zap.Error(err))
		return chatFallbackReply(in.Input)
	}
	if out = strings.TrimSpace(out); out == "" {
		return chatFallbackReply(in.Input)
	}
	return out
}

// recentContext returns the last few exchanges for the chat prompt
func (b *Brain) recentContext(ctx context.Context) []types.ConversationRecord {
	if b.store == nil {
		return nil
	}
	recs, err := b.store.LoadRecent(ctx, 6)
	if err != nil {
		b.logger.Debug("No history for chat context", zap.Error(err))
		return nil
	}
	return recs
}

func (b *Brain) voiceReply() string {
	if b.recorder == nil || b.transcriber == nil {
		return voiceUnavailableReply
	}
	return voiceReply
}

// describeScreen renders the OCR output or the reason there is none
func (b *Brain) describeScreen(ctx context.Context, ref types.WindowRef) string {
	text, err := b.ReadScreen(ctx, ref)
	switch {
	case errors.Is(err, ErrScreenUnavailable):
		return "Screen reading is not available on this system."
	case err != nil:
		return "Screen reading failed: " + err.Error()
	}
	return "Screen content:\n" + text
}

// ReadScreen runs OCR over the screen. A named window must exist; the
// capture itself always covers the whole screen.
func (b *Brain) ReadScreen(ctx context.Context, ref types.WindowRef) (string, error) {
	if b.screen == nil {
		return "", ErrScreenUnavailable
	}
	if ref.Kind == types.WindowNamed && b.windows != nil {
		if len(b.windows.Resolve(ctx, ref)) == 0 {
			return "", fmt.Errorf("%w matching '%s'. Open windows:\n%s",
				ErrWindowNotFound, ref, window.Titles(b.windows.ListOpen(ctx)))
		}
	}
	b.metrics.ScreenRead()
	text, err := b.screen.CaptureAndRead(ctx, nil)
	if err != nil {
		b.logger.Warn("Screen read failed", zap.Error(err))
		return "", err
	}
	return text, nil
}

// Listen records one utterance and transcribes it
func (b *Brain) Listen(ctx context.Context) (string, error) {
	if b.recorder == nil || b.transcriber == nil {
		return "", ErrVoiceUnavailable
	}
	text, err := voice.Listen(ctx, b.recorder, b.transcriber)
	if err != nil {
		return "", err
	}
	b.metrics.Transcription()
	return text, nil
}

// Speak reads text aloud
func (b *Brain) Speak(ctx context.Context, text string) error {
	if b.speaker == nil {
		return ErrVoiceUnavailable
	}
	return b.speaker.Speak(ctx, text)
}

// SpeakReply reads the first paragraph of a reply aloud
func (b *Brain) SpeakReply(ctx context.Context, reply string) error {
	return b.Speak(ctx, speakable(reply))
}

// RecentMessages returns up to limit stored turns, oldest first
func (b *Brain) RecentMessages(ctx context.Context, limit int) ([]types.ConversationRecord, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.LoadRecent(ctx, limit)
}

// Preview is what a confirmation dialog shows before executing a command
type Preview struct {
	Intent     types.Intent `json:"-"`
	Automation bool         `json:"automation"`
	Plan       string       `json:"plan,omitempty"`
	Refused    string       `json:"refused,omitempty"`
}

// PreviewPlan classifies text and renders its plan without side effects
func (b *Brain) PreviewPlan(text string) Preview {
	var in types.Intent
	if cmd, ok := demoOverrides[normalize(text)]; ok {
		in = cmd.intent
	} else {
		in = b.classifier.Classify(text)
	}
	p := Preview{Intent: in}
	auto, ok := in.(types.AutomationIntent)
	if !ok {
		return p
	}
	p.Automation = true
	if b.guard != nil {
		if err := b.guard.CheckIntent(auto); err != nil {
			p.Refused = refusalReason(err)
			return p
		}
	}
	p.Plan = plan.Render(auto)
	return p
}

// persist saves the turn even when ctx was cancelled while it ran; a turn
// that produced a reply is always recorded.
func (b *Brain) persist(ctx context.Context, text string, res types.ProcessResult) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	rec, err := storage.NewRecord(text, res.Reply, res.Intent)
	if err == nil {
		_, err = b.store.Save(ctx, rec)
	}
	if err != nil {
		b.metrics.PersistFailed()
		b.logger.Warn("Failed to save message", zap.Error(err))
	}
}

func apology(err error) types.ProcessResult {
	return types.ProcessResult{
		Reply:   "Sorry, I encountered an error: " + err.Error(),
		Intent:  types.ErrorIntent{Err: err.Error()},
		IsError: true,
	}
}

func refusalReason(err error) string {
	var r *security.RefusedError
	if errors.As(err, &r) {
		return r.Reason
	}
	return err.Error()
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
