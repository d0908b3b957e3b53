package brain

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vikthevar/Heimdall/internal/capabilities"
	"github.com/vikthevar/Heimdall/internal/intent"
	"github.com/vikthevar/Heimdall/internal/llm"
	"github.com/vikthevar/Heimdall/internal/security"
	"github.com/vikthevar/Heimdall/internal/storage"
	"github.com/vikthevar/Heimdall/pkg/types"
)

type countingClassifier struct {
	inner Classifier
	mu    sync.Mutex
	calls int
}

func (c *countingClassifier) Classify(text string) types.Intent {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Classify(text)
}

type classifierFunc func(text string) types.Intent

func (f classifierFunc) Classify(text string) types.Intent { return f(text) }

type fakeExecutor struct {
	ExecuteFunc func(ctx context.Context, in types.AutomationIntent) types.ExecutionResult
	calls       []types.AutomationIntent
}

func (f *fakeExecutor) Execute(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
	f.calls = append(f.calls, in)
	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, in)
	}
	return types.Succeeded("did %s", in.Action)
}

type guardFunc func(in types.AutomationIntent) error

func (f guardFunc) CheckIntent(in types.AutomationIntent) error { return f(in) }

func (f guardFunc) CheckExecution(in types.AutomationIntent) error { return nil }

type screenFunc func(ctx context.Context, region *image.Rectangle) (string, error)

func (f screenFunc) CaptureAndRead(ctx context.Context, region *image.Rectangle) (string, error) {
	return f(ctx, region)
}

type fakeWindows struct {
	handles []types.WindowHandle
}

func (f fakeWindows) Resolve(ctx context.Context, ref types.WindowRef) []types.WindowHandle {
	var out []types.WindowHandle
	for _, h := range f.handles {
		if strings.Contains(strings.ToLower(h.Title), ref.Name) {
			out = append(out, h)
		}
	}
	return out
}

func (f fakeWindows) ListOpen(ctx context.Context) []types.WindowHandle { return f.handles }

type fakeGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	prompts      []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.GenerateFunc(ctx, prompt)
}

func (f *fakeGenerator) Ping(ctx context.Context) error { return nil }

type failingStore struct{ storage.Store }

func (failingStore) Save(ctx context.Context, rec types.ConversationRecord) (types.ConversationRecord, error) {
	return rec, errors.New("disk full")
}

func rules() Classifier { return intent.NewClassifier(intent.DefaultConfidences()) }

func jsonStore(t *testing.T) *storage.JSONStore {
	t.Helper()
	s, err := storage.OpenJSON(filepath.Join(t.TempDir(), "session.json"), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var demoPhrases = []struct {
	text    string
	action  types.Action
	confirm string
	step    string
}{
	{"scroll down", types.ActionScroll, "Scrolled down.", "Scroll down by 3 units"},
	{"  Scroll Up ", types.ActionScroll, "Scrolled up.", "Scroll up by 3 units"},
	{"type hello world", types.ActionType, "Typed 'hello world'.", `Type "hello world"`},
	{"PRESS ENTER", types.ActionKey, "Pressed Enter.", "enter"},
}

func TestDemoOverridesExecuteWithoutClassifier(t *testing.T) {
	for _, tt := range demoPhrases {
		t.Run(tt.text, func(t *testing.T) {
			cls := &countingClassifier{inner: rules()}
			exec := &fakeExecutor{}
			b := New(Config{Classifier: cls, Executor: exec})

			res := b.Process(context.Background(), tt.text, false)

			if cls.calls != 0 {
				t.Errorf("classifier called %d times for a demo override", cls.calls)
			}
			if !res.Executed {
				t.Error("demo override not marked executed")
			}
			if !strings.Contains(res.Reply, tt.confirm) {
				t.Errorf("reply %q missing %q", res.Reply, tt.confirm)
			}
			if len(exec.calls) != 1 || exec.calls[0].Action != tt.action {
				t.Errorf("executor calls = %+v", exec.calls)
			}
		})
	}
}

func TestDemoOverridesOnlyPlanWhenSimulating(t *testing.T) {
	for _, tt := range demoPhrases {
		t.Run(tt.text, func(t *testing.T) {
			cls := &countingClassifier{inner: rules()}
			exec := &fakeExecutor{}
			b := New(Config{Classifier: cls, Executor: exec})

			res := b.Process(context.Background(), tt.text, true)

			if len(exec.calls) != 0 {
				t.Fatalf("executor invoked in simulate mode: %+v", exec.calls)
			}
			if cls.calls != 0 {
				t.Errorf("classifier called %d times for a demo override", cls.calls)
			}
			if res.Executed || res.ExecutionResult != nil {
				t.Errorf("simulated demo reported execution: %+v", res)
			}
			if !strings.Contains(res.Reply, simulationNote) || !strings.Contains(res.Reply, tt.step) {
				t.Errorf("reply missing plan:\n%s", res.Reply)
			}
			if strings.Contains(res.Reply, tt.confirm) {
				t.Errorf("simulated demo claims it ran: %q", res.Reply)
			}
		})
	}
}

func TestDemoOverrideReportsBackendFailure(t *testing.T) {
	exec := &fakeExecutor{ExecuteFunc: func(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
		return types.Failed(types.OutcomeBackendFailure, "xdotool: not found")
	}}
	b := New(Config{Classifier: rules(), Executor: exec})

	res := b.Process(context.Background(), "scroll down", false)
	if !res.Executed || res.ExecutionResult == nil || res.ExecutionResult.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Reply, "Scrolled down.") || !strings.Contains(res.Reply, "xdotool: not found") {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestSimulateRendersPlanWithoutExecuting(t *testing.T) {
	exec := &fakeExecutor{}
	b := New(Config{Classifier: rules(), Executor: exec})

	res := b.Process(context.Background(), "click the submit button", true)

	if res.Executed || res.ExecutionResult != nil {
		t.Errorf("simulation reported execution: %+v", res)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("executor invoked in simulate mode: %+v", exec.calls)
	}
	for _, want := range []string{
		"I'll click the submit button for you.",
		"Execution plan:\n1. Search the screen for \"submit button\"",
		simulationNote,
	} {
		if !strings.Contains(res.Reply, want) {
			t.Errorf("reply missing %q:\n%s", want, res.Reply)
		}
	}
	if res.Intent.Type() != types.TypeAutomation {
		t.Errorf("intent = %v", res.Intent)
	}
	if b.Metrics().Get().ActionsSimulated != 1 {
		t.Error("simulation not counted")
	}
}

func TestExecuteMode(t *testing.T) {
	tests := []struct {
		name     string
		result   types.ExecutionResult
		executed bool
		want     string
	}{
		{"success", types.Succeeded("Clicked 'submit button' at (10, 20)"), true, "Executed: Clicked 'submit button'"},
		{"not found", types.Failed(types.OutcomeNotFound, "Could not find 'submit button' on screen."), true, "Execution failed: Could not find"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{ExecuteFunc: func(ctx context.Context, in types.AutomationIntent) types.ExecutionResult {
				return tt.result
			}}
			b := New(Config{Classifier: rules(), Executor: exec})

			res := b.Process(context.Background(), "click the submit button", false)

			if res.Executed != tt.executed {
				t.Errorf("Executed = %v, want %v", res.Executed, tt.executed)
			}
			if res.ExecutionResult == nil || res.ExecutionResult.Outcome != tt.result.Outcome {
				t.Errorf("ExecutionResult = %+v", res.ExecutionResult)
			}
			if !strings.Contains(res.Reply, tt.want) {
				t.Errorf("reply %q missing %q", res.Reply, tt.want)
			}
		})
	}
}

func TestGuardRefusesInBothModes(t *testing.T) {
	guard := guardFunc(func(in types.AutomationIntent) error {
		return &security.RefusedError{Reason: "Closing Heimdall is not allowed"}
	})
	for _, simulate := range []bool{true, false} {
		exec := &fakeExecutor{}
		b := New(Config{Classifier: rules(), Executor: exec, Guard: guard})

		res := b.Process(context.Background(), "scroll down 5", simulate)

		if len(exec.calls) != 0 {
			t.Errorf("simulate=%v: executor ran despite refusal", simulate)
		}
		if res.Executed || res.ExecutionResult == nil || res.ExecutionResult.Outcome != types.OutcomeRefused {
			t.Errorf("simulate=%v: result = %+v", simulate, res)
		}
		if !strings.Contains(res.Reply, "Refused: Closing Heimdall is not allowed") {
			t.Errorf("simulate=%v: reply = %q", simulate, res.Reply)
		}
		if strings.Contains(res.Reply, "Execution plan") {
			t.Errorf("simulate=%v: refused intent still got a plan", simulate)
		}
	}
}

func TestSafeModeOnlyPlans(t *testing.T) {
	tests := []struct {
		name     string
		safeMode bool
		simulate bool
		wantRuns int
		want     []string
	}{
		{"safe mode executes nothing", true, false, 0, []string{"Refused: " + security.SafeModeReason, "Execution plan:"}},
		{"safe mode still simulates", true, true, 0, []string{"Execution plan:", simulationNote}},
		{"safe mode off executes", false, false, 2, []string{"Executed: did scroll", "Typed 'hello world'."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, err := security.NewGuard(security.Options{SafeMode: tt.safeMode}, nil)
			if err != nil {
				t.Fatal(err)
			}
			exec := &fakeExecutor{}
			b := New(Config{Classifier: rules(), Executor: exec, Guard: guard})

			var replies []string
			for _, text := range []string{"scroll down 5", "type hello world"} {
				res := b.Process(context.Background(), text, tt.simulate)
				replies = append(replies, res.Reply)
				if tt.safeMode && res.Executed {
					t.Errorf("%q executed in safe mode", text)
				}
				if tt.safeMode && !tt.simulate &&
					(res.ExecutionResult == nil || res.ExecutionResult.Outcome != types.OutcomeRefused) {
					t.Errorf("%q result = %+v, want refused", text, res.ExecutionResult)
				}
			}
			if len(exec.calls) != tt.wantRuns {
				t.Errorf("executor calls = %d, want %d", len(exec.calls), tt.wantRuns)
			}
			all := strings.Join(replies, "\n")
			for _, w := range tt.want {
				if !strings.Contains(all, w) {
					t.Errorf("replies missing %q:\n%s", w, all)
				}
			}
		})
	}
}

func TestScreenRead(t *testing.T) {
	tests := []struct {
		name   string
		screen ScreenReader
		want   string
	}{
		{"text", screenFunc(func(ctx context.Context, r *image.Rectangle) (string, error) {
			return "File Edit View", nil
		}), "Screen content:\nFile Edit View"},
		{"error", screenFunc(func(ctx context.Context, r *image.Rectangle) (string, error) {
			return "", errors.New("no text found on screen")
		}), "Screen reading failed: no text found on screen"},
		{"missing", nil, "Screen reading is not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(Config{Classifier: rules(), Screen: tt.screen})
			res := b.Process(context.Background(), "read my screen", true)
			if res.Intent.Type() != types.TypeScreenRead {
				t.Fatalf("intent = %s", res.Intent.Type())
			}
			if !strings.HasPrefix(res.Reply, screenReadReply) || !strings.Contains(res.Reply, tt.want) {
				t.Errorf("reply = %q, want %q", res.Reply, tt.want)
			}
		})
	}
}

func TestReadScreenNamedWindow(t *testing.T) {
	read := 0
	b := New(Config{
		Classifier: rules(),
		Screen: screenFunc(func(ctx context.Context, r *image.Rectangle) (string, error) {
			read++
			return "hello", nil
		}),
		Windows: fakeWindows{handles: []types.WindowHandle{{ID: "1", Title: "Untitled - Notepad"}}},
	})

	if _, err := b.ReadScreen(context.Background(), types.NamedWindow("calculator")); !errors.Is(err, ErrWindowNotFound) ||
		!strings.Contains(err.Error(), "Untitled - Notepad") {
		t.Errorf("missing window error = %v", err)
	}
	if read != 0 {
		t.Error("captured the screen for a window that does not exist")
	}
	text, err := b.ReadScreen(context.Background(), types.NamedWindow("notepad"))
	if err != nil || text != "hello" {
		t.Errorf("ReadScreen(notepad) = %q, %v", text, err)
	}
}

func TestChatReplies(t *testing.T) {
	t.Run("model answers", func(t *testing.T) {
		gen := &fakeGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "  Why did the window close? It needed some space.  ", nil
		}}
		b := New(Config{Classifier: rules(), LLM: gen})
		res := b.Process(context.Background(), "tell me a joke", true)
		if res.Reply != "Why did the window close? It needed some space." {
			t.Errorf("reply = %q", res.Reply)
		}
		if !strings.Contains(gen.prompts[0], "User: tell me a joke") {
			t.Errorf("prompt = %q", gen.prompts[0])
		}
	})

	t.Run("model times out", func(t *testing.T) {
		gen := &fakeGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", llm.ErrTimeout
		}}
		b := New(Config{Classifier: rules(), LLM: gen})
		res := b.Process(context.Background(), "tell me a joke", true)
		if !strings.Contains(res.Reply, `I understand you said: "tell me a joke"`) ||
			!strings.Contains(res.Reply, "timed out") {
			t.Errorf("reply = %q", res.Reply)
		}
		if res.IsError {
			t.Error("a fallback reply is not an error")
		}
	})

	t.Run("no model", func(t *testing.T) {
		b := New(Config{Classifier: rules()})
		res := b.Process(context.Background(), "tell me a joke", true)
		if !strings.Contains(res.Reply, `I understand you said: "tell me a joke"`) {
			t.Errorf("reply = %q", res.Reply)
		}
	})

	t.Run("startup check says model is down", func(t *testing.T) {
		gen := &fakeGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
			t.Error("generator called although the startup check marked it unavailable")
			return "", nil
		}}
		b := New(Config{Classifier: rules(), LLM: gen, Capabilities: &capabilities.Available{LLM: false}})
		b.Process(context.Background(), "tell me a joke", true)
	})
}

func TestUnknownTierAsksModel(t *testing.T) {
	gen := &fakeGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "desktop automation") {
			return "```json\n{\"action\": \"scroll\", \"direction\": \"up\", \"amount\": 2, \"confidence\": 0.7}\n```", nil
		}
		return "unused", nil
	}}
	b := New(Config{Classifier: rules(), LLM: gen})

	res := b.Process(context.Background(), "???", true)

	in, ok := res.Intent.(types.AutomationIntent)
	if !ok || in.Action != types.ActionScroll || in.Direction != types.DirectionUp || in.Amount != 2 {
		t.Fatalf("intent = %#v", res.Intent)
	}
	if !strings.Contains(res.Reply, "Scroll up by 2 units") {
		t.Errorf("reply = %q", res.Reply)
	}
	if b.Metrics().Get().LLMFallbacks != 1 {
		t.Error("fallback not counted")
	}
}

func TestUnknownTierKeepsRuleResultOnBadModelAnswer(t *testing.T) {
	gen := &fakeGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "desktop automation") {
			return `{"action": "launch_rockets"}`, nil
		}
		return "I am not sure what you mean.", nil
	}}
	b := New(Config{Classifier: rules(), LLM: gen})

	res := b.Process(context.Background(), "???", true)
	chat, ok := res.Intent.(types.ChatIntent)
	if !ok || chat.Tier != types.ChatUnknown || chat.Confidence != 0.1 {
		t.Errorf("intent = %#v", res.Intent)
	}
}

func TestPanicBecomesApology(t *testing.T) {
	store := jsonStore(t)
	b := New(Config{
		Classifier: classifierFunc(func(string) types.Intent { panic("classifier exploded") }),
		Store:      store,
	})

	res := b.Process(context.Background(), "anything", true)

	if !res.IsError || !strings.HasPrefix(res.Reply, "Sorry, I encountered an error: classifier exploded") {
		t.Errorf("result = %+v", res)
	}
	if _, ok := res.Intent.(types.ErrorIntent); !ok {
		t.Errorf("intent = %#v", res.Intent)
	}
	recs, _ := store.LoadRecent(context.Background(), 0)
	if len(recs) != 1 || recs[0].IntentType() != types.TypeError {
		t.Errorf("stored = %+v", recs)
	}
	if b.Metrics().Get().TurnsFailed != 1 {
		t.Error("failed turn not counted")
	}
}

func TestPersistence(t *testing.T) {
	store := jsonStore(t)
	b := New(Config{Classifier: rules(), Store: store})
	ctx := context.Background()

	b.Process(ctx, "hello", true)
	b.Process(ctx, "help", true)

	recs, err := b.RecentMessages(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].UserMessage != "hello" || recs[1].IntentType() != types.TypeHelp {
		t.Errorf("stored = %+v", recs)
	}
	if !strings.HasPrefix(recs[0].AssistantMessage, "Hello! I'm Heimdall") {
		t.Errorf("stored reply = %q", recs[0].AssistantMessage)
	}
}

func TestPersistsTurnCancelledMidway(t *testing.T) {
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "heimdall.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &fakeExecutor{ExecuteFunc: func(_ context.Context, in types.AutomationIntent) types.ExecutionResult {
		cancel()
		return types.Succeeded("Scrolled down 5 units")
	}}
	b := New(Config{Classifier: rules(), Executor: exec, Store: store})

	b.Process(ctx, "scroll down 5", false)

	recs, err := b.RecentMessages(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].UserMessage != "scroll down 5" {
		t.Errorf("stored = %+v", recs)
	}
	if b.Metrics().Get().PersistenceFailure != 0 {
		t.Error("cancelled turn was not saved")
	}
}

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	b := New(Config{Classifier: rules(), Store: failingStore{}})
	res := b.Process(context.Background(), "help", true)
	if res.IsError || res.Reply != helpReply {
		t.Errorf("result = %+v", res)
	}
	if b.Metrics().Get().PersistenceFailure != 1 {
		t.Error("persistence failure not counted")
	}
}

func TestAutomationUnavailable(t *testing.T) {
	exec := &fakeExecutor{}
	b := New(Config{Classifier: rules(), Executor: exec, Capabilities: &capabilities.Available{Automation: false}})

	res := b.Process(context.Background(), "scroll down 2", false)
	if len(exec.calls) != 0 {
		t.Error("executor called although automation is unavailable")
	}
	if res.ExecutionResult == nil || res.ExecutionResult.Outcome != types.OutcomeUnavailable || res.Executed {
		t.Errorf("result = %+v", res)
	}
}

func TestGreetingAndVoiceReplies(t *testing.T) {
	b := New(Config{Classifier: rules()})
	b.now = func() time.Time { return time.Date(2026, 5, 4, 9, 15, 30, 0, time.Local) }

	res := b.Process(context.Background(), "hello", true)
	if !strings.Contains(res.Reply, "Time: 09:15:30") {
		t.Errorf("greeting = %q", res.Reply)
	}
	res = b.Process(context.Background(), "listen to my voice", true)
	if res.Reply != voiceUnavailableReply {
		t.Errorf("voice reply = %q", res.Reply)
	}
}

func TestPreviewPlan(t *testing.T) {
	b := New(Config{Classifier: rules(), Guard: guardFunc(func(in types.AutomationIntent) error {
		if in.Action == types.ActionClose {
			return &security.RefusedError{Reason: "no closing"}
		}
		return nil
	})})

	p := b.PreviewPlan("type hello world")
	if !p.Automation || !strings.Contains(p.Plan, `Type "hello world"`) {
		t.Errorf("preview = %+v", p)
	}
	if p := b.PreviewPlan("hello"); p.Automation || p.Plan != "" {
		t.Errorf("greeting preview = %+v", p)
	}
	if p := b.PreviewPlan("close notepad"); p.Refused != "no closing" || p.Plan != "" {
		t.Errorf("refused preview = %+v", p)
	}
}

type recorderFunc func(ctx context.Context) ([]byte, error)

func (f recorderFunc) Record(ctx context.Context) ([]byte, error) { return f(ctx) }

type transcriberFunc func(ctx context.Context, pcm []byte) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, pcm []byte) (string, error) { return f(ctx, pcm) }

type speakerFunc func(ctx context.Context, text string) error

func (f speakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

func TestListenAndSpeak(t *testing.T) {
	ctx := context.Background()
	b := New(Config{Classifier: rules()})
	if _, err := b.Listen(ctx); !errors.Is(err, ErrVoiceUnavailable) {
		t.Errorf("Listen() error = %v", err)
	}
	if err := b.Speak(ctx, "hi"); !errors.Is(err, ErrVoiceUnavailable) {
		t.Errorf("Speak() error = %v", err)
	}

	// constant signal well above the silence threshold
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i+1] = 0x40
	}
	var spoken string
	b = New(Config{
		Classifier:  rules(),
		Recorder:    recorderFunc(func(ctx context.Context) ([]byte, error) { return pcm, nil }),
		Transcriber: transcriberFunc(func(ctx context.Context, p []byte) (string, error) { return "read my screen", nil }),
		Speaker:     speakerFunc(func(ctx context.Context, text string) error { spoken = text; return nil }),
	})

	text, err := b.Listen(ctx)
	if err != nil || text != "read my screen" {
		t.Errorf("Listen() = %q, %v", text, err)
	}
	if err := b.SpeakReply(ctx, "I'll scroll down for you.\n\nExecution plan:\n1. Focus"); err != nil {
		t.Fatal(err)
	}
	if spoken != "I'll scroll down for you." {
		t.Errorf("spoken = %q", spoken)
	}
}
