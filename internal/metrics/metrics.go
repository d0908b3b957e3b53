package metrics

import (
	"sync/atomic"
)

// Metrics tracks operational counters for one running assistant.
type Metrics struct {
	TurnsProcessed     uint64 `json:"turns_processed"`
	TurnsFailed        uint64 `json:"turns_failed"`
	ActionsSimulated   uint64 `json:"actions_simulated"`
	ActionsExecuted    uint64 `json:"actions_executed"`
	ActionsFailed      uint64 `json:"actions_failed"`
	ActionsRefused     uint64 `json:"actions_refused"`
	LLMFallbacks       uint64 `json:"llm_fallbacks"`
	ScreenReads        uint64 `json:"screen_reads"`
	Transcriptions     uint64 `json:"transcriptions"`
	TasksCancelled     uint64 `json:"tasks_cancelled"`
	PersistenceFailure uint64 `json:"persistence_failures"`
}

// New returns a zeroed counter set.
func New() *Metrics { return &Metrics{} }

// TurnProcessed counts a completed user turn.
func (m *Metrics) TurnProcessed() { atomic.AddUint64(&m.TurnsProcessed, 1) }

// TurnFailed counts a turn that ended in the apology path.
func (m *Metrics) TurnFailed() { atomic.AddUint64(&m.TurnsFailed, 1) }

// ActionSimulated counts a plan rendered instead of executed.
func (m *Metrics) ActionSimulated() { atomic.AddUint64(&m.ActionsSimulated, 1) }

// ActionExecuted counts a successful execution.
func (m *Metrics) ActionExecuted() { atomic.AddUint64(&m.ActionsExecuted, 1) }

// ActionFailed counts an execution that did not succeed.
func (m *Metrics) ActionFailed() { atomic.AddUint64(&m.ActionsFailed, 1) }

// ActionRefused counts a guard refusal.
func (m *Metrics) ActionRefused() { atomic.AddUint64(&m.ActionsRefused, 1) }

// LLMFallback counts an unknown-tier turn handed to the model.
func (m *Metrics) LLMFallback() { atomic.AddUint64(&m.LLMFallbacks, 1) }

// ScreenRead counts an OCR pass.
func (m *Metrics) ScreenRead() { atomic.AddUint64(&m.ScreenReads, 1) }

// Transcription counts a recorded and transcribed utterance.
func (m *Metrics) Transcription() { atomic.AddUint64(&m.Transcriptions, 1) }

// TaskCancelled counts a cancelled task ticket.
func (m *Metrics) TaskCancelled() { atomic.AddUint64(&m.TasksCancelled, 1) }

// PersistFailed counts a history write that was dropped.
func (m *Metrics) PersistFailed() { atomic.AddUint64(&m.PersistenceFailure, 1) }

// Get returns a snapshot of the current counters.
func (m *Metrics) Get() Metrics {
	return Metrics{
		TurnsProcessed:     atomic.LoadUint64(&m.TurnsProcessed),
		TurnsFailed:        atomic.LoadUint64(&m.TurnsFailed),
		ActionsSimulated:   atomic.LoadUint64(&m.ActionsSimulated),
		ActionsExecuted:    atomic.LoadUint64(&m.ActionsExecuted),
		ActionsFailed:      atomic.LoadUint64(&m.ActionsFailed),
		ActionsRefused:     atomic.LoadUint64(&m.ActionsRefused),
		LLMFallbacks:       atomic.LoadUint64(&m.LLMFallbacks),
		ScreenReads:        atomic.LoadUint64(&m.ScreenReads),
		Transcriptions:     atomic.LoadUint64(&m.Transcriptions),
		TasksCancelled:     atomic.LoadUint64(&m.TasksCancelled),
		PersistenceFailure: atomic.LoadUint64(&m.PersistenceFailure),
	}
}
