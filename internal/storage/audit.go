package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vikthevar/Heimdall/pkg/types"
)

// Auditor writes execution attempts and results into the history store
type Auditor struct {
	store Store
}

// NewAuditor creates an auditor over store
func NewAuditor(store Store) *Auditor {
	return &Auditor{store: store}
}

type auditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"`
	Intent    types.AutomationIntent `json:"intent"`
	Success   *bool                  `json:"success,omitempty"`
	Outcome   types.Outcome          `json:"outcome,omitempty"`
	Result    string                 `json:"result,omitempty"`
}

// RecordExecution stores one audit record. result is nil for attempts.
func (a *Auditor) RecordExecution(ctx context.Context, event string, in types.AutomationIntent, result *types.ExecutionResult) error {
	entry := auditEntry{Timestamp: time.Now().UTC(), Event: event, Intent: in}
	summary := fmt.Sprintf("%s: %s", event, in.Action)
	if result != nil {
		entry.Success = &result.Success
		entry.Outcome = result.Outcome
		entry.Result = result.Message
		status := "SUCCESS"
		if !result.Success {
			status = "FAILED"
		}
		summary = fmt.Sprintf("%s: %s", event, status)
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	rec, err := NewRecord(summary, string(body), in)
	if err != nil {
		return err
	}
	_, err = a.store.Save(ctx, rec)
	return err
}
