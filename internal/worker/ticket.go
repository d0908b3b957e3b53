package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket tracks one submitted job.
type Ticket struct {
	id      string
	name    string
	job     Job
	created time.Time
	done    chan struct{}

	mu       sync.Mutex
	status   Status
	result   any
	err      error
	started  time.Time
	finished time.Time
}

// Snapshot is the JSON view of a ticket.
type Snapshot struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newTicket(name string, job Job) *Ticket {
	return &Ticket{
		id:      uuid.NewString(),
		name:    name,
		job:     job,
		created: time.Now(),
		done:    make(chan struct{}),
		status:  StatusQueued,
	}
}

func (t *Ticket) ID() string { return t.id }

func (t *Ticket) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Done is closed once the ticket reaches a terminal status.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket finishes or ctx ends.
func (t *Ticket) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Cancel marks the ticket cancelled. A queued job never starts. A running
// job keeps its context and runs to completion so an action already under
// way is not cut off; its result is discarded. Returns false if the ticket
// had already finished.
func (t *Ticket) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case StatusQueued:
		t.status = StatusCancelled
		t.err = ErrCancelled
		t.finished = time.Now()
		close(t.done)
		return true
	case StatusRunning:
		t.status = StatusCancelled
		return true
	default:
		return false
	}
}

// Snapshot copies the ticket state.
func (t *Ticket) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{ID: t.id, Name: t.name, Status: t.status, Result: t.result, CreatedAt: t.created}
	if t.err != nil {
		s.Error = t.err.Error()
	}
	if !t.started.IsZero() {
		started := t.started
		s.StartedAt = &started
	}
	if !t.finished.IsZero() {
		finished := t.finished
		s.FinishedAt = &finished
	}
	return s
}

// start moves a queued ticket to running. It reports false when the
// ticket was cancelled while waiting.
func (t *Ticket) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusQueued {
		return false
	}
	t.status = StatusRunning
	t.started = time.Now()
	return true
}

func (t *Ticket) finish(res any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now()
	switch {
	case t.status == StatusCancelled:
		t.result, t.err = nil, ErrCancelled
	case err != nil:
		t.status, t.err = StatusFailed, err
	default:
		t.status, t.result = StatusSucceeded, res
	}
	close(t.done)
}
