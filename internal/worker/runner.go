// Package worker runs user turns one at a time on a single consumer
// goroutine. Callers get a Ticket they can wait on or cancel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("task runner stopped")
	// ErrCancelled is the error of a cancelled ticket.
	ErrCancelled = errors.New("task cancelled")
)

// Job is one unit of work. Its context ends on Shutdown or when the job
// timeout passes; cancelling the ticket does not touch it.
type Job func(ctx context.Context) (any, error)

// Status is the lifecycle state of a ticket
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Config configures a Runner.
type Config struct {
	QueueSize int
	// JobTimeout bounds each job; zero means no limit
	JobTimeout time.Duration
	// KeepFinished is how many finished tickets stay queryable by ID
	KeepFinished int
}

// Runner owns the queue and the consumer goroutine.
type Runner struct {
	cfg    Config
	queue  chan *Ticket
	logger *zap.Logger

	mu       sync.Mutex
	tickets  map[string]*Ticket
	finished []string
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner starts a runner.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.KeepFinished <= 0 {
		cfg.KeepFinished = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:     cfg,
		queue:   make(chan *Ticket, cfg.QueueSize),
		logger:  logger,
		tickets: make(map[string]*Ticket),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Submit enqueues job under a human-readable name.
func (r *Runner) Submit(name string, job Job) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, ErrStopped
	}

	t := newTicket(name, job)
	select {
	case r.queue <- t:
	default:
		return nil, ErrQueueFull
	}
	r.tickets[t.id] = t
	r.logger.Debug("Task queued", zap.String("task_id", t.id), zap.String("task", name))
	return t, nil
}

// Do submits job and waits for its result. If ctx ends first the ticket is
// cancelled: a queued job is skipped, a running one finishes unobserved.
func (r *Runner) Do(ctx context.Context, name string, job Job) (any, error) {
	t, err := r.Submit(name, job)
	if err != nil {
		return nil, err
	}
	res, err := t.Wait(ctx)
	if ctx.Err() != nil {
		t.Cancel()
	}
	return res, err
}

// Get looks up a live or recently finished ticket.
func (r *Runner) Get(id string) (*Ticket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	return t, ok
}

// QueueLength returns the number of tickets waiting to start.
func (r *Runner) QueueLength() int {
	return len(r.queue)
}

// Shutdown stops accepting work, cancels queued and running tickets and
// waits for the consumer to exit.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	// Submit holds mu while sending, so nothing enters the queue from here on.
	for {
		select {
		case t := <-r.queue:
			t.Cancel()
		default:
			return
		}
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case t := <-r.queue:
			r.run(t)
		}
	}
}

func (r *Runner) run(t *Ticket) {
	if r.ctx.Err() != nil {
		t.Cancel()
		return
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.cfg.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(r.ctx)
	}
	defer cancel()

	if !t.start() {
		r.logger.Debug("Skipping cancelled task", zap.String("task_id", t.id))
		r.retire(t)
		return
	}

	logger := r.logger.With(zap.String("task_id", t.id), zap.String("task", t.name))
	logger.Debug("Task started")

	res, err := r.safeRun(ctx, t.job)
	t.finish(res, err)
	r.retire(t)

	switch st := t.Status(); st {
	case StatusFailed:
		logger.Warn("Task failed", zap.Error(err))
	default:
		logger.Debug("Task finished", zap.String("status", string(st)))
	}
}

func (r *Runner) safeRun(ctx context.Context, job Job) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return job(ctx)
}

// retire records a finished ticket and forgets the oldest ones past KeepFinished.
func (r *Runner) retire(t *Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, t.id)
	for len(r.finished) > r.cfg.KeepFinished {
		delete(r.tickets, r.finished[0])
		r.finished = r.finished[1:]
	}
}
