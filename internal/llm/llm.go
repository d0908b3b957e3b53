// Package llm talks to a local language model server. It is optional:
// callers treat ErrUnavailable and ErrTimeout as "fall back to rules".
package llm

import (
	"context"
	"errors"
	"net"
	"time"
)

// DefaultTimeout bounds a single generation request
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnavailable means the model server could not be reached or refused the request
	ErrUnavailable = errors.New("language model unavailable")
	// ErrTimeout means the model did not answer within the timeout
	ErrTimeout = errors.New("language model timed out")
)

// Generator produces a completion for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// classify maps transport errors onto the package sentinels
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return errors.Join(ErrUnavailable, err)
}
