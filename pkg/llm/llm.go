// Package llm talks to OpenAI-compatible chat completion services.
package llm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrLLM marks a failed upstream call.
	ErrLLM = errors.New("llm request failed")
	// ErrTimeout marks an upstream call that exceeded its deadline.
	ErrTimeout = errors.New("llm request timed out")
)

// Response is a completed answer.
type Response struct {
	Answer   string
	Model    string
	Provider string
	Latency  time.Duration
}

// Service answers a prompt with the given model. Deadlines come from ctx.
type Service interface {
	Query(ctx context.Context, prompt, model string) (Response, error)
}

// ModelLister lists the models a service can answer with.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// classify marks err as ErrTimeout when the deadline passed, ErrLLM otherwise.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Mark(err, ErrTimeout)
	}
	return errors.Mark(err, ErrLLM)
}

// Backoff returns exponential backoff with up to 25% jitter either way, capped at 30s.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2+1)) - d/4
	return d + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
