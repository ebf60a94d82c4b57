// Package retry runs a fallible unit of work under a fixed attempt budget.
//
// The budget is local to one Do call: concurrent callers each get their own.
// Retries are immediate by default; a BaseDelay turns on capped exponential
// backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rayvision-network/rendersync/internal/domain"
)

// DefaultMaxAttempts is the transmitter retry budget.
const DefaultMaxAttempts = 10

// Config configures a Policy.
type Config struct {
	MaxAttempts int           // Attempts before the operation is terminal
	BaseDelay   time.Duration // Initial backoff delay (doubles each retry), 0 = immediate
	MaxDelay    time.Duration // Cap on backoff delay, 0 = uncapped
}

// DefaultConfig returns the production retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Policy wraps operations with a fixed attempt budget.
type Policy struct {
	config Config

	// Stats
	totalAttempts  atomic.Int64
	totalExhausted atomic.Int64
}

// New creates a policy. A non-positive MaxAttempts means one attempt.
func New(cfg Config) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Policy{config: cfg}
}

// MaxAttempts returns the per-operation budget.
func (p *Policy) MaxAttempts() int { return p.config.MaxAttempts }

// Do calls fn until it succeeds or the budget is spent. On the last failed
// attempt it returns a *domain.RetryExhaustedError naming op. Context
// cancellation between attempts returns the context error.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	var last error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		p.totalAttempts.Add(1)
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if attempt == p.config.MaxAttempts {
			break
		}
		if err := p.wait(ctx, attempt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	p.totalExhausted.Add(1)
	return &domain.RetryExhaustedError{
		Op:       op,
		Attempts: p.config.MaxAttempts,
		Last:     last,
	}
}

// wait sleeps for the backoff of the given attempt.
func (p *Policy) wait(ctx context.Context, attempt int) error {
	delay := p.Backoff(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the delay after the given failed attempt:
// baseDelay * 2^(attempt-1), capped at MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := p.config.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.config.MaxDelay > 0 && delay > p.config.MaxDelay {
			return p.config.MaxDelay
		}
	}
	if p.config.MaxDelay > 0 && delay > p.config.MaxDelay {
		return p.config.MaxDelay
	}
	return delay
}

// Stats holds policy counters.
type Stats struct {
	TotalAttempts  int64 `json:"total_attempts"`
	TotalExhausted int64 `json:"total_exhausted"` // Operations that spent their budget
}

// Stats returns the counters accumulated across all Do calls.
func (p *Policy) Stats() Stats {
	return Stats{
		TotalAttempts:  p.totalAttempts.Load(),
		TotalExhausted: p.totalExhausted.Load(),
	}
}
