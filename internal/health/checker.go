// Package health runs periodic checks of the components a transfer run
// depends on: the ledger, the upload recorder, the transmitter executable
// and the download directory.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultInterval is how often Run repeats the checks.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a checker over checks.
func NewChecker(checks ...Check) *Checker {
	return &Checker{
		interval: DefaultInterval,
		checks:   checks,
	}
}

// Add appends a check. Not safe while Run is active.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}

// RunAll runs every check once and stores the results.
func (c *Checker) RunAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			// Attempt recovery
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// Pinger is satisfied by the sqlite ledger.
type Pinger interface {
	Ping() error
}

// ContextPinger is satisfied by the Redis recorder.
type ContextPinger interface {
	Ping(ctx context.Context) error
}

// LedgerCheck pings the run ledger.
func LedgerCheck(db Pinger) Check {
	return Check{
		Name:    "ledger",
		CheckFn: func(ctx context.Context) error { return db.Ping() },
		RecoverFn: func(ctx context.Context) error {
			return nil // SQLite auto-recovers via WAL
		},
	}
}

// RedisCheck pings the Redis upload recorder.
func RedisCheck(r ContextPinger) Check {
	return Check{
		Name: "redis",
		CheckFn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return r.Ping(ctx)
		},
	}
}

// TransmitterCheck verifies the transmitter executable is still in place.
func TransmitterCheck(path string) Check {
	return Check{
		Name: "transmitter",
		CheckFn: func(ctx context.Context) error {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("transmitter: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("transmitter %s is a directory", path)
			}
			return nil
		},
	}
}

// DirCheck verifies dir is a directory. A missing dir is healthy; the
// transmitter creates it on the first download.
func DirCheck(name, dir string) Check {
	return Check{
		Name:    name,
		CheckFn: func(ctx context.Context) error { return checkDir(dir) },
	}
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Not created yet
		}
		return fmt.Errorf("check dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
