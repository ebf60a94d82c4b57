// Package orchestrator implements the task-completion polling loop.
//
// An Orchestrator owns a working set of task ids for one session. Each cycle
// it sleeps, queries the farm for the whole set in one batched call, decides
// per task whether the mode's completion predicate holds, transfers the
// task's outputs, and prunes resolved tasks. The loop ends when the set is
// empty; terminal per-task failures are collected and returned together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/infra/metrics"
	"github.com/rayvision-network/rendersync/internal/infra/retry"
)

// Config configures an orchestration session.
type Config struct {
	Mode         Mode
	PollInterval time.Duration // sleep before every cycle
	GracePeriod  time.Duration // settle time before a transfer, in modes that use it
	LocalPath    string        // default DefaultLocalPath()
	Layout       Layout
	Transfer     domain.TransferOptions
}

// DefaultConfig returns the production session defaults.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeSimple,
		PollInterval: 10 * time.Second,
		GracePeriod:  5 * time.Second,
		Transfer: domain.TransferOptions{
			MaxSpeed:       domain.DefaultMaxSpeed,
			FilenameFormat: true,
			Engine:         domain.EngineAspera,
			Network:        domain.NetworkAuto,
		},
	}
}

// CycleReport summarises one polling cycle.
type CycleReport struct {
	Cycle       int
	Pending     []domain.TaskID // working set after the cycle
	Transferred []domain.TaskID // removed this cycle after a successful transfer
	Failed      []domain.TaskID // removed this cycle as terminal failures
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithRetry sets the retry policy for modes that retry transfers.
func WithRetry(p *retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithRecorder persists the run to a ledger.
func WithRecorder(r domain.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logging sink.
func WithLogger(l domain.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver is called after every cycle.
func WithObserver(fn func(CycleReport)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// Orchestrator drives one polling session over a fixed set of tasks.
// Run is single-goroutine; Snapshot may be called concurrently.
type Orchestrator struct {
	cfg      Config
	rule     rule
	oracle   domain.StatusOracle
	xfer     *transferrer
	retry    *retry.Policy
	recorder domain.Recorder
	logger   domain.Logger
	observer func(CycleReport)
	runID    string
	started  time.Time

	mu          sync.RWMutex
	pending     []domain.TaskID
	transferred []domain.TaskID
	failures    []domain.TaskFailure
	cycle       int
	finished    bool
}

// New creates an orchestrator for ids. Duplicate ids are dropped so each
// task appears once in the working set.
func New(cfg Config, oracle domain.StatusOracle, invoker domain.TransferInvoker, ids []domain.TaskID, opts ...Option) (*Orchestrator, error) {
	r, ok := rules[cfg.Mode]
	if !ok {
		return nil, &domain.ConfigError{Field: "mode", Value: string(cfg.Mode)}
	}
	if err := cfg.Transfer.Validate(); err != nil {
		return nil, err
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = DefaultLocalPath()
	}

	seen := make(map[domain.TaskID]bool, len(ids))
	pending := make([]domain.TaskID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			pending = append(pending, id)
		}
	}

	o := &Orchestrator{
		cfg:     cfg,
		rule:    r,
		oracle:  oracle,
		pending: pending,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry == nil {
		o.retry = retry.New(retry.DefaultConfig())
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	o.xfer = &transferrer{
		invoker:   invoker,
		localPath: cfg.LocalPath,
		layout:    cfg.Layout,
		options:   cfg.Transfer,
	}
	return o, nil
}

// RunID identifies this session in logs and the ledger.
func (o *Orchestrator) RunID() string { return o.runID }

// Mode returns the session's mode.
func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// Run polls until the working set is empty. It returns a *domain.BatchError
// if any task failed terminally, a *domain.StatusQueryError or
// *domain.IllegalStateError if a cycle could not complete, or the context
// error on cancellation. After a status query error Run may be called again
// and resumes with the remaining tasks.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.started.IsZero() {
		o.started = time.Now()
	}
	o.startRun()
	o.logger.Printf("[orchestrator] run %s start: mode=%s task_ids=%v local_path=%s",
		o.runID, o.cfg.Mode, o.Pending(), o.cfg.LocalPath)

	for {
		if len(o.Pending()) == 0 {
			return o.finish()
		}
		if err := sleep(ctx, o.cfg.PollInterval); err != nil {
			return o.abort(err)
		}
		if err := o.runCycle(ctx); err != nil {
			return o.abort(err)
		}
	}
}

// runCycle performs one poll → classify → transfer → prune pass.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	ids := o.Pending()
	mode := o.cfg.Mode.String()

	statuses, err := o.oracle.TaskStatus(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.StatusQueryErrors.Inc()
		return asStatusQueryError(ids, err)
	}

	// Abort before any transfer of this cycle.
	for _, id := range ids {
		if st := statuses[id]; st.HasStatus(domain.StatusIllegal) {
			return &domain.IllegalStateError{TaskID: id, Codes: st.SubStatuses}
		}
	}

	o.mu.Lock()
	o.cycle++
	report := CycleReport{Cycle: o.cycle}
	o.mu.Unlock()

	for _, id := range ids {
		st, ok := statuses[id]
		if !ok {
			o.logger.Printf("[orchestrator] task %s missing from status response, keeping it", id)
			continue
		}
		st.ID = id

		res, err := o.step(ctx, st)
		if err != nil {
			return err
		}
		switch res.state {
		case domain.TaskTransferred:
			o.remove(id, nil)
			report.Transferred = append(report.Transferred, id)
			metrics.TasksResolved.WithLabelValues(mode, "transferred").Inc()
		case domain.TaskFailedTerminal:
			o.remove(id, res.cause)
			report.Failed = append(report.Failed, id)
			metrics.TasksResolved.WithLabelValues(mode, "failed").Inc()
		}
	}

	report.Pending = o.Pending()
	metrics.PollCycles.WithLabelValues(mode).Inc()
	metrics.WorkingSetSize.WithLabelValues(mode).Set(float64(len(report.Pending)))
	if o.observer != nil {
		o.observer(report)
	}
	return nil
}

// stepResult is the outcome of one task in one cycle.
type stepResult struct {
	state domain.TaskState
	cause error
}

// step evaluates one task and transfers it when the mode says so.
func (o *Orchestrator) step(ctx context.Context, st domain.TaskStatus) (stepResult, error) {
	id := st.ID
	ended := false
	if o.rule.needsEnd {
		var err error
		if ended, err = o.isTaskEnd(ctx, id); err != nil {
			return stepResult{}, err
		}
	}

	state := o.cfg.Mode.Classify(st, ended)
	if state != domain.TaskPolicyComplete {
		return stepResult{state: state}, nil
	}

	if o.rule.grace {
		if err := sleep(ctx, o.cfg.GracePeriod); err != nil {
			return stepResult{}, err
		}
	}
	if ended {
		o.logger.Printf("[orchestrator] the task ended: %s", id)
	}

	xferErr := o.transferTask(ctx, st)
	if ctx.Err() != nil {
		return stepResult{}, ctx.Err()
	}

	switch {
	case o.rule.keepUntilEnded:
		if !ended {
			return stepResult{state: domain.TaskPending}, nil
		}
		if xferErr != nil {
			return stepResult{state: domain.TaskFailedTerminal, cause: xferErr}, nil
		}
		return stepResult{state: domain.TaskTransferred}, nil

	case xferErr == nil:
		return stepResult{state: domain.TaskTransferred}, nil

	case o.rule.failIfEnded:
		ended, err := o.isTaskEnd(ctx, id)
		if err != nil {
			return stepResult{}, err
		}
		if !ended {
			o.logger.Printf("[orchestrator] task %s transfer failed, retrying next cycle: %v", id, xferErr)
			return stepResult{state: domain.TaskPending}, nil
		}
		return stepResult{state: domain.TaskFailedTerminal, cause: xferErr}, nil

	default:
		return stepResult{state: domain.TaskFailedTerminal, cause: xferErr}, nil
	}
}

// transferTask downloads a task's targets, under the retry policy when the
// mode asks for it, and records every attempt.
func (o *Orchestrator) transferTask(ctx context.Context, st domain.TaskStatus) error {
	targets := o.xfer.targets(st)
	if len(targets) == 0 {
		o.logger.Printf("[orchestrator] task %s has no output files", st.ID)
	}

	attempt := func(ctx context.Context, _ int) error {
		err := o.xfer.download(ctx, targets)
		o.recordTransfer(st.ID, err)
		return err
	}

	if !o.rule.retry {
		return attempt(ctx, 1)
	}
	op := fmt.Sprintf("download task %s", st.ID)
	err := o.retry.Do(ctx, op, attempt)
	if errors.Is(err, domain.ErrRetryExhausted) {
		metrics.RetriesExhausted.WithLabelValues("download").Inc()
	}
	return err
}

// isTaskEnd asks the farm whether a task ended.
func (o *Orchestrator) isTaskEnd(ctx context.Context, id domain.TaskID) (bool, error) {
	ended, err := o.oracle.IsTaskEnd(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		metrics.StatusQueryErrors.Inc()
		return false, asStatusQueryError([]domain.TaskID{id}, err)
	}
	return ended, nil
}

// remove drops a task from the working set. A non-nil cause records a
// terminal failure.
func (o *Orchestrator) remove(id domain.TaskID, cause error) {
	o.mu.Lock()
	o.pending = slices.DeleteFunc(o.pending, func(p domain.TaskID) bool { return p == id })
	if cause == nil {
		o.transferred = append(o.transferred, id)
	} else {
		o.failures = append(o.failures, domain.TaskFailure{TaskID: id, Cause: cause})
	}
	o.mu.Unlock()

	if cause != nil {
		o.logger.Printf("[orchestrator] task %s failed: %v", id, cause)
		if o.recorder != nil {
			if err := o.recorder.InsertFailure(o.runID, domain.TaskFailure{TaskID: id, Cause: cause}); err != nil {
				o.logger.Printf("[orchestrator] WARNING: record failure for %s: %v", id, err)
			}
		}
	}
}

// finish ends a drained run.
func (o *Orchestrator) finish() error {
	o.mu.Lock()
	o.finished = true
	failures := slices.Clone(o.failures)
	o.mu.Unlock()

	if len(failures) > 0 {
		err := &domain.BatchError{Failures: failures}
		o.finishRun(domain.RunFailed, err)
		o.logger.Printf("[orchestrator] run %s end: %v", o.runID, err)
		return err
	}
	o.finishRun(domain.RunSucceeded, nil)
	o.logger.Printf("[orchestrator] run %s end", o.runID)
	return nil
}

// abort ends a run that could not complete a cycle.
func (o *Orchestrator) abort(err error) error {
	o.logger.Printf("[orchestrator] run %s stopped: %v", o.runID, err)
	o.finishRun(domain.RunAborted, err)
	return err
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (o *Orchestrator) startRun() {
	if o.recorder == nil {
		return
	}
	err := o.recorder.StartRun(domain.RunRecord{
		ID:        o.runID,
		Mode:      o.cfg.Mode.String(),
		TaskIDs:   o.Pending(),
		Status:    domain.RunActive,
		StartedAt: o.started,
	})
	if err != nil {
		o.logger.Printf("[orchestrator] WARNING: record run start: %v", err)
	}
}

func (o *Orchestrator) finishRun(status domain.RunStatus, cause error) {
	if o.recorder == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := o.recorder.FinishRun(o.runID, status, msg); err != nil {
		o.logger.Printf("[orchestrator] WARNING: record run end: %v", err)
	}
}

func (o *Orchestrator) recordTransfer(id domain.TaskID, cause error) {
	if o.recorder == nil {
		return
	}
	rec := domain.TransferRecord{
		RunID:     o.runID,
		TaskID:    id,
		Type:      domain.TransmitDownloadPath,
		Succeeded: cause == nil,
		At:        time.Now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := o.recorder.InsertTransfer(rec); err != nil {
		o.logger.Printf("[orchestrator] WARNING: record transfer for %s: %v", id, err)
	}
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// Pending returns a copy of the working set in iteration order.
func (o *Orchestrator) Pending() []domain.TaskID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.pending)
}

// Failures returns a copy of the failure list.
func (o *Orchestrator) Failures() []domain.TaskFailure {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.failures)
}

// FailureView is a failure rendered for JSON.
type FailureView struct {
	TaskID domain.TaskID `json:"task_id"`
	Error  string        `json:"error"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	RunID       string          `json:"run_id"`
	Mode        Mode            `json:"mode"`
	Cycle       int             `json:"cycle"`
	Pending     []domain.TaskID `json:"pending"`
	Transferred []domain.TaskID `json:"transferred"`
	Failures    []FailureView   `json:"failures"`
	StartedAt   time.Time       `json:"started_at"`
	Finished    bool            `json:"finished"`
}

// Snapshot returns the session state. Safe to call while Run is active.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := Snapshot{
		RunID:       o.runID,
		Mode:        o.cfg.Mode,
		Cycle:       o.cycle,
		Pending:     slices.Clone(o.pending),
		Transferred: slices.Clone(o.transferred),
		Failures:    make([]FailureView, 0, len(o.failures)),
		StartedAt:   o.started,
		Finished:    o.finished,
	}
	for _, f := range o.failures {
		s.Failures = append(s.Failures, FailureView{TaskID: f.TaskID, Error: f.Cause.Error()})
	}
	return s
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// asStatusQueryError makes sure oracle failures carry ErrStatusQuery.
func asStatusQueryError(ids []domain.TaskID, err error) error {
	var sqe *domain.StatusQueryError
	if errors.As(err, &sqe) {
		return err
	}
	return &domain.StatusQueryError{IDs: ids, Err: err}
}
