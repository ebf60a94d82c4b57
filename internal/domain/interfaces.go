package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the application layer depends on them.

// StatusOracle queries the farm's task-management API. Implementations must
// be safe to call repeatedly; no snapshot atomicity across ids is implied.
type StatusOracle interface {
	// TaskStatus returns the status of every requested task in one call.
	TaskStatus(ctx context.Context, ids []TaskID) (map[TaskID]TaskStatus, error)

	// IsTaskEnd reports whether the farm considers the task finished.
	IsTaskEnd(ctx context.Context, id TaskID) (bool, error)
}

// TransferInvoker runs the external transmitter once. A nonzero exit code
// is a failed transfer; err is reserved for failing to run at all.
type TransferInvoker interface {
	Invoke(ctx context.Context, spec TransferSpec) (exitCode int, err error)
}

// Logger is the logging sink components write to. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Recorder persists the orchestration ledger. Implemented by infra/sqlite.DB.
type Recorder interface {
	StartRun(run RunRecord) error
	FinishRun(id string, status RunStatus, errMsg string) error
	InsertTransfer(rec TransferRecord) error
	InsertFailure(runID string, f TaskFailure) error
}

// UploadRecorder remembers uploaded files under a caller-provided flag.
// Implemented by infra/redisrec.Recorder and infra/sqlite.DB.
type UploadRecorder interface {
	RecordUpload(ctx context.Context, flag, path string) error
}

// ─── Ledger Records ─────────────────────────────────────────────────────────

// RunStatus tracks an orchestration run.
type RunStatus string

const (
	RunActive    RunStatus = "ACTIVE"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunAborted   RunStatus = "ABORTED"
)

// RunRecord is one orchestration session.
type RunRecord struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	TaskIDs    []TaskID  `json:"task_ids"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// TransferRecord is one transfer attempt for a task.
type TransferRecord struct {
	ID        int64        `json:"id"`
	RunID     string       `json:"run_id"`
	TaskID    TaskID       `json:"task_id"`
	Type      TransmitType `json:"type"`
	Succeeded bool         `json:"succeeded"`
	Error     string       `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}
