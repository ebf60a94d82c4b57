package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency. The typed errors
// below wrap them so callers can match with errors.Is.

var (
	ErrStatusQuery              = errors.New("task status query failed")
	ErrTransferFailed           = errors.New("transfer failed")
	ErrTransferBatchFailed      = errors.New("transfers failed for one or more tasks")
	ErrRetryExhausted           = errors.New("retry attempts exhausted")
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
	ErrUnsupportedDatabase      = errors.New("unsupported database type")
	ErrIllegalRemoteState       = errors.New("task reported an unrecoverable status")
	ErrMissingTargets           = errors.New("one of task ids or server paths must be given")
	ErrTransmitterNotFound      = errors.New("transmitter executable not found")
)

// StatusQueryError is a transport or decode failure against the status API.
type StatusQueryError struct {
	IDs []TaskID
	Err error
}

func (e *StatusQueryError) Error() string {
	return fmt.Sprintf("query status for %v: %v", e.IDs, e.Err)
}

func (e *StatusQueryError) Unwrap() []error { return []error{ErrStatusQuery, e.Err} }

// TransferError is one transmitter run that exited nonzero.
type TransferError struct {
	Target   string
	ExitCode int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s transfer failed (exit code %d)", e.Target, e.ExitCode)
}

func (e *TransferError) Unwrap() error { return ErrTransferFailed }

// RetryExhaustedError is returned once a retry budget is spent.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() []error { return []error{ErrRetryExhausted, e.Last} }

// BatchError aggregates the terminal per-task failures of one run.
type BatchError struct {
	Failures []TaskFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.TaskID, f.Cause))
	}
	return fmt.Sprintf("finally tasks transfer failed: [%s]", strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() error { return ErrTransferBatchFailed }

// TaskIDs returns the failed ids in order.
func (e *BatchError) TaskIDs() []TaskID {
	ids := make([]TaskID, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.TaskID)
	}
	return ids
}

// ConfigError is an invalid configuration value. It fails fast and is
// never retried.
type ConfigError struct {
	Field string
	Value string
	Err   error // ErrUnsupportedConfiguration unless more specific
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Field, e.Value, e.cause())
}

func (e *ConfigError) cause() error {
	if e.Err == nil {
		return ErrUnsupportedConfiguration
	}
	return e.Err
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrUnsupportedConfiguration, e.cause()}
}

// IllegalStateError is raised when a subtask reports StatusIllegal.
type IllegalStateError struct {
	TaskID TaskID
	Codes  []StatusCode
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("task %s: subtask statuses %v include illegal code %s", e.TaskID, e.Codes, StatusIllegal)
}

func (e *IllegalStateError) Unwrap() error { return ErrIllegalRemoteState }
