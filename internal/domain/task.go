// Package domain holds the render-farm task and transfer types shared by
// the orchestrator, the upload path and the infrastructure adapters.
// A render Task is polled through the farm until its subtasks finish:
// submit → render → done → download.
package domain

import "slices"

// TaskID identifies one render job on the farm.
type TaskID string

// StatusCode is the farm's status code for a render subtask.
type StatusCode string

const (
	StatusWaiting          StatusCode = "0"
	StatusRendering        StatusCode = "5"
	StatusPreRendering     StatusCode = "8"
	StatusStopped          StatusCode = "10"
	StatusArrearsStopped   StatusCode = "20"
	StatusTimeoutStopped   StatusCode = "23"
	StatusDone             StatusCode = "25"
	StatusDoneWithFailures StatusCode = "30" // done, some frames failed
	StatusAbandoned        StatusCode = "35"
	StatusTestDone         StatusCode = "40"
	StatusIllegal          StatusCode = "45" // unrecoverable
)

// RenderType classifies a subtask.
type RenderType string

const (
	RenderNormal  RenderType = "Normal"
	RenderRebuild RenderType = "Rebuild"
)

// TaskStatus is one task's status as reported by the farm.
type TaskStatus struct {
	ID          TaskID       `json:"task_id"`
	SubStatuses []StatusCode `json:"sub_statuses"`
	RenderTypes []RenderType `json:"render_types"`
	OutputNames []string     `json:"output_names"`
}

// HasStatus reports whether any subtask has the given code.
func (s TaskStatus) HasStatus(code StatusCode) bool {
	return slices.Contains(s.SubStatuses, code)
}

// DistinctStatuses returns the sorted set of subtask codes.
func (s TaskStatus) DistinctStatuses() []StatusCode {
	set := slices.Clone(s.SubStatuses)
	slices.Sort(set)
	return slices.Compact(set)
}

// CountRenderType returns how many subtasks carry the render type.
func (s TaskStatus) CountRenderType(rt RenderType) int {
	n := 0
	for _, t := range s.RenderTypes {
		if t == rt {
			n++
		}
	}
	return n
}

// TaskState is the orchestrator's view of a task in the working set.
type TaskState string

const (
	TaskPending        TaskState = "PENDING"
	TaskPartiallyDone  TaskState = "PARTIALLY_DONE"
	TaskPolicyComplete TaskState = "POLICY_COMPLETE"
	TaskTransferred    TaskState = "TRANSFERRED"
	TaskFailedTerminal TaskState = "FAILED_TERMINAL"
	TaskIllegal        TaskState = "ILLEGAL"
)

// IsTerminal returns true if the task leaves the working set in this state.
func (s TaskState) IsTerminal() bool {
	return s == TaskTransferred || s == TaskFailedTerminal
}

// TaskFailure is one entry of a run's failure list.
type TaskFailure struct {
	TaskID TaskID `json:"task_id"`
	Cause  error  `json:"-"`
}
