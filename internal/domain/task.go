package domain

import "time"

// TaskState represents the lifecycle states of an asynchronous task.
// Valid transitions: pending -> running -> completed or failed. A pending
// task may also move straight to cancelled.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// IsTerminal returns true if the state admits no further transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// Task is a point-in-time snapshot of one asynchronous unit of work.
// Result carries the callable's return value once the task completes;
// Error carries the failure message once it fails.
type Task struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Priority    int        `json:"priority"`
	State       TaskState  `json:"state"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
