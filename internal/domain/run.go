package domain

import "time"

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	// RunPaused exists for API compatibility; pause/resume is not implemented.
	RunPaused RunStatus = "paused"
	RunDone   RunStatus = "done"
	RunFailed RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state
func (s RunStatus) Terminal() bool {
	return s == RunDone || s == RunFailed
}

// TaskStatus represents the state of a single target row within a run
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
	TaskSkipped TaskStatus = "skipped"
)

// Run is the pollable summary of one worker execution.
// Invariant while running: Success + Failed + InProgress == Total.
// In terminal states InProgress is always 0.
type Run struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Total      int        `json:"total"`
	Success    int        `json:"success"`
	Failed     int        `json:"failed"`
	InProgress int        `json:"inProgress"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// TaskRow is one per-URL outcome reported by the worker
type TaskRow struct {
	URL        string     `json:"url"`
	Status     TaskStatus `json:"status"`
	DurationMs *int64     `json:"durationMs,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunDetail is a Run plus its task rows, returned by the status endpoint
type RunDetail struct {
	Run
	Tasks []TaskRow `json:"tasks"`
}
