package models

import "time"

// Session states recorded in the journal.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusStopped = "stopped"
)

// SessionRecord is one row of the session journal.
type SessionRecord struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	PID       int        `json:"pid"`
	Status    string     `json:"status"`
	ExitCode  *int       `json:"exit_code"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

// ChildStatus describes the executable spawned inside the terminal.
type ChildStatus struct {
	Path  string `json:"path"`
	Found bool   `json:"found"`
}

type HealthResponse struct {
	Status    string      `json:"status"`
	Session   string      `json:"session"`
	PID       int         `json:"pid"`
	Streaming bool        `json:"streaming"`
	Child     ChildStatus `json:"child"`
}

// InitResponse carries the output drained by initialize.
type InitResponse struct {
	Data string `json:"data"`
}

type WriteRequest struct {
	Data string `json:"data"`
}

type ResizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}
