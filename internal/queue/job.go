package queue

import (
	"encoding/json"
	"time"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one render request: a (user, composition) pair plus the opaque
// payload the rendering engine consumes.
type Job struct {
	ID          string          `json:"id"`
	User        string          `json:"user"`
	Composition string          `json:"composition"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	// Result holds the public artifact URL once completed.
	Result string `json:"result,omitempty"`
	// Error holds the failure description once failed.
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Key returns the dedup key for the job.
func (j *Job) Key() string {
	return Key(j.User, j.Composition)
}

// Key builds the dedup key for a (user, composition) pair.
func Key(user, composition string) string {
	return user + ":" + composition
}
