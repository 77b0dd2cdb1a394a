package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Archive is the durable record of one completed interview. The live
// session lives in the in-memory store; on completion its summary is
// written here so history survives restarts.
type Archive struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	RoleID      string    `json:"role_id"`
	CompletedAt time.Time `json:"completed_at"`
	SummaryJSON string    `json:"summary_json"`
}

// Job is one queued unit of deferred work (feedback refinement).
type Job struct {
	ID          string
	Type        string
	Ref         string // session id the job belongs to
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
