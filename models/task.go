package models

import (
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

const TypePrintPhoto = "print-photo"

// Terminal reports whether the status can no longer transition.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the unit of queued work. At most one live (pending or
// processing) task exists per StorageKey.
type Task struct {
	ID           string
	TraceID      string
	Type         string
	StorageKey   string
	PhotoID      string
	LocationName string
	Priority     int
	Attempts     int
	MaxAttempts  int
	Status       TaskStatus
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time

	// NotBefore delays dispatch after a retry backoff.
	NotBefore time.Time

	// Seq breaks ties between tasks with equal priority and
	// creation time, keeping dispatch order FIFO-stable.
	Seq uint64
}

// Live reports whether the task still occupies its StorageKey slot.
func (t *Task) Live() bool {
	return !t.Status.Terminal()
}
