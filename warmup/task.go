package warmup

import "time"

// Status is the state of a warmup task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task reports the progress of one Warmup call.
type Task struct {
	ID            string
	PatternID     string
	Status        Status
	EntriesWarmed int
	// Error holds the failure message of a FAILED task.
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Entry is one key/value pair to warm.
type Entry[V any] struct {
	Key   string
	Value V
}
