package job

import (
	"time"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed terminally and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed and is scheduled for another attempt.
	StateRetrying State = "retrying"
)

// Queued reports whether jobs in state s are eligible for dequeue.
func (s State) Queued() bool {
	return s == StatePending || s == StateRetrying
}

// Job represents a unit of work to be processed by a worker.
type Job struct {
	socialq.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Exhausted reports whether the job has used its whole attempt budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
