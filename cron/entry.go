package cron

import "time"

// Entry is a recurring job schedule.
type Entry struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Queue    string `json:"queue"`
	JobName  string `json:"job_name"`
	Payload  []byte `json:"payload,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
}
