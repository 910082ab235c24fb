package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

const jobColumns = `
	id, name, queue, payload, state, attempts, max_attempts,
	last_error, worker_id, run_at, started_at, completed_at, heartbeat_at,
	timeout, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO socialq_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Attempts, j.MaxAttempts, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return socialq.ErrJobAlreadyExists
		}
		return fmt.Errorf("socialq/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues (all queues when empty), sets them to running, and returns them
// ordered by run_at.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE socialq_jobs
			SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM socialq_jobs
				WHERE state IN ('pending', 'retrying')
				  AND (cardinality($1::text[]) = 0 OR queue = ANY($1))
				  AND run_at <= NOW()
				ORDER BY run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("socialq/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM socialq_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, socialq.ErrJobNotFound
		}
		return nil, fmt.Errorf("socialq/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job. A pending or retrying
// job becomes due again at its run_at without further bookkeeping.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE socialq_jobs SET
			name = $2, queue = $3, payload = $4, state = $5,
			attempts = $6, max_attempts = $7, last_error = $8, worker_id = $9,
			run_at = $10, started_at = $11, completed_at = $12, heartbeat_at = $13,
			timeout = $14, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.Attempts, j.MaxAttempts, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("socialq/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return socialq.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM socialq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("socialq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return socialq.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var f filter
	f.add("state = $%d", string(state))
	if opts.Queue != "" {
		f.add("queue = $%d", opts.Queue)
	}
	query := `SELECT ` + jobColumns + ` FROM socialq_jobs` + f.where() +
		` ORDER BY created_at ASC` + f.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("socialq/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE socialq_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("socialq/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return socialq.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat, or start time
// when none was recorded, is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM socialq_jobs
		WHERE state = 'running'
		  AND COALESCE(heartbeat_at, started_at) < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("socialq/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var f filter
	if opts.Queue != "" {
		f.add("queue = $%d", opts.Queue)
	}
	if opts.State != "" {
		f.add("state = $%d", string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM socialq_jobs`+f.where(), f.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("socialq/postgres: count jobs: %w", err)
	}
	return count, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &workerStr, &j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("socialq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("socialq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("socialq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
