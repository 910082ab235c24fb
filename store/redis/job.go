package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
)

// EnqueueJob stores the job as a Hash and adds it to its queue's Sorted
// Set in one transaction.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return socialq.ErrJobAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, jobToMap(j))
			p.SAdd(ctx, jobIDsKey, jID)
			p.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: runAtScore(j.RunAt), Member: jID})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, socialq.ErrJobAlreadyExists), errors.Is(err, goredis.TxFailedErr):
		return socialq.ErrJobAlreadyExists
	default:
		return fmt.Errorf("socialq/redis: enqueue job: %w", err)
	}
}

// DequeueJobs claims up to limit due jobs across the given queues. A job
// is owned by the caller whose ZREM removed it from the queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	dueBy := strconv.FormatInt(now.UnixMilli(), 10)
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		qk := queueKey(q)

		ids, err := s.client.ZRangeByScore(ctx, qk, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   dueBy,
			Count: int64(limit - len(jobs)),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("socialq/redis: dequeue range: %w", err)
		}

		for _, jID := range ids {
			removed, err := s.client.ZRem(ctx, qk, jID).Result()
			if err != nil {
				return jobs, fmt.Errorf("socialq/redis: dequeue claim: %w", err)
			}
			if removed == 0 {
				continue // another worker won
			}

			j, err := s.markRunning(ctx, jID, now)
			if errors.Is(err, socialq.ErrJobNotFound) || errors.Is(err, errClaimed) {
				continue // deleted while queued, or another worker marked it first
			}
			if err != nil {
				return jobs, err
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// errClaimed reports that a job left the queued states before this
// caller could mark it running.
var errClaimed = errors.New("socialq/redis: job already claimed")

// markRunning moves a claimed job to running. The state check and the
// write share one WATCH on the hash, so of two callers holding the same
// id only one succeeds. Any stray queue entry is dropped with it.
func (s *Store) markRunning(ctx context.Context, jID string, now time.Time) (*job.Job, error) {
	key := jobKey(jID)
	ts := now.Format(time.RFC3339Nano)

	var j *job.Job
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return socialq.ErrJobNotFound
		}
		if j, err = mapToJob(vals); err != nil {
			return err
		}
		if !j.State.Queued() {
			return errClaimed
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key,
				"state", string(job.StateRunning),
				"started_at", ts,
				"heartbeat_at", ts,
				"updated_at", ts,
			)
			p.ZRem(ctx, queueKey(j.Queue), jID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, socialq.ErrJobNotFound) || errors.Is(err, errClaimed) {
			return nil, err
		}
		return nil, fmt.Errorf("socialq/redis: dequeue mark running: %w", err)
	}

	started, beat := now, now
	j.State = job.StateRunning
	j.StartedAt = &started
	j.HeartbeatAt = &beat
	j.UpdatedAt = now
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job. Pending and retrying
// jobs are (re)scheduled on their queue at RunAt; any other state removes
// the job from the queue.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	cleared := clearedFields(j)

	err := s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return socialq.ErrJobNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, fields)
			if len(cleared) > 0 {
				p.HDel(ctx, key, cleared...)
			}
			if j.State.Queued() {
				p.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: runAtScore(j.RunAt), Member: jID})
			} else {
				p.ZRem(ctx, queueKey(j.Queue), jID)
			}
			return nil
		})
		return err
	}, key)

	if err != nil {
		if errors.Is(err, socialq.ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("socialq/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes the job hash, its ID and its queue entry atomically.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	err := s.watch(ctx, func(tx *goredis.Tx) error {
		q, err := tx.HGet(ctx, key, "queue").Result()
		if errors.Is(err, goredis.Nil) {
			return socialq.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, key)
			p.SRem(ctx, jobIDsKey, jID)
			p.ZRem(ctx, queueKey(q), jID)
			return nil
		})
		return err
	}, key)

	if err != nil {
		if errors.Is(err, socialq.ErrJobNotFound) {
			return err
		}
		return fmt.Errorf("socialq/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return socialq.ErrJobNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key,
				"heartbeat_at", now,
				"worker_id", workerID.String(),
				"updated_at", now,
			)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil, errors.Is(err, goredis.TxFailedErr):
		// A concurrent write means the job moved on; the next beat decides.
		return nil
	case errors.Is(err, socialq.ErrJobNotFound):
		return err
	default:
		return fmt.Errorf("socialq/redis: heartbeat job: %w", err)
	}
}

// ReapStaleJobs returns running jobs whose last heartbeat (or start, if
// none was recorded) is older than the threshold. It also re-adds queued
// jobs that lost their queue entry to a crash between claim and update.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: reap: %w", err)
	}

	var stale []*job.Job
	for _, j := range all {
		switch {
		case j.State == job.StateRunning:
			last := j.HeartbeatAt
			if last == nil {
				last = j.StartedAt
			}
			if last != nil && last.Before(cutoff) {
				stale = append(stale, j)
			}
		case j.State.Queued() && j.UpdatedAt.Before(cutoff):
			s.requeueOrphan(ctx, j.ID.String(), cutoff)
		}
	}
	return stale, nil
}

// requeueOrphan re-adds a queued job that is missing from its queue. The
// scan that found it may be stale, so the hash is re-read under WATCH and
// the job is requeued only if it is still queued, still idle since cutoff
// and still off the queue. A worker marking it running aborts the EXEC.
func (s *Store) requeueOrphan(ctx context.Context, jID string, cutoff time.Time) {
	key := jobKey(jID)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		vals, err := tx.HMGet(ctx, key, "state", "queue", "run_at", "updated_at").Result()
		if err != nil {
			return err
		}
		state, _ := vals[0].(string)
		q, _ := vals[1].(string)
		runAt, _ := vals[2].(string)
		updated, _ := vals[3].(string)
		if !job.State(state).Queued() || !parseTime(updated).Before(cutoff) {
			return nil
		}

		err = tx.ZScore(ctx, queueKey(q), jID).Err()
		if !errors.Is(err, goredis.Nil) {
			return err // nil: already queued
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.ZAddNX(ctx, queueKey(q), goredis.Z{Score: runAtScore(parseTime(runAt)), Member: jID})
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil, errors.Is(err, goredis.TxFailedErr):
		// A concurrent write means the job is being handled.
	default:
		s.logger.Warn("requeue orphaned job failed",
			slog.String("job_id", jID),
			slog.String("error", err.Error()),
		)
	}
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("socialq/redis: count jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	cmds := make([]*goredis.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, jID := range ids {
			cmds[i] = p.HMGet(ctx, jobKey(jID), "state", "queue")
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("socialq/redis: count jobs: %w", err)
	}

	var count int64
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 || vals[0] == nil {
			continue
		}
		st, _ := vals[0].(string)
		q, _ := vals[1].(string)
		if opts.State != "" && job.State(st) != opts.State {
			continue
		}
		if opts.Queue != "" && q != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// runAtScore is the queue score: due time in unix milliseconds. A zero
// RunAt is due immediately.
func runAtScore(runAt time.Time) float64 {
	if runAt.IsZero() {
		return 0
	}
	return float64(runAt.UnixMilli())
}

func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, jID := range ids {
			cmds[i] = p.HGetAll(ctx, jobKey(jID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue // deleted since SMEMBERS
		}
		j, convErr := mapToJob(vals)
		if convErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, socialq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"name":         j.Name,
		"queue":        j.Queue,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

// clearedFields lists the optional hash fields that are unset on j.
func clearedFields(j *job.Job) []string {
	var out []string
	if j.StartedAt == nil {
		out = append(out, "started_at")
	}
	if j.CompletedAt == nil {
		out = append(out, "completed_at")
	}
	if j.HeartbeatAt == nil {
		out = append(out, "heartbeat_at")
	}
	return out
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // written by jobToMap
	return t
}

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := parseTime(v)
	return &t
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // written by jobToMap
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // written by jobToMap
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // written by jobToMap

	j := &job.Job{
		Entity: socialq.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          jID,
		Name:        m["name"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		RunAt:       parseTime(m["run_at"]),
		Timeout:     time.Duration(timeout),
		StartedAt:   parseTimePtr(m["started_at"]),
		CompletedAt: parseTimePtr(m["completed_at"]),
		HeartbeatAt: parseTimePtr(m["heartbeat_at"]),
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // written by jobToMap
	}
	return j, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
