package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, dlqKey(eID), dlqToMap(entry))
		p.ZAdd(ctx, dlqIDsKey, goredis.Z{Score: float64(entry.FailedAt.UnixMilli()), Member: eID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("socialq/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	// Without a queue filter the sorted set pages for us.
	start, stop := int64(0), int64(-1)
	if opts.Queue == "" {
		start = int64(opts.Offset)
		if opts.Limit > 0 {
			stop = start + int64(opts.Limit) - 1
		}
	}

	ids, err := s.client.ZRevRange(ctx, dlqIDsKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: list dlq: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, eID := range ids {
			cmds[i] = p.HGetAll(ctx, dlqKey(eID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Queue != "" {
		entries = paginate(entries, opts.Offset, opts.Limit)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, socialq.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("socialq/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return socialq.ErrDLQNotFound
	}

	if err := s.client.HSet(ctx, key, "replayed_at", time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("socialq/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, dlqIDsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("socialq/redis: purge dlq range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, eID := range ids {
		members[i] = eID
		keys[i] = dlqKey(eID)
	}

	var removed *goredis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, keys...)
		removed = p.ZRem(ctx, dlqIDsKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("socialq/redis: purge dlq: %w", err)
	}
	return removed.Val(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("socialq/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"job_name":     e.JobName,
		"queue":        e.Queue,
		"payload":      string(e.Payload),
		"error":        e.Error,
		"terminal":     strconv.FormatBool(e.Terminal),
		"attempts":     strconv.Itoa(e.Attempts),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("socialq/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])            //nolint:errcheck // written by dlqToMap
	attempts, _ := strconv.Atoi(m["attempts"])        //nolint:errcheck // written by dlqToMap
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // written by dlqToMap
	terminal, _ := strconv.ParseBool(m["terminal"])   //nolint:errcheck // written by dlqToMap

	return &dlq.Entry{
		ID:          eID,
		JobID:       jobID,
		JobName:     m["job_name"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Error:       m["error"],
		Terminal:    terminal,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    parseTime(m["failed_at"]),
		CreatedAt:   parseTime(m["created_at"]),
		ReplayedAt:  parseTimePtr(m["replayed_at"]),
	}, nil
}
