package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/dlq"
	"github.com/xraph/socialq/id"
)

const dlqColumns = `
	id, job_id, job_name, queue, payload, error, terminal,
	attempts, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO socialq_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.JobID.String(), entry.JobName,
		entry.Queue, entry.Payload, entry.Error, entry.Terminal,
		entry.Attempts, entry.MaxAttempts,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("socialq/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var f filter
	if opts.Queue != "" {
		f.add("queue = $%d", opts.Queue)
	}
	query := `SELECT ` + dlqColumns + ` FROM socialq_dlq` + f.where() +
		` ORDER BY failed_at DESC` + f.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("socialq/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("socialq/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("socialq/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM socialq_dlq WHERE id = $1`, entryID.String())

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, socialq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("socialq/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE socialq_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("socialq/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return socialq.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM socialq_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("socialq/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM socialq_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("socialq/postgres: count dlq: %w", err)
	}
	return count, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.JobName, &e.Queue, &e.Payload, &e.Error, &e.Terminal,
		&e.Attempts, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("socialq/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("socialq/postgres: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	e.JobID = parsedJobID
	return &e, nil
}
