package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// filter accumulates WHERE clauses with numbered placeholders.
type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// page appends LIMIT and OFFSET when set.
func (f *filter) page(limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		f.args = append(f.args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(f.args))
	}
	if offset > 0 {
		f.args = append(f.args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(f.args))
	}
	return sb.String()
}
