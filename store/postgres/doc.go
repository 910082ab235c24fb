// Package postgres implements the socialq broker on PostgreSQL using
// pgx/v5 with raw SQL.
//
// Workers claim due jobs with UPDATE ... FOR UPDATE SKIP LOCKED, so two
// pollers never receive the same row. Schema changes ship as embedded SQL
// files applied by Migrate.
//
// Usage:
//
//	s, err := postgres.New(ctx, "postgres://localhost:5432/socialq")
//	if err := s.Migrate(ctx); err != nil { ... }
//	d, err := socialq.New(socialq.WithStore(s))
package postgres
