// Package postgres is a PostgreSQL-backed [store.Store]. Each result is one
// row: summary columns for listing plus the JSON document in a JSONB column.
//
// Usage:
//
//	s, err := postgres.New(ctx, dsn, "alignments")
//	if err != nil { … }
//	defer s.Close()
//	_ = s.Save(ctx, res)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store holds a single [pgxpool.Pool]. All operations are safe for
// concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

// New connects to the database at dsn, pings it, and runs [Migrate] for
// table. An empty table selects "alignments".
func New(ctx context.Context, dsn, table string) (*Store, error) {
	if table == "" {
		table = "alignments"
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, table); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

// Save implements [store.Store]. An existing row with the same ID is
// replaced.
func (s *Store) Save(ctx context.Context, res *types.AlignmentResult) error {
	rec, err := store.NewRecord(res)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, source, match_rate, degraded, segments, tokens, duration_ms, created_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			source      = EXCLUDED.source,
			match_rate  = EXCLUDED.match_rate,
			degraded    = EXCLUDED.degraded,
			segments    = EXCLUDED.segments,
			tokens      = EXCLUDED.tokens,
			duration_ms = EXCLUDED.duration_ms,
			created_at  = EXCLUDED.created_at,
			document    = EXCLUDED.document`, s.table)

	_, err = s.pool.Exec(ctx, q,
		rec.ID,
		rec.Source,
		rec.MatchRate,
		rec.Degraded,
		rec.Segments,
		rec.Tokens,
		rec.DurationMS,
		rec.CreatedAt,
		string(rec.Document),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (*types.AlignmentResult, error) {
	q := fmt.Sprintf(`
		SELECT id, source, match_rate, degraded, segments, tokens, duration_ms, created_at, document
		FROM %s WHERE id = $1`, s.table)

	var (
		rec store.Record
		doc []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID,
		&rec.Source,
		&rec.MatchRate,
		&rec.Degraded,
		&rec.Segments,
		&rec.Tokens,
		&rec.DurationMS,
		&rec.CreatedAt,
		&doc,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	rec.Document = doc
	return rec.Result()
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, limit int) ([]store.Summary, error) {
	q := fmt.Sprintf(`
		SELECT id, source, match_rate, degraded, segments, created_at
		FROM %s
		ORDER BY created_at DESC, id
		LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, q, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Summary, error) {
		var sum store.Summary
		err := row.Scan(&sum.ID, &sum.Source, &sum.MatchRate, &sum.Degraded, &sum.Segments, &sum.CreatedAt)
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return out, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [store.Store]. It closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
