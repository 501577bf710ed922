// Package supabase is a [store.Store] backed by a Supabase project's REST
// API (PostgREST). It expects the table created by the postgres backend's
// Migrate to exist in the project's public schema.
//
// The PostgREST client has no context support; ctx is only checked before
// each request.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

var _ store.Store = (*Store)(nil)

const summaryColumns = "id,source,match_rate,degraded,segments,created_at"

// Store talks to one table through the Supabase client.
type Store struct {
	client *supa.Client
	table  string
}

// New creates a client for the project at url using key (normally the
// service_role key). An empty table selects "alignments".
func New(url, key, table string) (*Store, error) {
	if table == "" {
		table = "alignments"
	}
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase store: create client: %w", err)
	}
	return &Store{client: client, table: table}, nil
}

// Save implements [store.Store]. Rows are upserted on id.
func (s *Store) Save(ctx context.Context, res *types.AlignmentResult) error {
	rec, err := store.NewRecord(res)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err = s.client.From(s.table).
		Insert(rec, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase store: save %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id string) (*types.AlignmentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []store.Record
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase store: get %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0].Result()
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, limit int) ([]store.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []store.Record
	_, err := s.client.From(s.table).
		Select(summaryColumns, "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(store.Limit(limit), "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase store: list: %w", err)
	}
	out := make([]store.Summary, len(rows))
	for i, r := range rows {
		out[i] = r.Summary()
	}
	return out, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, _, err := s.client.From(s.table).
		Delete("representation", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("supabase store: delete %s: %w", id, err)
	}
	var deleted []json.RawMessage
	if err := json.Unmarshal(body, &deleted); err != nil {
		return fmt.Errorf("supabase store: delete %s: decode response: %w", id, err)
	}
	if len(deleted) == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping implements [store.Store] by selecting at most one id from the table.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.client.From(s.table).
		Select("id", "", false).
		Limit(1, "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase store: ping: %w", err)
	}
	return nil
}

// Close implements [store.Store]. The client holds no resources.
func (s *Store) Close() error { return nil }
