// Package memstore is an in-process [store.Store]. Results are lost on
// restart; it is the default backend and the one tests use.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/transcriptalign/internal/store"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps encoded records in a map, so callers never share memory with
// stored results.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	max     int
	order   []string // insertion order for eviction
}

// Option configures a [Store].
type Option func(*Store)

// WithMaxEntries bounds the number of stored results; the oldest insert is
// evicted first. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		s.max = max(n, 0)
	}
}

// New returns an empty [Store].
func New(opts ...Option) *Store {
	s := &Store{records: make(map[string]store.Record)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save implements [store.Store].
func (s *Store) Save(_ context.Context, res *types.AlignmentResult) error {
	rec, err := store.NewRecord(res)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	for s.max > 0 && len(s.order) > s.max {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, id string) (*types.AlignmentResult, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Result()
}

// List implements [store.Store].
func (s *Store) List(_ context.Context, limit int) ([]store.Summary, error) {
	s.mu.RLock()
	out := make([]store.Summary, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Summary())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b store.Summary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if n := store.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping implements [store.Store]; it always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store].
func (s *Store) Close() error { return nil }
