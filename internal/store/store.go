// Package store persists alignment results so that the API can serve them
// after the request that produced them has finished.
//
// Backends live in sub-packages: memstore (process memory), postgres (pgx,
// JSONB document column) and supabase (PostgREST over HTTPS). All of them
// persist a [Record]: summary columns plus the result's JSON document as
// produced by [format.MarshalResult].
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/transcriptalign/pkg/align/format"
	"github.com/MrWong99/transcriptalign/pkg/types"
)

// DefaultListLimit is used by List when limit is not positive.
const DefaultListLimit = 50

var (
	// ErrNotFound is returned by Get and Delete for unknown IDs.
	ErrNotFound = errors.New("store: alignment not found")

	// ErrMissingID is returned by Save for results without an ID.
	ErrMissingID = errors.New("store: alignment result has no ID")
)

// Store persists alignment results. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts or replaces the result with res.ID.
	Save(ctx context.Context, res *types.AlignmentResult) error

	// Get returns the result with id or [ErrNotFound].
	Get(ctx context.Context, id string) (*types.AlignmentResult, error)

	// List returns up to limit summaries, newest first.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Delete removes the result with id or returns [ErrNotFound].
	Delete(ctx context.Context, id string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Summary is the list view of a stored result.
type Summary struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	MatchRate float64   `json:"overall_match_rate"`
	Degraded  bool      `json:"degraded"`
	Segments  int       `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the persisted row. Its JSON tags double as the column names.
type Record struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	MatchRate  float64         `json:"match_rate"`
	Degraded   bool            `json:"degraded"`
	Segments   int             `json:"segments"`
	Tokens     int             `json:"tokens"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
	Document   json.RawMessage `json:"document"`
}

// NewRecord encodes res for storage. A zero CreatedAt is replaced by the
// current time.
func NewRecord(res *types.AlignmentResult) (Record, error) {
	if res == nil || res.ID == "" {
		return Record{}, ErrMissingID
	}
	doc, err := format.MarshalResult(res)
	if err != nil {
		return Record{}, fmt.Errorf("store: encode %s: %w", res.ID, err)
	}
	created := res.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Record{
		ID:         res.ID,
		Source:     res.Source,
		MatchRate:  res.MatchRate,
		Degraded:   res.Degraded,
		Segments:   len(res.Segments),
		Tokens:     res.Stats.Tokens,
		DurationMS: res.Stats.Duration.Milliseconds(),
		CreatedAt:  created.UTC(),
		Document:   doc,
	}, nil
}

// Result decodes the record. Scores and token indices are not part of the
// stored document and come back zero and -1.
func (r Record) Result() (*types.AlignmentResult, error) {
	res, err := format.UnmarshalResult(r.Document)
	if err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", r.ID, err)
	}
	res.ID = r.ID
	res.Degraded = r.Degraded
	res.CreatedAt = r.CreatedAt
	res.Stats.Tokens = r.Tokens
	res.Stats.Duration = time.Duration(r.DurationMS) * time.Millisecond
	return res, nil
}

// Summary returns the list view of the record.
func (r Record) Summary() Summary {
	return Summary{
		ID:        r.ID,
		Source:    r.Source,
		MatchRate: r.MatchRate,
		Degraded:  r.Degraded,
		Segments:  r.Segments,
		CreatedAt: r.CreatedAt,
	}
}

// Limit normalizes a List limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
