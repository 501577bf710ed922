package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlAlignments is the table layout. %[1]s is the sanitized table name and
// %[2]s the sanitized index name.
const ddlAlignments = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id           TEXT              PRIMARY KEY,
    source       TEXT              NOT NULL DEFAULT '',
    match_rate   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    degraded     BOOLEAN           NOT NULL DEFAULT false,
    segments     INTEGER           NOT NULL DEFAULT 0,
    tokens       INTEGER           NOT NULL DEFAULT 0,
    duration_ms  BIGINT            NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ       NOT NULL DEFAULT now(),
    document     JSONB             NOT NULL
);

CREATE INDEX IF NOT EXISTS %[2]s
    ON %[1]s (created_at DESC);
`

// Migrate creates the alignments table and its index if they do not exist.
// It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string) error {
	stmt := fmt.Sprintf(ddlAlignments,
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{"idx_" + strings.ReplaceAll(table, ".", "_") + "_created_at"}.Sanitize(),
	)
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
