package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// collectionNameRE restricts collection names to identifier-safe strings so
// they can be embedded in table names.
var collectionNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]{0,48}$`)

// validCollectionName reports whether name can be used to derive table names.
func validCollectionName(name string) bool {
	return collectionNameRE.MatchString(name)
}

// pointsTable and vectorsTable derive the per-collection table names.
// Collections are one-per-companion-character, so isolation between
// characters is structural rather than filter-based.
func pointsTable(collection string) string  { return fmt.Sprintf("wm_%s_points", collection) }
func vectorsTable(collection string) string { return fmt.Sprintf("wm_%s_vectors", collection) }

// ensureSchema creates the table pair and indexes for a collection. The
// embedding column is dimension-parameterized, which is why the DDL lives
// here rather than in static migration files.
func ensureSchema(ctx context.Context, db *sql.DB, collection string, dimension int) error {
	pts := pointsTable(collection)
	vecs := vectorsTable(collection)

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id         TEXT PRIMARY KEY,
				owner_id   TEXT NOT NULL,
				kind       TEXT NOT NULL,
				ts         TIMESTAMPTZ NOT NULL,
				payload    JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`, pts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				point_id    TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				vector_name TEXT NOT NULL,
				embedding   vector(%d) NOT NULL,
				PRIMARY KEY (point_id, vector_name)
			)`, vecs, pts, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s (owner_id)`, pts, pts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_owner_kind ON %s (owner_id, kind)`, pts, pts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts DESC)`, pts, pts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s ((payload->>'parent_message_id'))`, pts, pts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_cosine ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`, vecs, vecs),
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema for %q: %w", collection, err)
		}
	}
	return nil
}
