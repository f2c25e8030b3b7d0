// Package postgres implements the VectorStore contract on PostgreSQL with
// the pgvector extension. Each companion-character collection gets its own
// points/vectors table pair; named vectors are rows in the vectors table so
// a point can carry up to seven independently-searchable embeddings.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
)

// VectorStore is the pgvector-backed storage.VectorStore.
type VectorStore struct {
	db         *sql.DB
	dimensions map[string]int // collection -> embedding dimension
}

// Ensure *VectorStore implements storage.VectorStore at compile time.
var _ storage.VectorStore = (*VectorStore)(nil)

// Open connects to PostgreSQL with the given DSN and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*VectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &VectorStore{db: db, dimensions: make(map[string]int)}, nil
}

// NewWithDB wraps an existing database handle (used by tests).
func NewWithDB(db *sql.DB) *VectorStore {
	return &VectorStore{db: db, dimensions: make(map[string]int)}
}

// EnsureCollection creates the per-collection tables and indexes.
func (s *VectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if !validCollectionName(collection) {
		return fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}
	if err := ensureSchema(ctx, s.db, collection, dimension); err != nil {
		return err
	}
	s.dimensions[collection] = dimension
	return nil
}

// Upsert writes each point in its own transaction: the payload row and all
// named vectors commit together, so a single point is never half-written.
// The chunk set as a whole remains non-transactional; the engine layer
// compensates with verify-and-retry.
func (s *VectorStore) Upsert(ctx context.Context, collection string, points []storage.Point) error {
	if !validCollectionName(collection) {
		return fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}

	for _, p := range points {
		if err := s.upsertOne(ctx, collection, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *VectorStore) upsertOne(ctx context.Context, collection string, p storage.Point) error {
	if p.ID == "" {
		return fmt.Errorf("%w: point id is required", storage.ErrInvalidInput)
	}
	if len(p.Vectors) == 0 {
		return fmt.Errorf("%w: point %s has no vectors", storage.ErrInvalidInput, p.ID)
	}

	owner, _ := p.Payload["owner_id"].(string)
	kind, _ := p.Payload["kind"].(string)
	if owner == "" {
		return fmt.Errorf("%w: point %s payload has no owner_id", storage.ErrInvalidInput, p.ID)
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal payload for %s: %w", p.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pointSQL := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, kind, ts, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			kind = excluded.kind,
			ts = excluded.ts,
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP
	`, pointsTable(collection))

	if _, err := tx.ExecContext(ctx, pointSQL, p.ID, owner, kind, payloadTime(p.Payload), payloadJSON); err != nil {
		return fmt.Errorf("postgres: upsert point %s: %w", p.ID, err)
	}

	// Replace semantics: drop stale vectors before writing the new set.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE point_id = $1`, vectorsTable(collection)), p.ID); err != nil {
		return fmt.Errorf("postgres: clear vectors for %s: %w", p.ID, err)
	}

	vecSQL := fmt.Sprintf(`
		INSERT INTO %s (point_id, vector_name, embedding)
		VALUES ($1, $2, $3)
	`, vectorsTable(collection))

	for name, vec := range p.Vectors {
		if _, err := tx.ExecContext(ctx, vecSQL, p.ID, name, pgvector.NewVector(vec)); err != nil {
			return fmt.Errorf("postgres: insert vector %q for %s: %w", name, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit upsert for %s: %w", p.ID, err)
	}
	return nil
}

// Search runs cosine top-k over one named vector with a mandatory owner
// filter. pgvector's <=> operator is cosine distance; similarity is
// 1 - distance.
func (s *VectorStore) Search(ctx context.Context, collection, vectorName string, query []float32, f storage.Filter, limit int, minScore float64) ([]storage.ScoredPoint, error) {
	if !validCollectionName(collection) {
		return nil, fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}
	if f.OwnerID == "" {
		return nil, storage.ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 10
	}

	where, args := buildWhere(f, 2)
	args = append([]any{pgvector.NewVector(query)}, args...)
	args = append(args, vectorName, limit)

	querySQL := fmt.Sprintf(`
		SELECT p.id, p.payload, 1 - (v.embedding <=> $1::vector) AS score
		FROM %s v
		JOIN %s p ON p.id = v.point_id
		WHERE %s AND v.vector_name = $%d
		ORDER BY v.embedding <=> $1::vector
		LIMIT $%d
	`, vectorsTable(collection), pointsTable(collection), where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search %q/%s: %w", collection, vectorName, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.ScoredPoint
	for rows.Next() {
		var (
			id          string
			payloadJSON []byte
			score       float64
		)
		if err := rows.Scan(&id, &payloadJSON, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan search row: %w", err)
		}
		if score < minScore {
			continue
		}
		payload := make(map[string]any)
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal payload for %s: %w", id, err)
		}
		hits = append(hits, storage.ScoredPoint{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search rows: %w", err)
	}
	return hits, nil
}

// Fetch returns one point with its payload and vectors, or nil when absent.
func (s *VectorStore) Fetch(ctx context.Context, collection, id string) (*storage.Point, error) {
	if !validCollectionName(collection) {
		return nil, fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}

	var payloadJSON []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, pointsTable(collection)), id,
	).Scan(&payloadJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch %s: %w", id, err)
	}

	payload := make(map[string]any)
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal payload for %s: %w", id, err)
	}

	point := &storage.Point{ID: id, Payload: payload, Vectors: make(map[string][]float32)}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT vector_name, embedding FROM %s WHERE point_id = $1`, vectorsTable(collection)), id)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch vectors for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			name string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, fmt.Errorf("postgres: scan vector row: %w", err)
		}
		point.Vectors[name] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vector rows: %w", err)
	}
	return point, nil
}

// UpdatePayload merges fields into the JSONB payload without touching the
// vectors. Returns false when the id is unknown.
func (s *VectorStore) UpdatePayload(ctx context.Context, collection, id string, fields map[string]any) (bool, error) {
	if !validCollectionName(collection) {
		return false, fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal payload update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET payload = payload || $2::jsonb, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, pointsTable(collection)), id, fieldsJSON)
	if err != nil {
		return false, fmt.Errorf("postgres: update payload for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes points by id; vectors cascade. Missing ids are ignored.
func (s *VectorStore) Delete(ctx context.Context, collection string, ids ...string) error {
	if !validCollectionName(collection) {
		return fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, pointsTable(collection)),
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

// Scroll pages through points ordered newest-first. AllOwners is honored
// here (and only here) for export tooling.
func (s *VectorStore) Scroll(ctx context.Context, collection string, f storage.Filter, offset, limit int) ([]storage.Point, error) {
	if !validCollectionName(collection) {
		return nil, fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}
	if f.OwnerID == "" && !f.AllOwners {
		return nil, storage.ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where, args := buildWhere(f, 1)
	args = append(args, limit, offset)

	querySQL := fmt.Sprintf(`
		SELECT p.id, p.payload
		FROM %s p
		WHERE %s
		ORDER BY p.ts DESC
		LIMIT $%d OFFSET $%d
	`, pointsTable(collection), where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: scroll %q: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var points []storage.Point
	for rows.Next() {
		var (
			id          string
			payloadJSON []byte
		)
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan scroll row: %w", err)
		}
		payload := make(map[string]any)
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal payload for %s: %w", id, err)
		}
		points = append(points, storage.Point{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scroll rows: %w", err)
	}
	return points, nil
}

// Count returns the number of points matching the filter.
func (s *VectorStore) Count(ctx context.Context, collection string, f storage.Filter) (int, error) {
	if !validCollectionName(collection) {
		return 0, fmt.Errorf("%w: collection name %q", storage.ErrInvalidInput, collection)
	}

	where, args := buildWhere(f, 1)
	var total int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s p WHERE %s`, pointsTable(collection), where),
		args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return total, nil
}

// Ping verifies the connection.
func (s *VectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

// buildWhere renders the filter as a WHERE clause over the aliased points
// table (p). startArg is the first positional parameter index to use.
func buildWhere(f storage.Filter, startArg int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := startArg

	if f.OwnerID != "" {
		conds = append(conds, fmt.Sprintf("p.owner_id = $%d", arg))
		args = append(args, f.OwnerID)
		arg++
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		conds = append(conds, fmt.Sprintf("p.kind = ANY($%d)", arg))
		args = append(args, pq.Array(kinds))
		arg++
	}
	if f.ParentMessageID != "" {
		conds = append(conds, fmt.Sprintf("p.payload->>'parent_message_id' = $%d", arg))
		args = append(args, f.ParentMessageID)
		arg++
	}
	if !f.Since.IsZero() {
		conds = append(conds, fmt.Sprintf("p.ts >= $%d", arg))
		args = append(args, f.Since)
		arg++
	}
	if !f.Until.IsZero() {
		conds = append(conds, fmt.Sprintf("p.ts < $%d", arg))
		args = append(args, f.Until)
		arg++
	}

	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}

// payloadTime extracts the record timestamp for the indexed ts column,
// falling back to now for malformed payloads.
func payloadTime(payload map[string]any) time.Time {
	ts, _ := payload["timestamp"].(string)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
