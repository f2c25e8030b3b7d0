// Package sqlite implements the VectorStore contract on a single SQLite
// file. Embeddings are stored as little-endian float32 BLOBs and similarity
// is computed in Go over SQL-filtered candidates, which is plenty for the
// single-user deployments this backend targets.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	ts         TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS vectors (
	collection  TEXT NOT NULL,
	point_id    TEXT NOT NULL,
	vector_name TEXT NOT NULL,
	dimension   INTEGER NOT NULL,
	embedding   BLOB NOT NULL,
	PRIMARY KEY (collection, point_id, vector_name),
	FOREIGN KEY (collection, point_id) REFERENCES points(collection, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_points_owner ON points (collection, owner_id);
CREATE INDEX IF NOT EXISTS idx_points_owner_kind ON points (collection, owner_id, kind);
CREATE INDEX IF NOT EXISTS idx_points_ts ON points (collection, ts DESC);
`

// VectorStore is the SQLite-backed storage.VectorStore.
type VectorStore struct {
	db *sql.DB
}

var _ storage.VectorStore = (*VectorStore)(nil)

// Open opens (or creates) the database at dsn and prepares the schema.
// Use ":memory:" for an ephemeral store.
func Open(dsn string) (*VectorStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &VectorStore{db: db}, nil
}

// EnsureCollection registers the collection and its expected dimension.
func (s *VectorStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if collection == "" {
		return fmt.Errorf("%w: collection name is required", storage.ErrInvalidInput)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, dimension) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET dimension = excluded.dimension
	`, collection, dimension)
	if err != nil {
		return fmt.Errorf("sqlite: ensure collection %q: %w", collection, err)
	}
	return nil
}

// Upsert writes each point in its own transaction so the payload row and
// all named vectors land together.
func (s *VectorStore) Upsert(ctx context.Context, collection string, points []storage.Point) error {
	dimension, err := s.collectionDimension(ctx, collection)
	if err != nil {
		return err
	}

	for _, p := range points {
		if err := s.upsertOne(ctx, collection, dimension, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *VectorStore) upsertOne(ctx context.Context, collection string, dimension int, p storage.Point) error {
	if p.ID == "" {
		return fmt.Errorf("%w: point id is required", storage.ErrInvalidInput)
	}
	if len(p.Vectors) == 0 {
		return fmt.Errorf("%w: point %s has no vectors", storage.ErrInvalidInput, p.ID)
	}
	for name, vec := range p.Vectors {
		if len(vec) != dimension {
			return fmt.Errorf("%w: vector %q has dimension %d, collection expects %d",
				storage.ErrInvalidInput, name, len(vec), dimension)
		}
	}

	owner, _ := p.Payload["owner_id"].(string)
	kind, _ := p.Payload["kind"].(string)
	if owner == "" {
		return fmt.Errorf("%w: point %s payload has no owner_id", storage.ErrInvalidInput, p.ID)
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("sqlite: marshal payload for %s: %w", p.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO points (collection, id, owner_id, kind, ts, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(collection, id) DO UPDATE SET
			owner_id = excluded.owner_id,
			kind = excluded.kind,
			ts = excluded.ts,
			payload = excluded.payload,
			updated_at = datetime('now')
	`, collection, p.ID, owner, kind, payloadTimestamp(p.Payload), string(payloadJSON))
	if err != nil {
		return fmt.Errorf("sqlite: upsert point %s: %w", p.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vectors WHERE collection = ? AND point_id = ?`, collection, p.ID); err != nil {
		return fmt.Errorf("sqlite: clear vectors for %s: %w", p.ID, err)
	}

	for name, vec := range p.Vectors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vectors (collection, point_id, vector_name, dimension, embedding)
			VALUES (?, ?, ?, ?, ?)
		`, collection, p.ID, name, len(vec), serializeVector(vec))
		if err != nil {
			return fmt.Errorf("sqlite: insert vector %q for %s: %w", name, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert for %s: %w", p.ID, err)
	}
	return nil
}

// Search filters candidates in SQL, then scores them with cosine similarity
// in Go. Results come back ordered best-first.
func (s *VectorStore) Search(ctx context.Context, collection, vectorName string, query []float32, f storage.Filter, limit int, minScore float64) ([]storage.ScoredPoint, error) {
	if f.OwnerID == "" {
		return nil, storage.ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 10
	}

	where, args := buildWhere(collection, f)
	args = append([]any{vectorName}, args...)

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.payload, v.embedding, v.dimension
		FROM vectors v
		JOIN points p ON p.collection = v.collection AND p.id = v.point_id
		WHERE v.vector_name = ? AND `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %q/%s: %w", collection, vectorName, err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.ScoredPoint
	for rows.Next() {
		var (
			id             string
			payloadJSON    string
			embeddingBytes []byte
			dimension      int
		)
		if err := rows.Scan(&id, &payloadJSON, &embeddingBytes, &dimension); err != nil {
			return nil, fmt.Errorf("sqlite: scan search row: %w", err)
		}

		vec, err := deserializeVector(embeddingBytes, dimension)
		if err != nil {
			return nil, fmt.Errorf("sqlite: deserialize vector for %s: %w", id, err)
		}

		score := storage.CosineSimilarity(query, vec)
		if score < minScore {
			continue
		}

		payload := make(map[string]any)
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal payload for %s: %w", id, err)
		}
		hits = append(hits, storage.ScoredPoint{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: search rows: %w", err)
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Fetch returns one point with payload and vectors, or nil when absent.
func (s *VectorStore) Fetch(ctx context.Context, collection, id string) (*storage.Point, error) {
	var payloadJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM points WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&payloadJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch %s: %w", id, err)
	}

	payload := make(map[string]any)
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal payload for %s: %w", id, err)
	}

	point := &storage.Point{ID: id, Payload: payload, Vectors: make(map[string][]float32)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT vector_name, embedding, dimension FROM vectors WHERE collection = ? AND point_id = ?`,
		collection, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch vectors for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			name           string
			embeddingBytes []byte
			dimension      int
		)
		if err := rows.Scan(&name, &embeddingBytes, &dimension); err != nil {
			return nil, fmt.Errorf("sqlite: scan vector row: %w", err)
		}
		vec, err := deserializeVector(embeddingBytes, dimension)
		if err != nil {
			return nil, fmt.Errorf("sqlite: deserialize vector %q for %s: %w", name, id, err)
		}
		point.Vectors[name] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: vector rows: %w", err)
	}
	return point, nil
}

// UpdatePayload merges fields into the stored payload. Returns false when
// the id is unknown.
func (s *VectorStore) UpdatePayload(ctx context.Context, collection, id string, fields map[string]any) (bool, error) {
	var payloadJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM points WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&payloadJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: read payload for %s: %w", id, err)
	}

	payload := make(map[string]any)
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return false, fmt.Errorf("sqlite: unmarshal payload for %s: %w", id, err)
	}
	for k, v := range fields {
		payload[k] = v
	}

	merged, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("sqlite: marshal payload for %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE points SET payload = ?, updated_at = datetime('now')
		WHERE collection = ? AND id = ?
	`, string(merged), collection, id)
	if err != nil {
		return false, fmt.Errorf("sqlite: update payload for %s: %w", id, err)
	}
	return true, nil
}

// Delete removes points by id; vectors cascade. Missing ids are ignored.
func (s *VectorStore) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM points WHERE collection = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return nil
}

// Scroll pages through points ordered newest-first.
func (s *VectorStore) Scroll(ctx context.Context, collection string, f storage.Filter, offset, limit int) ([]storage.Point, error) {
	if f.OwnerID == "" && !f.AllOwners {
		return nil, storage.ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where, args := buildWhere(collection, f)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.payload
		FROM points p
		WHERE `+where+`
		ORDER BY p.ts DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scroll %q: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var points []storage.Point
	for rows.Next() {
		var (
			id          string
			payloadJSON string
		)
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan scroll row: %w", err)
		}
		payload := make(map[string]any)
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal payload for %s: %w", id, err)
		}
		points = append(points, storage.Point{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scroll rows: %w", err)
	}
	return points, nil
}

// Count returns the number of points matching the filter.
func (s *VectorStore) Count(ctx context.Context, collection string, f storage.Filter) (int, error) {
	where, args := buildWhere(collection, f)

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points p WHERE `+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return total, nil
}

// Ping verifies the connection.
func (s *VectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

func (s *VectorStore) collectionDimension(ctx context.Context, collection string) (int, error) {
	var dimension int
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension FROM collections WHERE name = ?`, collection).Scan(&dimension)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collection)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: lookup collection %q: %w", collection, err)
	}
	return dimension, nil
}

// buildWhere renders the filter as a WHERE clause over the aliased points
// table (p).
func buildWhere(collection string, f storage.Filter) (string, []any) {
	conds := []string{"p.collection = ?"}
	args := []any{collection}

	if f.OwnerID != "" {
		conds = append(conds, "p.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if len(f.Kinds) > 0 {
		placeholders := strings.Repeat("?,", len(f.Kinds))
		conds = append(conds, "p.kind IN ("+placeholders[:len(placeholders)-1]+")")
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	if f.ParentMessageID != "" {
		conds = append(conds, "json_extract(p.payload, '$.parent_message_id') = ?")
		args = append(args, f.ParentMessageID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "p.ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "p.ts < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}

	return strings.Join(conds, " AND "), args
}

func payloadTimestamp(payload map[string]any) string {
	ts, _ := payload["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		return time.Now().UTC().Format(time.RFC3339Nano)
	}
	return ts
}

// serializeVector encodes the vector as little-endian float32 bytes.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector decodes little-endian float32 bytes back into a vector.
func deserializeVector(data []byte, dimension int) ([]float32, error) {
	if len(data) != dimension*4 {
		return nil, fmt.Errorf("embedding blob is %d bytes, expected %d for dimension %d",
			len(data), dimension*4, dimension)
	}
	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

func sortHits(hits []storage.ScoredPoint) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
