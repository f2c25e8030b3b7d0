// Package inmem provides a map-backed VectorStore. It backs the engine's
// unit tests and the zero-infrastructure bootstrap mode; the contract is
// identical to the postgres and sqlite backends.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// Store is an in-process VectorStore. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dimension int
	points    map[string]storage.Point
}

// Ensure *Store implements storage.VectorStore at compile time.
var _ storage.VectorStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// EnsureCollection creates the collection if it does not exist.
func (s *Store) EnsureCollection(_ context.Context, name string, dimension int) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is required", storage.ErrInvalidInput)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{
			dimension: dimension,
			points:    make(map[string]storage.Point),
		}
	}
	return nil
}

// Upsert writes points with replace semantics.
func (s *Store) Upsert(_ context.Context, collectionName string, points []storage.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}

	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("%w: point id is required", storage.ErrInvalidInput)
		}
		if len(p.Vectors) == 0 {
			return fmt.Errorf("%w: point %s has no vectors", storage.ErrInvalidInput, p.ID)
		}
		for name, vec := range p.Vectors {
			if len(vec) != col.dimension {
				return fmt.Errorf("%w: vector %q has dimension %d, collection expects %d",
					storage.ErrInvalidInput, name, len(vec), col.dimension)
			}
		}
		col.points[p.ID] = clonePoint(p)
	}

	return nil
}

// Search performs brute-force cosine top-k over one named vector.
func (s *Store) Search(_ context.Context, collectionName, vectorName string, query []float32, f storage.Filter, limit int, minScore float64) ([]storage.ScoredPoint, error) {
	if f.OwnerID == "" {
		return nil, storage.ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}

	var hits []storage.ScoredPoint
	for _, p := range col.points {
		if !matchesFilter(p, f, false) {
			continue
		}
		vec, ok := p.Vectors[vectorName]
		if !ok {
			continue
		}
		score := storage.CosineSimilarity(query, vec)
		if score < minScore {
			continue
		}
		hits = append(hits, storage.ScoredPoint{ID: p.ID, Score: score, Payload: clonePayload(p.Payload)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Fetch returns a point by id, or nil when absent.
func (s *Store) Fetch(_ context.Context, collectionName, id string) (*storage.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}

	p, ok := col.points[id]
	if !ok {
		return nil, nil
	}
	cp := clonePoint(p)
	return &cp, nil
}

// UpdatePayload merges fields into a point's payload.
func (s *Store) UpdatePayload(_ context.Context, collectionName, id string, fields map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return false, fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}

	p, ok := col.points[id]
	if !ok {
		return false, nil
	}
	for k, v := range fields {
		p.Payload[k] = v
	}
	col.points[id] = p
	return true, nil
}

// Delete removes points by id; missing ids are ignored.
func (s *Store) Delete(_ context.Context, collectionName string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}
	for _, id := range ids {
		delete(col.points, id)
	}
	return nil
}

// Scroll pages through matching points ordered newest-first.
func (s *Store) Scroll(_ context.Context, collectionName string, f storage.Filter, offset, limit int) ([]storage.Point, error) {
	if f.OwnerID == "" && !f.AllOwners {
		return nil, storage.ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}

	var matched []storage.Point
	for _, p := range col.points {
		if !matchesFilter(p, f, f.AllOwners) {
			continue
		}
		matched = append(matched, clonePoint(p))
	}

	sort.Slice(matched, func(i, j int) bool {
		return pointTime(matched[i]).After(pointTime(matched[j]))
	})

	if offset >= len(matched) {
		return []storage.Point{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Count returns the number of points matching the filter.
func (s *Store) Count(_ context.Context, collectionName string, f storage.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collectionName]
	if !ok {
		return 0, fmt.Errorf("%w: collection %q", storage.ErrInvalidInput, collectionName)
	}

	n := 0
	for _, p := range col.points {
		if matchesFilter(p, f, f.AllOwners) {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func matchesFilter(p storage.Point, f storage.Filter, allowAllOwners bool) bool {
	owner, _ := p.Payload["owner_id"].(string)
	if !allowAllOwners && owner != f.OwnerID {
		return false
	}
	if allowAllOwners && f.OwnerID != "" && owner != f.OwnerID {
		return false
	}

	kind, _ := p.Payload["kind"].(string)
	if !f.MatchesKind(types.MemoryKind(kind)) {
		return false
	}

	if f.ParentMessageID != "" {
		parent, _ := p.Payload["parent_message_id"].(string)
		if parent != f.ParentMessageID {
			return false
		}
	}

	if !f.Since.IsZero() || !f.Until.IsZero() {
		if !f.MatchesTime(pointTime(p)) {
			return false
		}
	}

	return true
}

func pointTime(p storage.Point) time.Time {
	ts, _ := p.Payload["timestamp"].(string)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

func clonePoint(p storage.Point) storage.Point {
	cp := storage.Point{ID: p.ID, Payload: clonePayload(p.Payload)}
	if p.Vectors != nil {
		cp.Vectors = make(map[string][]float32, len(p.Vectors))
		for name, vec := range p.Vectors {
			v := make([]float32, len(vec))
			copy(v, vec)
			cp.Vectors[name] = v
		}
	}
	return cp
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}
