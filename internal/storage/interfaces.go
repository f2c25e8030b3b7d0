// Package storage defines the vector-database contract consumed by the
// memory engine. The interface is deliberately small: named multi-vector
// points, owner-scoped filtered cosine search, payload-only mutation, and
// pagination for export. Backends live in the postgres, sqlite, and inmem
// subpackages.
package storage

import "context"

// VectorStore is the single point of contact with a vector database.
// Collections are created per companion character so that cross-character
// isolation is structural rather than filter-based.
type VectorStore interface {
	// EnsureCollection creates the collection (and its indexes) if it does
	// not exist. dimension is the embedding width shared by every named
	// vector in the collection.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes points with replace semantics. Each point write is
	// atomic: payload and all named vectors land together or not at all.
	// Multi-point calls are not transactional across points.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search runs cosine top-k similarity over one named vector. The
	// filter's OwnerID is mandatory; ErrOwnerRequired is returned when it
	// is missing. Results are ordered by descending score and truncated
	// to limit after dropping scores below minScore. An empty result is
	// not an error.
	Search(ctx context.Context, collection, vectorName string, query []float32, f Filter, limit int, minScore float64) ([]ScoredPoint, error)

	// Fetch returns a single point by id, or nil when it does not exist.
	Fetch(ctx context.Context, collection, id string) (*Point, error)

	// UpdatePayload merges fields into a point's payload without touching
	// its vectors. Returns false (and no error) when the id is unknown.
	UpdatePayload(ctx context.Context, collection, id string, fields map[string]any) (bool, error)

	// Delete removes points by id. Deleting a missing id is not an error.
	Delete(ctx context.Context, collection string, ids ...string) error

	// Scroll pages through points ordered newest-first. Unlike Search it
	// accepts Filter.AllOwners for administrative export; normal read
	// paths must always scope by owner.
	Scroll(ctx context.Context, collection string, f Filter, offset, limit int) ([]Point, error)

	// Count returns the number of points matching the filter.
	Count(ctx context.Context, collection string, f Filter) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
