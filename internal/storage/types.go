package storage

import (
	"errors"
	"time"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

var (
	// ErrNotFound indicates the requested point does not exist.
	ErrNotFound = errors.New("point not found")

	// ErrInvalidInput indicates malformed parameters (empty id, missing
	// vectors, dimension mismatch).
	ErrInvalidInput = errors.New("invalid input")

	// ErrOwnerRequired indicates a search was attempted without an owner
	// scope. Owner filtering is mandatory on every read path except
	// explicitly administrative scrolls.
	ErrOwnerRequired = errors.New("owner filter is required")

	// ErrVectorNameUnknown indicates a search against a vector dimension
	// the collection does not carry.
	ErrVectorNameUnknown = errors.New("unknown vector name")
)

// Point is a single named-multi-vector record: one payload document plus
// one embedding per vector-dimension name.
type Point struct {
	ID      string
	Vectors map[string][]float32
	Payload map[string]any
}

// ScoredPoint is a search hit. Vectors are omitted from search results;
// callers that need them use Fetch.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Record converts the scored point's payload back into a MemoryRecord.
func (p ScoredPoint) Record() types.MemoryRecord {
	return types.RecordFromPayload(p.ID, p.Payload)
}

// Filter restricts reads to an owner and optionally to kinds, a chunk
// parent, or a time window.
type Filter struct {
	// OwnerID scopes the read to a single owner. Mandatory for Search.
	OwnerID string

	// AllOwners permits an owner-unscoped Scroll. This is an explicit
	// administrative escape hatch for export and migration tooling; it is
	// never honored by Search.
	AllOwners bool

	// Kinds is an any-of filter on the record kind. Empty means all kinds.
	Kinds []types.MemoryKind

	// ParentMessageID restricts to chunks of one logical message.
	ParentMessageID string

	// Since / Until bound the record timestamp. Zero values are open ends.
	Since time.Time
	Until time.Time
}

// MatchesKind reports whether kind passes the filter's any-of kind set.
func (f Filter) MatchesKind(kind types.MemoryKind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// MatchesTime reports whether ts falls inside the filter's time window.
func (f Filter) MatchesTime(ts time.Time) bool {
	if !f.Since.IsZero() && ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ts.Before(f.Until) {
		return false
	}
	return true
}

// PointFromRecord builds the persisted point for a memory record.
func PointFromRecord(rec *types.MemoryRecord) Point {
	return Point{
		ID:      rec.ID,
		Vectors: rec.Embeddings,
		Payload: rec.Payload(),
	}
}
