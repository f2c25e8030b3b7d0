package inmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.EnsureCollection(context.Background(), "chars", 3))
	return s
}

func point(id, owner, kind string, ts time.Time, vec []float32) storage.Point {
	return storage.Point{
		ID:      id,
		Vectors: map[string][]float32{"content": vec},
		Payload: map[string]any{
			"owner_id":  owner,
			"kind":      kind,
			"content":   "text for " + id,
			"timestamp": ts.UTC().Format(time.RFC3339Nano),
		},
	}
}

func TestUpsert_ValidatesDimension(t *testing.T) {
	s := newStore(t)
	err := s.Upsert(context.Background(), "chars", []storage.Point{
		point("p1", "alice", "fact", time.Now(), []float32{1, 0}),
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearch_RequiresOwner(t *testing.T) {
	s := newStore(t)
	_, err := s.Search(context.Background(), "chars", "content", []float32{1, 0, 0}, storage.Filter{}, 10, 0)
	assert.ErrorIs(t, err, storage.ErrOwnerRequired)
}

func TestSearch_OwnerAndKindFiltered(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Upsert(ctx, "chars", []storage.Point{
		point("a1", "alice", "fact", now, []float32{1, 0, 0}),
		point("a2", "alice", "conversation", now, []float32{1, 0, 0}),
		point("b1", "bob", "fact", now, []float32{1, 0, 0}),
	}))

	hits, err := s.Search(ctx, "chars", "content", []float32{1, 0, 0},
		storage.Filter{OwnerID: "alice", Kinds: []types.MemoryKind{types.KindFact}}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestSearch_MinScoreAndOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Upsert(ctx, "chars", []storage.Point{
		point("close", "alice", "fact", now, []float32{1, 0.1, 0}),
		point("far", "alice", "fact", now, []float32{0, 1, 0}),
		point("mid", "alice", "fact", now, []float32{1, 1, 0}),
	}))

	hits, err := s.Search(ctx, "chars", "content", []float32{1, 0, 0},
		storage.Filter{OwnerID: "alice"}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
}

func TestFetch_MissingIsNilNotError(t *testing.T) {
	s := newStore(t)
	got, err := s.Fetch(context.Background(), "chars", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdatePayload_ReportsFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "chars", []storage.Point{
		point("p1", "alice", "fact", time.Now(), []float32{1, 0, 0}),
	}))

	found, err := s.UpdatePayload(ctx, "chars", "p1", map[string]any{"decay_weight": 0.4})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.UpdatePayload(ctx, "chars", "ghost", map[string]any{"decay_weight": 0.4})
	require.NoError(t, err)
	assert.False(t, found)

	got, err := s.Fetch(ctx, "chars", "p1")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, got.Payload["decay_weight"].(float64), 1e-9)
	// Vectors survive payload-only updates.
	assert.NotEmpty(t, got.Vectors["content"])
}

func TestScroll_NewestFirstAndPaged(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, "chars", []storage.Point{
			point(fmt.Sprintf("p%d", i), "alice", "fact", base.Add(time.Duration(i)*time.Minute), []float32{1, 0, 0}),
		}))
	}

	page, err := s.Scroll(ctx, "chars", storage.Filter{OwnerID: "alice"}, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "p4", page[0].ID)
	assert.Equal(t, "p3", page[1].ID)

	rest, err := s.Scroll(ctx, "chars", storage.Filter{OwnerID: "alice"}, 2, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	_, err = s.Scroll(ctx, "chars", storage.Filter{}, 0, 10)
	assert.ErrorIs(t, err, storage.ErrOwnerRequired)

	all, err := s.Scroll(ctx, "chars", storage.Filter{AllOwners: true}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestDelete_IgnoresMissing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "chars", []storage.Point{
		point("p1", "alice", "fact", time.Now(), []float32{1, 0, 0}),
	}))
	require.NoError(t, s.Delete(ctx, "chars", "p1", "missing"))

	got, err := s.Fetch(ctx, "chars", "p1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCount_RespectsFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Upsert(ctx, "chars", []storage.Point{
		point("a1", "alice", "fact", now, []float32{1, 0, 0}),
		point("a2", "alice", "conversation", now, []float32{0, 1, 0}),
		point("b1", "bob", "fact", now, []float32{0, 0, 1}),
	}))

	n, err := s.Count(ctx, "chars", storage.Filter{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, "chars", storage.Filter{AllOwners: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
