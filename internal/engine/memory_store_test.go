package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperengine-ai/whisperengine-go/internal/embedding/mock"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage/inmem"
	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

func newTestStore(t *testing.T, opts MemoryStoreOptions) *MemoryStore {
	t.Helper()
	opts.Logger = zerolog.Nop()
	store, err := NewMemoryStore(context.Background(), inmem.New(), mock.New(), "test_character", opts)
	require.NoError(t, err)
	return store
}

func storeFact(t *testing.T, s *MemoryStore, owner, content string) string {
	t.Helper()
	ids, err := s.Store(context.Background(), &types.MemoryRecord{
		OwnerID: owner,
		Kind:    types.KindFact,
		Content: content,
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestStore_ValidatesInput(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	_, err := s.Store(ctx, &types.MemoryRecord{Content: "no owner"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.Store(ctx, &types.MemoryRecord{OwnerID: "user-1", Content: "   "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.Store(ctx, &types.MemoryRecord{OwnerID: "user-1", Kind: "gossip", Content: "hi"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStore_AnnotatesRecord(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	id := storeFact(t, s, "user-1", "I am so happy about my new garden!")

	point, err := s.vectors.Fetch(ctx, s.Collection(), id)
	require.NoError(t, err)
	require.NotNil(t, point)

	rec := types.RecordFromPayload(point.ID, point.Payload)
	assert.Equal(t, "joy", rec.Metadata.EmotionLabel)
	assert.NotEmpty(t, rec.Metadata.SignificanceTier)
	assert.GreaterOrEqual(t, rec.Metadata.DecayResistance, 0.5)
	assert.InDelta(t, 1.0, rec.Metadata.DecayWeight, 1e-9)
	assert.NotEmpty(t, rec.Metadata.TrajectoryMomentum)

	// Bootstrap enrichment fills every dimension with the content vector.
	assert.Len(t, point.Vectors, len(types.VectorNames))
	assert.Equal(t, point.Vectors[types.VectorContent], point.Vectors[types.VectorEmotion])
}

func TestStore_EMAColdStartThenSmoothing(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	first := storeFact(t, s, "user-1", "I am happy today")
	point, err := s.vectors.Fetch(ctx, s.Collection(), first)
	require.NoError(t, err)
	firstRec := types.RecordFromPayload(point.ID, point.Payload)
	assert.InDelta(t, firstRec.Metadata.EmotionIntensity, firstRec.Metadata.EmotionIntensityEMA, 1e-9)

	second := storeFact(t, s, "user-1", "I am so incredibly thrilled and excited!!!")
	point, err = s.vectors.Fetch(ctx, s.Collection(), second)
	require.NoError(t, err)
	secondRec := types.RecordFromPayload(point.ID, point.Payload)

	// The smoothed value sits strictly between the previous average and
	// the new raw sample.
	assert.Greater(t, secondRec.Metadata.EmotionIntensityEMA, firstRec.Metadata.EmotionIntensityEMA)
	assert.Less(t, secondRec.Metadata.EmotionIntensityEMA, secondRec.Metadata.EmotionIntensity)
}

func TestSearch_LunaScenario(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	lunaID := storeFact(t, s, "user-1", "My cat's name is Luna")
	storeFact(t, s, "user-1", "I like pizza with extra cheese")
	storeFact(t, s, "user-1", "The weather is cold today")

	results, err := s.Search(ctx, "user-1", "what's my pet's name", SearchOptions{
		Limit:      5,
		MinScore:   0.5,
		VectorName: types.VectorContent,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, lunaID, results[0].Record.ID)
	assert.GreaterOrEqual(t, results[0].Score, 0.5)
}

func TestSearch_OwnerIsolation(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	storeFact(t, s, "alice", "My dog is named Rex")
	storeFact(t, s, "bob", "My dog is named Fido")
	storeFact(t, s, "carol", "My dog is named Biscuit")

	for _, owner := range []string{"alice", "bob", "carol"} {
		results, err := s.Search(ctx, owner, "what is my dog's name", SearchOptions{Limit: 10})
		require.NoError(t, err)
		require.NotEmpty(t, results, owner)
		for _, r := range results {
			assert.Equal(t, owner, r.Record.OwnerID)
		}
		assert.Len(t, results, 1, owner)
	}

	_, err := s.Search(ctx, "", "anything", SearchOptions{})
	assert.Error(t, err)
}

func TestSearch_TemporalQueryScansChronologically(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	base := time.Now().UTC().Add(-3 * time.Hour)
	for i, content := range []string{"first entry", "second entry", "third entry"} {
		_, err := s.Store(ctx, &types.MemoryRecord{
			OwnerID:   "user-1",
			Kind:      types.KindConversation,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, "user-1", "what happened yesterday", SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "third entry", results[0].Record.Content)
	assert.Equal(t, "first entry", results[2].Record.Content)
}

func TestSearch_FusionWithFailingLegDegrades(t *testing.T) {
	flaky := &flakyVectorStore{VectorStore: inmem.New(), failVector: types.VectorEmotion}
	s, err := NewMemoryStore(context.Background(), flaky, mock.New(), "test_character", MemoryStoreOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Store(ctx, &types.MemoryRecord{
		OwnerID: "user-1",
		Kind:    types.KindConversation,
		Content: "I felt really sad about the rainy weather",
	})
	require.NoError(t, err)

	// Emotional query routes to fusion; the emotion leg fails and the
	// surviving legs still return the memory.
	results, err := s.Search(ctx, "user-1", "how do I feel about rainy weather", SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "I felt really sad about the rainy weather", results[0].Record.Content)
}

func TestSearch_MissingVectorsDegradeToContent(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{Enrichment: EnrichmentOff})
	ctx := context.Background()

	_, err := s.Store(ctx, &types.MemoryRecord{
		OwnerID: "user-1",
		Kind:    types.KindConversation,
		Content: "I felt really sad about the rainy weather",
	})
	require.NoError(t, err)

	// Only the content vector exists; the fusion legs for emotion and
	// temporal find nothing, the content leg still scores.
	results, err := s.Search(ctx, "user-1", "how do I feel about rainy weather", SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestStore_LongContentChunksShareParent(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	content := strings.TrimSpace(strings.Repeat("Today we talked about the hiking trip in detail. ", 30))
	ids, err := s.Store(ctx, &types.MemoryRecord{
		OwnerID: "user-1",
		Kind:    types.KindConversation,
		Content: content,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ids), 2)

	parents := make(map[string]bool)
	for i, id := range ids {
		point, err := s.vectors.Fetch(ctx, s.Collection(), id)
		require.NoError(t, err)
		require.NotNil(t, point, id)

		rec := types.RecordFromPayload(point.ID, point.Payload)
		assert.True(t, rec.Metadata.IsChunk)
		assert.Equal(t, i, rec.Metadata.ChunkIndex)
		assert.Equal(t, len(ids), rec.Metadata.ChunkTotal)
		parents[rec.Metadata.ParentMessageID] = true
	}
	assert.Len(t, parents, 1)
}

func TestDetectContradictions_Goldfish(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{ContradictionThreshold: 0.6})
	ctx := context.Background()

	storeFact(t, s, "user-1", "I have a goldfish named Bubbles")

	candidates, err := s.DetectContradictions(ctx, "user-1", "I have a goldfish named Nemo")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "I have a goldfish named Bubbles", candidates[0].Existing.Content)
	assert.GreaterOrEqual(t, candidates[0].Similarity, 0.6)
}

func TestDetectContradictions_IdenticalContentIgnored(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{ContradictionThreshold: 0.6})
	ctx := context.Background()

	storeFact(t, s, "user-1", "I have a goldfish named Bubbles")

	candidates, err := s.DetectContradictions(ctx, "user-1", "i have a goldfish named bubbles")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestDetectContradictions_OwnerScoped(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{ContradictionThreshold: 0.6})
	ctx := context.Background()

	storeFact(t, s, "alice", "I have a goldfish named Bubbles")

	candidates, err := s.DetectContradictions(ctx, "bob", "I have a goldfish named Nemo")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestUpdate_ReplacesContentInPlace(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	id := storeFact(t, s, "user-1", "My favorite color is blue")

	found, err := s.Update(ctx, "user-1", id, "My favorite color is green", "user correction")
	require.NoError(t, err)
	assert.True(t, found)

	point, err := s.vectors.Fetch(ctx, s.Collection(), id)
	require.NoError(t, err)
	rec := types.RecordFromPayload(point.ID, point.Payload)
	assert.Equal(t, "My favorite color is green", rec.Content)
	assert.True(t, rec.Metadata.Corrected)
	assert.Equal(t, "user correction", rec.Metadata.UpdateReason)
	require.NotNil(t, rec.Metadata.UpdatedAt)
}

func TestUpdate_UnknownIDReturnsFalse(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	found, err := s.Update(context.Background(), "user-1", "no-such-id", "content", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdate_WrongOwnerReturnsFalse(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	id := storeFact(t, s, "alice", "My favorite color is blue")

	found, err := s.Update(ctx, "bob", id, "My favorite color is red", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_Idempotent(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	id := storeFact(t, s, "user-1", "temporary note")
	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id))

	point, err := s.vectors.Fetch(ctx, s.Collection(), id)
	require.NoError(t, err)
	assert.Nil(t, point)
}

func TestStats_CountersAdvance(t *testing.T) {
	s := newTestStore(t, MemoryStoreOptions{})
	ctx := context.Background()

	storeFact(t, s, "user-1", "My cat's name is Luna")
	_, err := s.Search(ctx, "user-1", "cat name", SearchOptions{})
	require.NoError(t, err)
	_, err = s.DetectContradictions(ctx, "user-1", "My cat's name is Max")
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.MemoriesStored)
	assert.Equal(t, int64(1), stats.SearchesExecuted)
	assert.Equal(t, int64(1), stats.ContradictionChecks)
	assert.GreaterOrEqual(t, stats.EmbeddingsGenerated, int64(2))
}

func TestSearch_SlowBackendBoundedByTimeout(t *testing.T) {
	hanging := &hangingVectorStore{VectorStore: inmem.New()}
	s, err := NewMemoryStore(context.Background(), hanging, mock.New(), "test_character", MemoryStoreOptions{
		Logger:        zerolog.Nop(),
		SearchTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Single content-vector path (factual query).
	start := time.Now()
	_, err = s.Search(ctx, "user-1", "what's my pet's name", SearchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// Chronological path; its fallback content search times out too.
	start = time.Now()
	_, err = s.Search(ctx, "user-1", "what happened yesterday", SearchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// hangingVectorStore blocks reads until the caller's context expires.
type hangingVectorStore struct {
	storage.VectorStore
}

func (h *hangingVectorStore) Search(ctx context.Context, collection, vectorName string, query []float32, filter storage.Filter, limit int, minScore float64) ([]storage.ScoredPoint, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingVectorStore) Scroll(ctx context.Context, collection string, filter storage.Filter, offset, limit int) ([]storage.Point, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakyVectorStore fails searches against one named vector to exercise
// fusion degradation.
type flakyVectorStore struct {
	storage.VectorStore
	failVector string
}

func (f *flakyVectorStore) Search(ctx context.Context, collection, vectorName string, query []float32, filter storage.Filter, limit int, minScore float64) ([]storage.ScoredPoint, error) {
	if vectorName == f.failVector {
		return nil, errors.New("simulated leg failure")
	}
	return f.VectorStore.Search(ctx, collection, vectorName, query, filter, limit, minScore)
}
