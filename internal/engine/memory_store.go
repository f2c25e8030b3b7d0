// Package engine implements the memory engine: significance scoring,
// emotional trajectory, chunking, multi-vector enrichment, classified
// retrieval, contradiction detection, decay, and the Manager facade.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisperengine-ai/whisperengine-go/internal/embedding"
	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// MemoryStore orchestrates scoring, embedding, and persistence for one
// companion character's collection. Safe for concurrent use; all mutable
// state is atomic counters.
type MemoryStore struct {
	vectors    storage.VectorStore
	embedder   embedding.Provider
	classifier QueryClassifier
	chunker    *Chunker
	log        zerolog.Logger

	collection             string
	enrichment             EnrichmentMode
	contradictionThreshold float64
	searchTimeout          time.Duration
	historyLimit           int

	memoriesStored      atomic.Int64
	embeddingsGenerated atomic.Int64
	searchesExecuted    atomic.Int64
	contradictionChecks atomic.Int64
}

// MemoryStoreOptions tunes a MemoryStore. Zero values select defaults.
type MemoryStoreOptions struct {
	Classifier             QueryClassifier
	Chunker                *Chunker
	Enrichment             EnrichmentMode
	ContradictionThreshold float64
	SearchTimeout          time.Duration
	HistoryLimit           int
	Logger                 zerolog.Logger
}

// NewMemoryStore builds a store bound to one collection and ensures the
// collection exists with the embedder's dimension.
func NewMemoryStore(ctx context.Context, vectors storage.VectorStore, embedder embedding.Provider, collection string, opts MemoryStoreOptions) (*MemoryStore, error) {
	if vectors == nil || embedder == nil {
		return nil, fmt.Errorf("%w: vector store and embedder are required", storage.ErrInvalidInput)
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", storage.ErrInvalidInput)
	}

	if opts.Classifier == nil {
		opts.Classifier = KeywordClassifier{}
	}
	if opts.Chunker == nil {
		opts.Chunker = NewChunker()
	}
	if opts.Enrichment == "" {
		opts.Enrichment = EnrichmentBootstrap
	}
	if opts.ContradictionThreshold == 0 {
		opts.ContradictionThreshold = 0.85
	}
	if opts.SearchTimeout == 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = 20
	}

	if err := vectors.EnsureCollection(ctx, collection, embedder.Dimension()); err != nil {
		return nil, &StorageError{Op: "ensure collection", Err: err}
	}

	return &MemoryStore{
		vectors:                vectors,
		embedder:               embedder,
		classifier:             opts.Classifier,
		chunker:                opts.Chunker,
		log:                    opts.Logger.With().Str("collection", collection).Logger(),
		collection:             collection,
		enrichment:             opts.Enrichment,
		contradictionThreshold: opts.ContradictionThreshold,
		searchTimeout:          opts.SearchTimeout,
		historyLimit:           opts.HistoryLimit,
	}, nil
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	// Kinds restricts results to these record kinds. Empty means all.
	Kinds []types.MemoryKind

	// Limit caps the result count (default 10).
	Limit int

	// MinScore drops results scoring below the threshold.
	MinScore float64

	// VectorName forces a single-vector search on the named dimension,
	// bypassing classification.
	VectorName string

	// Since / Until bound the record timestamp.
	Since time.Time
	Until time.Time
}

// SearchResult is one retrieval hit.
type SearchResult struct {
	Record types.MemoryRecord
	Score  float64
}

// Stats is a snapshot of the store's operation counters.
type Stats struct {
	MemoriesStored      int64 `json:"memories_stored"`
	EmbeddingsGenerated int64 `json:"embeddings_generated"`
	SearchesExecuted    int64 `json:"searches_executed"`
	ContradictionChecks int64 `json:"contradiction_checks"`
}

// Store persists a memory record: scores it against the owner's recent
// history, chunks long content, generates embeddings per the enrichment
// mode, and upserts one point per chunk. Returns the stored point ids.
func (s *MemoryStore) Store(ctx context.Context, rec *types.MemoryRecord) ([]string, error) {
	if rec == nil || rec.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(rec.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Kind == "" {
		rec.Kind = types.KindConversation
	}
	if !types.IsValidMemoryKind(rec.Kind) {
		return nil, fmt.Errorf("%w: unknown memory kind %q", storage.ErrInvalidInput, rec.Kind)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Confidence == 0 {
		rec.Confidence = 0.8
	}

	history := s.recentHistory(ctx, rec.OwnerID)
	s.annotate(rec, history)

	points, ids, err := s.buildPoints(ctx, rec)
	if err != nil {
		return nil, err
	}

	if err := s.vectors.Upsert(ctx, s.collection, points); err != nil {
		return nil, &StorageError{Op: "store memory", Err: err}
	}

	if len(points) > 1 {
		if err := s.verifyChunkSet(ctx, points, ids); err != nil {
			return ids, err
		}
	}

	s.memoriesStored.Add(1)
	s.log.Debug().
		Str("owner", rec.OwnerID).
		Str("kind", string(rec.Kind)).
		Int("chunks", len(points)).
		Str("tier", string(rec.Metadata.SignificanceTier)).
		Msg("memory stored")

	return ids, nil
}

// annotate fills the scoring-derived metadata on a record.
func (s *MemoryStore) annotate(rec *types.MemoryRecord, history []types.MemoryRecord) {
	emotion := AnalyzeEmotion(rec.Content)
	sig := ScoreSignificance(rec, history)
	trajectory := UpdateTrajectory(emotion, history)

	rec.Metadata.EmotionLabel = emotion.Category
	rec.Metadata.EmotionIntensity = emotion.Intensity
	rec.Metadata.EmotionIntensityEMA = UpdateEMA(emotion.Intensity, previousEMA(history))

	rec.Metadata.Significance = sig.Overall
	rec.Metadata.SignificanceTier = sig.Tier
	rec.Metadata.DecayResistance = sig.DecayResistance
	rec.Metadata.DecayWeight = 1.0

	rec.Metadata.TrajectoryVelocity = trajectory.Velocity
	rec.Metadata.TrajectoryStability = trajectory.Stability
	rec.Metadata.TrajectoryMomentum = trajectory.Momentum
}

// previousEMA finds the most recent stored EMA for cold-start detection.
func previousEMA(history []types.MemoryRecord) *float64 {
	for i := range history {
		if history[i].Metadata.EmotionLabel != "" {
			ema := history[i].Metadata.EmotionIntensityEMA
			return &ema
		}
	}
	return nil
}

// buildPoints chunks the record and produces one point per chunk with its
// named vectors populated per the enrichment mode.
func (s *MemoryStore) buildPoints(ctx context.Context, rec *types.MemoryRecord) ([]storage.Point, []string, error) {
	chunks := s.chunker.Chunk(rec.Content)
	if len(chunks) == 0 {
		chunks = []string{rec.Content}
	}

	points := make([]storage.Point, 0, len(chunks))
	ids := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		chunkRec := *rec
		chunkRec.Content = chunk
		if len(chunks) > 1 {
			if i > 0 {
				chunkRec.ID = uuid.NewString()
			}
			chunkRec.Metadata.IsChunk = true
			chunkRec.Metadata.ChunkIndex = i
			chunkRec.Metadata.ChunkTotal = len(chunks)
			chunkRec.Metadata.ParentMessageID = rec.ID
		}

		vectors, err := s.embedRecord(ctx, &chunkRec)
		if err != nil {
			return nil, nil, err
		}
		chunkRec.Embeddings = vectors

		points = append(points, storage.PointFromRecord(&chunkRec))
		ids = append(ids, chunkRec.ID)
	}
	return points, ids, nil
}

// embedRecord produces the named vectors for one chunk. The content
// vector is always present; the other dimensions depend on the mode.
func (s *MemoryStore) embedRecord(ctx context.Context, rec *types.MemoryRecord) (map[string][]float32, error) {
	contentVec, ok := rec.Embeddings[types.VectorContent]
	if !ok || len(contentVec) == 0 {
		var err error
		contentVec, err = s.embed(ctx, rec.Content)
		if err != nil {
			return nil, embeddingErr("store", err)
		}
	}

	vectors := map[string][]float32{types.VectorContent: contentVec}

	switch s.enrichment {
	case EnrichmentOff:
		// Content only.
	case EnrichmentBootstrap:
		for _, name := range types.VectorNames {
			if name == types.VectorContent {
				continue
			}
			vectors[name] = contentVec
		}
		rec.Metadata.Enrichment = string(EnrichmentBootstrap)
	case EnrichmentFull:
		emotion := AnalyzeEmotion(rec.Content)
		trajectory := UpdateTrajectory(emotion, nil)
		for name, text := range deriveDimensionTexts(rec, emotion, trajectory) {
			vec, err := s.embed(ctx, text)
			if err != nil {
				return nil, embeddingErr("enrichment", err)
			}
			vectors[name] = vec
		}
		rec.Metadata.Enrichment = string(EnrichmentFull)
	}

	return vectors, nil
}

func (s *MemoryStore) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.embeddingsGenerated.Add(1)
	return vec, nil
}

// verifyChunkSet confirms every chunk landed, retries the missing ones
// once, and on residual failure marks the surviving chunks incomplete so
// readers know the set is partial.
func (s *MemoryStore) verifyChunkSet(ctx context.Context, points []storage.Point, ids []string) error {
	missing := s.missingPoints(ctx, points, ids)
	if len(missing) == 0 {
		return nil
	}

	s.log.Warn().Int("missing", len(missing)).Msg("chunk set incomplete, retrying")
	if err := s.vectors.Upsert(ctx, s.collection, missing); err != nil {
		s.log.Error().Err(err).Msg("chunk retry failed")
	}

	missing = s.missingPoints(ctx, points, ids)
	if len(missing) == 0 {
		return nil
	}

	// Compensating write: flag whatever did land so retrieval can treat
	// the set as partial.
	for _, id := range ids {
		if _, err := s.vectors.UpdatePayload(ctx, s.collection, id, map[string]any{"incomplete": true}); err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("failed to flag incomplete chunk")
		}
	}
	return &StorageError{
		Op:  "store chunk set",
		Err: fmt.Errorf("%d of %d chunks missing after retry", len(missing), len(points)),
	}
}

func (s *MemoryStore) missingPoints(ctx context.Context, points []storage.Point, ids []string) []storage.Point {
	var missing []storage.Point
	for i, id := range ids {
		p, err := s.vectors.Fetch(ctx, s.collection, id)
		if err != nil || p == nil {
			missing = append(missing, points[i])
		}
	}
	return missing
}

// Search retrieves the owner's most relevant memories for a query. The
// query is classified and routed; classification or fusion failures
// degrade to a plain content-vector search rather than failing the call.
func (s *MemoryStore) Search(ctx context.Context, ownerID, query string, opts SearchOptions) ([]SearchResult, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrOwnerRequired)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	s.searchesExecuted.Add(1)

	filter := storage.Filter{OwnerID: ownerID, Kinds: opts.Kinds, Since: opts.Since, Until: opts.Until}

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		return nil, &SearchError{Op: "embed query", Err: embeddingErr("search", err)}
	}

	if opts.VectorName != "" {
		if !types.IsValidVectorName(opts.VectorName) {
			return nil, fmt.Errorf("%w: %q", storage.ErrVectorNameUnknown, opts.VectorName)
		}
		return s.singleVector(ctx, opts.VectorName, queryVec, filter, opts)
	}

	classification := s.classifier.Classify(query)

	switch classification.Strategy {
	case types.StrategyChronological:
		results, err := s.chronological(ctx, filter, opts)
		if err == nil {
			return results, nil
		}
		s.log.Warn().Err(err).Msg("chronological scan failed, degrading to content search")
	case types.StrategyMultiVector:
		results, err := s.fusion(ctx, classification.VectorWeights, queryVec, filter, opts)
		if err == nil {
			return results, nil
		}
		s.log.Warn().Err(err).Msg("fusion search failed, degrading to content search")
	}

	return s.singleVector(ctx, types.VectorContent, queryVec, filter, opts)
}

func (s *MemoryStore) singleVector(ctx context.Context, vectorName string, queryVec []float32, filter storage.Filter, opts SearchOptions) ([]SearchResult, error) {
	searchCtx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	hits, err := s.vectors.Search(searchCtx, s.collection, vectorName, queryVec, filter, opts.Limit, opts.MinScore)
	if err != nil {
		return nil, &SearchError{Op: "vector search", Err: err}
	}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{Record: h.Record(), Score: h.Score})
	}
	return results, nil
}

// chronological serves temporal queries by scanning newest-first. The
// score carries the record's decay weight so callers can still rank.
func (s *MemoryStore) chronological(ctx context.Context, filter storage.Filter, opts SearchOptions) ([]SearchResult, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	points, err := s.vectors.Scroll(scanCtx, s.collection, filter, 0, opts.Limit)
	if err != nil {
		return nil, &SearchError{Op: "chronological scan", Err: err}
	}
	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		rec := types.RecordFromPayload(p.ID, p.Payload)
		score := rec.Metadata.DecayWeight
		if score == 0 {
			score = 1
		}
		results = append(results, SearchResult{Record: rec, Score: score})
	}
	return results, nil
}

// fusion fans out one search per weighted vector dimension and merges the
// hits by weighted score. Every leg reuses the same query embedding. A
// failed or timed-out leg contributes nothing; if every leg fails the
// fusion fails and the caller degrades.
func (s *MemoryStore) fusion(ctx context.Context, weights map[string]float64, queryVec []float32, filter storage.Filter, opts SearchOptions) ([]SearchResult, error) {
	type legResult struct {
		weight float64
		hits   []storage.ScoredPoint
		err    error
		name   string
	}

	// Over-fetch per leg so the merged ranking has enough candidates.
	perLeg := opts.Limit * 3

	results := make(chan legResult, len(weights))
	var wg sync.WaitGroup
	for name, weight := range weights {
		wg.Add(1)
		go func(name string, weight float64) {
			defer wg.Done()
			legCtx, cancel := context.WithTimeout(ctx, s.searchTimeout)
			defer cancel()
			hits, err := s.vectors.Search(legCtx, s.collection, name, queryVec, filter, perLeg, 0)
			results <- legResult{weight: weight, hits: hits, err: err, name: name}
		}(name, weight)
	}
	wg.Wait()
	close(results)

	fused := make(map[string]*SearchResult)
	succeeded := 0
	for leg := range results {
		if leg.err != nil {
			s.log.Warn().Err(leg.err).Str("vector", leg.name).Msg("fusion leg failed")
			continue
		}
		succeeded++
		for _, h := range leg.hits {
			if existing, ok := fused[h.ID]; ok {
				existing.Score += leg.weight * h.Score
				continue
			}
			fused[h.ID] = &SearchResult{Record: h.Record(), Score: leg.weight * h.Score}
		}
	}
	if succeeded == 0 {
		return nil, &SearchError{Op: "fusion search", Err: fmt.Errorf("all %d fusion legs failed", len(weights))}
	}

	merged := make([]SearchResult, 0, len(fused))
	for _, r := range fused {
		if r.Score < opts.MinScore {
			continue
		}
		merged = append(merged, *r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return merged, nil
}

// Update replaces a memory's content in place, re-embedding it and
// stamping the correction fields. Unknown ids return (false, nil).
func (s *MemoryStore) Update(ctx context.Context, ownerID, id, newContent, reason string) (bool, error) {
	if ownerID == "" || id == "" {
		return false, fmt.Errorf("%w: owner id and memory id are required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(newContent) == "" {
		return false, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	existing, err := s.vectors.Fetch(ctx, s.collection, id)
	if err != nil {
		return false, &StorageError{Op: "fetch for update", Err: err}
	}
	if existing == nil {
		return false, nil
	}

	rec := types.RecordFromPayload(id, existing.Payload)
	if rec.OwnerID != ownerID {
		return false, nil
	}

	rec.Content = newContent
	rec.Embeddings = nil
	now := time.Now().UTC()
	rec.Metadata.UpdatedAt = &now
	rec.Metadata.UpdateReason = reason
	rec.Metadata.Corrected = true

	vectors, err := s.embedRecord(ctx, &rec)
	if err != nil {
		return false, err
	}
	rec.Embeddings = vectors

	if err := s.vectors.Upsert(ctx, s.collection, []storage.Point{storage.PointFromRecord(&rec)}); err != nil {
		return false, &StorageError{Op: "update memory", Err: err}
	}
	return true, nil
}

// Delete removes memories by id. Deleting an unknown id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, ids ...string) error {
	if err := s.vectors.Delete(ctx, s.collection, ids...); err != nil {
		return &StorageError{Op: "delete memory", Err: err}
	}
	return nil
}

// Stats snapshots the operation counters.
func (s *MemoryStore) Stats() Stats {
	return Stats{
		MemoriesStored:      s.memoriesStored.Load(),
		EmbeddingsGenerated: s.embeddingsGenerated.Load(),
		SearchesExecuted:    s.searchesExecuted.Load(),
		ContradictionChecks: s.contradictionChecks.Load(),
	}
}

// Ping reports vector-store reachability.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.vectors.Ping(ctx)
}

// Collection returns the collection this store is bound to.
func (s *MemoryStore) Collection() string { return s.collection }

// recentHistory fetches the owner's newest records for scoring. History is
// advisory; failures degrade to empty history.
func (s *MemoryStore) recentHistory(ctx context.Context, ownerID string) []types.MemoryRecord {
	points, err := s.vectors.Scroll(ctx, s.collection, storage.Filter{OwnerID: ownerID}, 0, s.historyLimit)
	if err != nil {
		s.log.Warn().Err(err).Str("owner", ownerID).Msg("history fetch failed, scoring without history")
		return nil
	}
	history := make([]types.MemoryRecord, 0, len(points))
	for _, p := range points {
		history = append(history, types.RecordFromPayload(p.ID, p.Payload))
	}
	return history
}
