package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// contradictionKinds are the record kinds worth checking for conflicts.
// Conversational chatter is allowed to contradict itself.
var contradictionKinds = []types.MemoryKind{types.KindFact, types.KindPreference}

// DetectContradictions finds stored facts and preferences that are highly
// similar to the new content yet textually different. Candidates are
// flagged for the caller to resolve; nothing is modified or deleted.
func (s *MemoryStore) DetectContradictions(ctx context.Context, ownerID, newContent string) ([]types.ContradictionCandidate, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", storage.ErrOwnerRequired)
	}
	if strings.TrimSpace(newContent) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	s.contradictionChecks.Add(1)

	newVec, err := s.embed(ctx, newContent)
	if err != nil {
		return nil, embeddingErr("contradiction check", err)
	}

	filter := storage.Filter{OwnerID: ownerID, Kinds: contradictionKinds}
	hits, err := s.vectors.Search(ctx, s.collection, types.VectorContent, newVec, filter, 10, s.contradictionThreshold)
	if err != nil {
		return nil, &SearchError{Op: "contradiction search", Err: err}
	}

	var candidates []types.ContradictionCandidate
	for _, hit := range hits {
		rec := hit.Record()

		// Identical restatements are reinforcement, not contradiction.
		if strings.EqualFold(strings.TrimSpace(rec.Content), strings.TrimSpace(newContent)) {
			continue
		}

		// Re-embed the stored side and re-check the similarity directly.
		// The index's score can drift from the true cosine (approximate
		// indexes, stale vectors after payload edits).
		existingVec, err := s.embed(ctx, rec.Content)
		if err != nil {
			s.log.Warn().Err(err).Str("id", rec.ID).Msg("contradiction re-embed failed, keeping index score")
			existingVec = nil
		}
		similarity := hit.Score
		if existingVec != nil {
			similarity = storage.CosineSimilarity(newVec, existingVec)
			if similarity < s.contradictionThreshold {
				continue
			}
		}

		candidates = append(candidates, types.ContradictionCandidate{
			NewContent: newContent,
			Existing:   rec,
			Similarity: similarity,
		})
	}
	return candidates, nil
}
