package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

const (
	// defaultDecayHalfLife is how long the time-decayed component takes
	// to halve. One week keeps day-to-day conversation fresh while core
	// facts, protected by resistance, barely move.
	defaultDecayHalfLife = 168 * time.Hour

	// decayEpsilon suppresses payload writes for changes too small to
	// affect ranking.
	decayEpsilon = 0.01

	// decayPageSize is the scroll page size for the sweep.
	decayPageSize = 200
)

// DecayWeight computes the effective retrieval weight of a memory of the
// given age. Resistance sets the floor: a fully resistant memory never
// decays, a zero-resistance one halves every half-life.
func DecayWeight(resistance float64, age time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = defaultDecayHalfLife
	}
	resistance = clamp01(resistance)
	if age < 0 {
		age = 0
	}
	decayed := math.Exp2(-age.Hours() / halfLife.Hours())
	return clamp01(resistance + (1-resistance)*decayed)
}

// DecayPassResult summarizes one sweep.
type DecayPassResult struct {
	Scanned int
	Updated int
}

// DecayPass recomputes decay weights across the whole collection, writing
// payload-only updates where the weight moved more than epsilon. Records
// are never deleted; decay only reweights retrieval.
func (s *MemoryStore) DecayPass(ctx context.Context, halfLife time.Duration, log zerolog.Logger) (DecayPassResult, error) {
	var result DecayPassResult
	now := time.Now().UTC()

	for offset := 0; ; offset += decayPageSize {
		points, err := s.vectors.Scroll(ctx, s.collection, storage.Filter{AllOwners: true}, offset, decayPageSize)
		if err != nil {
			return result, &StorageError{Op: "decay scroll", Err: err}
		}
		if len(points) == 0 {
			break
		}

		for _, p := range points {
			result.Scanned++
			rec := types.RecordFromPayload(p.ID, p.Payload)

			weight := DecayWeight(rec.Metadata.DecayResistance, now.Sub(rec.Timestamp), halfLife)
			if math.Abs(weight-rec.Metadata.DecayWeight) <= decayEpsilon {
				continue
			}

			found, err := s.vectors.UpdatePayload(ctx, s.collection, p.ID, map[string]any{"decay_weight": weight})
			if err != nil {
				log.Error().Err(err).Str("id", p.ID).Msg("decay update failed")
				continue
			}
			if found {
				result.Updated++
			}
		}

		if len(points) < decayPageSize {
			break
		}
	}

	log.Info().Int("scanned", result.Scanned).Int("updated", result.Updated).Msg("decay pass complete")
	return result, nil
}
