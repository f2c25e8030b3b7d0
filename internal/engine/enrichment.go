package engine

import (
	"fmt"
	"strings"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// EnrichmentMode controls how the non-content vector dimensions are
// populated at store time.
type EnrichmentMode string

const (
	// EnrichmentOff stores only the content vector.
	EnrichmentOff EnrichmentMode = "off"

	// EnrichmentFull derives a text per dimension and embeds each one.
	// Seven embedding calls per record.
	EnrichmentFull EnrichmentMode = "full"

	// EnrichmentBootstrap copies the content vector into every dimension
	// so multi-vector search works before a real enrichment pass has run.
	// Records carry enrichment=bootstrap so they can be re-enriched later.
	EnrichmentBootstrap EnrichmentMode = "bootstrap"
)

// ParseEnrichmentMode validates a mode string, defaulting to bootstrap.
func ParseEnrichmentMode(s string) (EnrichmentMode, error) {
	switch EnrichmentMode(s) {
	case EnrichmentOff, EnrichmentFull, EnrichmentBootstrap:
		return EnrichmentMode(s), nil
	case "":
		return EnrichmentBootstrap, nil
	default:
		return "", fmt.Errorf("unknown enrichment mode %q", s)
	}
}

// deriveDimensionTexts produces the per-dimension view of a record used
// for full enrichment. Each derived text foregrounds the aspect its vector
// dimension is meant to capture, so the embeddings diverge even though
// they come from the same model.
func deriveDimensionTexts(rec *types.MemoryRecord, emotion EmotionAssessment, trajectory TrajectoryAssessment) map[string]string {
	content := strings.TrimSpace(rec.Content)

	return map[string]string{
		types.VectorEmotion: fmt.Sprintf("emotion %s intensity %.2f: %s",
			emotion.Category, emotion.Intensity, content),
		types.VectorSemantic: fmt.Sprintf("topic and meaning: %s", content),
		types.VectorRelationship: fmt.Sprintf("relationship between user and companion, role %s: %s",
			rec.Metadata.Role, content),
		types.VectorPersonality: fmt.Sprintf("personality traits and preferences expressed: %s", content),
		types.VectorInteraction: fmt.Sprintf("conversation dynamics, kind %s: %s",
			rec.Kind, content),
		types.VectorTemporal: fmt.Sprintf("time context %s, momentum %s: %s",
			rec.Timestamp.Format("2006-01-02 15:04"), trajectory.Momentum, content),
	}
}
