package engine

import (
	"strings"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// QueryClassifier decides which vector dimensions a query should search.
type QueryClassifier interface {
	Classify(text string) types.QueryClassification
}

// KeywordClassifier is the default classifier. Category checks run in
// strict priority order: temporal queries pre-empt everything else, since
// "how did I feel yesterday" must scan chronologically no matter how
// emotional it sounds.
type KeywordClassifier struct{}

var _ QueryClassifier = KeywordClassifier{}

var temporalQueryMarkers = []string{
	"yesterday", "today", "last week", "last month", "last time", "recently",
	"earlier", "this morning", "tonight", "ago", "first time", "first thing",
	"what was the first", "when did", "when was", "when i was",
}

var emotionalQueryMarkers = []string{
	"feel", "feeling", "felt", "emotion", "mood", "happy", "sad", "angry",
	"upset", "excited", "worried", "anxious", "love", "hate",
}

var conversationalQueryMarkers = []string{
	"we talked", "we discussed", "our conversation", "you said", "i told you",
	"you mentioned", "we were saying", "remember when we",
}

var conceptualQueryMarkers = []string{
	"similar to", "like", "related to", "reminds", "kind of", "sort of",
	"concept", "idea", "theme", "in general", "about",
}

// Classify routes a query to a category, strategy, and vector weighting.
// Weights always sum to 1.0.
func (KeywordClassifier) Classify(text string) types.QueryClassification {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, temporalQueryMarkers):
		return types.QueryClassification{
			Category:      types.CategoryTemporal,
			Strategy:      types.StrategyChronological,
			VectorWeights: map[string]float64{types.VectorTemporal: 0.6, types.VectorContent: 0.4},
			Confidence:    0.9,
		}
	case containsAny(lower, emotionalQueryMarkers):
		return types.QueryClassification{
			Category: types.CategoryEmotional,
			Strategy: types.StrategyMultiVector,
			VectorWeights: map[string]float64{
				types.VectorEmotion:  0.5,
				types.VectorContent:  0.3,
				types.VectorTemporal: 0.2,
			},
			Confidence: 0.8,
		}
	case containsAny(lower, conversationalQueryMarkers):
		return types.QueryClassification{
			Category: types.CategoryConversational,
			Strategy: types.StrategyMultiVector,
			VectorWeights: map[string]float64{
				types.VectorContent:      0.4,
				types.VectorInteraction:  0.4,
				types.VectorRelationship: 0.2,
			},
			Confidence: 0.75,
		}
	case containsAny(lower, conceptualQueryMarkers):
		return types.QueryClassification{
			Category: types.CategorySemanticConceptual,
			Strategy: types.StrategyMultiVector,
			VectorWeights: map[string]float64{
				types.VectorSemantic: 0.5,
				types.VectorContent:  0.5,
			},
			Confidence: 0.7,
		}
	default:
		return types.QueryClassification{
			Category:      types.CategoryFactual,
			Strategy:      types.StrategySingleVector,
			VectorWeights: map[string]float64{types.VectorContent: 1.0},
			Confidence:    0.6,
		}
	}
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
