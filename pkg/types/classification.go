package types

// QueryCategory is the detected intent of a search query.
type QueryCategory string

const (
	// CategoryFactual covers plain what/who/list lookups. It is also the
	// fallback when no other category matches.
	CategoryFactual QueryCategory = "factual"

	// CategoryEmotional covers queries about feelings and emotional state.
	CategoryEmotional QueryCategory = "emotional"

	// CategorySemanticConceptual covers abstract/conceptual queries.
	CategorySemanticConceptual QueryCategory = "semantic_conceptual"

	// CategoryTemporal covers queries anchored in time ("first time",
	// "when did"). Temporal pre-empts every other category.
	CategoryTemporal QueryCategory = "temporal"

	// CategoryConversational covers references to prior dialogue.
	CategoryConversational QueryCategory = "conversational"

	// CategoryGeneral is used when classification itself is unavailable.
	CategoryGeneral QueryCategory = "general"
)

// SearchStrategy selects how a classified query is executed.
type SearchStrategy string

const (
	// StrategySingleVector searches one named vector (the cheap path).
	StrategySingleVector SearchStrategy = "single_vector"

	// StrategyMultiVector fans out over several named vectors and fuses
	// per-candidate scores by weighted sum.
	StrategyMultiVector SearchStrategy = "multi_vector_fusion"

	// StrategyChronological bypasses vector similarity and scans the
	// owner's history ordered by timestamp.
	StrategyChronological SearchStrategy = "chronological"
)

// QueryClassification is the ephemeral result of classifying a search
// query. VectorWeights always sum to 1.0 for vector-backed strategies;
// vectors absent from the map carry weight zero.
type QueryClassification struct {
	Category      QueryCategory      `json:"category"`
	Strategy      SearchStrategy     `json:"strategy"`
	VectorWeights map[string]float64 `json:"vector_weights,omitempty"`
	Confidence    float64            `json:"confidence"`
}

// PrimaryVector returns the vector name with the highest fusion weight,
// defaulting to the content vector.
func (q QueryClassification) PrimaryVector() string {
	best, bestWeight := VectorContent, 0.0
	for name, w := range q.VectorWeights {
		if w > bestWeight {
			best, bestWeight = name, w
		}
	}
	return best
}
