package engine

import (
	"strings"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// Factor weights for the overall significance score. They sum to 1.0 and
// are fixed; tuning happens by changing factor computation, not weights.
const (
	weightEmotionalIntensity  = 0.25
	weightPersonalRelevance   = 0.20
	weightUniqueness          = 0.20
	weightInteractionValue    = 0.15
	weightTemporalImportance  = 0.10
	weightPatternSignificance = 0.10
)

// SignificanceAssessment is the scorer's output for one record.
type SignificanceAssessment struct {
	Overall         float64
	Tier            types.SignificanceTier
	Factors         map[string]float64
	DecayResistance float64
}

var personalMarkers = map[string]bool{
	"i": true, "me": true, "my": true, "mine": true, "myself": true,
	"we": true, "our": true, "us": true,
}

var temporalMarkers = map[string]bool{
	"always": true, "never": true, "every": true, "birthday": true,
	"anniversary": true, "yesterday": true, "tomorrow": true, "today": true,
	"annual": true, "weekly": true, "daily": true,
}

// ScoreSignificance rates how memorable a record is relative to the
// owner's recent history. Missing or malformed history never errors; the
// history-dependent factors fall back to neutral 0.5.
func ScoreSignificance(rec *types.MemoryRecord, history []types.MemoryRecord) SignificanceAssessment {
	if rec == nil || strings.TrimSpace(rec.Content) == "" {
		return neutralAssessment()
	}

	emotion := AnalyzeEmotion(rec.Content)
	tokens := fieldsLower(rec.Content)

	factors := map[string]float64{
		"emotional_intensity":  emotion.Intensity,
		"personal_relevance":   personalRelevance(tokens),
		"uniqueness":           uniqueness(tokens, history),
		"interaction_value":    interactionValue(rec, tokens),
		"temporal_importance":  temporalImportance(tokens),
		"pattern_significance": patternSignificance(emotion.Category, history),
	}

	overall := clamp01(
		weightEmotionalIntensity*factors["emotional_intensity"] +
			weightPersonalRelevance*factors["personal_relevance"] +
			weightUniqueness*factors["uniqueness"] +
			weightInteractionValue*factors["interaction_value"] +
			weightTemporalImportance*factors["temporal_importance"] +
			weightPatternSignificance*factors["pattern_significance"])

	return SignificanceAssessment{
		Overall:         overall,
		Tier:            types.TierForScore(overall),
		Factors:         factors,
		DecayResistance: DecayResistance(overall),
	}
}

// DecayResistance maps an overall significance score to how strongly the
// record resists time decay. Monotone in the score; even minimal memories
// keep half their weight floor.
func DecayResistance(overall float64) float64 {
	return clamp01(0.5 + clamp01(overall)/2)
}

func neutralAssessment() SignificanceAssessment {
	return SignificanceAssessment{
		Overall: 0.5,
		Tier:    types.TierStandard,
		Factors: map[string]float64{
			"emotional_intensity":  0.5,
			"personal_relevance":   0.5,
			"uniqueness":           0.5,
			"interaction_value":    0.5,
			"temporal_importance":  0.5,
			"pattern_significance": 0.5,
		},
		DecayResistance: DecayResistance(0.5),
	}
}

// personalRelevance scores how much the text is about the speaker.
func personalRelevance(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0.5
	}
	hits := 0
	for _, tok := range tokens {
		if personalMarkers[tok] {
			hits++
		}
	}
	return clamp01(0.2 + 0.2*float64(hits))
}

// uniqueness compares token overlap against recent history. Low overlap
// with everything seen recently means new information.
func uniqueness(tokens []string, history []types.MemoryRecord) float64 {
	if len(history) == 0 || len(tokens) == 0 {
		return 0.5
	}

	maxOverlap := 0.0
	for i := range history {
		overlap := jaccard(tokens, fieldsLower(history[i].Content))
		if overlap > maxOverlap {
			maxOverlap = overlap
		}
	}
	return clamp01(1 - maxOverlap)
}

// interactionValue rewards substantive exchanges: questions, corrections,
// and longer content carry more signal than filler.
func interactionValue(rec *types.MemoryRecord, tokens []string) float64 {
	score := 0.3
	if strings.Contains(rec.Content, "?") {
		score += 0.2
	}
	if rec.Kind == types.KindCorrection || rec.Kind == types.KindFact || rec.Kind == types.KindPreference {
		score += 0.2
	}
	if len(tokens) >= 12 {
		score += 0.2
	}
	return clamp01(score)
}

// temporalImportance detects anchored or recurring time references.
func temporalImportance(tokens []string) float64 {
	hits := 0
	for _, tok := range tokens {
		if temporalMarkers[tok] {
			hits++
		}
	}
	return clamp01(0.3 + 0.25*float64(hits))
}

// patternSignificance rises when the new record's emotion continues a run
// already present in recent history.
func patternSignificance(category string, history []types.MemoryRecord) float64 {
	if len(history) == 0 || category == "neutral" {
		return 0.5
	}
	matches := 0
	for i := range history {
		if history[i].Metadata.EmotionLabel == category {
			matches++
		}
	}
	return clamp01(0.4 + 0.15*float64(matches))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
