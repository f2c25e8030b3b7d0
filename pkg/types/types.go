// Package types defines the core data structures for the WhisperEngine
// memory system: memory records, named vector dimensions, significance
// tiers, and the ephemeral classification/contradiction results exchanged
// between the engine components.
package types

// MemoryKind classifies the purpose of a memory record and drives default
// scoring weights at storage time.
type MemoryKind string

const (
	// KindConversation is one side of a conversational exchange.
	KindConversation MemoryKind = "conversation"

	// KindFact is a discrete statement about the owner's world.
	KindFact MemoryKind = "fact"

	// KindContext is background information attached to a session.
	KindContext MemoryKind = "context"

	// KindCorrection is an explicit user correction of a prior fact.
	KindCorrection MemoryKind = "correction"

	// KindRelationship captures information about people and bonds.
	KindRelationship MemoryKind = "relationship"

	// KindPreference is a stated like, dislike, or standing instruction.
	KindPreference MemoryKind = "preference"
)

// ValidMemoryKinds lists every accepted memory kind for validation.
var ValidMemoryKinds = []MemoryKind{
	KindConversation,
	KindFact,
	KindContext,
	KindCorrection,
	KindRelationship,
	KindPreference,
}

// IsValidMemoryKind reports whether the given kind is one of the known kinds.
func IsValidMemoryKind(kind MemoryKind) bool {
	for _, k := range ValidMemoryKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Named vector dimensions. Every stored point carries at least the content
// vector; the remaining six exist only when enrichment is enabled.
const (
	VectorContent      = "content"
	VectorEmotion      = "emotion"
	VectorSemantic     = "semantic"
	VectorRelationship = "relationship"
	VectorPersonality  = "personality"
	VectorInteraction  = "interaction"
	VectorTemporal     = "temporal"
)

// VectorNames lists all named vector dimensions in a stable order,
// content first.
var VectorNames = []string{
	VectorContent,
	VectorEmotion,
	VectorSemantic,
	VectorRelationship,
	VectorPersonality,
	VectorInteraction,
	VectorTemporal,
}

// IsValidVectorName reports whether name is a known vector dimension.
func IsValidVectorName(name string) bool {
	for _, n := range VectorNames {
		if n == name {
			return true
		}
	}
	return false
}

// SignificanceTier is a discrete bucketing of the continuous significance
// score. Tiers decide how strongly a memory resists decay.
type SignificanceTier string

const (
	TierMinimal  SignificanceTier = "minimal"
	TierLow      SignificanceTier = "low"
	TierStandard SignificanceTier = "standard"
	TierHigh     SignificanceTier = "high"
	TierCritical SignificanceTier = "critical"
)

// TierForScore maps a significance score in [0,1] to its tier. The bucketing
// is monotone: a higher score never maps to a lower tier. Out-of-range
// scores are clamped.
func TierForScore(score float64) SignificanceTier {
	switch {
	case score < 0.2:
		return TierMinimal
	case score < 0.4:
		return TierLow
	case score < 0.6:
		return TierStandard
	case score < 0.8:
		return TierHigh
	default:
		return TierCritical
	}
}

// Rank returns the ordinal position of the tier (minimal=0 .. critical=4),
// used to compare tiers.
func (t SignificanceTier) Rank() int {
	switch t {
	case TierMinimal:
		return 0
	case TierLow:
		return 1
	case TierStandard:
		return 2
	case TierHigh:
		return 3
	case TierCritical:
		return 4
	default:
		return -1
	}
}

// Conversation roles stored in record metadata.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)
