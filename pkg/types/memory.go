package types

import "time"

// MemoryRecord is the atomic unit of long-term memory. Records belong to
// exactly one owner and are only ever retrievable through queries scoped to
// that owner; character isolation is structural (one collection per
// companion character), so no character field appears here.
type MemoryRecord struct {
	// ID is the vector-database point key (a UUID string).
	ID string `json:"id"`

	// OwnerID identifies the user this memory belongs to.
	OwnerID string `json:"owner_id"`

	// Kind drives default scoring weights and vector emphasis.
	Kind MemoryKind `json:"kind"`

	// Content is the raw text of the memory.
	Content string `json:"content"`

	// Embeddings maps vector-dimension name to its embedding. The
	// "content" entry is mandatory at persistence time; the other six
	// dimensions exist only when enrichment is enabled.
	Embeddings map[string][]float32 `json:"-"`

	// Confidence is in [0,1]. Explicit user statements and corrections
	// score 0.95, defaults 0.8, inferred facts 0.6-0.8.
	Confidence float64 `json:"confidence"`

	// Timestamp is the creation time in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries the reserved scorer/trajectory/chunk fields plus
	// caller-supplied extras.
	Metadata Metadata `json:"metadata"`
}

// Metadata holds the reserved, strongly-typed payload fields alongside an
// open Extra map for caller metadata. Payloads are flat documents: reserved
// keys always win, and colliding caller keys are dropped at flatten time.
type Metadata struct {
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`

	// Emotional context detected at storage time.
	EmotionLabel        string  `json:"emotion_label,omitempty"`
	EmotionIntensity    float64 `json:"emotion_intensity,omitempty"`
	EmotionIntensityEMA float64 `json:"emotion_intensity_ema,omitempty"`

	// Significance scoring outputs.
	Significance     float64          `json:"significance,omitempty"`
	SignificanceTier SignificanceTier `json:"significance_tier,omitempty"`
	DecayResistance  float64          `json:"decay_resistance,omitempty"`

	// DecayWeight is the effective retrieval weight maintained by the
	// decay pass. Zero means the pass has not touched the record yet.
	DecayWeight float64 `json:"decay_weight,omitempty"`

	// Emotional trajectory at storage time.
	TrajectoryVelocity  float64 `json:"trajectory_velocity,omitempty"`
	TrajectoryStability float64 `json:"trajectory_stability,omitempty"`
	TrajectoryMomentum  string  `json:"trajectory_momentum,omitempty"`

	// Chunk linkage for long content split across points.
	IsChunk         bool   `json:"is_chunk,omitempty"`
	ChunkIndex      int    `json:"chunk_index,omitempty"`
	ChunkTotal      int    `json:"chunk_total,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`

	// Incomplete marks a chunk set whose sibling writes could not all be
	// verified; set by the compensating write after a partial failure.
	Incomplete bool `json:"incomplete,omitempty"`

	// Correction bookkeeping, set by update operations.
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	UpdateReason string     `json:"update_reason,omitempty"`
	Corrected    bool       `json:"corrected,omitempty"`

	// Enrichment records which enrichment mode produced the non-content
	// vectors ("full" or "bootstrap"); empty when enrichment was off.
	Enrichment string `json:"enrichment,omitempty"`

	// Extra holds free-form caller metadata merged into the flat payload.
	Extra map[string]any `json:"extra,omitempty"`
}

// Reserved payload keys. Caller metadata colliding with these is dropped
// when flattening.
var reservedPayloadKeys = map[string]bool{
	"owner_id": true, "kind": true, "content": true, "timestamp": true,
	"confidence": true, "role": true, "session_id": true, "channel_id": true,
	"emotion_label": true, "emotion_intensity": true, "emotion_intensity_ema": true,
	"significance": true, "significance_tier": true, "decay_resistance": true,
	"decay_weight": true, "trajectory_velocity": true, "trajectory_stability": true,
	"trajectory_momentum": true, "is_chunk": true, "chunk_index": true,
	"chunk_total": true, "parent_message_id": true, "incomplete": true,
	"updated_at": true, "update_reason": true, "corrected": true,
	"enrichment": true,
}

// IsReservedPayloadKey reports whether key is owned by the engine and
// therefore unavailable to caller metadata.
func IsReservedPayloadKey(key string) bool {
	return reservedPayloadKeys[key]
}

// Payload flattens the record into the persisted key-value document. The
// layout matches the vector-database payload contract: reserved fields at
// the top level, caller extras merged alongside, collisions dropped.
func (r *MemoryRecord) Payload() map[string]any {
	p := map[string]any{
		"owner_id":   r.OwnerID,
		"kind":       string(r.Kind),
		"content":    r.Content,
		"timestamp":  r.Timestamp.UTC().Format(time.RFC3339Nano),
		"confidence": r.Confidence,
	}

	m := &r.Metadata
	if m.Role != "" {
		p["role"] = m.Role
	}
	if m.SessionID != "" {
		p["session_id"] = m.SessionID
	}
	if m.ChannelID != "" {
		p["channel_id"] = m.ChannelID
	}
	if m.EmotionLabel != "" {
		p["emotion_label"] = m.EmotionLabel
		p["emotion_intensity"] = m.EmotionIntensity
		p["emotion_intensity_ema"] = m.EmotionIntensityEMA
	}
	if m.SignificanceTier != "" {
		p["significance"] = m.Significance
		p["significance_tier"] = string(m.SignificanceTier)
		p["decay_resistance"] = m.DecayResistance
	}
	if m.DecayWeight > 0 {
		p["decay_weight"] = m.DecayWeight
	}
	if m.TrajectoryMomentum != "" {
		p["trajectory_velocity"] = m.TrajectoryVelocity
		p["trajectory_stability"] = m.TrajectoryStability
		p["trajectory_momentum"] = m.TrajectoryMomentum
	}
	if m.IsChunk {
		p["is_chunk"] = true
		p["chunk_index"] = m.ChunkIndex
		p["chunk_total"] = m.ChunkTotal
		p["parent_message_id"] = m.ParentMessageID
	}
	if m.Incomplete {
		p["incomplete"] = true
	}
	if m.UpdatedAt != nil {
		p["updated_at"] = m.UpdatedAt.UTC().Format(time.RFC3339Nano)
		p["update_reason"] = m.UpdateReason
		p["corrected"] = m.Corrected
	}
	if m.Enrichment != "" {
		p["enrichment"] = m.Enrichment
	}

	for k, v := range m.Extra {
		if IsReservedPayloadKey(k) {
			continue
		}
		p[k] = v
	}

	return p
}

// RecordFromPayload reconstructs a MemoryRecord from a persisted payload
// document. Unknown keys land in Metadata.Extra. Embeddings are not part of
// the payload and are left nil.
func RecordFromPayload(id string, payload map[string]any) MemoryRecord {
	rec := MemoryRecord{ID: id, Confidence: 0.8}
	m := &rec.Metadata

	for k, v := range payload {
		switch k {
		case "owner_id":
			rec.OwnerID = asString(v)
		case "kind":
			rec.Kind = MemoryKind(asString(v))
		case "content":
			rec.Content = asString(v)
		case "timestamp":
			if t, err := time.Parse(time.RFC3339Nano, asString(v)); err == nil {
				rec.Timestamp = t
			}
		case "confidence":
			rec.Confidence = asFloat(v)
		case "role":
			m.Role = asString(v)
		case "session_id":
			m.SessionID = asString(v)
		case "channel_id":
			m.ChannelID = asString(v)
		case "emotion_label":
			m.EmotionLabel = asString(v)
		case "emotion_intensity":
			m.EmotionIntensity = asFloat(v)
		case "emotion_intensity_ema":
			m.EmotionIntensityEMA = asFloat(v)
		case "significance":
			m.Significance = asFloat(v)
		case "significance_tier":
			m.SignificanceTier = SignificanceTier(asString(v))
		case "decay_resistance":
			m.DecayResistance = asFloat(v)
		case "decay_weight":
			m.DecayWeight = asFloat(v)
		case "trajectory_velocity":
			m.TrajectoryVelocity = asFloat(v)
		case "trajectory_stability":
			m.TrajectoryStability = asFloat(v)
		case "trajectory_momentum":
			m.TrajectoryMomentum = asString(v)
		case "is_chunk":
			m.IsChunk = asBool(v)
		case "chunk_index":
			m.ChunkIndex = asInt(v)
		case "chunk_total":
			m.ChunkTotal = asInt(v)
		case "parent_message_id":
			m.ParentMessageID = asString(v)
		case "incomplete":
			m.Incomplete = asBool(v)
		case "updated_at":
			if t, err := time.Parse(time.RFC3339Nano, asString(v)); err == nil {
				m.UpdatedAt = &t
			}
		case "update_reason":
			m.UpdateReason = asString(v)
		case "corrected":
			m.Corrected = asBool(v)
		case "enrichment":
			m.Enrichment = asString(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}

	return rec
}

// ContradictionCandidate pairs newly-submitted content with a previously
// stored record that is semantically near-identical yet textually
// different. Candidates are ephemeral: they are never persisted.
type ContradictionCandidate struct {
	// NewContent is the content being checked.
	NewContent string `json:"new_content"`

	// Existing is the stored record the new content likely contradicts.
	Existing MemoryRecord `json:"existing"`

	// Similarity is the verified cosine similarity between the two
	// contents' embeddings.
	Similarity float64 `json:"similarity"`
}

// Payload value coercion helpers. JSON round-trips deliver numbers as
// float64 and booleans occasionally as strings depending on the backend.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}
