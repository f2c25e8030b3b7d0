package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

func record(kind types.MemoryKind, content string) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:        "test",
		OwnerID:   "owner",
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func TestScoreSignificance_NeutralFallback(t *testing.T) {
	got := ScoreSignificance(nil, nil)
	assert.InDelta(t, 0.5, got.Overall, 1e-9)
	assert.Equal(t, types.TierStandard, got.Tier)

	got = ScoreSignificance(record(types.KindConversation, "   "), nil)
	assert.InDelta(t, 0.5, got.Overall, 1e-9)
	assert.Equal(t, types.TierStandard, got.Tier)
}

func TestScoreSignificance_FactorsInRange(t *testing.T) {
	got := ScoreSignificance(record(types.KindFact, "My birthday is always in March and I love it!"), nil)
	require.Len(t, got.Factors, 6)
	for name, v := range got.Factors {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
	assert.GreaterOrEqual(t, got.Overall, 0.0)
	assert.LessOrEqual(t, got.Overall, 1.0)
}

func TestScoreSignificance_EmotionalBeatsBland(t *testing.T) {
	emotional := ScoreSignificance(record(types.KindConversation,
		"I am so incredibly happy and excited, my best friend surprised me!!!"), nil)
	bland := ScoreSignificance(record(types.KindConversation, "ok"), nil)
	assert.Greater(t, emotional.Overall, bland.Overall)
}

func TestScoreSignificance_RepeatedContentLessUnique(t *testing.T) {
	history := []types.MemoryRecord{
		*record(types.KindConversation, "I walked my dog in the park this morning"),
	}
	repeat := ScoreSignificance(record(types.KindConversation, "I walked my dog in the park this morning"), history)
	fresh := ScoreSignificance(record(types.KindConversation, "The orchestra rehearsal ran late"), history)
	assert.Less(t, repeat.Factors["uniqueness"], fresh.Factors["uniqueness"])
}

func TestDecayResistance_MonotoneInScore(t *testing.T) {
	prev := DecayResistance(0)
	for score := 0.0; score <= 1.0; score += 0.05 {
		r := DecayResistance(score)
		assert.GreaterOrEqual(t, r, prev)
		assert.GreaterOrEqual(t, r, 0.5)
		assert.LessOrEqual(t, r, 1.0)
		prev = r
	}
}

func TestScoreSignificance_TierMatchesOverall(t *testing.T) {
	got := ScoreSignificance(record(types.KindFact, "My sister's name is Maria"), nil)
	assert.Equal(t, types.TierForScore(got.Overall), got.Tier)
}
