package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateEMA_ColdStart(t *testing.T) {
	assert.InDelta(t, 0.7, UpdateEMA(0.7, nil), 1e-9)
	assert.InDelta(t, 0.0, UpdateEMA(0.0, nil), 1e-9)
}

func TestUpdateEMA_Smoothing(t *testing.T) {
	prev := 0.5
	got := UpdateEMA(1.0, &prev)
	assert.InDelta(t, 0.65, got, 1e-9)

	// The average moves toward the raw sample but never past it.
	assert.Greater(t, got, prev)
	assert.Less(t, got, 1.0)
}

func TestUpdateEMA_StepNeverExceedsRawDelta(t *testing.T) {
	prev := 0.2
	raw := 0.9
	got := UpdateEMA(raw, &prev)
	assert.LessOrEqual(t, got-prev, raw-prev)
}

func TestUpdateEMA_Bounds(t *testing.T) {
	prev := 0.9
	assert.LessOrEqual(t, UpdateEMA(5.0, &prev), 1.0)
	assert.GreaterOrEqual(t, UpdateEMA(-3.0, &prev), 0.0)
	assert.InDelta(t, 1.0, UpdateEMA(7.2, nil), 1e-9)
}

func TestAnalyzeEmotion_Categories(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"I'm so happy and excited about this!", "joy"},
		{"I feel really sad and lonely tonight", "sadness"},
		{"That makes me furious and frustrated", "anger"},
		{"I'm terrified and anxious about tomorrow", "fear"},
		{"What a shocked, unexpected turn", "surprise"},
		{"The meeting is at three o'clock", "neutral"},
	}
	for _, tc := range cases {
		got := AnalyzeEmotion(tc.text)
		assert.Equal(t, tc.want, got.Category, tc.text)
	}
}

func TestAnalyzeEmotion_IntensifiersRaiseIntensity(t *testing.T) {
	plain := AnalyzeEmotion("I am happy")
	boosted := AnalyzeEmotion("I am so incredibly happy!!!")
	assert.Greater(t, boosted.Intensity, plain.Intensity)
	assert.LessOrEqual(t, boosted.Intensity, 1.0)
}

func TestAnalyzeEmotion_EmptyText(t *testing.T) {
	got := AnalyzeEmotion("   ")
	assert.Equal(t, "neutral", got.Category)
	assert.Greater(t, got.Intensity, 0.0)
}
