package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

func emotionalHistory(samples ...struct {
	label     string
	intensity float64
}) []types.MemoryRecord {
	records := make([]types.MemoryRecord, 0, len(samples))
	for _, s := range samples {
		var rec types.MemoryRecord
		rec.Metadata.EmotionLabel = s.label
		rec.Metadata.EmotionIntensity = s.intensity
		records = append(records, rec)
	}
	return records
}

type sample = struct {
	label     string
	intensity float64
}

func TestUpdateTrajectory_NoHistory(t *testing.T) {
	got := UpdateTrajectory(EmotionAssessment{Category: "joy", Intensity: 0.8}, nil)
	assert.Equal(t, 0.0, got.Velocity)
	assert.Equal(t, 1.0, got.Stability)
	assert.Equal(t, "neutral", got.Momentum)
	assert.False(t, got.PatternDetected)
}

func TestUpdateTrajectory_RisingIntensityBuilds(t *testing.T) {
	history := emotionalHistory(
		sample{"joy", 0.6}, // newest
		sample{"joy", 0.3},
	)
	got := UpdateTrajectory(EmotionAssessment{Category: "joy", Intensity: 0.9}, history)
	assert.Greater(t, got.Velocity, 0.0)
	assert.Equal(t, "building", got.Momentum)
}

func TestUpdateTrajectory_FallingIntensityFades(t *testing.T) {
	history := emotionalHistory(
		sample{"sadness", 0.6},
		sample{"sadness", 0.9},
	)
	got := UpdateTrajectory(EmotionAssessment{Category: "sadness", Intensity: 0.2}, history)
	assert.Less(t, got.Velocity, 0.0)
	assert.Equal(t, "fading", got.Momentum)
}

func TestUpdateTrajectory_FlatIsStable(t *testing.T) {
	history := emotionalHistory(
		sample{"joy", 0.5}, sample{"joy", 0.5}, sample{"joy", 0.5},
	)
	flat := UpdateTrajectory(EmotionAssessment{Category: "joy", Intensity: 0.5}, history)

	volatileHistory := emotionalHistory(
		sample{"joy", 1.0}, sample{"joy", 0.0}, sample{"joy", 1.0},
	)
	volatile := UpdateTrajectory(EmotionAssessment{Category: "joy", Intensity: 0.0}, volatileHistory)

	assert.Greater(t, flat.Stability, volatile.Stability)
	assert.InDelta(t, 1.0, flat.Stability, 1e-9)
}

func TestUpdateTrajectory_PatternDetection(t *testing.T) {
	history := emotionalHistory(
		sample{"sadness", 0.5}, sample{"sadness", 0.6},
	)
	got := UpdateTrajectory(EmotionAssessment{Category: "sadness", Intensity: 0.5}, history)
	assert.True(t, got.PatternDetected)

	mixed := emotionalHistory(sample{"joy", 0.5}, sample{"sadness", 0.6})
	got = UpdateTrajectory(EmotionAssessment{Category: "anger", Intensity: 0.5}, mixed)
	assert.False(t, got.PatternDetected)
}

func TestUpdateTrajectory_SkipsRecordsWithoutEmotion(t *testing.T) {
	history := []types.MemoryRecord{{}, {}}
	got := UpdateTrajectory(EmotionAssessment{Category: "joy", Intensity: 0.7}, history)
	assert.Equal(t, 0.0, got.Velocity)
	assert.Equal(t, "neutral", got.Momentum)
}
