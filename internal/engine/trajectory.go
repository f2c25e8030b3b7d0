package engine

import (
	"math"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// trajectoryWindow bounds how many recent samples feed the trajectory
// computation. Older samples stop influencing velocity and stability.
const trajectoryWindow = 12

// TrajectoryAssessment describes the direction and steadiness of an
// owner's recent emotional arc.
type TrajectoryAssessment struct {
	Velocity        float64 // [-1,1], signed per-step intensity change
	Stability       float64 // [0,1], inverse variance of intensities
	Momentum        string  // building | fading | neutral
	PatternDetected bool    // same emotion category repeated 3+ times
}

// UpdateTrajectory computes the trajectory from the new sample and the
// owner's stored history, newest first. It is a pure function of its
// inputs and is recomputed on every store.
func UpdateTrajectory(current EmotionAssessment, history []types.MemoryRecord) TrajectoryAssessment {
	intensities := []float64{clamp01(current.Intensity)}
	categories := []string{current.Category}

	for i := range history {
		if len(intensities) >= trajectoryWindow {
			break
		}
		m := history[i].Metadata
		if m.EmotionLabel == "" {
			continue
		}
		intensities = append(intensities, clamp01(m.EmotionIntensity))
		categories = append(categories, m.EmotionLabel)
	}

	return TrajectoryAssessment{
		Velocity:        velocity(intensities),
		Stability:       stability(intensities),
		Momentum:        momentum(intensities),
		PatternDetected: repeatedCategory(categories),
	}
}

// velocity is the mean signed step between consecutive samples, oriented
// oldest-to-newest. Positive means intensity is rising.
func velocity(newestFirst []float64) float64 {
	if len(newestFirst) < 2 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(newestFirst)-1; i++ {
		sum += newestFirst[i] - newestFirst[i+1]
	}
	v := sum / float64(len(newestFirst)-1)
	return math.Min(math.Max(v, -1), 1)
}

// stability maps intensity variance to [0,1]: flat histories are stable,
// volatile ones are not. Variance of [0,1] samples is at most 0.25.
func stability(samples []float64) float64 {
	if len(samples) < 2 {
		return 1
	}
	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))

	variance := 0.0
	for _, v := range samples {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(samples))

	return clamp01(1 - variance/0.25)
}

// momentum looks at the velocities of the last three steps: consistently
// positive is building, consistently negative is fading.
func momentum(newestFirst []float64) string {
	steps := len(newestFirst) - 1
	if steps < 1 {
		return "neutral"
	}
	if steps > 3 {
		steps = 3
	}

	positive, negative := 0, 0
	for i := 0; i < steps; i++ {
		d := newestFirst[i] - newestFirst[i+1]
		switch {
		case d > 0.02:
			positive++
		case d < -0.02:
			negative++
		}
	}

	switch {
	case positive > 0 && negative == 0:
		return "building"
	case negative > 0 && positive == 0:
		return "fading"
	default:
		return "neutral"
	}
}

// repeatedCategory reports whether any non-neutral emotion appears three
// or more times in the window.
func repeatedCategory(categories []string) bool {
	counts := make(map[string]int)
	for _, c := range categories {
		if c == "" || c == "neutral" {
			continue
		}
		counts[c]++
		if counts[c] >= 3 {
			return true
		}
	}
	return false
}
