package engine

import (
	"math"
	"strings"
)

// emaAlpha is the smoothing factor for the emotional-intensity moving
// average. Higher values react faster to new samples.
const emaAlpha = 0.3

// EmotionAssessment is the keyword analyzer's read on a piece of text.
type EmotionAssessment struct {
	Category  string
	Intensity float64 // [0,1]
}

// emotionKeywords maps each category to its trigger words. Matching is on
// lowercase whole tokens.
var emotionKeywords = map[string][]string{
	"joy": {
		"happy", "joy", "excited", "glad", "delighted", "thrilled",
		"wonderful", "amazing", "great", "love", "fantastic", "awesome",
	},
	"sadness": {
		"sad", "unhappy", "depressed", "miserable", "down", "crying",
		"heartbroken", "lonely", "grief", "lost", "miss",
	},
	"anger": {
		"angry", "mad", "furious", "annoyed", "frustrated", "irritated",
		"hate", "outraged",
	},
	"fear": {
		"afraid", "scared", "worried", "anxious", "nervous", "terrified",
		"panic", "dread",
	},
	"love": {
		"adore", "cherish", "affection", "caring", "devoted", "fond",
	},
	"surprise": {
		"surprised", "shocked", "astonished", "unexpected", "stunned",
		"unbelievable",
	},
}

// intensifiers boost the measured intensity when present.
var intensifiers = []string{
	"very", "really", "so", "extremely", "incredibly", "absolutely",
	"totally", "completely",
}

// AnalyzeEmotion classifies text into an emotion category with an
// intensity in [0,1]. Text with no emotional keywords is neutral at a low
// baseline intensity.
func AnalyzeEmotion(text string) EmotionAssessment {
	tokens := fieldsLower(text)
	if len(tokens) == 0 {
		return EmotionAssessment{Category: "neutral", Intensity: 0.1}
	}

	counts := make(map[string]int)
	for category, words := range emotionKeywords {
		for _, tok := range tokens {
			for _, w := range words {
				if tok == w {
					counts[category]++
				}
			}
		}
	}

	best := "neutral"
	bestCount := 0
	for category, n := range counts {
		if n > bestCount {
			best, bestCount = category, n
		}
	}
	if bestCount == 0 {
		return EmotionAssessment{Category: "neutral", Intensity: 0.1}
	}

	// Base intensity scales with hit density; intensifiers and exclamation
	// marks push it up.
	intensity := 0.4 + 0.15*float64(bestCount)
	for _, tok := range tokens {
		for _, in := range intensifiers {
			if tok == in {
				intensity += 0.1
			}
		}
	}
	intensity += 0.05 * float64(strings.Count(text, "!"))

	return EmotionAssessment{Category: best, Intensity: clamp01(intensity)}
}

// UpdateEMA folds a raw intensity sample into the running average. A nil
// previous value is a cold start: the raw sample becomes the average.
func UpdateEMA(raw float64, previous *float64) float64 {
	raw = clamp01(raw)
	if previous == nil {
		return raw
	}
	return clamp01(emaAlpha*raw + (1-emaAlpha)**previous)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

// fieldsLower tokenizes text into lowercase words, stripping punctuation
// at token edges.
func fieldsLower(text string) []string {
	raw := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.Trim(tok, ".,!?;:'\"()[]")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
