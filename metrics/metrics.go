// Package metrics - Driver attention metrics derived from emotion probabilities.
package metrics

import (
	"math"

	"github.com/nvr-ai/go-emotion/analyzer"
	"github.com/nvr-ai/go-emotion/models"
)

// Triple holds the three attention metrics, each in [0, 100] with one decimal.
type Triple struct {
	Stress float64 `json:"stress" yaml:"stress"`
	Calm   float64 `json:"calm"   yaml:"calm"`
	Focus  float64 `json:"focus"  yaml:"focus"`
}

// Fallback is reported when the metrics cannot be computed.
var Fallback = Triple{Stress: 25.0, Calm: 50.0, Focus: 50.0}

// Weights is a linear combination of emotion probabilities.
type Weights map[models.Emotion]float64

var (
	// StressWeights combine the negative, high arousal emotions.
	StressWeights = Weights{
		models.Anger:    1.0,
		models.Disgust:  0.9,
		models.Fear:     0.9,
		models.Sadness:  0.5,
		models.Surprise: 0.2,
	}
	// CalmWeights combine the relaxed emotions.
	CalmWeights = Weights{
		models.Neutral:   1.0,
		models.Happiness: 0.8,
	}
	// FocusWeights reward attentive states and penalize fear and anger.
	FocusWeights = Weights{
		models.Neutral:   0.8,
		models.Surprise:  0.6,
		models.Happiness: 0.5,
		models.Fear:      -0.5,
		models.Anger:     -0.5,
	}
)

// Apply returns the weighted sum; labels missing from probs count as 0.
func (w Weights) Apply(probs models.Probabilities) float64 {
	total := 0.0
	// Label order keeps the floating point sum deterministic.
	for _, c := range models.EmotionClasses {
		if weight, ok := w[c.Name]; ok {
			total += probs[c.Name] * weight
		}
	}
	return total
}

// FromProbabilities maps a distribution to stress, calm and focus.
//
// Each weighted sum is scaled to a percentage, clamped to [0, 100] and rounded to one
// decimal. Any non-finite intermediate yields Fallback.
//
// Arguments:
//   - probs: Emotion probabilities; need not contain every label.
//
// Returns:
//   - Triple: The metrics.
func FromProbabilities(probs models.Probabilities) Triple {
	stress := StressWeights.Apply(probs)
	calm := CalmWeights.Apply(probs)
	focus := FocusWeights.Apply(probs)

	for _, v := range []float64{stress, calm, focus} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Fallback
		}
	}

	return Triple{
		Stress: percent(stress),
		Calm:   percent(calm),
		Focus:  percent(focus),
	}
}

// FromResult maps an analysis result to metrics; nil or probability-less results get
// Fallback.
func FromResult(result *analyzer.Result) Triple {
	if result == nil || len(result.Probabilities) == 0 {
		return Fallback
	}
	return FromProbabilities(result.Probabilities)
}

// percent scales to [0, 100] and rounds half to even at one decimal.
func percent(v float64) float64 {
	v = math.Max(0, math.Min(100, v*100))
	return math.RoundToEven(v*10) / 10
}
