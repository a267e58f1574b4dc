// Package models - Emotion classes and the lazily loaded classifier bundle.
package models

import (
	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
)

// Emotion is one of the labels the classifier predicts.
type Emotion string

const (
	// Anger is the first model output.
	Anger Emotion = "anger"
	// Disgust is the second model output.
	Disgust Emotion = "disgust"
	// Fear is the third model output.
	Fear Emotion = "fear"
	// Happiness is the fourth model output.
	Happiness Emotion = "happiness"
	// Neutral is the fifth model output, and the result when no face is found.
	Neutral Emotion = "neutral"
	// Sadness is the sixth model output.
	Sadness Emotion = "sadness"
	// Surprise is the seventh model output.
	Surprise Emotion = "surprise"
)

// OutputClass represents one classifier label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The label.
	Name Emotion
}

// EmotionClasses lists the labels in model output order.
var EmotionClasses = []OutputClass{
	{0, Anger},
	{1, Disgust},
	{2, Fear},
	{3, Happiness},
	{4, Neutral},
	{5, Sadness},
	{6, Surprise},
}

// NumClasses is the length of the classifier output vector.
var NumClasses = len(EmotionClasses)

// Labels returns the labels in model output order.
func Labels() []Emotion {
	labels := make([]Emotion, len(EmotionClasses))
	for i, c := range EmotionClasses {
		labels[i] = c.Name
	}
	return labels
}

// Valid reports whether e is a known label.
func (e Emotion) Valid() bool {
	for _, c := range EmotionClasses {
		if c.Name == e {
			return true
		}
	}
	return false
}

// Probabilities maps each label to its probability.
type Probabilities map[Emotion]float64

// NewProbabilities pairs a normalized vector with the labels.
//
// Arguments:
//   - values: One value per label in model output order.
//
// Returns:
//   - Probabilities: The labelled distribution.
//   - error: common.ErrInvalid when the length differs from NumClasses.
func NewProbabilities(values []float64) (Probabilities, error) {
	if len(values) != NumClasses {
		return nil, errors.Wrapf(common.ErrInvalid,
			"classifier returned %d values, expected %d", len(values), NumClasses)
	}

	probs := make(Probabilities, NumClasses)
	for i, c := range EmotionClasses {
		probs[c.Name] = values[i]
	}
	return probs, nil
}

// NeutralProbabilities is the distribution reported when no face is visible.
func NeutralProbabilities() Probabilities {
	probs := make(Probabilities, NumClasses)
	for _, c := range EmotionClasses {
		probs[c.Name] = 0
	}
	probs[Neutral] = 1
	return probs
}

// Dominant returns the label with the highest probability.
//
// Ties go to the label that comes first in model output order. An empty map yields
// Neutral.
func (p Probabilities) Dominant() Emotion {
	best := Neutral
	bestValue := 0.0
	found := false
	for _, c := range EmotionClasses {
		v, ok := p[c.Name]
		if !ok {
			continue
		}
		if !found || v > bestValue {
			best, bestValue, found = c.Name, v, true
		}
	}
	return best
}
