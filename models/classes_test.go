package models

import (
	"testing"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabels_Order(t *testing.T) {
	assert.Equal(t,
		[]Emotion{Anger, Disgust, Fear, Happiness, Neutral, Sadness, Surprise},
		Labels())
	for i, c := range EmotionClasses {
		assert.Equal(t, i, c.Index)
	}
	assert.True(t, Happiness.Valid())
	assert.False(t, Emotion("contempt").Valid())
}

func TestNewProbabilities(t *testing.T) {
	probs, err := NewProbabilities([]float64{0.1, 0, 0, 0.6, 0.2, 0.1, 0})
	require.NoError(t, err)
	assert.Len(t, probs, NumClasses)
	assert.Equal(t, 0.6, probs[Happiness])
	assert.Equal(t, Happiness, probs.Dominant())

	_, err = NewProbabilities([]float64{0.5, 0.5})
	assert.True(t, errors.Is(err, common.ErrInvalid))
}

func TestProbabilities_Dominant(t *testing.T) {
	tests := []struct {
		name     string
		probs    Probabilities
		expected Emotion
	}{
		{name: "empty", probs: Probabilities{}, expected: Neutral},
		{name: "single max", probs: Probabilities{Fear: 0.7, Sadness: 0.3}, expected: Fear},
		{
			name:     "tie keeps label order",
			probs:    Probabilities{Surprise: 0.4, Disgust: 0.4, Neutral: 0.2},
			expected: Disgust,
		},
		{name: "uniform", probs: uniform(), expected: Anger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.probs.Dominant())
		})
	}
}

func TestNeutralProbabilities(t *testing.T) {
	probs := NeutralProbabilities()
	assert.Len(t, probs, NumClasses)
	assert.Equal(t, 1.0, probs[Neutral])
	assert.Equal(t, Neutral, probs.Dominant())

	sum := 0.0
	for _, v := range probs {
		sum += v
	}
	assert.Equal(t, 1.0, sum)
}

func uniform() Probabilities {
	probs := Probabilities{}
	for _, label := range Labels() {
		probs[label] = 1.0 / float64(NumClasses)
	}
	return probs
}
