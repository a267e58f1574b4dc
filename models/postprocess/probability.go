// Package postprocess - Converts raw classifier output into a probability distribution.
package postprocess

import (
	"math"

	"github.com/nvr-ai/go-emotion/common"
	"github.com/pkg/errors"
)

const (
	// SumTolerance is how far from 1 a vector may sum and still count as a distribution.
	SumTolerance = 1e-3
	// NegativeTolerance is how far below 0 an entry may be and still count as a probability.
	NegativeTolerance = 1e-6
)

// Normalize returns raw unchanged when it already is a distribution, and its softmax
// otherwise.
//
// A vector is a distribution when every entry is finite, no entry is below
// -NegativeTolerance and the sum is within SumTolerance of 1. The softmax subtracts the
// maximum before exponentiating. When the softmax denominator is zero or not finite,
// for example because an entry is NaN, the result is uniform.
//
// Arguments:
//   - raw: The classifier output.
//
// Returns:
//   - []float64: Non-negative values summing to 1 within 1e-6, same length as raw.
//   - error: common.ErrInvalid for an empty vector.
func Normalize(raw []float32) ([]float64, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(common.ErrInvalid, "empty classifier output")
	}

	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = float64(v)
	}

	if IsDistribution(values) {
		return values, nil
	}
	return Softmax(values), nil
}

// IsDistribution reports whether values already look like probabilities.
func IsDistribution(values []float64) bool {
	sum := 0.0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < -NegativeTolerance {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) <= SumTolerance
}

// Softmax computes a numerically stable softmax, uniform when it degenerates.
func Softmax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	maxValue := math.Inf(-1)
	for _, v := range values {
		if v > maxValue {
			maxValue = v
		}
	}

	sum := 0.0
	if !math.IsInf(maxValue, 0) {
		for i, v := range values {
			out[i] = math.Exp(v - maxValue)
			sum += out[i]
		}
	}

	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return Uniform(len(values))
	}

	for i := range out {
		out[i] /= sum
	}
	return out
}

// Uniform returns n equal probabilities.
func Uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}
