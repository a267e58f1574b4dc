// Package common - Types shared by every stage of the analysis pipeline.
package common

import "github.com/pkg/errors"

var (
	// ErrUnavailable means the model or cascade is not loaded, or inference failed.
	// It is terminal for the call; callers surface a generic failure.
	ErrUnavailable = errors.New("emotion analysis unavailable")

	// ErrInvalid means the input image or the preprocessed face could not be used.
	ErrInvalid = errors.New("invalid input")
)
