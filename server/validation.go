package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/nvr-ai/go-emotion/models"
	"github.com/pkg/errors"
)

var registerOnce sync.Once

// customTags are the request validation tags beyond validator's built-ins.
var customTags = map[string]validator.Func{
	"frame":   validateFrame,
	"emotion": validateEmotion,
}

// registerValidators adds customTags to gin's validator.
//
// A tag that cannot be registered would fail every request that uses it, so it panics
// at server construction instead.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := registerTags(v, customTags); err != nil {
			panic(err)
		}
	})
}

func registerTags(v *validator.Validate, tags map[string]validator.Func) error {
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return errors.Wrapf(err, "failed to register %q validation", tag)
		}
	}
	return nil
}

// validateFrame accepts bare base64 or a data URL with an image media type and a payload.
// The payload itself is decoded by the analyzer.
func validateFrame(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return false
	}
	if !strings.HasPrefix(s, "data:") {
		return true
	}
	header, body, ok := strings.Cut(s, ",")
	return ok && strings.HasPrefix(header, "data:image/") && strings.TrimSpace(body) != ""
}

func validateEmotion(fl validator.FieldLevel) bool {
	return models.Emotion(fl.Field().String()).Valid()
}

// bindError turns a binding failure into a client facing message.
func bindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "malformed request body"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fieldName(fe)))
		case "frame":
			msgs = append(msgs, fmt.Sprintf("%s must be an image data URL or base64", fieldName(fe)))
		case "emotion":
			msgs = append(msgs, fmt.Sprintf("unknown emotion %q", fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldName(fe), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func fieldName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "Image":
		return "image"
	case "Probabilities":
		return "probs"
	default:
		return strings.ToLower(fe.Field())
	}
}
