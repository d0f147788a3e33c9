package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/speech"
	"github.com/MrWong99/essaydeck/internal/translate"
)

var (
	// ErrSettings wraps failures of the settings store.
	ErrSettings = errors.New("pipeline: settings unavailable")

	// ErrDelivery wraps transport failures while sending the result.
	ErrDelivery = errors.New("pipeline: delivery failed")

	// ErrInternal marks bugs: illegal transitions and recovered panics.
	ErrInternal = errors.New("pipeline: internal error")
)

// ValidationError is a recoverable rejection whose Message is safe to show
// to the user as is.
type ValidationError struct {
	// Reason is a stable machine-readable code, e.g. "input_too_short".
	Reason string
	// Message is the user-facing explanation.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: validation: %s: %v", e.Reason, e.Err)
	}
	return "pipeline: validation: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(reason, message string) *ValidationError {
	return &ValidationError{Reason: reason, Message: message}
}

// ErrorKind classifies a failure for logs, metrics and user messaging.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "validation"
	KindTranslation ErrorKind = "translation"
	KindSynthesis   ErrorKind = "synthesis"
	KindAssembly    ErrorKind = "assembly"
	KindDelivery    ErrorKind = "delivery"
	KindSettings    ErrorKind = "settings"
	KindCanceled    ErrorKind = "canceled"
	KindInternal    ErrorKind = "internal"
)

// Kind classifies err. Cancellation wins over the stage that observed it,
// and synthesis wins over the assembly error wrapping it.
func Kind(err error) ErrorKind {
	var ve *ValidationError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, translate.ErrFailed):
		return KindTranslation
	case errors.Is(err, speech.ErrFailed):
		return KindSynthesis
	case errors.Is(err, deck.ErrAssembly):
		return KindAssembly
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrSettings):
		return KindSettings
	default:
		return KindInternal
	}
}

func asValidation(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}
