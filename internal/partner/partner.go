// Package partner talks to the external diagnosis classifier that turns a
// list of free-text symptoms into a disease label.
package partner

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned before any network call when the symptom
	// list is empty or contains a blank entry.
	ErrInvalidInput = errors.New("invalid symptoms")
	// ErrUnavailable means the partner could not be reached, or kept failing
	// transiently, within the retry budget.
	ErrUnavailable = errors.New("partner unavailable")
	// ErrBadResponse means the partner answered 2xx with a payload that does
	// not carry a label.
	ErrBadResponse = errors.New("malformed partner response")
)

// RejectedError is a well-formed refusal from the partner (a 4xx other
// than 429). It is never retried.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("partner rejected request: status %d", e.StatusCode)
	}
	return fmt.Sprintf("partner rejected request: status %d: %s", e.StatusCode, e.Message)
}

// Label is the classifier's answer.
type Label struct {
	Text       string
	Confidence *float64 // nil when the partner does not report one
}

// Classifier returns the disease label for a set of symptoms.
type Classifier interface {
	Classify(ctx context.Context, symptoms []string) (*Label, error)
}

// Hooks are optional callbacks for instrumentation. Nil funcs are skipped.
type Hooks struct {
	// OnAttempt fires once per network attempt. outcome is one of
	// "success", "retryable", "rejected", "bad_response".
	OnAttempt func(backend string, attempt int, outcome string, seconds float64)
}

func (h Hooks) attempt(backend string, attempt int, outcome string, seconds float64) {
	if h.OnAttempt != nil {
		h.OnAttempt(backend, attempt, outcome, seconds)
	}
}

// ValidateSymptoms trims each symptom and rejects an empty list or any
// blank entry. The returned slice is a trimmed copy.
func ValidateSymptoms(symptoms []string) ([]string, error) {
	if len(symptoms) == 0 {
		return nil, fmt.Errorf("%w: at least one symptom is required", ErrInvalidInput)
	}
	out := make([]string, len(symptoms))
	for i, s := range symptoms {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("%w: symptom %d is blank", ErrInvalidInput, i)
		}
		out[i] = s
	}
	return out, nil
}

func outcomeOf(err error) string {
	var rej *RejectedError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rej):
		return "rejected"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "retryable"
	}
}
