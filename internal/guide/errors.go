package guide

import (
	"errors"
	"fmt"
)

// Outcomes callers can tell apart with errors.Is.
var (
	ErrValidation          = errors.New("invalid classification request")
	ErrUpstreamUnavailable = errors.New("diagnosis partner unavailable")
	ErrPartnerRejected     = errors.New("diagnosis partner rejected request")
	ErrUnresolvedDisease   = errors.New("disease label not in catalog")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrTriageValidation    = errors.New("invalid triage answers")
)

// UnresolvedError carries the partner label the catalog could not place.
// It matches ErrUnresolvedDisease.
type UnresolvedError struct {
	RawLabel string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnresolvedDisease.Error(), e.RawLabel)
}

// Is makes errors.Is(err, ErrUnresolvedDisease) hold.
func (e *UnresolvedError) Is(target error) bool { return target == ErrUnresolvedDisease }
