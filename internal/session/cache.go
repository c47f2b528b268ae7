// Package session caches classification results under short-lived session
// ids so a later triage request can be evaluated against them.
package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound means the id was never issued, or its tombstone has aged out.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the id was issued but its entry outlived the TTL.
	ErrExpired = errors.New("session expired")
)

// Classification is a resolved classification result. It is never mutated
// after Put; caches hand out copies.
type Classification struct {
	ID                string    `json:"id"`
	Disease           string    `json:"disease"`
	Department        string    `json:"department"`
	DepartmentID      int64     `json:"department_id"`
	Confidence        float64   `json:"confidence"`
	MatchedBy         string    `json:"matched_by"`
	RawLabel          string    `json:"raw_label"`
	PartnerConfidence *float64  `json:"partner_confidence,omitempty"`
	Symptoms          []string  `json:"symptoms"`
	CreatedAt         time.Time `json:"created_at"`
}

// Clone returns a deep copy of c.
func (c *Classification) Clone() *Classification {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Symptoms = slices.Clone(c.Symptoms)
	if c.PartnerConfidence != nil {
		pc := *c.PartnerConfidence
		cp.PartnerConfidence = &pc
	}
	return &cp
}

// Cache stores classifications for a fixed TTL.
type Cache interface {
	// Put stores a copy of c under a freshly generated id, stamps CreatedAt
	// and returns a copy of the stored entry. Any ID or CreatedAt already set
	// on c is ignored.
	Put(ctx context.Context, c *Classification) (*Classification, error)
	// Get returns the live entry for id, or an error matching ErrExpired or
	// ErrNotFound.
	Get(ctx context.Context, id string) (*Classification, error)
	// Sweep evicts aged-out entries and reports how many it evicted.
	Sweep(ctx context.Context) (int, error)
}

// Expired is the single liveness boundary shared by every Cache
// implementation: an entry is live while now-created < ttl.
func Expired(created, now time.Time, ttl time.Duration) bool {
	return now.Sub(created) >= ttl
}

// NewID returns a new session id.
func NewID() string {
	return ulid.Make().String()
}
