// Package memstore provides an in-memory implementation of session.Cache.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sightline/internal/session"
)

// DefaultTombstoneRetention is how long an evicted id keeps reporting
// expired instead of not found.
const DefaultTombstoneRetention = 10 * time.Minute

const maxIDAttempts = 8

// Store holds classifications in memory. One mutex guards both the live
// entries and the tombstones. Contents do not survive a restart.
type Store struct {
	mu         sync.Mutex
	ttl        time.Duration
	retention  time.Duration
	now        func() time.Time
	newID      func() string
	entries    map[string]*session.Classification // id -> live or not yet swept entry
	tombstones map[string]time.Time               // id -> instant it expired
}

var _ session.Cache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTombstoneRetention sets how long evicted ids are remembered.
func WithTombstoneRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithIDGenerator replaces session.NewID.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New initializes a Store whose entries live for ttl.
func New(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		panic(xerrors.New("memstore: ttl must be positive"))
	}
	s := &Store{
		ttl:        ttl,
		retention:  DefaultTombstoneRetention,
		now:        time.Now,
		newID:      session.NewID,
		entries:    make(map[string]*session.Classification),
		tombstones: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores a copy of c under a new id and returns the stamped entry.
func (s *Store) Put(_ context.Context, c *session.Classification) (*session.Classification, error) {
	if c == nil {
		return nil, errors.New("memstore: nil classification")
	}
	cp := c.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxIDAttempts {
		id := s.newID()
		if s.taken(id) {
			continue
		}
		cp.ID = id
		cp.CreatedAt = s.now()
		s.entries[id] = cp
		return cp.Clone(), nil
	}
	return nil, fmt.Errorf("memstore: no free session id after %d attempts", maxIDAttempts)
}

func (s *Store) taken(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := s.entries[id]; ok {
		return true
	}
	_, ok := s.tombstones[id]
	return ok
}

// Get returns a copy of the live entry for id. An aged-out entry is evicted
// on the spot and reported as expired, or as not found once it is older than
// the tombstone retention, matching what Sweep would have left behind.
func (s *Store) Get(_ context.Context, id string) (*session.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.entries[id]; ok {
		if !session.Expired(c.CreatedAt, now, s.ttl) {
			return c.Clone(), nil
		}
		if now.Sub(c.CreatedAt.Add(s.ttl)) > s.retention {
			delete(s.entries, id)
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		s.evict(id, c)
		return nil, fmt.Errorf("%w: %s", session.ErrExpired, id)
	}
	if expiredAt, ok := s.tombstones[id]; ok {
		if now.Sub(expiredAt) <= s.retention {
			return nil, fmt.Errorf("%w: %s", session.ErrExpired, id)
		}
		delete(s.tombstones, id)
	}
	return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
}

// Sweep evicts aged-out entries and forgets tombstones older than the
// retention window.
func (s *Store) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, c := range s.entries {
		if session.Expired(c.CreatedAt, now, s.ttl) {
			s.evict(id, c)
			evicted++
		}
	}
	for id, expiredAt := range s.tombstones {
		if now.Sub(expiredAt) > s.retention {
			delete(s.tombstones, id)
		}
	}
	return evicted, nil
}

// Len reports the number of stored entries and remembered tombstones.
func (s *Store) Len() (entries, tombstones int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), len(s.tombstones)
}

// evict must be called with mu held.
func (s *Store) evict(id string, c *session.Classification) {
	delete(s.entries, id)
	s.tombstones[id] = c.CreatedAt.Add(s.ttl)
}
