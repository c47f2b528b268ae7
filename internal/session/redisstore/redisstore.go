// Package redisstore implements session.Cache on Redis so several replicas
// can share classification sessions.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/linnemanlabs/sightline/internal/session"
)

const (
	keyPrefix     = "sightline:session:"
	maxIDAttempts = 8
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and checks the connection with PING.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Store is a Redis-backed session.Cache. Keys carry a Redis expiry of
// ttl plus the tombstone retention, so an aged-out entry keeps answering
// expired until Redis drops it.
type Store struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	newID     func() string
}

var _ session.Cache = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithTombstoneRetention sets how long past ttl a key is kept.
func WithTombstoneRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New returns a Store over client.
func New(client redis.UniversalClient, ttl time.Duration, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: nil client")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("redisstore: ttl must be positive, got %s", ttl)
	}
	s := &Store{
		client:    client,
		ttl:       ttl,
		retention: 10 * time.Minute,
		now:       time.Now,
		newID:     session.NewID,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func key(id string) string { return keyPrefix + id }

// Put writes c under a fresh id with SETNX, retrying on the rare collision,
// and returns the stamped entry.
func (s *Store) Put(ctx context.Context, c *session.Classification) (*session.Classification, error) {
	if c == nil {
		return nil, errors.New("redisstore: nil classification")
	}
	cp := c.Clone()
	cp.CreatedAt = s.now()

	for range maxIDAttempts {
		cp.ID = s.newID()
		b, err := json.Marshal(cp)
		if err != nil {
			return nil, fmt.Errorf("encode session: %w", err)
		}
		ok, err := s.client.SetNX(ctx, key(cp.ID), b, s.ttl+s.retention).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("redisstore: no free session id after %d attempts", maxIDAttempts)
}

// Get loads the entry for id and applies the shared liveness boundary.
func (s *Store) Get(ctx context.Context, id string) (*session.Classification, error) {
	b, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var c session.Classification
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if session.Expired(c.CreatedAt, s.now(), s.ttl) {
		return nil, fmt.Errorf("%w: %s", session.ErrExpired, id)
	}
	return &c, nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *Store) Sweep(context.Context) (int, error) { return 0, nil }

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
