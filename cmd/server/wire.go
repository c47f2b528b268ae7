package main

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/catalog"
	"github.com/linnemanlabs/sightline/internal/catalog/pgcatalog"
	"github.com/linnemanlabs/sightline/internal/catalog/seed"
	vc "github.com/linnemanlabs/sightline/internal/cfg"
	"github.com/linnemanlabs/sightline/internal/partner"
	"github.com/linnemanlabs/sightline/internal/partner/claude"
	"github.com/linnemanlabs/sightline/internal/postgres"
	"github.com/linnemanlabs/sightline/internal/session"
	"github.com/linnemanlabs/sightline/internal/session/memstore"
	"github.com/linnemanlabs/sightline/internal/session/redisstore"
)

// loadCatalog picks the catalog source: postgres, a YAML file, or the
// embedded ophthalmology seed.
func loadCatalog(ctx context.Context, c *vc.Config, L log.Logger, obs postgres.QueryObserver) (*catalog.Index, error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, L, postgres.WithObserver(obs))
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		// the catalog is read once, the pool is not needed afterwards
		defer pool.Close()
		idx, err := pgcatalog.Load(ctx, pool, L)
		if err != nil {
			return nil, fmt.Errorf("postgres catalog: %w", err)
		}
		return idx, nil
	case c.CatalogFile != "":
		idx, err := seed.LoadFile(ctx, c.CatalogFile, L)
		if err != nil {
			return nil, fmt.Errorf("catalog file: %w", err)
		}
		L.Info(ctx, "catalog loaded from file", "path", c.CatalogFile)
		return idx, nil
	default:
		idx, err := seed.Default(ctx, L)
		if err != nil {
			return nil, fmt.Errorf("default catalog: %w", err)
		}
		L.Info(ctx, "using built-in ophthalmology catalog")
		return idx, nil
	}
}

// newClassifier builds the configured partner backend.
func newClassifier(c *vc.Config, L log.Logger, hooks partner.Hooks) (partner.Classifier, error) {
	policy := c.RetryPolicy()
	switch c.PartnerBackend {
	case vc.BackendClaude:
		cl, err := claude.New(c.ClaudeAPIKey, c.ClaudeModel, c.PartnerTimeout, policy,
			claude.WithLogger(L), claude.WithHooks(hooks))
		if err != nil {
			return nil, fmt.Errorf("claude classifier: %w", err)
		}
		return cl, nil
	default:
		cl, err := partner.NewClient(c.PartnerURL, c.PartnerTimeout, policy,
			partner.WithLogger(L), partner.WithHooks(hooks))
		if err != nil {
			return nil, fmt.Errorf("partner classifier: %w", err)
		}
		return cl, nil
	}
}

// newCache returns the session cache and a close function for any
// connection it holds.
func newCache(ctx context.Context, c *vc.Config) (session.Cache, func() error, error) {
	if c.RedisAddr == "" {
		st := memstore.New(c.SessionTTL, memstore.WithTombstoneRetention(c.TombstoneRetention))
		return st, func() error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := redisstore.Dial(dialCtx, redisstore.Config{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	st, err := redisstore.New(client, c.SessionTTL, redisstore.WithTombstoneRetention(c.TombstoneRetention))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return st, client.Close, nil
}
