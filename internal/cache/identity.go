// Package cache provides a read-through cache for sender display identities,
// so the send path does not query the users table for every message.
package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"samvad-chat/internal/models"
	"samvad-chat/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Store is a key/value backend for cached identities.
// Get reports found=false on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*models.Identity, bool, error)
	Set(ctx context.Context, key string, identity *models.Identity, ttl time.Duration) error
	Close() error
}

// Loader fetches an identity from the source of truth.
type Loader interface {
	DisplayIdentity(ctx context.Context, userID int64) (*models.Identity, error)
}

// Stats tracks cache statistics.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// IdentityCache wraps a Loader with a Store. Concurrent misses for the same
// user share a single load.
type IdentityCache struct {
	store  Store
	loader Loader
	ttl    time.Duration
	group  singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

func NewIdentityCache(store Store, loader Loader, ttl time.Duration) *IdentityCache {
	return &IdentityCache{
		store:  store,
		loader: loader,
		ttl:    ttl,
	}
}

// DisplayIdentity returns the cached identity for userID, loading it on a miss.
// Store failures are counted and bypassed; loader failures are returned.
func (c *IdentityCache) DisplayIdentity(ctx context.Context, userID int64) (*models.Identity, error) {
	key := identityKey(userID)

	identity, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.errors.Add(1)
		logger.Warn("Identity cache read failed for user %d: %v", userID, err)
	}
	if found {
		c.hits.Add(1)
		return identity, nil
	}
	c.misses.Add(1)

	val, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := c.loader.DisplayIdentity(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, loaded, c.ttl); err != nil {
			c.errors.Add(1)
			logger.Warn("Identity cache write failed for user %d: %v", userID, err)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	// Copy so callers sharing a singleflight result cannot affect each other.
	loaded := *val.(*models.Identity)
	return &loaded, nil
}

func (c *IdentityCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

func (c *IdentityCache) Close() error {
	return c.store.Close()
}

func identityKey(userID int64) string {
	return "identity:" + strconv.FormatInt(userID, 10)
}
