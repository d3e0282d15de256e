// Package cache deduplicates paid generation by fingerprinting stage inputs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Outcome is the answer of a cache lookup or production.
type Outcome struct {
	Key         string
	ArtifactRef string
	Cost        float64
	Hit         bool
}

// ProduceFunc generates the artifact on a miss.
type ProduceFunc func(ctx context.Context) (domain.Artifact, error)

// Cache fronts a persistent store with an in-memory index and collapses concurrent
// productions of the same key into one producer call.
type Cache struct {
	store   ports.CacheStore
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
	now     func() time.Time
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type flight struct {
	entry domain.CacheEntry
	owner *byte
}

// New wires the cache; a nil store keeps entries in memory only.
func New(store ports.CacheStore, logger *slog.Logger) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		store:   store,
		entries: map[string]domain.CacheEntry{},
		now:     time.Now,
		logger:  logger,
	}
}

// Peek returns a stored artifact without producing anything.
func (c *Cache) Peek(ctx context.Context, stage domain.Stage, payload domain.Payload) (Outcome, bool, error) {
	key, err := Key(stage, payload)
	if err != nil {
		return Outcome{}, false, err
	}
	entry, ok, err := c.lookup(ctx, key)
	if err != nil || !ok {
		return Outcome{Key: key}, false, err
	}
	c.hits.Add(1)
	return Outcome{Key: key, ArtifactRef: entry.ArtifactRef, Hit: true}, true, nil
}

// GetOrCreate returns the stored artifact for the input or produces it exactly once.
// A hit costs nothing; only the caller whose producer ran reports the real cost.
func (c *Cache) GetOrCreate(ctx context.Context, stage domain.Stage, payload domain.Payload, produce ProduceFunc) (Outcome, error) {
	key, err := Key(stage, payload)
	if err != nil {
		return Outcome{}, err
	}

	if entry, ok, err := c.lookup(ctx, key); err != nil {
		return Outcome{}, err
	} else if ok {
		c.hits.Add(1)
		return Outcome{Key: key, ArtifactRef: entry.ArtifactRef, Hit: true}, nil
	}

	owner := new(byte)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if entry, ok, err := c.lookup(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return flight{entry: entry}, nil
		}

		artifact, err := produce(ctx)
		if err != nil {
			return nil, err
		}

		entry := domain.CacheEntry{
			Key:         key,
			Stage:       stage,
			ArtifactRef: artifact.Ref,
			Cost:        artifact.Cost,
			CreatedAt:   c.now().UTC(),
		}
		c.remember(entry)
		if err := c.store.Insert(ctx, entry); err != nil {
			c.logger.Warn("cache entry not persisted", "stage", stage, "key", key, "error", err)
		}
		return flight{entry: entry, owner: owner}, nil
	})
	if err != nil {
		return Outcome{Key: key}, err
	}

	f := v.(flight)
	if f.owner != owner {
		c.hits.Add(1)
		return Outcome{Key: key, ArtifactRef: f.entry.ArtifactRef, Hit: true}, nil
	}
	c.misses.Add(1)
	return Outcome{Key: key, ArtifactRef: f.entry.ArtifactRef, Cost: f.entry.Cost}, nil
}

// Stats reports hit and miss counters since construction.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) lookup(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry, true, nil
	}

	entry, ok, err := c.store.Lookup(ctx, key)
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("lookup cache entry: %w", err)
	}
	if ok {
		c.remember(entry)
	}
	return entry, ok, nil
}

func (c *Cache) remember(entry domain.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[entry.Key]; !exists {
		c.entries[entry.Key] = entry
	}
}
