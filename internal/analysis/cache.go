package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is a cached analysis for one change.
type Entry struct {
	ChangeID string    `json:"change_id"`
	Analysis Result    `json:"analysis"`
	CachedAt time.Time `json:"cached_at"`
}

// Store persists cache entries. Several processes may share one store, so
// the cache writes single entries with Put and never rewrites the whole set.
// Save replaces the whole persisted set; Save(Load()) leaves the store
// unchanged.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Get(ctx context.Context, id string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Save(ctx context.Context, entries map[string]Entry) error
	Clear(ctx context.Context) error
	Location() string
}

// Stats describes the cache.
type Stats struct {
	TotalCached int    `json:"total_cached"`
	Location    string `json:"location"`
	Persisted   bool   `json:"persisted"`
}

// Cache holds at most one analysis per change id, backed by a Store.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// OpenCache loads persisted entries from store. A load failure is logged
// and the cache starts empty.
func OpenCache(ctx context.Context, store Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		entries: make(map[string]Entry),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	if store == nil {
		return c
	}

	entries, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load analysis cache, starting empty",
			zap.String("location", store.Location()), zap.Error(err))
		return c
	}
	for id, e := range entries {
		if e.ChangeID == "" {
			e.ChangeID = id
		}
		c.entries[id] = e
	}
	logger.Debug("Loaded analysis cache", zap.Int("entries", len(c.entries)))
	return c
}

// Get returns a copy of the cached analysis for id.
func (c *Cache) Get(id string) (*Result, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Analysis.Clone(), true
}

// Lookup is Get falling back to the store, so entries persisted by another
// process since open are found. A store error is logged and reads as a miss.
func (c *Cache) Lookup(ctx context.Context, id string) (*Result, bool) {
	if r, ok := c.Get(id); ok {
		return r, true
	}
	if c.store == nil {
		return nil, false
	}

	e, ok, err := c.store.Get(ctx, id)
	if err != nil {
		c.logger.Warn("Failed to read analysis from store",
			zap.String("change_id", id), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	e.ChangeID = id

	c.mu.Lock()
	if cur, ok := c.entries[id]; ok {
		e = cur
	} else {
		c.entries[id] = e
	}
	c.mu.Unlock()
	return e.Analysis.Clone(), true
}

// Entry returns the full cache entry for id.
func (c *Cache) Entry(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if ok {
		e.Analysis = *e.Analysis.Clone()
	}
	return e, ok
}

// Put stores result under id, replacing any previous entry, and persists
// that entry alone. The in-memory entry is kept even when persisting fails;
// the returned error is for reporting only.
func (c *Cache) Put(ctx context.Context, id string, result *Result) error {
	if result == nil {
		return fmt.Errorf("nil analysis for %s", id)
	}
	e := Entry{ChangeID: id, Analysis: *result.Clone(), CachedAt: c.now().UTC()}
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Put(ctx, e); err != nil {
		return fmt.Errorf("saving analysis for %s: %w", id, err)
	}
	return nil
}

// Len returns the number of cached analyses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry from memory and the store.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing analysis store: %w", err)
	}
	return nil
}

// Stats reports the cache size and backing location.
func (c *Cache) Stats() Stats {
	s := Stats{TotalCached: c.Len()}
	if c.store != nil {
		s.Location = c.store.Location()
		s.Persisted = true
		if ex, ok := c.store.(interface{ Exists() bool }); ok {
			s.Persisted = ex.Exists()
		}
	}
	return s
}

// Close releases the cache. Entries are persisted as they are put, so
// there is nothing left to flush.
func (c *Cache) Close(context.Context) error {
	return nil
}
