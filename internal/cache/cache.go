// Package cache implements qached's bounded in-memory cache: a capacity-
// limited key/value map that delegates victim selection to an
// evictor.Evictor when full. See spec.md §4.3.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/h2owater425/qached/internal/evictor"
	"github.com/h2owater425/qached/internal/logger"
	"github.com/h2owater425/qached/internal/metrics"
)

// Entry is the value stored for one resident key: the payload, the unix
// timestamp of its last access, and a monotonic access counter that starts
// at 1.
type Entry struct {
	Value       string
	AccessedAt  int64
	AccessCount uint64
}

// NewEntry builds an Entry for a freshly-set or freshly-promoted value.
func NewEntry(value string) Entry {
	return Entry{
		Value:       value,
		AccessedAt:  time.Now().Unix(),
		AccessCount: 1,
	}
}

// Cache is a capacity-bounded map from key to Entry. All operations are
// synchronized by a single exclusive mutex held by the caller's goroutine
// for the duration of the call — the same discipline spec.md §5 requires
// ("Cache is guarded by a single exclusive mutex... Holding time must
// bound ONNX inference on the DQN path; this is accepted").
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	model    evictor.Evictor
	capacity int
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New constructs a Cache with the given eviction strategy and capacity.
// capacity must be at least 1. m may be nil, in which case eviction
// counts and DQN latency go unrecorded (useful in tests that don't care
// about metrics).
func New(model evictor.Evictor, capacity int, log *logger.Logger, m *metrics.Metrics) (*Cache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be greater than 0, got %d", capacity)
	}

	log.Debugf("init", "cache initialized with capacity %d", capacity)

	return &Cache{
		entries:  make(map[string]Entry, capacity),
		model:    model,
		capacity: capacity,
		log:      log,
		metrics:  m,
	}, nil
}

// Set inserts or updates key. If key already resides in the cache, the
// value and accessed_at are overwritten and the incoming entry's
// access_count is *added* onto the existing counter (coalescing
// semantics, spec.md §4.3). Otherwise, if the cache is at capacity, the
// configured evictor picks a victim to remove before key is inserted.
func (c *Cache) Set(key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.Value = entry.Value
		existing.AccessedAt = entry.AccessedAt
		existing.AccessCount += entry.AccessCount
		c.entries[key] = existing
		c.log.Debugf("set", "coalesced %s into existing entry (access_count=%d)", key, existing.AccessCount)
		return nil
	}

	if len(c.entries) == c.capacity {
		start := time.Now()
		victim, err := c.model.SelectVictim(c.snapshotLocked(), c.capacity)
		if _, isDQN := c.model.(*evictor.DQN); isDQN && c.metrics != nil {
			c.metrics.RecordDQNLatency(time.Since(start))
		}
		if err != nil {
			return fmt.Errorf("select eviction victim: %w", err)
		}
		delete(c.entries, victim)
		if c.metrics != nil {
			c.metrics.CacheEvictions.Add(1)
		}
		c.log.Debugf("evict", "evicted %s to admit %s", victim, key)
	}

	c.entries[key] = entry
	c.log.Debugf("set", "inserted %s (%d resident)", key, len(c.entries))
	return nil
}

// Get returns a copy of the entry for key, incrementing its access_count
// and refreshing accessed_at, or ok=false if key is absent.
func (c *Cache) Get(key string) (entry Entry, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, found := c.entries[key]
	if !found {
		return Entry{}, false
	}

	existing.AccessCount++
	existing.AccessedAt = time.Now().Unix()
	c.entries[key] = existing

	c.log.Debugf("get", "hit %s (access_count=%d)", key, existing.AccessCount)
	return existing, true
}

// Remove deletes key if present, reporting whether it was resident.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.log.Debugf("remove", "removed %s (%d resident)", key, len(c.entries))
	return true
}

// Len returns the number of resident entries. Intended for metrics/tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// snapshotLocked copies the resident set into the slice shape
// evictor.Evictor consumes. Must be called with c.mu held.
func (c *Cache) snapshotLocked() []evictor.Resident {
	out := make([]evictor.Resident, 0, len(c.entries))
	for key, entry := range c.entries {
		out = append(out, evictor.Resident{
			Key:         key,
			AccessedAt:  entry.AccessedAt,
			AccessCount: entry.AccessCount,
			ValueLen:    len(entry.Value),
		})
	}
	return out
}
