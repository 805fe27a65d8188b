package cache

import (
	"testing"

	"github.com/h2owater425/qached/internal/evictor"
	"github.com/h2owater425/qached/internal/logger"
	"github.com/h2owater425/qached/internal/metrics"
)

func testLogger() *logger.Logger {
	return logger.New("TEST", "error")
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	if _, err := New(lru, 0, testLogger(), nil); err == nil {
		t.Error("expected error for capacity 0")
	}
}

func TestSet_GetRoundTrip(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	c, err := New(lru, 2, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Set("k", NewEntry("hi")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.Value != "hi" {
		t.Errorf("Value = %q, want %q", entry.Value, "hi")
	}
	if entry.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2 (1 from Set + 1 from Get)", entry.AccessCount)
	}
}

func TestGet_Miss(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	c, err := New(lru, 2, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss")
	}
}

func TestRemove(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	c, err := New(lru, 2, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Set("k", NewEntry("v")) //nolint:errcheck

	if !c.Remove("k") {
		t.Error("expected Remove to report present")
	}
	if c.Remove("k") {
		t.Error("expected second Remove to report absent")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Remove")
	}
}

// TestCapacityInvariant verifies |cache| <= C after every mutating
// operation, for a sequence of SETs producing more than C distinct keys.
func TestCapacityInvariant(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	const capacity = 3
	c, err := New(lru, capacity, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		if err := c.Set(key, NewEntry("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
		if c.Len() > capacity {
			t.Fatalf("after Set(%s): len = %d, want <= %d", key, c.Len(), capacity)
		}
	}
}

// TestSet_CoalescesExistingKey verifies overwriting an existing key does
// not trigger eviction even when the cache is already at capacity.
func TestSet_CoalescesExistingKey(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	c, err := New(lru, 1, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Set("k", NewEntry("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set("k", NewEntry("v2")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if entry.Value != "v2" {
		t.Errorf("Value = %q, want %q", entry.Value, "v2")
	}
	// access_count coalesces: 1 (first Set) + 1 (second Set) + 1 (Get) = 3
	if entry.AccessCount != 3 {
		t.Errorf("AccessCount = %d, want 3", entry.AccessCount)
	}
}

// TestEviction_LRUOrder matches spec.md §8's literal LRU scenario: after
// SETs k1..kN and then GETs on k2..kN in order, the next SET inserting a
// new key evicts k1.
func TestEviction_LRUOrder(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	const capacity = 3
	c, err := New(lru, capacity, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, k := range []string{"k1", "k2", "k3"} {
		if err := c.Set(k, NewEntry("v")); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	for _, k := range []string{"k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("expected hit on %s", k)
		}
	}

	if err := c.Set("k4", NewEntry("v")); err != nil {
		t.Fatalf("Set(k4): %v", err)
	}

	if _, ok := c.Get("k1"); ok {
		t.Error("expected k1 to have been evicted")
	}
	for _, k := range []string{"k2", "k3", "k4"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s to still be resident", k)
		}
	}
}

// TestEviction_LFUOrder matches spec.md §8's literal LFU scenario.
func TestEviction_LFUOrder(t *testing.T) {
	var lfu evictor.LeastFrequentlyUsed
	const capacity = 3
	c, err := New(lfu, capacity, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keys := []string{"k1", "k2", "k3"}
	for _, k := range keys {
		if err := c.Set(k, NewEntry("v")); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}
	// GET k_i an extra `i` times for i >= 2 (index-based: k2 gets 2 extra
	// GETs, k3 gets 3 extra GETs), so k1 ends up with the lowest count.
	for i, k := range keys {
		if i == 0 {
			continue
		}
		extra := i + 1
		for j := 0; j < extra; j++ {
			if _, ok := c.Get(k); !ok {
				t.Fatalf("expected hit on %s", k)
			}
		}
	}

	if err := c.Set("k4", NewEntry("v")); err != nil {
		t.Fatalf("Set(k4): %v", err)
	}

	if _, ok := c.Get("k1"); ok {
		t.Error("expected k1 (least frequently used) to have been evicted")
	}
}

// TestEviction_NeverRunsBelowCapacity verifies the evictor is never
// invoked while |cache| < C for the non-present-key insertion path, by
// using an evictor stub that fails loudly if ever called.
func TestEviction_NeverRunsBelowCapacity(t *testing.T) {
	c, err := New(panicEvictor{t}, 5, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		if err := c.Set(key, NewEntry("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}
}

// TestEviction_DQN_RecordsLatency verifies an eviction through the DQN
// evictor records a DQN latency sample, while LRU/LFU evictions (above)
// do not need to.
func TestEviction_DQN_RecordsLatency(t *testing.T) {
	d, err := evictor.NewDQN()
	if err != nil {
		t.Fatalf("evictor.NewDQN: %v", err)
	}
	m := metrics.New()
	c, err := New(d, 1, testLogger(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Set("a", NewEntry("v")); err != nil {
		t.Fatalf("Set(a): %v", err)
	}
	if err := c.Set("b", NewEntry("v")); err != nil {
		t.Fatalf("Set(b): %v", err)
	}

	if m.Snapshot().DQNLatencyMs.Count != 1 {
		t.Errorf("DQNLatencyMs.Count = %d, want 1", m.Snapshot().DQNLatencyMs.Count)
	}
}

// TestEviction_RecordsMetric verifies a successful eviction increments
// the shared metrics.CacheEvictions counter.
func TestEviction_RecordsMetric(t *testing.T) {
	var lru evictor.LeastRecentlyUsed
	m := metrics.New()
	c, err := New(lru, 1, testLogger(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Set("a", NewEntry("v")); err != nil {
		t.Fatalf("Set(a): %v", err)
	}
	if err := c.Set("b", NewEntry("v")); err != nil {
		t.Fatalf("Set(b): %v", err)
	}

	if got := m.CacheEvictions.Load(); got != 1 {
		t.Errorf("CacheEvictions = %d, want 1", got)
	}
}

type panicEvictor struct{ t *testing.T }

func (p panicEvictor) SelectVictim(_ []evictor.Resident, _ int) (string, error) {
	p.t.Fatal("evictor must not be called below capacity")
	return "", nil
}
