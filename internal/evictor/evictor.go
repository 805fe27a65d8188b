// Package evictor implements the three pluggable cache eviction strategies
// from spec.md §4.4: LRU, LFU, and a learned DQN (deep Q-network) scorer.
//
// Each strategy satisfies the Evictor interface. The cache passes a
// snapshot of its resident set; evictors never mutate it.
package evictor

import "errors"

// ErrNoEntries is returned when SelectVictim is asked to choose from an
// empty resident set. spec.md §4.3 guarantees the cache never calls an
// evictor in that state (eviction only runs when |entries| == capacity),
// so this is a defensive, practically-unreachable path.
var ErrNoEntries = errors.New("entries length must be greater than zero")

// Resident is a read-only snapshot of one cache entry, as seen by an
// evictor. It carries exactly the fields spec.md §4.4 needs to compute
// features or tie-break: the key, its last access time, its access
// counter, and its value's byte length.
type Resident struct {
	Key        string
	AccessedAt int64
	AccessCount uint64
	ValueLen   int
}

// Evictor selects one key to remove from a resident set that is already at
// capacity. Implementations must not mutate entries. Tie-breaking among
// equally-ranked keys is permitted to follow snapshot order (first
// encountered), matching spec.md's "non-deterministic tie-break is
// permitted".
type Evictor interface {
	// SelectVictim picks the key to evict given the current resident set
	// and the cache's capacity (capacity is only used as a DQN context
	// feature; LRU/LFU ignore it).
	SelectVictim(entries []Resident, capacity int) (string, error)
}

// Name identifies a strategy, matching the CLI's -m/--model values.
type Name string

const (
	DQN Name = "dqn"
	LRU Name = "lru"
	LFU Name = "lfu"
)

// New constructs the Evictor for the given strategy name. DQN loads the
// embedded model weights, which can fail if the embedded asset is
// malformed — a startup-fatal condition, matching spec.md §7.
func New(name Name) (Evictor, error) {
	switch name {
	case DQN:
		return NewDQN()
	case LRU:
		return LeastRecentlyUsed{}, nil
	case LFU:
		return LeastFrequentlyUsed{}, nil
	default:
		return nil, errors.New("model type must be one of dqn, lru, lfu")
	}
}
