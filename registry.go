package spanz

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultRegistryShards is the shard count used when none is configured.
const DefaultRegistryShards = 32

// RegistryEntry is what the registry remembers about a unit's active span.
// It is enough to describe the span to other units, not to close it.
type RegistryEntry struct {
	SpanID    SpanID
	Context   string
	EventName EventName
}

// SpanRegistry maps execution units to the span currently active in them.
// Safe for concurrent use. A nil *SpanRegistry is an inactive registry: writes
// are dropped and lookups miss.
type SpanRegistry struct {
	shards []registryShard
	mask   uint64
}

type registryShard struct {
	entries map[UnitID]RegistryEntry
	mu      sync.RWMutex
}

// NewSpanRegistry creates a registry with at least the requested number of
// shards, rounded up to a power of two.
func NewSpanRegistry(shards int) *SpanRegistry {
	if shards <= 0 {
		shards = DefaultRegistryShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}

	r := &SpanRegistry{
		shards: make([]registryShard, n),
		mask:   uint64(n - 1),
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[UnitID]RegistryEntry)
	}
	return r
}

func (r *SpanRegistry) shard(unit UnitID) *registryShard {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(unit))
	return &r.shards[xxhash.Sum64(key[:])&r.mask]
}

// Register records entry as the active span of unit, replacing any previous entry.
func (r *SpanRegistry) Register(unit UnitID, entry RegistryEntry) {
	if r == nil {
		return
	}
	s := r.shard(unit)
	s.mu.Lock()
	s.entries[unit] = entry
	s.mu.Unlock()
}

// Unregister removes the entry for unit if there is one.
func (r *SpanRegistry) Unregister(unit UnitID) {
	if r == nil {
		return
	}
	s := r.shard(unit)
	s.mu.Lock()
	delete(s.entries, unit)
	s.mu.Unlock()
}

// Lookup returns the entry registered for unit.
func (r *SpanRegistry) Lookup(unit UnitID) (RegistryEntry, bool) {
	if r == nil {
		return RegistryEntry{}, false
	}
	s := r.shard(unit)
	s.mu.RLock()
	entry, ok := s.entries[unit]
	s.mu.RUnlock()
	return entry, ok
}

// LookupViaAncestor looks up the span registered by the unit that spawned the
// unit carried in ctx. Only the immediate spawner is consulted.
func (r *SpanRegistry) LookupViaAncestor(ctx context.Context) (RegistryEntry, bool) {
	u := UnitFrom(ctx)
	if u == nil || u.SpawnedBy() == 0 {
		return RegistryEntry{}, false
	}
	return r.Lookup(u.SpawnedBy())
}

// Len returns the number of registered units.
func (r *SpanRegistry) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
