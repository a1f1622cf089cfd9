package spanz

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewSpanRegistry(4)

	if _, ok := r.Lookup(1); ok {
		t.Fatal("Expected miss on empty registry")
	}

	r.Register(1, RegistryEntry{SpanID: "a"})
	entry, ok := r.Lookup(1)
	if !ok || entry.SpanID != "a" {
		t.Fatalf("Expected span a, got %v (found=%v)", entry, ok)
	}

	// Re-registering overwrites.
	r.Register(1, RegistryEntry{SpanID: "b"})
	entry, _ = r.Lookup(1)
	if entry.SpanID != "b" {
		t.Errorf("Expected span b after overwrite, got %s", entry.SpanID)
	}

	r.Unregister(1)
	if _, ok := r.Lookup(1); ok {
		t.Error("Expected miss after unregister")
	}

	// Unregistering twice is fine.
	r.Unregister(1)
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestRegistryShardRounding(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, DefaultRegistryShards}, {1, 1}, {3, 4}, {16, 16}, {17, 32}} {
		r := NewSpanRegistry(tc.in)
		if len(r.shards) != tc.want {
			t.Errorf("NewSpanRegistry(%d): expected %d shards, got %d", tc.in, tc.want, len(r.shards))
		}
	}
}

func TestNilRegistryIsNoOp(t *testing.T) {
	var r *SpanRegistry
	r.Register(1, RegistryEntry{SpanID: "a"})
	r.Unregister(1)
	if _, ok := r.Lookup(1); ok {
		t.Error("Expected nil registry lookup to miss")
	}
	if _, ok := r.LookupViaAncestor(Spawn(NewUnit(context.Background()))); ok {
		t.Error("Expected nil registry ancestor lookup to miss")
	}
	if r.Len() != 0 {
		t.Error("Expected nil registry to be empty")
	}
}

func TestRegistryLookupViaAncestor(t *testing.T) {
	r := NewSpanRegistry(8)
	parentCtx := NewUnit(context.Background())
	parent := UnitFrom(parentCtx)
	childCtx := Spawn(parentCtx)
	grandchildCtx := Spawn(childCtx)

	if _, ok := r.LookupViaAncestor(parentCtx); ok {
		t.Error("Root unit has no spawner")
	}
	if _, ok := r.LookupViaAncestor(childCtx); ok {
		t.Error("Expected miss before the spawner registers")
	}

	r.Register(parent.ID(), RegistryEntry{SpanID: "parent-span"})

	entry, ok := r.LookupViaAncestor(childCtx)
	if !ok || entry.SpanID != "parent-span" {
		t.Errorf("Expected parent-span, got %v (found=%v)", entry, ok)
	}

	// Only one hop is consulted.
	if _, ok := r.LookupViaAncestor(grandchildCtx); ok {
		t.Error("Expected grandchild lookup to miss when only the grandparent is registered")
	}

	r.Unregister(parent.ID())
	if _, ok := r.LookupViaAncestor(childCtx); ok {
		t.Error("Expected miss after the spawner unregisters")
	}

	if _, ok := r.LookupViaAncestor(context.Background()); ok {
		t.Error("Expected miss for a context without a unit")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewSpanRegistry(16)

	var wg sync.WaitGroup
	numGoroutines := 32
	opsPerGoroutine := 500

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(unit UnitID) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				id := SpanID(fmt.Sprintf("%d-%d", unit, j))
				r.Register(unit, RegistryEntry{SpanID: id})
				entry, ok := r.Lookup(unit)
				if !ok || entry.SpanID != id {
					t.Errorf("unit %d: expected %s, got %v", unit, id, entry.SpanID)
					return
				}
				// Readers of other keys never see torn entries.
				if other, ok := r.Lookup(unit + 1); ok && other.SpanID == "" {
					t.Errorf("unit %d: empty entry for neighbour", unit)
					return
				}
			}
			r.Unregister(unit)
		}(UnitID(i + 1))
	}

	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("Expected all entries removed, got %d", r.Len())
	}
}
