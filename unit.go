package spanz

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// unitKeyType is a private type for context keys to avoid collisions.
type unitKeyType struct{}

var unitKey unitKeyType

// UnitID identifies an execution unit. Zero means "no unit".
type UnitID uint64

var unitSeq atomic.Uint64

// Unit is an execution unit: the scope a goroutine opens spans in.
// The spawn chain is fixed when the unit is created.
//
// A Unit belongs to the goroutine it was created for. Start new goroutines
// with Spawn, Go or Group so each gets its own Unit.
type Unit struct {
	slots     map[*Tracer]*ActiveSpan
	ancestors []UnitID
	id        UnitID
	mu        sync.Mutex
}

func newUnit(parent *Unit) *Unit {
	u := &Unit{
		id:    UnitID(unitSeq.Inc()),
		slots: make(map[*Tracer]*ActiveSpan),
	}
	if parent != nil {
		u.ancestors = make([]UnitID, 0, len(parent.ancestors)+1)
		u.ancestors = append(u.ancestors, parent.id)
		u.ancestors = append(u.ancestors, parent.ancestors...)
	}
	return u
}

// ID returns the unit identity.
func (u *Unit) ID() UnitID {
	return u.id
}

// SpawnedBy returns the identity of the unit that spawned u, or zero for a root unit.
func (u *Unit) SpawnedBy() UnitID {
	if len(u.ancestors) == 0 {
		return 0
	}
	return u.ancestors[0]
}

// Ancestors returns the spawn chain, immediate spawner first.
func (u *Unit) Ancestors() []UnitID {
	return append([]UnitID(nil), u.ancestors...)
}

func (u *Unit) local(t *Tracer) *ActiveSpan {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.slots[t]
}

// push makes span the active span for t.
func (u *Unit) push(t *Tracer, span *ActiveSpan) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.slots[t] = span
}

// restore puts prev back if span is still the active one.
// Closing spans out of order leaves the newer span in place.
func (u *Unit) restore(t *Tracer, span, prev *ActiveSpan) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.slots[t] != span {
		return false
	}
	if prev == nil {
		delete(u.slots, t)
	} else {
		u.slots[t] = prev
	}
	return true
}

// UnitFrom returns the unit carried in ctx, or nil.
func UnitFrom(ctx context.Context) *Unit {
	if ctx == nil {
		return nil
	}
	u, _ := ctx.Value(unitKey).(*Unit)
	return u
}

// NewUnit returns a context carrying a fresh root unit.
func NewUnit(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, unitKey, newUnit(nil))
}

// Spawn returns a context carrying a new unit spawned by the unit in ctx.
// The new unit starts with no active spans of its own.
func Spawn(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, unitKey, newUnit(UnitFrom(ctx)))
}

// ensureUnit returns ctx unchanged when it already carries a unit.
func ensureUnit(ctx context.Context) (context.Context, *Unit) {
	if u := UnitFrom(ctx); u != nil {
		return ctx, u
	}
	ctx = NewUnit(ctx)
	return ctx, UnitFrom(ctx)
}

// Go runs fn in a new goroutine with a spawned unit.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	child := Spawn(ctx)
	go fn(child)
}

// Group runs spawned units and waits for them, returning the first error.
// It wraps errgroup.Group; each function gets its own spawned unit.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroup creates a group whose units are spawned by the unit in ctx.
// The returned context is cancelled when a function fails or Wait returns.
func NewGroup(ctx context.Context) (*Group, context.Context) {
	ctx, _ = ensureUnit(ctx)
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}, gctx
}

// SetLimit bounds the number of units running at once.
func (g *Group) SetLimit(n int) {
	g.g.SetLimit(n)
}

// Go runs fn in a spawned unit.
func (g *Group) Go(fn func(ctx context.Context) error) {
	child := Spawn(g.ctx)
	g.g.Go(func() error {
		return fn(child)
	})
}

// Wait blocks until every function has returned.
func (g *Group) Wait() error {
	return g.g.Wait()
}
