package blink

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/core/latch"
)

// ReadGuard is a held latch on one node. It is the only way to read a node's
// fields. Guards must not be shared between goroutines.
type ReadGuard[K any, V any] struct {
	s        *SyncNode[K, V]
	mode     latch.Mode
	released bool
}

// WriteGuard is an exclusive hold. Only a WriteGuard can mutate a node.
type WriteGuard[K any, V any] struct {
	*ReadGuard[K, V]
}

// AcquireShared latches s in shared mode.
func (s *SyncNode[K, V]) AcquireShared(ctx context.Context) (*ReadGuard[K, V], error) {
	if err := s.latch.Acquire(ctx, latch.Shared); err != nil {
		return nil, err
	}
	return &ReadGuard[K, V]{s: s, mode: latch.Shared}, nil
}

// AcquireExclusive latches s in exclusive mode.
func (s *SyncNode[K, V]) AcquireExclusive(ctx context.Context) (*WriteGuard[K, V], error) {
	if err := s.latch.Acquire(ctx, latch.Exclusive); err != nil {
		return nil, err
	}
	return &WriteGuard[K, V]{&ReadGuard[K, V]{s: s, mode: latch.Exclusive}}, nil
}

func (s *SyncNode[K, V]) tryAcquire(mode latch.Mode) *ReadGuard[K, V] {
	if !s.latch.TryAcquire(mode) {
		return nil
	}
	return &ReadGuard[K, V]{s: s, mode: mode}
}

// Release drops the latch. Releasing twice is a no-op.
func (g *ReadGuard[K, V]) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.s.latch.Release(g.mode)
}

func (g *ReadGuard[K, V]) n() *Node[K, V] {
	if g.released {
		panic(errors.AssertionFailedf("use of released %s guard on node %d", g.mode, g.s.node.id))
	}
	return &g.s.node
}

// Node returns the latched node handle.
func (g *ReadGuard[K, V]) Node() *SyncNode[K, V] { return g.s }

// Mode is the latch mode this guard holds.
func (g *ReadGuard[K, V]) Mode() latch.Mode { return g.mode }

func (g *ReadGuard[K, V]) Level() int { return g.s.node.level }

// Keys returns a copy of the node's keys.
func (g *ReadGuard[K, V]) Keys() []K { return slices.Clone(g.n().keys) }

func (g *ReadGuard[K, V]) Len() int { return len(g.n().keys) }

// HasKey reports whether key is present in the node's keys.
func (g *ReadGuard[K, V]) HasKey(key K) bool {
	_, found := g.n().search(key)
	return found
}

// Lookup returns the value stored under key in a leaf.
func (g *ReadGuard[K, V]) Lookup(key K) (V, bool) {
	n := g.n()
	var zero V
	if !n.isLeaf() {
		return zero, false
	}
	i, found := n.search(key)
	if !found || i >= len(n.values) {
		return zero, false
	}
	return n.values[i], true
}

// Children returns a copy of the child pointers.
func (g *ReadGuard[K, V]) Children() []*SyncNode[K, V] { return slices.Clone(g.n().children) }

func (g *ReadGuard[K, V]) RightLink() *SyncNode[K, V] { return g.n().rightLink }

func (g *ReadGuard[K, V]) OutLink() *SyncNode[K, V] { return g.n().outLink }

// HighKey is the exclusive upper bound, absent on the rightmost node of a level.
func (g *ReadGuard[K, V]) HighKey() (K, bool) {
	n := g.n()
	return n.high.key, n.high.set
}

// LowKey is the inclusive lower bound, absent on the leftmost node of a level.
func (g *ReadGuard[K, V]) LowKey() (K, bool) {
	n := g.n()
	return n.low.key, n.low.set
}

// IsRoot reports the informational root flag. Tree.Root is authoritative.
func (g *ReadGuard[K, V]) IsRoot() bool { return g.n().root }

func (g *ReadGuard[K, V]) IsLeaf() bool { return g.n().isLeaf() }

// IsTombstone reports whether the node was merged away.
func (g *ReadGuard[K, V]) IsTombstone() bool { return g.n().isTombstone() }

// WouldOverflow is true once one more key would exceed capacity.
func (g *ReadGuard[K, V]) WouldOverflow() bool { return g.n().wouldOverflow() }

// WouldUnderflow is true once one fewer key would drop below the floor.
func (g *ReadGuard[K, V]) WouldUnderflow() bool { return g.n().wouldUnderflow() }

// w returns the node for mutation. A WriteGuard wrapped around a shared hold
// cannot write.
func (w *WriteGuard[K, V]) w() *Node[K, V] {
	n := w.n()
	if w.mode != latch.Exclusive {
		panic(errors.AssertionFailedf("write through a %s guard on node %d", w.mode, n.id))
	}
	return n
}

// The setters below do not validate tree-wide invariants.

func (w *WriteGuard[K, V]) SetKeys(keys []K) { w.w().keys = keys }

func (w *WriteGuard[K, V]) SetValues(values []V) { w.w().values = values }

func (w *WriteGuard[K, V]) SetChildren(children []*SyncNode[K, V]) { w.w().children = children }

func (w *WriteGuard[K, V]) SetRightLink(right *SyncNode[K, V]) { w.w().rightLink = right }

func (w *WriteGuard[K, V]) SetOutLink(out *SyncNode[K, V]) { w.w().outLink = out }

func (w *WriteGuard[K, V]) SetRoot(root bool) { w.w().root = root }

// SetHighKey sets or clears the exclusive upper bound.
func (w *WriteGuard[K, V]) SetHighKey(key K, ok bool) { w.w().high = bound[K]{key: key, set: ok} }

// SetLowKey sets or clears the inclusive lower bound.
func (w *WriteGuard[K, V]) SetLowKey(key K, ok bool) { w.w().low = bound[K]{key: key, set: ok} }
