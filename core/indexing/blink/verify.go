package blink

import (
	"context"

	"github.com/sushant-115/blinkdb/core/latch"
	"go.uber.org/zap"
)

// Verify checks the structural invariants of a quiescent tree: key order and
// bounds in every node, child counts, uniform leaf depth, parent child lists
// matching the right-link chain of each level, a single root flag on the
// entry node, no reachable tombstones, and the key count. Failures are
// assertion errors marked ErrStructuralViolation.
//
// Verify latches one node at a time, so concurrent mutation makes it report
// spurious violations rather than race.
func (t *Tree[K, V]) Verify(ctx context.Context) error {
	return t.verify(ctx, false)
}

// VerifyOccupancy is Verify plus the per-node key floor. Repairs abandoned
// under contention can leave legal under-full nodes, so only sequentially
// built trees are guaranteed to pass it.
func (t *Tree[K, V]) VerifyOccupancy(ctx context.Context) error {
	return t.verify(ctx, true)
}

// nodeView is what verify copies out of a node under its latch.
type nodeView[K any, V any] struct {
	s         *SyncNode[K, V]
	level     int
	root      bool
	keys      []K
	nValues   int
	children  []*SyncNode[K, V]
	rightLink *SyncNode[K, V]
	outLink   *SyncNode[K, V]
	low, high bound[K]
	floor     int
}

// slot is a node with the bounds its parent's separators assign to it.
type slot[K any, V any] struct {
	s         *SyncNode[K, V]
	low, high bound[K]
}

func (t *Tree[K, V]) view(ctx context.Context, s *SyncNode[K, V]) (nodeView[K, V], error) {
	g, err := t.acquire(ctx, s, latch.Shared)
	if err != nil {
		return nodeView[K, V]{}, err
	}
	defer g.Release()
	n := g.n()
	return nodeView[K, V]{
		s:         s,
		level:     n.level,
		root:      n.root,
		keys:      g.Keys(),
		nValues:   len(n.values),
		children:  g.Children(),
		rightLink: n.rightLink,
		outLink:   n.outLink,
		low:       n.low,
		high:      n.high,
		floor:     n.floor(),
	}, nil
}

func (t *Tree[K, V]) sameBound(a, b bound[K]) bool {
	if a.set != b.set {
		return false
	}
	return !a.set || t.order(a.key, b.key) == 0
}

func (t *Tree[K, V]) verify(ctx context.Context, occupancy bool) error {
	err := t.verifyLevels(ctx, occupancy)
	if err != nil && IsStructuralViolation(err) {
		t.logger.Error("structural violation", zap.Error(err))
	}
	return err
}

func (t *Tree[K, V]) verifyLevels(ctx context.Context, occupancy bool) error {
	root := t.root.Load()
	rv, err := t.view(ctx, root)
	if err != nil {
		return err
	}
	if rv.rightLink != nil || rv.low.set || rv.high.set {
		return violationf("root %d has a sibling or bounds", root.ID())
	}

	level := []slot[K, V]{{s: root}}
	var keys int64
	for depth := rv.level; depth >= 0; depth-- {
		var below []slot[K, V]
		for idx, sl := range level {
			v, err := t.view(ctx, sl.s)
			if err != nil {
				return err
			}
			if err := t.verifyNode(v, sl.s == root, occupancy); err != nil {
				return err
			}
			if v.level != depth {
				return violationf("node %d at level %d, expected %d", v.s.ID(), v.level, depth)
			}
			if !t.sameBound(v.low, sl.low) || !t.sameBound(v.high, sl.high) {
				return violationf("node %d bounds disagree with its parent separators", v.s.ID())
			}
			var want *SyncNode[K, V]
			if idx+1 < len(level) {
				want = level[idx+1].s
			}
			if v.rightLink != want {
				return violationf("node %d right-link does not match the next child of its parents", v.s.ID())
			}

			if depth == 0 {
				keys += int64(len(v.keys))
				continue
			}
			for c, child := range v.children {
				cs := slot[K, V]{s: child, low: v.low, high: v.high}
				if c > 0 {
					cs.low = at(v.keys[c-1])
				}
				if c < len(v.keys) {
					cs.high = at(v.keys[c])
				}
				below = append(below, cs)
			}
		}
		level = below
	}

	if n := t.size.Load(); n != keys {
		return violationf("tree counts %d keys but leaves hold %d", n, keys)
	}
	return nil
}

func (t *Tree[K, V]) verifyNode(v nodeView[K, V], isRoot, occupancy bool) error {
	id := v.s.ID()
	switch {
	case v.outLink != nil:
		return violationf("tombstone %d is reachable", id)
	case v.root != isRoot:
		return violationf("node %d root flag is %t", id, v.root)
	case v.level == 0 && (len(v.children) != 0 || v.nValues != len(v.keys)):
		return violationf("leaf %d has %d keys, %d values, %d children", id, len(v.keys), v.nValues, len(v.children))
	case v.level > 0 && len(v.children) != len(v.keys)+1:
		return violationf("node %d has %d keys but %d children", id, len(v.keys), len(v.children))
	case len(v.keys) > 2*t.minOrd-1:
		return violationf("node %d holds %d keys, above capacity", id, len(v.keys))
	case !isRoot && occupancy && len(v.keys) < v.floor:
		return violationf("node %d holds %d keys, below floor %d", id, len(v.keys), v.floor)
	}
	for i, k := range v.keys {
		if i > 0 && t.order(v.keys[i-1], k) >= 0 {
			return violationf("node %d keys out of order at %d", id, i)
		}
		if v.low.set && t.order(k, v.low.key) < 0 {
			return violationf("node %d key at %d below its low bound", id, i)
		}
		if v.high.set && t.order(k, v.high.key) >= 0 {
			return violationf("node %d key at %d not below its high bound", id, i)
		}
	}
	return nil
}
