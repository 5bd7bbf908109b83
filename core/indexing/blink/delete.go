package blink

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/core/latch"
	"go.uber.org/zap"
)

// Delete removes key. Deleting an absent key is not an error: found is false.
func (t *Tree[K, V]) Delete(ctx context.Context, key K) (found bool, err error) {
	var path stack[K, V]
	g, err := t.descend(ctx, at(key), 0, latch.Exclusive, &path)
	if err != nil {
		return false, err
	}
	leaf := g.n()
	i, found := leaf.search(key)
	if !found {
		g.Release()
		return false, nil
	}
	underflow := t.root.Load() != g.s && leaf.wouldUnderflow()
	leaf.removeLeafAt(i)
	t.size.Add(-1)
	g.Release()

	if !underflow {
		return true, nil
	}
	return true, t.repair(detach(ctx), g.s, key, &path)
}

// repair rebalances the under-full node s with a sibling under the same
// parent and walks up while parents fall under their floor. It never latches
// above a held latch: s is already released, the parent is latched first and
// the sibling pair left to right. Repair is best effort; a node whose
// neighbourhood changed meanwhile stays legal but under-full.
func (t *Tree[K, V]) repair(ctx context.Context, s *SyncNode[K, V], key K, path *stack[K, V]) error {
	for {
		level := s.Level()
		pg, err := t.lockLevel(ctx, level+1, key, path)
		if errors.Is(err, errNoLevel) {
			return nil
		}
		if err != nil {
			return err
		}
		p := pg.n()

		i := slices.Index(p.children, s)
		if i < 0 {
			pg.Release()
			t.logger.Debug("underflow repair abandoned, node moved",
				zap.Uint64("node", s.ID()), zap.Int("level", level))
			return nil
		}

		merged := false
		if len(p.children) >= 2 {
			j := i
			if i == len(p.children)-1 {
				j = i - 1
			}
			if merged, err = t.rebalancePair(ctx, pg, j, i == j); err != nil {
				pg.Release()
				return err
			}
		}

		if t.root.Load() == pg.s {
			return t.collapseRoot(ctx, pg)
		}
		if !merged || len(p.keys) >= p.floor() {
			pg.Release()
			return nil
		}
		s = pg.s
		pg.Release()
	}
}

// rebalancePair latches children j and j+1 of the parent held by pg and
// either moves one key into the under-full one or merges them. It reports
// whether the parent lost a separator.
func (t *Tree[K, V]) rebalancePair(ctx context.Context, pg *WriteGuard[K, V], j int, leftUnder bool) (bool, error) {
	p := pg.n()
	lg, err := t.acquireExclusive(ctx, p.children[j])
	if err != nil {
		return false, err
	}
	defer lg.Release()
	rg, err := t.acquireExclusive(ctx, p.children[j+1])
	if err != nil {
		return false, err
	}
	defer rg.Release()

	l, r := lg.n(), rg.n()
	// The pair is mid-split or already rearranged by someone else.
	if l.rightLink != rg.s || l.isTombstone() || r.isTombstone() {
		return false, nil
	}
	under, donor := l, r
	if !leftUnder {
		under, donor = r, l
	}
	if len(under.keys) >= under.floor() {
		return false, nil
	}

	if len(donor.keys) > donor.floor() {
		var sep K
		if leftUnder {
			sep = borrowFromRight(p.keys[j], l, r)
		} else {
			sep = borrowFromLeft(p.keys[j], l, r)
		}
		p.keys[j] = sep
		l.high = at(sep)
		r.low = at(sep)
		t.obs.KeyBorrowed(l.level)
		return false, nil
	}

	if l.isLeaf() {
		l.keys = append(l.keys, r.keys...)
		l.values = append(l.values, r.values...)
	} else {
		l.keys = append(append(l.keys, p.keys[j]), r.keys...)
		l.children = append(l.children, r.children...)
	}
	l.rightLink = r.rightLink
	l.high = r.high
	r.outLink = lg.s
	r.keys, r.values, r.children, r.rightLink = nil, nil, nil, nil

	p.keys = slices.Delete(p.keys, j, j+1)
	p.children = slices.Delete(p.children, j+1, j+2)
	t.obs.NodesMerged(l.level)
	return true, nil
}

// borrowFromRight moves the first entry of r to the end of l and returns the
// new separator between them.
func borrowFromRight[K any, V any](sep K, l, r *Node[K, V]) K {
	if l.isLeaf() {
		l.keys = append(l.keys, r.keys[0])
		l.values = append(l.values, r.values[0])
		r.removeLeafAt(0)
		return r.keys[0]
	}
	l.keys = append(l.keys, sep)
	l.children = append(l.children, r.children[0])
	next := r.keys[0]
	r.keys = slices.Delete(r.keys, 0, 1)
	r.children = slices.Delete(r.children, 0, 1)
	return next
}

// borrowFromLeft moves the last entry of l to the front of r and returns the
// new separator between them.
func borrowFromLeft[K any, V any](sep K, l, r *Node[K, V]) K {
	last := len(l.keys) - 1
	if l.isLeaf() {
		r.insertLeafAt(0, l.keys[last], l.values[last])
		l.removeLeafAt(last)
		return r.keys[0]
	}
	r.keys = slices.Insert(r.keys, 0, sep)
	r.children = slices.Insert(r.children, 0, l.children[last+1])
	next := l.keys[last]
	l.keys = slices.Delete(l.keys, last, last+1)
	l.children = slices.Delete(l.children, last+1, last+2)
	return next
}

// collapseRoot promotes the only child of an empty root, repeatedly. The
// guard on the root is released on return.
func (t *Tree[K, V]) collapseRoot(ctx context.Context, pg *WriteGuard[K, V]) error {
	for {
		p := pg.n()
		if p.isLeaf() || len(p.keys) > 0 || len(p.children) != 1 || p.rightLink != nil {
			pg.Release()
			return nil
		}
		child := p.children[0]
		cg, err := t.acquireExclusive(ctx, child)
		if err != nil {
			pg.Release()
			return err
		}
		c := cg.n()
		// A child with a pending split keeps its parent.
		if c.rightLink != nil || c.isTombstone() {
			cg.Release()
			pg.Release()
			return nil
		}

		c.root = true
		t.root.Store(child)
		p.root = false
		p.outLink = child
		p.children = nil

		t.obs.RootChanged(c.level + 1)
		t.logger.Debug("root collapsed",
			zap.Uint64("old_root", p.id),
			zap.Uint64("new_root", c.id),
			zap.Int("height", c.level+1))
		pg.Release()
		pg = cg
	}
}
