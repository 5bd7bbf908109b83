package blink

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/core/latch"
	"go.uber.org/zap"
)

// Put stores value under key, replacing any previous value.
func (t *Tree[K, V]) Put(ctx context.Context, key K, value V) (replaced bool, err error) {
	return t.insert(ctx, key, value, true)
}

// Insert stores value under key. It fails with ErrKeyExists if key is present.
func (t *Tree[K, V]) Insert(ctx context.Context, key K, value V) error {
	_, err := t.insert(ctx, key, value, false)
	return err
}

func (t *Tree[K, V]) insert(ctx context.Context, key K, value V, overwrite bool) (bool, error) {
	var path stack[K, V]
	g, err := t.descend(ctx, at(key), 0, latch.Exclusive, &path)
	if err != nil {
		return false, err
	}
	leaf := g.n()
	i, found := leaf.search(key)
	if found {
		defer g.Release()
		if !overwrite {
			return false, errors.Wrapf(ErrKeyExists, "key %v", key)
		}
		leaf.values[i] = value
		return true, nil
	}

	overflow := leaf.wouldOverflow()
	leaf.insertLeafAt(i, key, value)
	t.size.Add(1)
	if !overflow {
		g.Release()
		return false, nil
	}

	sep, right := leaf.split()
	t.obs.NodeSplit(0)
	g.Release()
	// The new sibling is reachable through the right-link from here on, so
	// posting its separator must not be abandoned halfway.
	return false, t.postSeparator(detach(ctx), 0, sep, right, &path)
}

// postSeparator inserts sep and its right child into the parent level of a
// node that split at level, splitting ancestors as needed.
func (t *Tree[K, V]) postSeparator(ctx context.Context, level int, sep K, right *SyncNode[K, V], path *stack[K, V]) error {
	for {
		pg, err := t.lockLevel(ctx, level+1, sep, path)
		if errors.Is(err, errNoLevel) {
			if err := t.growRoot(ctx, level); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		p := pg.n()
		i, found := p.search(sep)
		if found {
			pg.Release()
			return nil
		}
		rg, err := t.acquire(ctx, right, latch.Shared)
		if err != nil {
			pg.Release()
			return err
		}
		dead := rg.IsTombstone()
		rg.Release()
		if dead {
			pg.Release()
			return nil
		}

		overflow := p.wouldOverflow()
		p.keys = slices.Insert(p.keys, i, sep)
		p.children = slices.Insert(p.children, i+1, right)
		if !overflow {
			pg.Release()
			return nil
		}

		level++
		sep, right = p.split()
		t.obs.NodeSplit(level)
		pg.Release()
	}
}

// growRoot installs a new root above the current one when the root at level
// has split. Whoever first finds no level above a split node does this, so a
// pending root split is finished by any poster that needs it.
func (t *Tree[K, V]) growRoot(ctx context.Context, level int) error {
	old := t.root.Load()
	if old.Level() > level {
		return nil
	}
	g, err := t.acquireExclusive(ctx, old)
	if err != nil {
		return err
	}
	defer g.Release()
	if t.root.Load() != old {
		return nil
	}

	n := g.n()
	if n.level != level || n.rightLink == nil || !n.high.set {
		err := violationf("root %d at level %d cannot grow for a split at level %d", n.id, n.level, level)
		t.logger.Error("structural violation", zap.Error(err))
		return err
	}

	nr := newSyncNode[K, V](t.minOrd, t.order, level+1)
	nr.node.root = true
	nr.node.keys = []K{n.high.key}
	nr.node.children = []*SyncNode[K, V]{old, n.rightLink}
	t.root.Store(nr)
	n.root = false

	t.obs.RootChanged(level + 2)
	t.logger.Debug("root split",
		zap.Uint64("old_root", n.id),
		zap.Uint64("new_root", nr.ID()),
		zap.Int("height", level+2))
	return nil
}
