package blink

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/core/latch"
)

// Ascend calls fn for every pair in ascending key order until fn returns false.
func (t *Tree[K, V]) Ascend(ctx context.Context, fn func(key K, value V) bool) error {
	return t.scan(ctx, bound[K]{}, bound[K]{}, fn)
}

// AscendRange calls fn for every pair with from <= key < to.
func (t *Tree[K, V]) AscendRange(ctx context.Context, from, to K, fn func(key K, value V) bool) error {
	return t.scan(ctx, at(from), at(to), fn)
}

// AscendGreaterOrEqual calls fn for every pair with key >= from.
func (t *Tree[K, V]) AscendGreaterOrEqual(ctx context.Context, from K, fn func(key K, value V) bool) error {
	return t.scan(ctx, at(from), bound[K]{}, fn)
}

// AscendLessThan calls fn for every pair with key < to.
func (t *Tree[K, V]) AscendLessThan(ctx context.Context, to K, fn func(key K, value V) bool) error {
	return t.scan(ctx, bound[K]{}, at(to), fn)
}

// scan walks the leaf level along right-links. Each leaf is copied under a
// shared latch and fn runs with no latch held, so fn may call back into the
// tree. The scan is not a snapshot: it sees every key that stays present for
// its whole duration, in order and at most once.
func (t *Tree[K, V]) scan(ctx context.Context, from, to bound[K], fn func(K, V) bool) error {
	g, err := t.descend(ctx, from, 0, latch.Shared, nil)
	if err != nil {
		return err
	}

	var keys []K
	var values []V
	for {
		n := g.n()
		i := 0
		if from.set {
			i, _ = n.search(from.key)
		}
		done := false
		keys, values = keys[:0], values[:0]
		for ; i < len(n.keys); i++ {
			if to.set && t.order(n.keys[i], to.key) >= 0 {
				done = true
				break
			}
			keys = append(keys, n.keys[i])
			values = append(values, n.values[i])
		}
		next, high := n.rightLink, n.high
		g.Release()

		for k := range keys {
			if !fn(keys[k], values[k]) {
				return nil
			}
		}
		if done || next == nil || (to.set && high.set && t.order(high.key, to.key) >= 0) {
			return nil
		}

		from = high
		if g, err = t.acquire(ctx, next, latch.Shared); err != nil {
			return err
		}
		g, err = moveRight(ctx, g, from, t.acquire, t.obs)
		if errors.Is(err, ErrOutOfRange) {
			g, err = t.descend(ctx, from, 0, latch.Shared, nil)
		}
		if err != nil {
			return err
		}
	}
}
