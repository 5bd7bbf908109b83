package blink

import (
	"context"

	"github.com/sushant-115/blinkdb/core/latch"
)

type acquireFunc[K any, V any] func(ctx context.Context, s *SyncNode[K, V], mode latch.Mode) (*ReadGuard[K, V], error)

func plainAcquire[K any, V any](ctx context.Context, s *SyncNode[K, V], mode latch.Mode) (*ReadGuard[K, V], error) {
	if mode == latch.Exclusive {
		w, err := s.AcquireExclusive(ctx)
		if err != nil {
			return nil, err
		}
		return w.ReadGuard, nil
	}
	return s.AcquireShared(ctx)
}

// moveRight walks from the latched node g to the node at the same level whose
// range covers key. Tombstones are left through their out-link; a split sibling
// is latched before g is released. On any error every latch is released.
func moveRight[K any, V any](ctx context.Context, g *ReadGuard[K, V], key bound[K], acquire acquireFunc[K, V], obs Observer) (*ReadGuard[K, V], error) {
	for {
		n := g.n()
		if out := n.outLink; out != nil {
			mode := g.mode
			g.Release()
			obs.OutLinkFollowed(n.level)
			next, err := acquire(ctx, out, mode)
			if err != nil {
				return nil, err
			}
			g = next
			continue
		}
		if n.belowLow(key) {
			g.Release()
			return nil, ErrOutOfRange
		}
		if !n.pastHigh(key) {
			return g, nil
		}
		next, err := acquire(ctx, n.rightLink, g.mode)
		if err != nil {
			g.Release()
			return nil, err
		}
		g.Release()
		obs.MovedRight(n.level)
		g = next
	}
}

// MoveRightShared returns a shared guard on the node covering key, starting
// from g. If g already covers key, g itself is returned. ErrOutOfRange means
// key sorts below the range reached and the caller must restart from the root.
func MoveRightShared[K any, V any](ctx context.Context, g *ReadGuard[K, V], key K) (*ReadGuard[K, V], error) {
	return moveRight(ctx, g, at(key), plainAcquire[K, V], NopObserver{})
}

// MoveRightExclusive is MoveRightShared for exclusive holds.
func MoveRightExclusive[K any, V any](ctx context.Context, w *WriteGuard[K, V], key K) (*WriteGuard[K, V], error) {
	g, err := moveRight(ctx, w.ReadGuard, at(key), plainAcquire[K, V], NopObserver{})
	if err != nil {
		return nil, err
	}
	if g == w.ReadGuard {
		return w, nil
	}
	return &WriteGuard[K, V]{g}, nil
}
