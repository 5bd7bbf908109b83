package blink

import (
	"cmp"
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sushant-115/blinkdb/core/latch"
	"go.uber.org/zap"
)

// Tree is a concurrent B-link tree mapping K to V. All methods are safe for
// concurrent use.
type Tree[K any, V any] struct {
	minOrd int
	order  Order[K]

	// root is the entry point. It is swapped only by a goroutine holding the
	// current root's exclusive latch.
	root atomic.Pointer[SyncNode[K, V]]
	size atomic.Int64

	logger       *zap.Logger
	obs          Observer
	latchTimeout time.Duration
}

// Option configures a Tree.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	obs          Observer
	latchTimeout time.Duration
}

// WithLogger sets the logger for structural events. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver installs a receiver for split, merge and latch events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}

// WithLatchTimeout bounds every single latch wait of a caller-initiated
// operation. A wait that runs out fails the operation with ErrCanceled.
func WithLatchTimeout(d time.Duration) Option {
	return func(o *options) { o.latchTimeout = d }
}

// New creates an empty tree. minOrd is the minimum order: nodes hold at most
// 2*minOrd-1 keys at rest.
func New[K any, V any](minOrd int, order Order[K], opts ...Option) (*Tree[K, V], error) {
	if minOrd < 2 {
		return nil, errors.Wrapf(ErrInvalidMinOrder, "got %d", minOrd)
	}
	if order == nil {
		return nil, ErrNilKeyOrder
	}
	o := options{logger: zap.NewNop(), obs: NopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.obs == nil {
		o.obs = NopObserver{}
	}

	t := &Tree[K, V]{
		minOrd:       minOrd,
		order:        order,
		logger:       o.logger,
		obs:          o.obs,
		latchTimeout: o.latchTimeout,
	}
	root := CreateNode[K, V](minOrd, order)
	root.node.root = true
	t.root.Store(root)
	t.logger.Debug("b-link tree created", zap.Int("min_order", minOrd), zap.Uint64("root", root.ID()))
	return t, nil
}

// NewOrdered creates a tree over a naturally ordered key type.
func NewOrdered[K cmp.Ordered, V any](minOrd int, opts ...Option) (*Tree[K, V], error) {
	return New[K, V](minOrd, DefaultKeyOrder[K], opts...)
}

// Len returns the number of stored keys.
func (t *Tree[K, V]) Len() int { return int(t.size.Load()) }

// Height is the number of levels, 1 for a tree that is a single leaf.
func (t *Tree[K, V]) Height() int { return t.root.Load().Level() + 1 }

// Root returns the current entry node.
func (t *Tree[K, V]) Root() *SyncNode[K, V] { return t.root.Load() }

func (t *Tree[K, V]) MinOrder() int { return t.minOrd }

type followUpKey struct{}

// detach derives the context for structural follow-up work once a leaf change
// has committed: never canceled and exempt from the per-latch timeout.
func detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), followUpKey{}, true)
}

// acquire latches s, reporting contended waits to the observer.
func (t *Tree[K, V]) acquire(ctx context.Context, s *SyncNode[K, V], mode latch.Mode) (*ReadGuard[K, V], error) {
	if g := s.tryAcquire(mode); g != nil {
		return g, nil
	}
	if t.latchTimeout > 0 && ctx.Value(followUpKey{}) == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.latchTimeout)
		defer cancel()
	}
	start := time.Now()
	g, err := plainAcquire(ctx, s, mode)
	t.obs.LatchWaited(mode, time.Since(start))
	if err != nil {
		return nil, errors.Wrapf(err, "node %d at level %d", s.ID(), s.Level())
	}
	return g, nil
}

func (t *Tree[K, V]) acquireExclusive(ctx context.Context, s *SyncNode[K, V]) (*WriteGuard[K, V], error) {
	g, err := t.acquire(ctx, s, latch.Exclusive)
	if err != nil {
		return nil, err
	}
	return &WriteGuard[K, V]{g}, nil
}

// stack remembers, per level, the node a descent passed through. It is only a
// hint for finding a parent again; entries may be stale.
type stack[K any, V any] []*SyncNode[K, V]

func (p *stack[K, V]) set(level int, s *SyncNode[K, V]) {
	if p == nil {
		return
	}
	for len(*p) <= level {
		*p = append(*p, nil)
	}
	(*p)[level] = s
}

func (p *stack[K, V]) at(level int) *SyncNode[K, V] {
	if p == nil || level >= len(*p) {
		return nil
	}
	return (*p)[level]
}

var errRestart = errors.New("descent restart")

// descend latches the node at level whose range covers key, in mode. Levels
// above it are crossed with shared latch coupling.
func (t *Tree[K, V]) descend(ctx context.Context, key bound[K], level int, mode latch.Mode, path *stack[K, V]) (*ReadGuard[K, V], error) {
	for {
		g, err := t.descendOnce(ctx, key, level, mode, path)
		if errors.Is(err, errRestart) || errors.Is(err, ErrOutOfRange) {
			continue
		}
		return g, err
	}
}

func (t *Tree[K, V]) descendOnce(ctx context.Context, key bound[K], level int, mode latch.Mode, path *stack[K, V]) (*ReadGuard[K, V], error) {
	modeAt := func(l int) latch.Mode {
		if l == level {
			return mode
		}
		return latch.Shared
	}

	root := t.root.Load()
	if root.Level() < level {
		return nil, errNoLevel
	}
	g, err := t.acquire(ctx, root, modeAt(root.Level()))
	if err != nil {
		return nil, err
	}
	for {
		if g, err = moveRight(ctx, g, key, t.acquire, t.obs); err != nil {
			return nil, err
		}
		n := g.n()
		// An out-link from a collapsed root can drop us a level.
		if n.level < level || (n.level == level && g.mode != mode) {
			g.Release()
			return nil, errRestart
		}
		if n.level == level {
			return g, nil
		}

		path.set(n.level, g.s)
		i := n.childIndex(key)
		if i >= len(n.children) {
			g.Release()
			return nil, violationf("node %d at level %d has %d keys but %d children", n.id, n.level, len(n.keys), len(n.children))
		}
		child := n.children[i]
		cg, err := t.acquire(ctx, child, modeAt(child.Level()))
		g.Release()
		if err != nil {
			return nil, err
		}
		g = cg
	}
}

// lockLevel latches exclusively the node at level covering key, trying the
// remembered path first.
func (t *Tree[K, V]) lockLevel(ctx context.Context, level int, key K, path *stack[K, V]) (*WriteGuard[K, V], error) {
	if hint := path.at(level); hint != nil {
		g, err := t.acquire(ctx, hint, latch.Exclusive)
		if err != nil {
			return nil, err
		}
		g, err = moveRight(ctx, g, at(key), t.acquire, t.obs)
		switch {
		case err == nil && g.Level() == level && g.mode == latch.Exclusive:
			return &WriteGuard[K, V]{g}, nil
		case err == nil:
			g.Release()
		case !errors.Is(err, ErrOutOfRange):
			return nil, err
		}
	}
	g, err := t.descend(ctx, at(key), level, latch.Exclusive, path)
	if err != nil {
		return nil, err
	}
	return &WriteGuard[K, V]{g}, nil
}

// Get returns the value stored under key.
func (t *Tree[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	g, err := t.descend(ctx, at(key), 0, latch.Shared, nil)
	if err != nil {
		var zero V
		return zero, false, err
	}
	defer g.Release()
	v, ok := g.Lookup(key)
	return v, ok, nil
}

// Has reports whether key is stored.
func (t *Tree[K, V]) Has(ctx context.Context, key K) (bool, error) {
	g, err := t.descend(ctx, at(key), 0, latch.Shared, nil)
	if err != nil {
		return false, err
	}
	defer g.Release()
	return g.HasKey(key), nil
}
