package blink

import (
	"context"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

// leafOf builds an unlinked leaf holding keys, with values key*10.
func leafOf(t *testing.T, minOrd int, keys ...int) *SyncNode[int, int] {
	t.Helper()
	s := CreateNode[int, int](minOrd, DefaultKeyOrder[int])
	w, err := s.AcquireExclusive(context.Background())
	require.NoError(t, err)
	defer w.Release()
	values := make([]int, len(keys))
	for i, k := range keys {
		values[i] = k * 10
	}
	w.SetKeys(keys)
	w.SetValues(values)
	return s
}

// link makes right the right sibling of left, split at sep.
func link(t *testing.T, left, right *SyncNode[int, int], sep int) {
	t.Helper()
	ctx := context.Background()
	lw, err := left.AcquireExclusive(ctx)
	require.NoError(t, err)
	lw.SetRightLink(right)
	lw.SetHighKey(sep, true)
	lw.Release()

	rw, err := right.AcquireExclusive(ctx)
	require.NoError(t, err)
	rw.SetLowKey(sep, true)
	rw.Release()
}

// --- Test Cases ---

func TestCreateNode_EmptyNonRootLeaf(t *testing.T) {
	s := CreateNode[int, int](3, DefaultKeyOrder[int])
	g, err := s.AcquireShared(context.Background())
	require.NoError(t, err)
	defer g.Release()

	require.False(t, g.IsRoot())
	require.True(t, g.IsLeaf())
	require.False(t, g.IsTombstone())
	require.Zero(t, g.Len())
	require.Nil(t, g.RightLink())
	require.Nil(t, g.OutLink())
	_, ok := g.HighKey()
	require.False(t, ok)
	require.NotEqual(t, s.ID(), CreateNode[int, int](3, DefaultKeyOrder[int]).ID())
}

func TestReadGuard_HasKeyIsPresence(t *testing.T) {
	s := leafOf(t, 2, 10, 20, 30)
	g, err := s.AcquireShared(context.Background())
	require.NoError(t, err)
	defer g.Release()

	require.True(t, g.HasKey(20))
	require.False(t, g.HasKey(25))
	require.False(t, g.HasKey(5))

	v, ok := g.Lookup(30)
	require.True(t, ok)
	require.Equal(t, 300, v)
}

func TestReadGuard_OverflowAndUnderflowThresholds(t *testing.T) {
	// minOrd 3: capacity 5 keys, leaf floor 3.
	cases := []struct {
		keys      []int
		overflow  bool
		underflow bool
	}{
		{keys: []int{1, 2}, overflow: false, underflow: true},
		{keys: []int{1, 2, 3}, overflow: false, underflow: true},
		{keys: []int{1, 2, 3, 4}, overflow: false, underflow: false},
		{keys: []int{1, 2, 3, 4, 5}, overflow: true, underflow: false},
	}
	for _, tc := range cases {
		g, err := leafOf(t, 3, tc.keys...).AcquireShared(context.Background())
		require.NoError(t, err)
		require.Equal(t, tc.overflow, g.WouldOverflow(), "keys %v", tc.keys)
		require.Equal(t, tc.underflow, g.WouldUnderflow(), "keys %v", tc.keys)
		g.Release()
	}
}

func TestReadGuard_ReturnsCopies(t *testing.T) {
	s := leafOf(t, 2, 1, 2, 3)
	g, err := s.AcquireShared(context.Background())
	require.NoError(t, err)
	keys := g.Keys()
	keys[0] = 99
	require.Equal(t, []int{1, 2, 3}, g.Keys())
	g.Release()
}

func TestReadGuard_UseAfterReleasePanics(t *testing.T) {
	s := leafOf(t, 2, 1)
	g, err := s.AcquireShared(context.Background())
	require.NoError(t, err)
	g.Release()
	g.Release() // idempotent

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		require.True(t, errors.HasAssertionFailure(err))
	}()
	g.Len()
}

func TestWriteGuard_SharedHoldCannotWrite(t *testing.T) {
	s := leafOf(t, 2, 1)
	g, err := s.AcquireShared(context.Background())
	require.NoError(t, err)
	defer g.Release()

	w := &WriteGuard[int, int]{ReadGuard: g}
	for name, set := range map[string]func(){
		"keys":       func() { w.SetKeys([]int{1, 2, 3}) },
		"values":     func() { w.SetValues(nil) },
		"right link": func() { w.SetRightLink(nil) },
		"high key":   func() { w.SetHighKey(9, true) },
	} {
		func() {
			defer func() {
				r := recover()
				require.NotNil(t, r, name)
				err, ok := r.(error)
				require.True(t, ok, name)
				require.True(t, errors.HasAssertionFailure(err), name)
			}()
			set()
		}()
	}
	require.Equal(t, []int{1}, g.Keys())
	_, ok := g.HighKey()
	require.False(t, ok)
}

func TestNode_SplitLeafHalves(t *testing.T) {
	s := leafOf(t, 3, 1, 2, 3, 4, 5, 6)
	w, err := s.AcquireExclusive(context.Background())
	require.NoError(t, err)
	sep, right := w.n().split()
	w.Release()

	require.Equal(t, 4, sep)
	lg, err := s.AcquireShared(context.Background())
	require.NoError(t, err)
	defer lg.Release()
	rg, err := right.AcquireShared(context.Background())
	require.NoError(t, err)
	defer rg.Release()

	require.Equal(t, []int{1, 2, 3}, lg.Keys())
	require.Equal(t, []int{4, 5, 6}, rg.Keys())
	require.Same(t, right, lg.RightLink())
	high, ok := lg.HighKey()
	require.True(t, ok)
	require.Equal(t, 4, high)
	low, ok := rg.LowKey()
	require.True(t, ok)
	require.Equal(t, 4, low)
	v, ok := rg.Lookup(6)
	require.True(t, ok)
	require.Equal(t, 60, v)
}

func TestNode_SplitInternalPromotesMiddle(t *testing.T) {
	kids := make([]*SyncNode[int, int], 5)
	for i := range kids {
		kids[i] = CreateNode[int, int](2, DefaultKeyOrder[int])
	}
	s := newSyncNode[int, int](2, DefaultKeyOrder[int], 1)
	s.node.keys = []int{10, 20, 30, 40}
	s.node.children = slices.Clone(kids)

	sep, right := s.node.split()
	require.Equal(t, 30, sep)
	require.Equal(t, []int{10, 20}, s.node.keys)
	require.Equal(t, kids[:3], s.node.children)
	require.Equal(t, []int{40}, right.node.keys)
	require.Equal(t, kids[3:], right.node.children)
	require.Equal(t, 1, right.Level())
}

func TestMoveRight_NoOpWhenKeyInRange(t *testing.T) {
	left, right := leafOf(t, 2, 1, 2), leafOf(t, 2, 3, 4)
	link(t, left, right, 3)

	g, err := left.AcquireShared(context.Background())
	require.NoError(t, err)
	got, err := MoveRightShared(context.Background(), g, 2)
	require.NoError(t, err)
	require.Same(t, g, got)
	got.Release()

	readers, _, _ := left.latch.State()
	require.Zero(t, readers)
}

func TestMoveRight_FollowsRightLinks(t *testing.T) {
	a, b, c := leafOf(t, 2, 1, 2), leafOf(t, 2, 3, 4), leafOf(t, 2, 5, 6)
	link(t, a, b, 3)
	link(t, b, c, 5)

	w, err := a.AcquireExclusive(context.Background())
	require.NoError(t, err)
	got, err := MoveRightExclusive(context.Background(), w, 6)
	require.NoError(t, err)
	require.Same(t, c, got.Node())
	require.True(t, got.HasKey(6))
	got.Release()

	for _, s := range []*SyncNode[int, int]{a, b, c} {
		readers, writer, _ := s.latch.State()
		require.Zero(t, readers)
		require.False(t, writer, "node %d still latched", s.ID())
	}
}

func TestMoveRight_FollowsOutLinkOfTombstone(t *testing.T) {
	survivor, dead := leafOf(t, 2, 1, 2, 3), leafOf(t, 2)
	w, err := dead.AcquireExclusive(context.Background())
	require.NoError(t, err)
	w.SetOutLink(survivor)
	w.Release()

	g, err := dead.AcquireShared(context.Background())
	require.NoError(t, err)
	got, err := MoveRightShared(context.Background(), g, 3)
	require.NoError(t, err)
	defer got.Release()
	require.Same(t, survivor, got.Node())
	require.True(t, got.HasKey(3))
}

func TestMoveRight_BelowLowBoundRestarts(t *testing.T) {
	left, right := leafOf(t, 2, 1, 2), leafOf(t, 2, 3, 4)
	link(t, left, right, 3)

	g, err := right.AcquireShared(context.Background())
	require.NoError(t, err)
	_, err = MoveRightShared(context.Background(), g, 1)
	require.True(t, errors.Is(err, ErrOutOfRange), "%+v", err)
	readers, _, _ := right.latch.State()
	require.Zero(t, readers, "latch must be released on restart")
}
