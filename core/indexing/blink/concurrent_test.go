package blink

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/blinkdb/core/latch"
	"golang.org/x/sync/errgroup"
)

// --- Test Helpers ---

func withOwnerChecks(t *testing.T) {
	t.Helper()
	latch.EnableOwnerChecks(true)
	t.Cleanup(func() { latch.EnableOwnerChecks(false) })
}

// --- Test Cases ---

func TestTree_ConcurrentDisjointInserts(t *testing.T) {
	withOwnerChecks(t)
	const workers, perWorker = 16, 400
	ctx := context.Background()
	obs := newRecordingObserver()
	tree := newTestTree(t, 2, WithObserver(obs))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(w)))
			for _, i := range rng.Perm(perWorker) {
				if err := tree.Insert(ctx, i*workers+w, (i*workers+w)*10); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, workers*perWorker, tree.Len())
	for k := 0; k < workers*perWorker; k++ {
		v, found, err := tree.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, found, "key %d lost", k)
		require.Equal(t, k*10, v)
	}
	require.Equal(t, seq(0, workers*perWorker-1), collect(t, func(fn func(k, v int) bool) error {
		return tree.Ascend(ctx, fn)
	}))
	require.NoError(t, tree.VerifyOccupancy(ctx))
	require.Greater(t, obs.count("split", 0), 0)
}

func TestTree_ConcurrentMixedWorkload(t *testing.T) {
	withOwnerChecks(t)
	const writers, stripe, rounds = 8, 200, 3000
	ctx := context.Background()
	tree := newTestTree(t, 3)

	// Each writer owns the keys congruent to its id and tracks them locally.
	expected := make([]map[int]int, writers)
	var done atomic.Bool
	var writersG, readersG errgroup.Group
	for w := 0; w < writers; w++ {
		expected[w] = make(map[int]int)
		writersG.Go(func() error {
			rng := rand.New(rand.NewSource(int64(100 + w)))
			mine := expected[w]
			for r := 0; r < rounds; r++ {
				k := rng.Intn(stripe)*writers + w
				if rng.Intn(3) == 0 {
					found, err := tree.Delete(ctx, k)
					if err != nil {
						return err
					}
					if _, had := mine[k]; had != found {
						return fmt.Errorf("delete %d reported found=%t, expected %t", k, found, had)
					}
					delete(mine, k)
					continue
				}
				if _, err := tree.Put(ctx, k, r); err != nil {
					return err
				}
				mine[k] = r
			}
			return nil
		})
	}
	for r := 0; r < 4; r++ {
		readersG.Go(func() error {
			for !done.Load() {
				prev := -1
				var order error
				err := tree.Ascend(ctx, func(k, v int) bool {
					if k <= prev {
						order = fmt.Errorf("scan went backwards: %d after %d", k, prev)
						return false
					}
					prev = k
					return true
				})
				if err != nil {
					return err
				}
				if order != nil {
					return order
				}
				if _, _, err := tree.Get(ctx, rand.Intn(stripe*writers)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, writersG.Wait())
	done.Store(true)
	require.NoError(t, readersG.Wait())

	total := 0
	for w := 0; w < writers; w++ {
		for k, want := range expected[w] {
			v, found, err := tree.Get(ctx, k)
			require.NoError(t, err)
			require.True(t, found, "key %d lost", k)
			require.Equal(t, want, v, "key %d", k)
		}
		total += len(expected[w])
	}
	require.Equal(t, total, tree.Len())
	require.NoError(t, tree.Verify(ctx))
}

func TestTree_ConcurrentScansSeeStableKeys(t *testing.T) {
	const stable, churners = 100, 6
	ctx := context.Background()
	tree := newTestTree(t, 2)
	for i := 0; i < stable; i++ {
		_, err := tree.Put(ctx, i*100, i)
		require.NoError(t, err)
	}

	var done atomic.Bool
	var churn errgroup.Group
	for c := 0; c < churners; c++ {
		churn.Go(func() error {
			rng := rand.New(rand.NewSource(int64(c)))
			for !done.Load() {
				// Never touches multiples of 100.
				k := rng.Intn(stable)*100 + 1 + rng.Intn(99)
				if _, err := tree.Put(ctx, k, -1); err != nil {
					return err
				}
				if _, err := tree.Delete(ctx, k); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for pass := 0; pass < 50; pass++ {
		var got []int
		require.NoError(t, tree.Ascend(ctx, func(k, v int) bool {
			if k%100 == 0 {
				got = append(got, k)
			}
			return true
		}))
		require.Len(t, got, stable, "pass %d", pass)
		for i, k := range got {
			require.Equal(t, i*100, k)
		}
	}
	done.Store(true)
	require.NoError(t, churn.Wait())
	require.Equal(t, stable, tree.Len())
	require.NoError(t, tree.Verify(ctx))
}
