package blink

import (
	"context"
	"testing"

	"github.com/google/btree"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// --- Test Helpers ---

type kv struct {
	key, value int
}

func kvLess(a, b kv) bool { return a.key < b.key }

// applyOps replays ops on both the tree and a google/btree model. A positive
// op puts key op, a negative op deletes key -op, zero is a full scan.
func applyOps(tree *Tree[int, int], model *btree.BTreeG[kv], ops []int) (string, bool) {
	ctx := context.Background()
	for step, op := range ops {
		switch {
		case op > 0:
			replaced, err := tree.Put(ctx, op, step)
			if err != nil {
				return err.Error(), false
			}
			_, had := model.ReplaceOrInsert(kv{op, step})
			if replaced != had {
				return "put replaced mismatch", false
			}
		case op < 0:
			found, err := tree.Delete(ctx, -op)
			if err != nil {
				return err.Error(), false
			}
			_, had := model.Delete(kv{key: -op})
			if found != had {
				return "delete found mismatch", false
			}
		default:
			var got []kv
			if err := tree.Ascend(ctx, func(k, v int) bool {
				got = append(got, kv{k, v})
				return true
			}); err != nil {
				return err.Error(), false
			}
			i := 0
			ok := true
			model.Ascend(func(item kv) bool {
				ok = i < len(got) && got[i] == item
				i++
				return ok
			})
			if !ok || i != len(got) {
				return "scan differs from model", false
			}
		}
	}
	if tree.Len() != model.Len() {
		return "length mismatch", false
	}
	return "", true
}

// --- Test Cases ---

func TestTree_MatchesOrderedModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	parameters.MaxSize = 400
	properties := gopter.NewProperties(parameters)

	properties.Property("operations agree with google/btree", prop.ForAll(
		func(minOrd int, ops []int) string {
			tree, err := NewOrdered[int, int](minOrd)
			if err != nil {
				return err.Error()
			}
			model := btree.NewG[kv](4, kvLess)
			if msg, ok := applyOps(tree, model, ops); !ok {
				return msg
			}
			if err := tree.VerifyOccupancy(context.Background()); err != nil {
				return err.Error()
			}
			for _, op := range ops {
				k := op
				if k < 0 {
					k = -k
				}
				v, found, err := tree.Get(context.Background(), k)
				if err != nil {
					return err.Error()
				}
				item, had := model.Get(kv{key: k})
				if found != had || (found && v != item.value) {
					return "get differs from model"
				}
			}
			return ""
		},
		gen.IntRange(2, 5),
		gen.SliceOf(gen.IntRange(-150, 150)),
	))

	properties.Property("range scans are ordered and bounded", prop.ForAll(
		func(keys []int, from, span int) bool {
			ctx := context.Background()
			tree, err := NewOrdered[int, int](2)
			if err != nil {
				return false
			}
			model := btree.NewG[kv](4, kvLess)
			for _, k := range keys {
				if _, err := tree.Put(ctx, k, k); err != nil {
					return false
				}
				model.ReplaceOrInsert(kv{k, k})
			}
			var got, want []int
			if err := tree.AscendRange(ctx, from, from+span, func(k, v int) bool {
				got = append(got, k)
				return true
			}); err != nil {
				return false
			}
			model.AscendRange(kv{key: from}, kv{key: from + span}, func(item kv) bool {
				want = append(want, item.key)
				return true
			})
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.IntRange(-50, 1000),
		gen.IntRange(0, 300),
	))

	properties.TestingRun(t)
}
