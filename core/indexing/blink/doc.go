// Package blink implements a concurrent in-memory B-link tree (Lehman & Yao).
//
// Every node carries a right-link to its neighbour on the same level and the
// exclusive upper bound (high key) of the keys it may hold. A traversal that
// reaches a node whose range was moved right by a concurrent split notices
// key >= high key and follows the right-link, so no operation ever needs to
// latch a root-to-leaf path. Nodes that are merged away keep an out-link to
// the node that absorbed them; a traversal that lands on such a tombstone
// resumes from the out-link.
//
// # Latching discipline
//
// Latches are acquired top-down and left-to-right only:
//
//   - descent couples at most two latches (parent, then child);
//   - move-right couples a node and its right neighbour;
//   - a split releases the child before latching the parent to post the new
//     separator, relying on the right-link to keep the new sibling reachable;
//   - underflow repair releases the leaf, then latches the parent and the
//     sibling pair left-to-right.
//
// Field access goes through guards. A *ReadGuard comes from AcquireShared or
// AcquireExclusive; a *WriteGuard only from AcquireExclusive, and it is the only
// type carrying setters.
//
// # Usage
//
//	tree, err := blink.NewOrdered[string, string](16)
//	_, err = tree.Put(ctx, "uid=alice", "entry-1")
//	value, found, err := tree.Get(ctx, "uid=alice")
//	err = tree.AscendRange(ctx, "uid=a", "uid=z", func(k, v string) bool {
//		return true
//	})
package blink
