package blink

import (
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/sushant-115/blinkdb/core/latch"
)

// Order defines a function that compares two keys.
type Order[K any] func(a, b K) int

// DefaultKeyOrder provides a default comparator for standard ordered types.
func DefaultKeyOrder[K cmp.Ordered](a, b K) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// bound is an optional key. An unset low bound is -inf, an unset high bound
// +inf, and an unset search key stands for -inf.
type bound[K any] struct {
	key K
	set bool
}

func at[K any](key K) bound[K] { return bound[K]{key: key, set: true} }

var nodeIDs atomic.Uint64

// Node is the B-link payload. Every field except id and level is protected by
// the owning SyncNode's latch and reachable only through a guard.
type Node[K any, V any] struct {
	id     uint64
	level  int // 0 for leaves; never changes after creation
	minOrd int
	order  Order[K]

	root     bool
	keys     []K
	values   []V               // leaves only, parallel to keys
	children []*SyncNode[K, V] // internal only, len(keys)+1 once posted

	rightLink *SyncNode[K, V]
	outLink   *SyncNode[K, V]

	low  bound[K] // inclusive
	high bound[K] // exclusive, set iff rightLink != nil
}

// SyncNode is a Node paired with the latch that guards it.
type SyncNode[K any, V any] struct {
	latch latch.Latch
	node  Node[K, V]
}

// CreateNode allocates an empty, non-root leaf.
func CreateNode[K any, V any](minOrd int, order Order[K]) *SyncNode[K, V] {
	return newSyncNode[K, V](minOrd, order, 0)
}

func newSyncNode[K any, V any](minOrd int, order Order[K], level int) *SyncNode[K, V] {
	return &SyncNode[K, V]{node: Node[K, V]{
		id:     nodeIDs.Add(1),
		level:  level,
		minOrd: minOrd,
		order:  order,
	}}
}

// ID is a process-unique identifier, readable without a latch.
func (s *SyncNode[K, V]) ID() uint64 { return s.node.id }

// Level is 0 for leaves and grows towards the root. Readable without a latch.
func (s *SyncNode[K, V]) Level() int { return s.node.level }

func (n *Node[K, V]) isLeaf() bool { return n.level == 0 }

func (n *Node[K, V]) maxKeys() int { return 2*n.minOrd - 1 }

// floor is the fewest keys a non-root node should hold at rest.
func (n *Node[K, V]) floor() int {
	if n.isLeaf() {
		return n.minOrd
	}
	return n.minOrd - 1
}

func (n *Node[K, V]) wouldOverflow() bool { return len(n.keys) >= n.maxKeys() }

func (n *Node[K, V]) wouldUnderflow() bool { return len(n.keys) <= n.floor() }

// search returns the position of key in n.keys and whether it is present.
func (n *Node[K, V]) search(key K) (int, bool) {
	return slices.BinarySearchFunc(n.keys, key, n.order)
}

// childIndex picks the child whose subtree covers key: the number of
// separators <= key.
func (n *Node[K, V]) childIndex(key bound[K]) int {
	if !key.set {
		return 0
	}
	i, found := n.search(key.key)
	if found {
		i++
	}
	return i
}

// belowLow reports key < low bound.
func (n *Node[K, V]) belowLow(key bound[K]) bool {
	return key.set && n.low.set && n.order(key.key, n.low.key) < 0
}

// pastHigh reports that key belongs to a node further right.
func (n *Node[K, V]) pastHigh(key bound[K]) bool {
	return key.set && n.rightLink != nil && n.high.set && n.order(key.key, n.high.key) >= 0
}

func (n *Node[K, V]) isTombstone() bool { return n.outLink != nil }

func (n *Node[K, V]) insertLeafAt(i int, key K, value V) {
	n.keys = slices.Insert(n.keys, i, key)
	n.values = slices.Insert(n.values, i, value)
}

func (n *Node[K, V]) removeLeafAt(i int) {
	n.keys = slices.Delete(n.keys, i, i+1)
	n.values = slices.Delete(n.values, i, i+1)
}

// split moves the upper half of n into a fresh right sibling and returns the
// separator that now bounds them. n must hold 2*minOrd keys.
func (n *Node[K, V]) split() (K, *SyncNode[K, V]) {
	m := n.minOrd
	right := newSyncNode[K, V](n.minOrd, n.order, n.level)
	r := &right.node

	var sep K
	if n.isLeaf() {
		r.keys = slices.Clone(n.keys[m:])
		r.values = slices.Clone(n.values[m:])
		sep = r.keys[0]
		clear(n.keys[m:])
		clear(n.values[m:])
		n.keys = n.keys[:m]
		n.values = n.values[:m]
	} else {
		sep = n.keys[m]
		r.keys = slices.Clone(n.keys[m+1:])
		r.children = slices.Clone(n.children[m+1:])
		clear(n.keys[m:])
		clear(n.children[m+1:])
		n.keys = n.keys[:m]
		n.children = n.children[:m+1]
	}

	r.low = at(sep)
	r.high = n.high
	r.rightLink = n.rightLink
	n.high = at(sep)
	n.rightLink = right
	return sep, right
}
