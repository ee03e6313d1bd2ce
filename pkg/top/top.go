// Package top implements the unbounded top-of-stack component: a randomized
// balanced binary search tree (treap) mapping split keys to the address of
// the layer directly beneath, searched with greatest-lower-bound semantics.
// It never splits or propagates further -- it is the one layer that always
// absorbs an insert locally.
//
// The treap shape (key, priority, left/right children, rotate-on-insert) is
// grounded on
// _examples/other_examples/7e86c686_gaissmai-cidrtree__treap.go.go, a
// generic cmp-based treap, generalized here from CIDR prefixes to any
// cmp.Ordered key. Unlike the arena-backed layers beneath it, top only ever
// grows -- nothing is freed in this engine's lifetime -- so its nodes are
// ordinary garbage-collected pointers rather than generational arena slots.
package top

import (
	"cmp"
	"math/rand"

	"github.com/daicang/hybridx/pkg/arena"
	"github.com/daicang/hybridx/pkg/common"
)

type node[K cmp.Ordered] struct {
	key         K
	base        arena.Address
	priority    uint64
	left, right *node[K]
}

// Component is the top layer, mapping split keys to the address of the
// layer directly beneath (the topmost internal layer, or the base layer if
// the stack has no internal layers).
type Component[K cmp.Ordered] struct {
	root *node[K]
	ids  *arena.Arena[struct{}, struct{}]
	rng  *rand.Rand
}

// New returns an empty top component.
func New[K cmp.Ordered]() *Component[K] {
	return &Component[K]{
		ids: arena.New[struct{}, struct{}](struct{}{}),
		rng: rand.New(rand.NewSource(1)),
	}
}

// mint allocates a fresh, stable arena.Address to hand to the layer beneath
// as a parent pointer. A component's own arena is never cleared or replaced,
// so these addresses are permanent for that component's lifetime (pkg/index
// discards the whole component and builds a new one on a rebuild).
func (c *Component[K]) mint() arena.Address {
	return c.ids.AppendBeforeSentinel(struct{}{})
}

// Search returns the base address covering key: the payload of the entry
// with the largest key <= the search key, or the first (leftmost) entry's
// payload if key precedes everything in the top component. Panics if the
// top component is empty -- callers must Build or Insert at least one entry
// first.
func (c *Component[K]) Search(key K) arena.Address {
	if c.root == nil {
		common.Misuse("top: search on empty top component")
	}
	var best *node[K]
	n := c.root
	for n != nil {
		if n.key <= key {
			best = n
			n = n.right
		} else {
			n = n.left
		}
	}
	if best == nil {
		return c.first().base
	}
	return best.base
}

func (c *Component[K]) first() *node[K] {
	n := c.root
	for n.left != nil {
		n = n.left
	}
	return n
}

// insert is the standard treap insert-by-key-then-bubble-up-by-priority: a
// plain BST insert followed by right/left rotations while the new node's
// priority exceeds its parent's, keeping the max-heap property on priority.
func (c *Component[K]) insert(key K, base arena.Address) {
	c.root = insertNode(c.root, &node[K]{key: key, base: base, priority: c.rng.Uint64()})
}

func insertNode[K cmp.Ordered](n *node[K], m *node[K]) *node[K] {
	if n == nil {
		return m
	}
	switch {
	case m.key < n.key:
		n.left = insertNode(n.left, m)
		if n.left.priority > n.priority {
			n = rotateRight(n)
		}
	case m.key > n.key:
		n.right = insertNode(n.right, m)
		if n.right.priority > n.priority {
			n = rotateLeft(n)
		}
	default:
		n.base = m.base
	}
	return n
}

func rotateRight[K cmp.Ordered](n *node[K]) *node[K] {
	l := n.left
	n.left = l.right
	l.right = n
	return l
}

func rotateLeft[K cmp.Ordered](n *node[K]) *node[K] {
	r := n.right
	n.right = r.left
	r.left = n
	return r
}

// InsertSingle absorbs a Propagate.Single from the layer beneath: it mints
// a fresh address, inserts (key, base) into the treap, and stamps the new
// address as base's parent in the layer beneath. Top never itself produces
// a Propagate, so there is nothing to signal upward; a Propagate.Rebuild
// reaching top is instead handled by pkg/index's composition core, which
// rebuilds the layers above the one that signaled and then builds a fresh
// top from the layer directly beneath it (top has no "beneath" reference of
// its own to rebuild from).
func (c *Component[K]) InsertSingle(key K, base arena.Address, lower common.Lower[K]) {
	addr := c.mint()
	c.insert(key, base)
	lower.SetParent(base, addr)
}

// Build wipes the top component and absorbs every entry of lower's full
// range, minting a fresh address and stamping lower's parent for each.
func Build[K cmp.Ordered](lower common.Lower[K]) *Component[K] {
	c := New[K]()
	sentinel := lower.Last()
	for addr := lower.First(); addr != sentinel; addr = lower.Next(addr) {
		key, _ := lower.LowerBound(addr)
		c.InsertSingle(key, addr, lower)
	}
	return c
}

// Len returns the number of entries held by the top component.
func (c *Component[K]) Len() int {
	return countNodes(c.root)
}

func countNodes[K cmp.Ordered](n *node[K]) int {
	if n == nil {
		return 0
	}
	return 1 + countNodes(n.left) + countNodes(n.right)
}
