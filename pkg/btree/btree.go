// Package btree implements the fixed-fanout B-tree node layer: a sorted
// array of up to F (key, payload) pairs per node, split-on-overflow
// propagating a new routing entry upward. The same layer type serves both
// as a base layer (payload is the stored value) and as an internal layer
// (payload is a child address into the layer beneath).
//
// Split/search mechanics are grounded on the teacher repo's B+tree node
// (github.com/daicang/mk pkg/tree.Node: search via sort.Search over a sorted
// key slice, splitTwo splitting an overfull node and linking the new node as
// a right sibling), generalized from page-backed []byte keys to a generic,
// arena-backed node.
package btree

import (
	"cmp"
	"sort"

	"github.com/daicang/hybridx/pkg/arena"
	"github.com/daicang/hybridx/pkg/common"
)

// Address is the layer-local handle to a B-tree node.
type Address = arena.Address

// Node is a fixed-fanout B-tree node: a sorted slice of up to F (key,
// payload) pairs. Sentinel marks the layer's terminating node, whose lower
// bound is "+infinity" and whose entry slice is always empty.
type Node[K cmp.Ordered, P any] struct {
	Entries  []common.Entry[K, P]
	Sentinel bool
}

// LowerBound returns the node's lower bound key, and whether it is the
// sentinel's "+infinity" bound (in which case key is the zero value and
// must not be compared against).
func (n *Node[K, P]) LowerBound() (key K, isInfinity bool) {
	if n.Sentinel || len(n.Entries) == 0 {
		return key, true
	}
	return n.Entries[0].Key, false
}

// Layer owns every node of one B-tree layer. PA is the address type of the
// layer immediately above (used only to type the parent pointer; this layer
// never dereferences it).
type Layer[K cmp.Ordered, P any, PA any] struct {
	nodes  *arena.Arena[Node[K, P], PA]
	fanout int
}

// New returns an empty layer (one empty data node before the sentinel) with
// the given fixed fanout.
func New[K cmp.Ordered, P any, PA any](fanout int) *Layer[K, P, PA] {
	if fanout < 2 {
		common.Misuse("btree: fanout must be >= 2, got %d", fanout)
	}
	nodes := arena.New[Node[K, P], PA](Node[K, P]{Sentinel: true})
	nodes.InsertBefore(nodes.Last(), Node[K, P]{})
	return &Layer[K, P, PA]{
		nodes:  nodes,
		fanout: fanout,
	}
}

// Fanout returns the layer's compile-time-in-spirit fixed fanout.
func (l *Layer[K, P, PA]) Fanout() int {
	return l.fanout
}

// Node dereferences addr. The returned pointer is only valid until the next
// mutating call on this layer.
func (l *Layer[K, P, PA]) Node(addr Address) *Node[K, P] {
	return l.nodes.Node(addr)
}

// First returns the address of the layer's first (leftmost) node.
func (l *Layer[K, P, PA]) First() Address {
	return l.nodes.First()
}

// Last returns the address of the layer's sentinel node.
func (l *Layer[K, P, PA]) Last() Address {
	return l.nodes.Last()
}

// Next returns the address following addr, or the zero Address if addr is
// the sentinel.
func (l *Layer[K, P, PA]) Next(addr Address) Address {
	return l.nodes.Next(addr)
}

// Parent returns the parent address recorded for addr.
func (l *Layer[K, P, PA]) Parent(addr Address) (PA, bool) {
	return l.nodes.Parent(addr)
}

// SetParent records addr's parent in the layer above.
func (l *Layer[K, P, PA]) SetParent(addr Address, parent PA) {
	l.nodes.SetParent(addr, parent)
}

// Len returns the number of nodes currently in the layer (including the
// sentinel).
func (l *Layer[K, P, PA]) Len() int {
	return l.nodes.Len()
}

// LowerBound returns the lower bound key recorded at addr.
func (l *Layer[K, P, PA]) LowerBound(addr Address) (K, bool) {
	return l.nodes.Node(addr).LowerBound()
}

// Entries returns the node's (key, payload) pairs at addr. Used by the
// composition core to re-parent children after a split moves them to a new
// sibling node; the returned slice aliases the node's storage and must not
// be retained across a mutating call.
func (l *Layer[K, P, PA]) Entries(addr Address) []common.Entry[K, P] {
	return l.nodes.Node(addr).Entries
}

// search returns (found, index of key, or first index whose key > target).
func search[K cmp.Ordered, P any](entries []common.Entry[K, P], key K) (bool, int) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key >= key
	})
	if i < len(entries) && entries[i].Key == key {
		return true, i
	}
	return false, i
}

// Search returns the child covering key, using least-upper-bound semantics:
// the payload of the entry with the largest key <= the search key, or the
// first entry's payload if every key exceeds it.
func (l *Layer[K, P, PA]) Search(addr Address, key K) P {
	node := l.nodes.Node(addr)
	found, i := search(node.Entries, key)
	if found {
		return node.Entries[i].Payload
	}
	if i == 0 {
		return node.Entries[0].Payload
	}
	return node.Entries[i-1].Payload
}

// SearchExact returns the payload stored under key, for base-layer use
// where P is the stored value type.
func (l *Layer[K, P, PA]) SearchExact(addr Address, key K) (P, bool) {
	node := l.nodes.Node(addr)
	found, i := search(node.Entries, key)
	if !found {
		var zero P
		return zero, false
	}
	return node.Entries[i].Payload, true
}

// Insert places (key, payload) into the node at addr in sorted order,
// overwriting any existing entry for key. If this leaves the node holding
// more than Fanout entries, it splits the node in two -- ceil(F/2) entries
// stay, floor(F/2)+1 move to a new right sibling -- and returns
// Propagate.Single naming the new sibling's lower bound and address.
func (l *Layer[K, P, PA]) Insert(addr Address, key K, payload P) (common.Propagate[K, Address], bool) {
	node := l.nodes.Node(addr)

	found, i := search(node.Entries, key)
	if found {
		node.Entries[i].Payload = payload
		return common.Propagate[K, Address]{}, false
	}

	node.Entries = append(node.Entries, common.Entry[K, P]{})
	copy(node.Entries[i+1:], node.Entries[i:])
	node.Entries[i] = common.Entry[K, P]{Key: key, Payload: payload}

	if len(node.Entries) <= l.fanout {
		return common.Propagate[K, Address]{}, false
	}

	lowCount := (l.fanout + 1) / 2 // ceil(F/2)
	right := append([]common.Entry[K, P]{}, node.Entries[lowCount:]...)
	node.Entries = node.Entries[:lowCount:lowCount]

	rightAddr := l.nodes.InsertAfter(addr, Node[K, P]{Entries: right})
	splitKey := right[0].Key

	return common.Single[K, Address](splitKey, rightAddr), true
}

// Fill wipes the layer and bulk-loads entries (which must be sorted
// ascending by key) into nodes of at most Fanout entries each.
func (l *Layer[K, P, PA]) Fill(entries []common.Entry[K, P]) {
	l.nodes.Clear(Node[K, P]{Sentinel: true})

	chunk := l.fanout
	for i := 0; i < len(entries); i += chunk {
		end := min(i+chunk, len(entries))
		node := Node[K, P]{Entries: append([]common.Entry[K, P]{}, entries[i:end]...)}
		l.nodes.AppendBeforeSentinel(node)
	}
}

// FillFromBeneath rebuilds l from scratch by walking lower's full range:
// a first pass chunks lower's (key, address) pairs into fresh nodes via
// Fill, a second pass walks lower again assigning each of its nodes the
// address of the routing node whose coverage now contains it. This is the
// B-tree layer's answer to a Propagate.Rebuild, structurally identical to
// pgm.FillFromBeneath (same two-pass shape, no model to re-fit).
func FillFromBeneath[K cmp.Ordered, PA any](l *Layer[K, Address, PA], lower common.Lower[K]) {
	var entries []common.Entry[K, Address]
	sentinel := lower.Last()
	for addr := lower.First(); addr != sentinel; addr = lower.Next(addr) {
		key, _ := lower.LowerBound(addr)
		entries = append(entries, common.Entry[K, Address]{Key: key, Payload: addr})
	}
	l.Fill(entries)

	parent := l.First()
	nextParent := l.Next(parent)
	parentSentinel := l.Last()
	for addr := lower.First(); addr != sentinel; addr = lower.Next(addr) {
		key, _ := lower.LowerBound(addr)
		for nextParent != parentSentinel {
			nextLB, _ := l.LowerBound(nextParent)
			if key < nextLB {
				break
			}
			parent = nextParent
			nextParent = l.Next(nextParent)
		}
		lower.SetParent(addr, parent)
	}
}
