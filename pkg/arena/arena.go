// Package arena implements the generational-index arena that backs every
// in-memory node layer: a doubly-linked list of typed nodes with stable,
// generation-tagged addresses and an optional parent handle per node.
//
// The allocation/free-slot discipline is grounded on the teacher repo's
// freelist (github.com/daicang/mk pkg/freelist.Freelist), generalized from a
// page-slot allocator to a per-node generational slot allocator so that a
// stale Address can never silently alias a recycled slot.
//
// This package deliberately has no dependency on pkg/common (which itself
// depends on arena.Address for its Lower interface) -- it panics directly
// rather than importing common.Misuse, since arena sits beneath common in
// the dependency order.
package arena

import "fmt"

// Address is a stable, layer-local handle into an Arena. The zero value
// never addresses a live node (generations start at 1), so it doubles as
// the "no address" / "no next" sentinel value without an extra bool.
type Address struct {
	slot int32
	gen  uint32
}

// Valid reports whether addr could possibly address a live node. It does
// not guarantee the node has not since been freed in a different arena.
func (a Address) Valid() bool {
	return a.gen != 0
}

type slot[N any, PA any] struct {
	node      N
	next      Address
	prev      Address
	parent    PA
	hasParent bool
	gen       uint32
	live      bool
}

// Arena stores nodes of one concrete type N, threading them into a doubly
// linked chain from first to last (last is, by the owning layer's
// convention, the sentinel). PA is the address type of the layer above,
// stored as each node's optional parent pointer.
type Arena[N any, PA any] struct {
	slots     []slot[N, PA]
	freeSlots []int32
	first     Address
	last      Address
	count     int
}

// New returns an arena containing a single seed node (e.g. the sentinel).
func New[N any, PA any](seed N) *Arena[N, PA] {
	a := &Arena[N, PA]{}
	addr := a.alloc(seed)
	a.first = addr
	a.last = addr
	return a
}

func (a *Arena[N, PA]) alloc(node N) Address {
	if n := len(a.freeSlots); n > 0 {
		idx := a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]
		s := &a.slots[idx]
		s.node = node
		s.next = Address{}
		s.prev = Address{}
		var zeroPA PA
		s.parent = zeroPA
		s.hasParent = false
		s.live = true
		a.count++
		return Address{slot: idx, gen: s.gen}
	}

	idx := int32(len(a.slots))
	a.slots = append(a.slots, slot[N, PA]{node: node, gen: 1, live: true})
	a.count++
	return Address{slot: idx, gen: 1}
}

func (a *Arena[N, PA]) deref(addr Address) *slot[N, PA] {
	if !addr.Valid() || int(addr.slot) >= len(a.slots) {
		panic(fmt.Sprintf("arena: address %+v does not belong to this arena", addr))
	}
	s := &a.slots[addr.slot]
	if !s.live || s.gen != addr.gen {
		panic(fmt.Sprintf("arena: address %+v is stale (generation mismatch)", addr))
	}
	return s
}

// Len returns the number of live nodes. O(1).
func (a *Arena[N, PA]) Len() int {
	return a.count
}

// First returns the address of the first node in the chain.
func (a *Arena[N, PA]) First() Address {
	return a.first
}

// Last returns the address of the last node in the chain (the sentinel, by
// the owning layer's convention).
func (a *Arena[N, PA]) Last() Address {
	return a.last
}

// Node returns a pointer to the node at addr. The pointer is only valid
// until the next mutating call on this arena; callers must not hold it
// across an Insert/Replace/Clear, mirroring the "mutators take ownership of
// the address, search returns an address not a reference" discipline
// described in the engine's shared-resource policy.
func (a *Arena[N, PA]) Node(addr Address) *N {
	return &a.deref(addr).node
}

// Next returns the address following addr, or the zero Address if addr is
// last.
func (a *Arena[N, PA]) Next(addr Address) Address {
	return a.deref(addr).next
}

// Prev returns the address preceding addr, or the zero Address if addr is
// first.
func (a *Arena[N, PA]) Prev(addr Address) Address {
	return a.deref(addr).prev
}

// Parent returns the parent address set on addr, if any.
func (a *Arena[N, PA]) Parent(addr Address) (PA, bool) {
	s := a.deref(addr)
	return s.parent, s.hasParent
}

// SetParent sets the parent address of addr. Per the composition core's
// ordering rule, this must complete before the mutation that triggered it
// returns, so that readers issued afterwards observe the new parent.
func (a *Arena[N, PA]) SetParent(addr Address, parent PA) {
	a.deref(addr).parent = parent
	a.deref(addr).hasParent = true
}

// InsertAfter links a new node holding payload immediately after ptr,
// returning its address.
func (a *Arena[N, PA]) InsertAfter(ptr Address, payload N) Address {
	next := a.deref(ptr).next

	addr := a.alloc(payload)
	s := a.deref(addr)
	s.prev = ptr
	s.next = next

	a.deref(ptr).next = addr

	if next.Valid() {
		a.deref(next).prev = addr
	} else {
		a.last = addr
	}

	return addr
}

// InsertBefore links a new node holding payload immediately before ptr,
// returning its address.
func (a *Arena[N, PA]) InsertBefore(ptr Address, payload N) Address {
	prev := a.deref(ptr).prev

	addr := a.alloc(payload)
	s := a.deref(addr)
	s.prev = prev
	s.next = ptr

	a.deref(ptr).prev = addr

	if prev.Valid() {
		a.deref(prev).next = addr
	} else {
		a.first = addr
	}

	return addr
}

// AppendBeforeSentinel inserts payload immediately before the current last
// node (the sentinel), which remains last afterwards. This is always a
// valid place to append a routing entry or an entry-bearing node.
func (a *Arena[N, PA]) AppendBeforeSentinel(payload N) Address {
	return a.InsertBefore(a.last, payload)
}

func (a *Arena[N, PA]) free(addr Address) {
	s := a.deref(addr)
	s.live = false
	s.gen++
	if s.gen == 0 {
		// Skip the zero generation; it means "invalid" forever.
		s.gen = 1
	}
	a.freeSlots = append(a.freeSlots, addr.slot)
	a.count--
}

// Replace atomically unlinks the inclusive range [head, tail], splices in
// the nodes yielded by newNodes in their place, and frees the old nodes'
// addresses. It returns the addresses of the first and last spliced node.
// newNodes must be non-empty.
func (a *Arena[N, PA]) Replace(head, tail Address, newNodes []N) (Address, Address) {
	if len(newNodes) == 0 {
		panic("arena: Replace requires at least one replacement node")
	}

	before := a.deref(head).prev
	after := a.deref(tail).next

	// Collect the doomed range before freeing anything, so we can walk it
	// even though freeing mutates `next` pointers as a side effect of reuse.
	var doomed []Address
	for cur := head; ; {
		doomed = append(doomed, cur)
		if cur == tail {
			break
		}
		cur = a.deref(cur).next
	}

	newHead := a.alloc(newNodes[0])
	prevAddr := newHead
	for _, n := range newNodes[1:] {
		addr := a.alloc(n)
		a.deref(prevAddr).next = addr
		a.deref(addr).prev = prevAddr
		prevAddr = addr
	}
	newTail := prevAddr

	a.deref(newHead).prev = before
	a.deref(newTail).next = after

	if before.Valid() {
		a.deref(before).next = newHead
	} else {
		a.first = newHead
	}
	if after.Valid() {
		a.deref(after).prev = newTail
	} else {
		a.last = newTail
	}

	for _, d := range doomed {
		a.free(d)
	}

	return newHead, newTail
}

// Clear resets the arena to a single seed node, freeing every existing
// slot's address (their generations are bumped so stale addresses never
// alias the reused slots). Unlike a plain reset, the backing slots slice is
// kept and every index is routed through freeSlots rather than truncated
// away -- truncating would let alloc fall through to its fresh-append
// branch, which hands out slot 0 at gen 1 again, bit-for-bit the same
// address a caller holding a pre-Clear handle to the seed node already has.
func (a *Arena[N, PA]) Clear(seed N) Address {
	a.freeSlots = a.freeSlots[:0]
	for i := range a.slots {
		if a.slots[i].live {
			a.slots[i].live = false
			a.slots[i].gen++
			if a.slots[i].gen == 0 {
				a.slots[i].gen = 1
			}
		}
		a.freeSlots = append(a.freeSlots, int32(i))
	}
	a.count = 0

	addr := a.alloc(seed)
	a.first = addr
	a.last = addr
	return addr
}
