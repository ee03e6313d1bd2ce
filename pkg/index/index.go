// Package index implements the composition/propagation core: Index[K, V]
// wires a layout.Spec's concrete layers (zero or more internal B-tree/PGM
// layers between an unbounded top.Component and a B-tree/PGM base layer)
// into the "Generated index API" of spec.md 6 -- Empty, Build, Insert,
// Search, Flush -- without an external code-generation front end.
//
// Descent, split propagation and the Propagate.Rebuild cascade are grounded
// on spec.md 4.5 and on
// _examples/original_source/limousine_core/src/classical/memory/mod.rs,
// which confirms a Rebuild received at any layer re-fires Rebuild upward
// after repairing itself, terminating only once top has absorbed it (top
// never itself emits a Propagate).
package index

import (
	"cmp"
	"sort"

	"github.com/daicang/hybridx/pkg/arena"
	"github.com/daicang/hybridx/pkg/btree"
	"github.com/daicang/hybridx/pkg/common"
	"github.com/daicang/hybridx/pkg/layout"
	"github.com/daicang/hybridx/pkg/pgm"
	"github.com/daicang/hybridx/pkg/top"
)

// BaseLayer is the interface the bottom layer of the stack must satisfy.
// Both *btree.Layer[K, V, arena.Address] and *pgm.Layer[K, V, arena.Address]
// already implement it directly -- no adapter needed, since the base
// layer's methods are generic in the payload type P regardless of layer
// kind.
type BaseLayer[K cmp.Ordered, V any] interface {
	SearchExact(arena.Address, K) (V, bool)
	Insert(arena.Address, K, V) (common.Propagate[K, arena.Address], bool)
	First() arena.Address
	Last() arena.Address
	Next(arena.Address) arena.Address
	LowerBound(arena.Address) (K, bool)
	Parent(arena.Address) (arena.Address, bool)
	SetParent(arena.Address, arena.Address)
	Len() int
	Fill([]common.Entry[K, V])
}

// InternalLayer is the interface every layer between top and base must
// satisfy. Rebuild wraps that layer kind's FillFromBeneath free function
// (see btreeInternal/pgmInternal below) since Go methods cannot be
// constrained to one instantiation of a generic type's payload parameter.
type InternalLayer[K cmp.Ordered] interface {
	Search(arena.Address, K) arena.Address
	Insert(arena.Address, K, arena.Address) (common.Propagate[K, arena.Address], bool)
	Entries(arena.Address) []common.Entry[K, arena.Address]
	First() arena.Address
	Last() arena.Address
	Next(arena.Address) arena.Address
	LowerBound(arena.Address) (K, bool)
	Parent(arena.Address) (arena.Address, bool)
	SetParent(arena.Address, arena.Address)
	Len() int
	Rebuild(common.Lower[K])
}

type btreeInternal[K cmp.Ordered] struct {
	*btree.Layer[K, arena.Address, arena.Address]
}

func (w btreeInternal[K]) Rebuild(lower common.Lower[K]) {
	btree.FillFromBeneath[K, arena.Address](w.Layer, lower)
}

type pgmInternal[K pgm.Numeric] struct {
	*pgm.Layer[K, arena.Address, arena.Address]
}

func (w pgmInternal[K]) Rebuild(lower common.Lower[K]) {
	pgm.FillFromBeneath[K, arena.Address](w.Layer, lower)
}

// NewBtreeInternal returns a B-tree internal layer descriptor for use
// between top and base, or between two internal layers.
func NewBtreeInternal[K cmp.Ordered](fanout int) InternalLayer[K] {
	return btreeInternal[K]{btree.New[K, arena.Address, arena.Address](fanout)}
}

// NewPgmInternal returns a PGM internal layer descriptor.
func NewPgmInternal[K pgm.Numeric](epsilon int, rebuildOnPoison bool) InternalLayer[K] {
	return pgmInternal[K]{pgm.New[K, arena.Address, arena.Address](epsilon, rebuildOnPoison)}
}

// NewBtreeBase returns a B-tree base layer descriptor.
func NewBtreeBase[K cmp.Ordered, V any](fanout int) BaseLayer[K, V] {
	return btree.New[K, V, arena.Address](fanout)
}

// NewPgmBase returns a PGM base layer descriptor.
func NewPgmBase[K pgm.Numeric, V any](epsilon int, rebuildOnPoison bool) BaseLayer[K, V] {
	return pgm.New[K, V, arena.Address](epsilon, rebuildOnPoison)
}

// Index is one fully wired instance of the layered engine: an unbounded top
// component, zero or more internal layers (internals[0] directly beneath
// top, internals[len-1] directly above base), and a base layer. Not
// goroutine-safe: concurrent mutation is a Non-goal, per spec.md 5.
type Index[K cmp.Ordered, V any] struct {
	spec      layout.Spec
	top       *top.Component[K]
	internals []InternalLayer[K]
	base      BaseLayer[K, V]
}

// Empty returns a freshly constructed, data-free index for the given
// layout. Each layer already holds one empty node (see btree.New/pgm.New),
// so the first Insert need only wire a single routing chain through them;
// see bootstrap.
func Empty[K cmp.Ordered, V any](spec layout.Spec, internals []InternalLayer[K], base BaseLayer[K, V]) (*Index[K, V], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Index[K, V]{spec: spec, top: top.New[K](), internals: internals, base: base}, nil
}

// Build constructs an index directly from a batch of entries: the base is
// bulk-filled, each internal layer is rebuilt from the layer beneath it,
// and top is built from the topmost internal layer (or the base, if the
// layout has none). Entries need not be pre-sorted.
func Build[K cmp.Ordered, V any](spec layout.Spec, internals []InternalLayer[K], base BaseLayer[K, V], entries []common.Entry[K, V]) (*Index[K, V], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return Empty(spec, internals, base)
	}

	sorted := append([]common.Entry[K, V]{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	base.Fill(sorted)

	var lower common.Lower[K] = base
	for _, l := range internals {
		l.Rebuild(lower)
		lower = l
	}
	t := top.Build[K](lower)

	return &Index[K, V]{spec: spec, top: t, internals: internals, base: base}, nil
}

// Search returns the value stored under key, if any.
func (idx *Index[K, V]) Search(key K) (V, bool) {
	if idx.top.Len() == 0 {
		return idx.base.SearchExact(idx.base.First(), key)
	}
	addr, _ := idx.descend(key)
	return idx.base.SearchExact(addr, key)
}

// descend walks top then every internal layer in order, returning the base
// address key ultimately routes to and, for every internal layer visited,
// the address of the node that routed through it -- the node cascade must
// later insert a new routing entry into, if the layer beneath splits.
func (idx *Index[K, V]) descend(key K) (arena.Address, []arena.Address) {
	path := make([]arena.Address, len(idx.internals))
	addr := idx.top.Search(key)
	for i := range idx.internals {
		path[i] = addr
		addr = idx.internals[i].Search(addr, key)
	}
	return addr, path
}

// Insert adds or overwrites (key, value). The very first insert into a
// fresh Empty index bypasses descent (top has nothing to search yet) and
// instead wires a single routing chain through each layer's pre-seeded
// empty node; every later insert descends normally and, if the base (or
// some internal layer) splits or poisons, cascades the resulting Propagate
// upward. A key below every key already stored lowers the first base
// node's lower bound, which the routing keys above it do not track, so
// such an insert rebuilds every layer above the base instead of cascading.
func (idx *Index[K, V]) Insert(key K, value V) {
	if idx.top.Len() == 0 {
		addr := idx.base.First()
		idx.base.Insert(addr, key, value)
		idx.bootstrap(key, addr)
		return
	}

	addr, path := idx.descend(key)
	minKey, _ := idx.base.LowerBound(idx.base.First())
	prop, changed := idx.base.Insert(addr, key, value)
	if key < minKey {
		idx.rebuildFrom(len(idx.internals) - 1)
		return
	}
	if !changed {
		return
	}
	idx.cascade(prop, path, len(idx.internals)-1)
}

// bootstrap wires one routing entry at key through every internal layer and
// into top, all pointing at baseAddr (or the chain above it). Correct
// because, at the moment of the first insert, key is the smallest key in
// the whole index, so "lower bound = key" holds for every layer trivially.
func (idx *Index[K, V]) bootstrap(key K, baseAddr arena.Address) {
	cur := baseAddr
	var curLayer common.Lower[K] = idx.base
	for _, l := range idx.internals {
		l.Insert(l.First(), key, cur)
		curLayer.SetParent(cur, l.First())
		cur = l.First()
		curLayer = l
	}
	idx.top.InsertSingle(key, cur, curLayer)
}

// lowerAt returns the layer directly beneath internals[level], or beneath
// top if level is -1 (meaning "the topmost internal layer, or base if
// there is none").
func (idx *Index[K, V]) lowerAt(level int) common.Lower[K] {
	if level+1 < len(idx.internals) {
		return idx.internals[level+1]
	}
	return idx.base
}

// cascade inserts prop's new routing entry into internals[level] (or top,
// if level < 0), using path[level] as the parent node that the layer
// beneath (now split or poisoned) was filed under during descent. A
// Propagate.Rebuild instead triggers rebuildFrom, starting at the signaling
// layer itself when it is an internal layer, per spec.md 4.5 and the
// cascading-rebuild behavior confirmed by the original source.
func (idx *Index[K, V]) cascade(prop common.Propagate[K, arena.Address], path []arena.Address, level int) {
	if prop.IsRebuild() {
		idx.rebuildFrom(min(level+1, len(idx.internals)-1))
		return
	}
	splitKey, newAddr := prop.Entry()

	if level < 0 {
		idx.top.InsertSingle(splitKey, newAddr, idx.lowerAt(level))
		return
	}

	parentAddr := path[level]
	layer := idx.internals[level]
	nextProp, changed := layer.Insert(parentAddr, splitKey, newAddr)
	idx.lowerAt(level).SetParent(newAddr, parentAddr)
	if !changed {
		return
	}
	if !nextProp.IsRebuild() {
		_, siblingAddr := nextProp.Entry()
		for _, e := range layer.Entries(siblingAddr) {
			idx.lowerAt(level).SetParent(e.Payload, siblingAddr)
		}
	}
	idx.cascade(nextProp, path, level-1)
}

// rebuildFrom rebuilds internals[level], then internals[level-1], ... down
// to internals[0], each from the layer now freshly rebuilt beneath it, and
// finally rebuilds top from whichever layer ends up directly beneath it.
// Always restores full consistency regardless of how much of the stack had
// already mutated before the Rebuild signal was raised.
func (idx *Index[K, V]) rebuildFrom(level int) {
	for l := level; l >= 0; l-- {
		idx.internals[l].Rebuild(idx.lowerAt(l))
	}
	idx.top = top.Build[K](idx.lowerAt(-1))
}

// Flush is a no-op: pkg/index is fully in-memory by design (see SPEC_FULL.md
// 4.6 / DESIGN.md) -- persistence lives in pkg/pagestore as a standalone
// contract, not wired into the layered index. Present so Index satisfies
// the full "Generated index API" surface of spec.md 6.
func (idx *Index[K, V]) Flush() error {
	return nil
}

