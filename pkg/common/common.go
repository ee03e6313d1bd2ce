// Package common holds the small set of types shared by every layer of the
// hybrid index: the entry pair, the Propagate sum type used to bubble a
// split or rebuild request up through the stack, and the misuse-panic
// helper used by the error handling design.
package common

import (
	"fmt"

	"github.com/daicang/hybridx/pkg/arena"
)

// Entry is a single (key, payload) pair flowing through segmentation,
// traversal and fill/replace. Payload is a child address for every layer but
// the base, where it is the stored value.
type Entry[K any, P any] struct {
	Key     K
	Payload P
}

// Propagate is returned by a layer's Insert when the mutation must be
// reflected in the layer above. It is a two-armed sum type per the engine's
// design notes: either a single new routing entry, or a request that the
// parent rebuild itself from scratch. Callers receive it alongside an "ok"
// bool, the same convention as a map lookup, rather than a pointer/nil.
type Propagate[K any, A any] struct {
	rebuild bool
	key     K
	addr    A
}

// Single builds a Propagate carrying a new (split key, new node address) pair.
func Single[K any, A any](key K, addr A) Propagate[K, A] {
	return Propagate[K, A]{key: key, addr: addr}
}

// RebuildSignal builds a Propagate signaling that the receiving layer cannot
// absorb the insert locally and must be rebuilt from the layer beneath it.
func RebuildSignal[K any, A any]() Propagate[K, A] {
	return Propagate[K, A]{rebuild: true}
}

// IsRebuild reports whether this is the rebuild arm.
func (p Propagate[K, A]) IsRebuild() bool {
	return p.rebuild
}

// Entry reports the (key, address) pair carried by the single arm. Calling
// it on a rebuild Propagate returns zero values; callers must branch on
// IsRebuild first.
func (p Propagate[K, A]) Entry() (K, A) {
	return p.key, p.addr
}

// Lower is the view a layer needs of the layer directly beneath it to
// rebuild: full traversal (First/Last/Next), each node's lower bound, and
// the ability to stamp a new parent address once the layer above has been
// rebuilt. Every layer kind (btree.Layer, pgm.Layer) satisfies this with its
// own existing methods -- no adapter needed for this direction.
type Lower[K any] interface {
	First() arena.Address
	Last() arena.Address
	Next(arena.Address) arena.Address
	LowerBound(arena.Address) (K, bool)
	SetParent(arena.Address, arena.Address)
}

// Misuse panics with a formatted diagnostic. It marks a MisuseViolation per
// the error taxonomy: a programming error (double-open of a local store,
// teardown of a root store with live children) rather than a runtime
// condition callers could reasonably recover from.
func Misuse(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
