package top

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daicang/hybridx/pkg/arena"
	"github.com/daicang/hybridx/pkg/common"
)

func TestSearchOnEmptyPanics(t *testing.T) {
	c := New[int]()
	require.Panics(t, func() { c.Search(0) })
}

// fakeLower is a minimal common.Lower[int] backed by a plain slice, used to
// exercise top.Build/InsertSingle without needing a real btree/pgm layer.
type fakeLower struct {
	backing *arena.Arena[struct{}, struct{}]
	keys    []int
	addrs   []arena.Address
	byAddr  map[arena.Address]int
	parents map[arena.Address]arena.Address
}

func newFakeLower(keys []int) *fakeLower {
	f := &fakeLower{
		backing: arena.New[struct{}, struct{}](struct{}{}),
		byAddr:  map[arena.Address]int{},
		parents: map[arena.Address]arena.Address{},
	}
	for _, k := range keys {
		addr := f.backing.AppendBeforeSentinel(struct{}{})
		f.keys = append(f.keys, k)
		f.addrs = append(f.addrs, addr)
		f.byAddr[addr] = k
	}
	return f
}

func (f *fakeLower) First() arena.Address { return f.backing.First() }
func (f *fakeLower) Last() arena.Address  { return f.backing.Last() }
func (f *fakeLower) Next(addr arena.Address) arena.Address {
	return f.backing.Next(addr)
}
func (f *fakeLower) LowerBound(addr arena.Address) (int, bool) {
	key, ok := f.byAddr[addr]
	return key, !ok
}
func (f *fakeLower) SetParent(addr, parent arena.Address) {
	f.parents[addr] = parent
}

var _ common.Lower[int] = (*fakeLower)(nil)

func TestBuildInsertsEveryEntry(t *testing.T) {
	keys := []int{5, 1, 9, 3, 7}
	f := newFakeLower(keys)
	c := Build[int](f)
	require.Equal(t, len(keys), c.Len())
}

func TestSearchResolvesGreatestLowerBound(t *testing.T) {
	f := newFakeLower([]int{10, 20, 30})
	c := Build[int](f)

	addrAt := func(key int) arena.Address {
		for i, k := range f.keys {
			if k == key {
				return f.addrs[i]
			}
		}
		t.Fatalf("no entry for key %d", key)
		return arena.Address{}
	}

	require.Equal(t, addrAt(10), c.Search(5))  // below everything: falls back to first
	require.Equal(t, addrAt(10), c.Search(10)) // exact match
	require.Equal(t, addrAt(10), c.Search(15)) // between 10 and 20
	require.Equal(t, addrAt(30), c.Search(99)) // past everything
}

func TestInsertSingleStampsParentInLower(t *testing.T) {
	f := newFakeLower([]int{1, 2})
	c := New[int]()
	addr := f.addrs[0]
	c.InsertSingle(1, addr, f)

	parent, ok := f.parents[addr]
	require.True(t, ok)
	require.Equal(t, addr, c.Search(1))
	_ = parent
}
