package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daicang/hybridx/pkg/arena"
	"github.com/daicang/hybridx/pkg/common"
)

func TestNewRejectsFanoutBelowTwo(t *testing.T) {
	require.Panics(t, func() { New[int, string, struct{}](1) })
}

func TestNewSeedsOneEmptyDataNode(t *testing.T) {
	l := New[int, string, struct{}](4)
	require.NotEqual(t, l.First(), l.Last())
	_, isInf := l.LowerBound(l.First())
	require.True(t, isInf)
}

func TestInsertAndSearchExact(t *testing.T) {
	// Fanout 5 keeps all five keys in the one node searched below.
	l := New[int, string, struct{}](5)
	addr := l.First()

	for _, k := range []int{5, 1, 3, 2, 4} {
		l.Insert(addr, k, "v")
	}

	for _, k := range []int{1, 2, 3, 4, 5} {
		v, ok := l.SearchExact(addr, k)
		require.True(t, ok)
		require.Equal(t, "v", v)
	}
	_, ok := l.SearchExact(addr, 99)
	require.False(t, ok)
}

func TestInsertOverwritesExisting(t *testing.T) {
	l := New[int, string, struct{}](4)
	addr := l.First()
	l.Insert(addr, 1, "first")
	l.Insert(addr, 1, "second")

	v, ok := l.SearchExact(addr, 1)
	require.True(t, ok)
	require.Equal(t, "second", v)
}

func TestInsertSplitsOnOverflow(t *testing.T) {
	l := New[int, string, struct{}](3)
	addr := l.First()

	var split common.Propagate[int, Address]
	var didSplit bool
	for _, k := range []int{1, 2, 3, 4} {
		p, ok := l.Insert(addr, k, "v")
		if ok {
			split, didSplit = p, ok
		}
	}

	require.True(t, didSplit)
	require.False(t, split.IsRebuild())
	key, rightAddr := split.Entry()
	require.Equal(t, 3, key)
	require.NotEqual(t, addr, rightAddr)

	leftEntries := l.Entries(addr)
	rightEntries := l.Entries(rightAddr)
	require.Len(t, leftEntries, 2)
	require.Len(t, rightEntries, 2)
	require.Equal(t, 1, leftEntries[0].Key)
	require.Equal(t, 3, rightEntries[0].Key)
}

func TestSearchUsesLeastUpperBound(t *testing.T) {
	l := New[int, Address, struct{}](4)
	addr := l.First()
	l.Insert(addr, 10, arena.Address{})
	l.Insert(addr, 20, arena.Address{})

	// Below every key: falls back to the first entry's payload.
	require.Equal(t, l.Search(addr, 0), l.Search(addr, 10))
	// Between two keys: resolves to the largest key <= target.
	require.Equal(t, l.Search(addr, 20), l.Search(addr, 25))
}

func TestFillChunksByFanout(t *testing.T) {
	l := New[int, string, struct{}](2)
	entries := []common.Entry[int, string]{
		{Key: 1, Payload: "a"},
		{Key: 2, Payload: "b"},
		{Key: 3, Payload: "c"},
	}
	l.Fill(entries)

	var keys []int
	sentinel := l.Last()
	for addr := l.First(); addr != sentinel; addr = l.Next(addr) {
		for _, e := range l.Entries(addr) {
			keys = append(keys, e.Key)
		}
	}
	require.Equal(t, []int{1, 2, 3}, keys)
}

func TestFillFromBeneathAssignsParentsByCoverage(t *testing.T) {
	base := New[int, string, Address](2)
	baseAddr := base.First()
	for _, k := range []int{1, 2, 3, 4, 5, 6} {
		base.Insert(baseAddr, k, "v")
	}

	internal := New[int, Address, struct{}](2)
	FillFromBeneath[int, struct{}](internal, base)

	sentinel := base.Last()
	for addr := base.First(); addr != sentinel; addr = base.Next(addr) {
		key, _ := base.LowerBound(addr)
		parent, ok := base.Parent(addr)
		require.True(t, ok)
		parentLB, _ := internal.LowerBound(parent)
		require.LessOrEqual(t, parentLB, key)
	}
}
