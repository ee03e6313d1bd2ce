package index

import (
	"math/rand"
	"testing"

	"github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/daicang/hybridx/pkg/common"
	"github.com/daicang/hybridx/pkg/layout"
)

func TestEmptyRejectsInvalidSpec(t *testing.T) {
	spec := layout.Spec{Base: layout.Btree(1)}
	_, err := Empty[int, string](spec, nil, NewBtreeBase[int, string](4))
	require.Error(t, err)
}

func TestInsertAndSearchNoInternalLayers(t *testing.T) {
	spec := layout.Spec{Base: layout.Btree(4)}
	idx, err := Empty[int, string](spec, nil, NewBtreeBase[int, string](4))
	require.NoError(t, err)

	idx.Insert(1, "one")
	idx.Insert(2, "two")
	idx.Insert(3, "three")

	v, ok := idx.Search(2)
	require.True(t, ok)
	require.Equal(t, "two", v)

	_, ok = idx.Search(99)
	require.False(t, ok)
}

func TestInsertDrivesSplitsAndCascadesThroughInternalLayer(t *testing.T) {
	spec := layout.Spec{
		Internal: []layout.Layer{layout.Btree(4)},
		Base:     layout.Btree(4),
	}
	internals := []InternalLayer[int]{NewBtreeInternal[int](4)}
	idx, err := Empty[int, string](spec, internals, NewBtreeBase[int, string](4))
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		idx.Insert(i, "v")
	}
	for i := 0; i < 200; i++ {
		v, ok := idx.Search(i)
		require.True(t, ok, "missing key %d", i)
		require.Equal(t, "v", v)
	}
	_, ok := idx.Search(-1)
	require.False(t, ok)
}

func TestInsertOverPgmInternalAndBase(t *testing.T) {
	spec := layout.Spec{
		Internal: []layout.Layer{layout.Pgm(4, false)},
		Base:     layout.Pgm(4, false),
	}
	internals := []InternalLayer[int]{NewPgmInternal[int](4, false)}
	idx, err := Empty[int, int](spec, internals, NewPgmBase[int, int](4, false))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	keys := rng.Perm(300)
	for _, k := range keys {
		idx.Insert(k, k*10)
	}
	for _, k := range keys {
		v, ok := idx.Search(k)
		require.True(t, ok, "missing key %d", k)
		require.Equal(t, k*10, v)
	}
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	spec := layout.Spec{Base: layout.Btree(4)}
	idx, _ := Empty[int, string](spec, nil, NewBtreeBase[int, string](4))
	idx.Insert(1, "first")
	idx.Insert(1, "second")
	v, ok := idx.Search(1)
	require.True(t, ok)
	require.Equal(t, "second", v)
}

func TestBuildFromUnsortedEntriesFindsEveryKey(t *testing.T) {
	spec := layout.Spec{
		Internal: []layout.Layer{layout.Btree(4)},
		Base:     layout.Btree(4),
	}
	var entries []common.Entry[int, string]
	for i := 0; i < 100; i++ {
		entries = append(entries, common.Entry[int, string]{Key: i, Payload: "v"})
	}
	// Shuffle to verify Build sorts internally.
	rng := rand.New(rand.NewSource(3))
	rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })

	internals := []InternalLayer[int]{NewBtreeInternal[int](4)}
	idx, err := Build[int, string](spec, internals, NewBtreeBase[int, string](4), entries)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		v, ok := idx.Search(i)
		require.True(t, ok)
		require.Equal(t, "v", v)
	}
}

func TestBuildWithNoEntriesReturnsEmptyIndex(t *testing.T) {
	spec := layout.Spec{Base: layout.Btree(4)}
	idx, err := Build[int, string](spec, nil, NewBtreeBase[int, string](4), nil)
	require.NoError(t, err)
	idx.Insert(5, "five")
	v, ok := idx.Search(5)
	require.True(t, ok)
	require.Equal(t, "five", v)
}

func TestFlushIsNoOp(t *testing.T) {
	spec := layout.Spec{Base: layout.Btree(4)}
	idx, _ := Empty[int, string](spec, nil, NewBtreeBase[int, string](4))
	require.NoError(t, idx.Flush())
}

func TestFuzzedKeyValuePairsRoundTrip(t *testing.T) {
	spec := layout.Spec{
		Internal: []layout.Layer{layout.Pgm(6, false)},
		Base:     layout.Btree(4),
	}
	internals := []InternalLayer[int]{NewPgmInternal[int](6, false)}
	idx, err := Empty[int, string](spec, internals, NewBtreeBase[int, string](4))
	require.NoError(t, err)

	fz := fuzz.NewWithSeed(11)
	seen := map[int]string{}
	for len(seen) < 250 {
		var key int
		var value string
		fz.Fuzz(&key)
		fz.Fuzz(&value)
		seen[key] = value
		idx.Insert(key, value)
	}

	for key, value := range seen {
		got, ok := idx.Search(key)
		require.True(t, ok, "missing fuzzed key %d", key)
		require.Equal(t, value, got)
	}
}

func TestMultiLevelInternalStackSurvivesManyInserts(t *testing.T) {
	spec := layout.Spec{
		Internal: []layout.Layer{layout.Btree(3), layout.Pgm(2, false)},
		Base:     layout.Btree(3),
	}
	internals := []InternalLayer[int]{
		NewBtreeInternal[int](3),
		NewPgmInternal[int](2, false),
	}
	idx, err := Empty[int, string](spec, internals, NewBtreeBase[int, string](3))
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		idx.Insert(i, "v")
	}
	for i := 0; i < 150; i++ {
		_, ok := idx.Search(i)
		require.True(t, ok, "missing key %d", i)
	}
}
