// Package pgm implements the learned (PGM-style) node layer: nodes hold a
// linear model (slope, intercept) fit over their sorted entries by greedy
// epsilon-segmentation, so a lookup predicts an entry's position and only
// needs to refine within a small +/-epsilon window instead of scanning the
// whole node.
//
// Segmentation, fill_from_beneath's two-pass parent assignment and replace's
// splice-then-reparent "kite" cursor are grounded on
// _examples/original_source/limousine_core/src/learned/pgm/pgm_layer.rs
// (MemoryPGMLayer::fill, fill_from_beneath, replace), generalized from the
// Rust generational arena to this module's own pkg/arena.
package pgm

import (
	"math"
	"sort"

	"github.com/go-logr/logr"

	"github.com/daicang/hybridx/pkg/arena"
	"github.com/daicang/hybridx/pkg/common"
	"github.com/daicang/hybridx/pkg/log"
)

// Numeric bounds the keys a PGM layer can segment over: epsilon-segmentation
// fits a line through slope*key+intercept, which requires keys convertible
// to float64. cmp.Ordered also admits ~string, which has no such conversion,
// so spec.md's general K is narrowed here -- recorded as an Open Question
// resolution in DESIGN.md, not a silent deviation.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

func toFloat[K Numeric](k K) float64 {
	return float64(k)
}

// Address is the layer-local handle to a PGM node.
type Address = arena.Address

// Node is a PGM node: a linear model fit over a sorted slice of entries,
// plus the epsilon budget it was fit against. Sentinel marks the layer's
// terminating node, exactly as in pkg/btree.
type Node[K Numeric, P any] struct {
	Slope     float64
	Intercept float64
	Epsilon   int
	Entries   []common.Entry[K, P]
	Sentinel  bool
}

// LowerBound returns the node's lower bound key, and whether it is the
// sentinel's "+infinity" bound.
func (n *Node[K, P]) LowerBound() (key K, isInfinity bool) {
	if n.Sentinel || len(n.Entries) == 0 {
		return key, true
	}
	return n.Entries[0].Key, false
}

// approximate predicts the half-open index window [lo, hi) within which key
// must lie, if it is present, given the node's linear model and epsilon
// budget. The window is clamped to the entries slice's bounds.
func (n *Node[K, P]) approximate(key K) (lo, hi int) {
	pred := int(math.Round(n.Slope*toFloat(key) + n.Intercept))
	lo = pred - n.Epsilon
	if lo < 0 {
		lo = 0
	}
	hi = pred + n.Epsilon + 1
	if hi > len(n.Entries) {
		hi = len(n.Entries)
	}
	if hi < 0 {
		hi = 0
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// refine performs the bounded binary search within the node's approximate
// window, returning (found, index) with the same semantics as btree.search:
// the index of key if present, otherwise the first index in the window whose
// key exceeds it (hi if none does). Search turns this into least-upper-bound
// routing by stepping back one entry.
func (n *Node[K, P]) refine(key K) (found bool, idx int) {
	lo, hi := n.approximate(key)
	i := lo + sort.Search(hi-lo, func(j int) bool { return n.Entries[lo+j].Key >= key })
	return i < hi && n.Entries[i].Key == key, i
}

// Layer owns every node of one PGM layer. PA is the address type of the
// layer immediately above.
type Layer[K Numeric, P any, PA any] struct {
	nodes           *arena.Arena[Node[K, P], PA]
	epsilon         int
	rebuildOnPoison bool
	logger          logr.Logger
}

// New returns an empty layer (one empty data node before the sentinel) with
// the given epsilon budget. rebuildOnPoison selects this layer's construction-time
// poison policy: true means Insert always asks its parent to Rebuild rather
// than attempt a local split.
func New[K Numeric, P any, PA any](epsilon int, rebuildOnPoison bool) *Layer[K, P, PA] {
	if epsilon < 0 {
		common.Misuse("pgm: epsilon must be >= 0, got %d", epsilon)
	}
	nodes := arena.New[Node[K, P], PA](Node[K, P]{Sentinel: true})
	nodes.InsertBefore(nodes.Last(), Node[K, P]{})
	return &Layer[K, P, PA]{
		nodes:           nodes,
		epsilon:         epsilon,
		rebuildOnPoison: rebuildOnPoison,
		logger:          log.New("pgm"),
	}
}

func (l *Layer[K, P, PA]) Epsilon() int { return l.epsilon }

func (l *Layer[K, P, PA]) Node(addr Address) *Node[K, P] { return l.nodes.Node(addr) }

func (l *Layer[K, P, PA]) First() Address { return l.nodes.First() }

func (l *Layer[K, P, PA]) Last() Address { return l.nodes.Last() }

func (l *Layer[K, P, PA]) Next(addr Address) Address { return l.nodes.Next(addr) }

func (l *Layer[K, P, PA]) Parent(addr Address) (PA, bool) { return l.nodes.Parent(addr) }

func (l *Layer[K, P, PA]) SetParent(addr Address, parent PA) { l.nodes.SetParent(addr, parent) }

func (l *Layer[K, P, PA]) Len() int { return l.nodes.Len() }

func (l *Layer[K, P, PA]) LowerBound(addr Address) (K, bool) {
	return l.nodes.Node(addr).LowerBound()
}

// Entries returns the node's (key, payload) pairs at addr. See
// btree.Layer.Entries for why the composition core needs this.
func (l *Layer[K, P, PA]) Entries(addr Address) []common.Entry[K, P] {
	return l.nodes.Node(addr).Entries
}

// Search returns the child covering key, using least-upper-bound semantics
// (see btree.Layer.Search).
func (l *Layer[K, P, PA]) Search(addr Address, key K) P {
	node := l.nodes.Node(addr)
	found, i := node.refine(key)
	if found {
		return node.Entries[i].Payload
	}
	if i == 0 {
		return node.Entries[0].Payload
	}
	return node.Entries[i-1].Payload
}

// SearchExact returns the payload stored under key, for base-layer use.
func (l *Layer[K, P, PA]) SearchExact(addr Address, key K) (P, bool) {
	node := l.nodes.Node(addr)
	found, i := node.refine(key)
	if !found {
		var zero P
		return zero, false
	}
	return node.Entries[i].Payload, true
}

type segment[K Numeric, P any] struct {
	slope, intercept float64
	entries          []common.Entry[K, P]
}

// segmentize runs greedy epsilon-segmentation over entries, which must be
// sorted ascending by (distinct) key: start a segment at local index 0 with
// an unconstrained slope cone, tighten the cone by each subsequent entry's
// epsilon band, and close the segment (taking the cone's bisector as its
// slope) the moment the cone goes empty, per spec.md 4.3.1 steps 1-4.
func segmentize[K Numeric, P any](entries []common.Entry[K, P], epsilon int) []segment[K, P] {
	var segs []segment[K, P]
	n := len(entries)
	i0 := 0
	for i0 < n {
		x0 := toFloat(entries[i0].Key)
		minSlope := math.Inf(-1)
		maxSlope := math.Inf(1)
		i := i0 + 1
		for ; i < n; i++ {
			dx := toFloat(entries[i].Key) - x0
			idx := float64(i - i0)
			lo := (idx - float64(epsilon)) / dx
			hi := (idx + float64(epsilon)) / dx
			newMin := math.Max(minSlope, lo)
			newMax := math.Min(maxSlope, hi)
			if newMin > newMax {
				break
			}
			minSlope, maxSlope = newMin, newMax
		}
		var slope float64
		if !math.IsInf(minSlope, -1) && !math.IsInf(maxSlope, 1) {
			slope = (minSlope + maxSlope) / 2
		}
		intercept := -slope * x0
		segs = append(segs, segment[K, P]{
			slope:     slope,
			intercept: intercept,
			entries:   append([]common.Entry[K, P]{}, entries[i0:i]...),
		})
		i0 = i
	}
	return segs
}

// Fill wipes the layer and re-segments entries (sorted ascending by key)
// into fresh nodes, one per segment produced by segmentize.
func (l *Layer[K, P, PA]) Fill(entries []common.Entry[K, P]) {
	l.nodes.Clear(Node[K, P]{Sentinel: true})
	for _, s := range segmentize(entries, l.epsilon) {
		l.nodes.AppendBeforeSentinel(Node[K, P]{
			Slope: s.slope, Intercept: s.intercept, Epsilon: l.epsilon, Entries: s.entries,
		})
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Insert places (key, payload) into the node at addr in sorted order,
// overwriting any existing entry for key. The node's model is not refit on
// insert; if any entry's model prediction now misses its local index by
// more than epsilon, the node is poisoned per spec.md 4.3.5. A poisoned node
// is resolved one of two ways, per this layer's construction-time policy:
//   - rebuildOnPoison: re-segment the whole node in place (any extra
//     segments become new right siblings) and signal Propagate.Rebuild, so
//     the parent's fill_from_beneath routes to every resulting node.
//   - otherwise: split at the first violating index. The prefix is
//     guaranteed still valid under the frozen model (every entry before the
//     violation passed the check); the remainder is re-segmented. If that
//     remainder fits in a single fresh node, splice it in as a new right
//     sibling and return Propagate.Single. If it does not (segmentize
//     produced more than one piece), a clean single-node split cannot repair
//     it locally, so the node is re-segmented in place as above and
//     Propagate.Rebuild is returned rather than inventing a multi-way
//     propagation the source algorithm never describes (documented as an
//     Open Question resolution in DESIGN.md).
func (l *Layer[K, P, PA]) Insert(addr Address, key K, payload P) (common.Propagate[K, Address], bool) {
	node := l.nodes.Node(addr)

	found, i := node.refine(key)
	if found {
		node.Entries[i].Payload = payload
		return common.Propagate[K, Address]{}, false
	}

	node.Entries = append(node.Entries, common.Entry[K, P]{})
	copy(node.Entries[i+1:], node.Entries[i:])
	node.Entries[i] = common.Entry[K, P]{Key: key, Payload: payload}

	violation := -1
	for idx, e := range node.Entries {
		pred := int(math.Round(node.Slope*toFloat(e.Key) + node.Intercept))
		if absInt(pred-idx) > node.Epsilon {
			violation = idx
			break
		}
	}
	if violation == -1 {
		return common.Propagate[K, Address]{}, false
	}

	refit := func() {
		segs := segmentize(node.Entries, l.epsilon)
		node.Slope, node.Intercept, node.Epsilon, node.Entries = segs[0].slope, segs[0].intercept, l.epsilon, segs[0].entries
		prev := addr
		for _, s := range segs[1:] {
			prev = l.nodes.InsertAfter(prev, Node[K, P]{Slope: s.slope, Intercept: s.intercept, Epsilon: l.epsilon, Entries: s.entries})
		}
	}

	if l.rebuildOnPoison {
		l.logger.V(1).Info("node poisoned, policy requests rebuild", "addr", addr, "key", key)
		refit()
		return common.RebuildSignal[K, Address](), true
	}

	tail := append([]common.Entry[K, P]{}, node.Entries[violation:]...)
	segs := segmentize(tail, l.epsilon)
	if len(segs) != 1 {
		l.logger.V(1).Info("node poisoned, tail needs multiple segments, falling back to rebuild", "addr", addr, "key", key, "segments", len(segs))
		refit()
		return common.RebuildSignal[K, Address](), true
	}
	l.logger.V(1).Info("node poisoned, splitting locally", "addr", addr, "key", key, "violation", violation)

	node.Entries = node.Entries[:violation:violation]
	right := segs[0]
	rightAddr := l.nodes.InsertAfter(addr, Node[K, P]{
		Slope: right.slope, Intercept: right.intercept, Epsilon: l.epsilon, Entries: right.entries,
	})
	return common.Single[K, Address](right.entries[0].Key, rightAddr), true
}

// FillFromBeneath rebuilds l from scratch by walking lower's full range: a
// first pass collects lower's (lower bound, address) pairs and segments
// them via Fill; a second pass walks lower again, advancing a parent cursor
// through l's freshly built nodes and stamping each lower node's parent,
// exactly mirroring MemoryPGMLayer::fill_from_beneath.
func FillFromBeneath[K Numeric, PA any](l *Layer[K, Address, PA], lower common.Lower[K]) {
	var entries []common.Entry[K, Address]
	sentinel := lower.Last()
	for addr := lower.First(); addr != sentinel; addr = lower.Next(addr) {
		key, _ := lower.LowerBound(addr)
		entries = append(entries, common.Entry[K, Address]{Key: key, Payload: addr})
	}
	l.Fill(entries)
	l.logger.V(1).Info("rebuilt from beneath", "entries", len(entries), "nodes", l.Len())

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

// Replace re-segments the lower layer's data range [dataHead, dataTail]
// and splices the result into this layer's poisoned range
// [poisonHead, poisonTail], then re-parents every lower node in the data
// range to the freshly spliced-in node that now covers it -- a "kite"
// cursor that only ever advances, mirroring MemoryPGMLayer::replace. This is
// a standalone maintenance operation (exercised directly, e.g. over a
// synthetic poisoned middle range), not part of Insert's automatic
// propagation chain; nothing in the source wires the two together.
func Replace[K Numeric, PA any](l *Layer[K, Address, PA], lower common.Lower[K], poisonHead, poisonTail, dataHead, dataTail Address) {
	var entries []common.Entry[K, Address]
	for cur := dataHead; ; {
		key, _ := lower.LowerBound(cur)
		entries = append(entries, common.Entry[K, Address]{Key: key, Payload: cur})
		if cur == dataTail {
			break
		}
		cur = lower.Next(cur)
	}

	segs := segmentize(entries, l.epsilon)
	newNodes := make([]Node[K, Address], len(segs))
	for i, s := range segs {
		newNodes[i] = Node[K, Address]{Slope: s.slope, Intercept: s.intercept, Epsilon: l.epsilon, Entries: s.entries}
	}

	newHead, newTail := l.nodes.Replace(poisonHead, poisonTail, newNodes)

	kite := newHead
	for cur := dataHead; ; {
		curKey, _ := lower.LowerBound(cur)
		for kite != newTail {
			nextKite := l.Next(kite)
			nextLB, _ := l.LowerBound(nextKite)
			if nextLB > curKey {
				break
			}
			kite = nextKite
		}
		lower.SetParent(cur, kite)
		if cur == dataTail {
			break
		}
		cur = lower.Next(cur)
	}
}
