// Package layout gives concrete Go types to the declarative layer-stack
// grammar of spec.md 6: a Spec names exactly one top kind (implicitly
// btree_top -- the only top kind this engine implements), zero or more
// internal layer kinds, and exactly one base kind, each carrying its own
// construction parameters (fanout for a B-tree layer, epsilon for a PGM
// layer).
//
// Nothing here assembles an Index; pkg/index.Build consumes a validated
// Spec. This package exists because the external code-generation front end
// that would normally stamp out a concrete Index type from such a grammar
// is out of scope -- only the shape it must produce is implemented.
package layout

import "fmt"

// Kind names which node-layer implementation a layer slot uses.
type Kind int

const (
	BtreeKind Kind = iota
	PgmKind
)

func (k Kind) String() string {
	switch k {
	case BtreeKind:
		return "btree"
	case PgmKind:
		return "pgm"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Layer describes one internal or base layer slot: its kind plus the one
// parameter that kind needs (fanout for btree, epsilon for pgm). RebuildOnPoison
// only applies to Kind == PgmKind.
type Layer struct {
	Kind            Kind
	Fanout          int  // used when Kind == BtreeKind
	Epsilon         int  // used when Kind == PgmKind
	RebuildOnPoison bool // used when Kind == PgmKind
}

// Btree returns a B-tree layer descriptor with the given fixed fanout.
func Btree(fanout int) Layer {
	return Layer{Kind: BtreeKind, Fanout: fanout}
}

// Pgm returns a PGM layer descriptor with the given epsilon budget and
// poison policy.
func Pgm(epsilon int, rebuildOnPoison bool) Layer {
	return Layer{Kind: PgmKind, Epsilon: epsilon, RebuildOnPoison: rebuildOnPoison}
}

// Spec is a full layer stack: zero or more internal layers sandwiched
// between the implicit top and the base layer, read top-down exactly as
// spec.md 6's grammar lists it (Internal[0] is directly beneath top,
// Internal[len-1] is directly above Base).
type Spec struct {
	Internal []Layer
	Base     Layer
}

// Validate checks the structural constraints spec.md 6 places on a layout:
// a fanout of at least 2 for every B-tree slot, a non-negative epsilon for
// every PGM slot.
func (s Spec) Validate() error {
	check := func(where string, l Layer) error {
		switch l.Kind {
		case BtreeKind:
			if l.Fanout < 2 {
				return fmt.Errorf("layout: %s: btree fanout must be >= 2, got %d", where, l.Fanout)
			}
		case PgmKind:
			if l.Epsilon < 0 {
				return fmt.Errorf("layout: %s: pgm epsilon must be >= 0, got %d", where, l.Epsilon)
			}
		default:
			return fmt.Errorf("layout: %s: unknown layer kind %v", where, l.Kind)
		}
		return nil
	}
	for i, l := range s.Internal {
		if err := check(fmt.Sprintf("internal[%d]", i), l); err != nil {
			return err
		}
	}
	return check("base", s.Base)
}

// Depth returns the number of internal layers between top and base.
func (s Spec) Depth() int {
	return len(s.Internal)
}
