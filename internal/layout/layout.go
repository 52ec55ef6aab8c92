// Package layout assigns 2-D coordinates to the nodes of an exploration view.
//
// Every algorithm takes the nodes and edges by value and returns new Node
// copies with Position and Placed set. Inputs are never mutated and no state
// survives between calls.
package layout

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

// ErrUnknownKind is returned by ParseKind for an unrecognised mode string.
var ErrUnknownKind = errors.New("layout: unknown kind")

// ---------------------------------------------------------------------------
// Kind
// ---------------------------------------------------------------------------

// Kind is the closed set of layout algorithms.
type Kind uint8

const (
	KindHierarchical Kind = iota + 1
	KindForce
	KindCircular
)

// Kinds lists every algorithm in display order.
var Kinds = []Kind{KindHierarchical, KindForce, KindCircular}

// String returns the mode string accepted by ParseKind.
func (k Kind) String() string {
	switch k {
	case KindHierarchical:
		return "hierarchical"
	case KindForce:
		return "force"
	case KindCircular:
		return "circular"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind maps a user-chosen mode string onto a Kind. A few aliases used
// by graph front-ends are accepted as well.
func ParseKind(mode string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "hierarchical", "hierarchy", "dagre", "layered":
		return KindHierarchical, nil
	case "force", "force-directed", "forcedirected", "cose":
		return KindForce, nil
	case "circular", "circle", "ring":
		return KindCircular, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, mode)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options tunes all three algorithms. Zero fields fall back to
// DefaultOptions.
type Options struct {
	// Shared
	NodeSep float64 `json:"nodeSep" yaml:"node_sep"`
	Center  graph.Position

	// Hierarchical
	RankSep      float64 `json:"rankSep" yaml:"rank_sep"`
	ComponentGap float64 `json:"componentGap" yaml:"component_gap"`
	Sweeps       int     `json:"sweeps" yaml:"sweeps"`

	// Force-directed
	Iterations int     `json:"iterations" yaml:"iterations"`
	Repulsion  float64 `json:"repulsion" yaml:"repulsion"`
	SpringK    float64 `json:"springK" yaml:"spring_k"`
	RestLength float64 `json:"restLength" yaml:"rest_length"`
	MaxStep    float64 `json:"maxStep" yaml:"max_step"`
	Jitter     float64 `json:"jitter" yaml:"jitter"` // fraction of the initial radius
	// Seed fixes the random source when Deterministic is set or Seed is
	// non-zero. Otherwise a time-based seed is used and the force-directed
	// layout differs run to run.
	Seed          int64 `json:"seed" yaml:"seed"`
	Deterministic bool  `json:"deterministic" yaml:"deterministic"`

	// Circular
	MinRadius float64 `json:"minRadius" yaml:"min_radius"`

	// Preserve keeps every placed node where it is and only seeds unplaced
	// nodes next to a placed neighbour.
	Preserve bool `json:"preserve" yaml:"-"`
}

// DefaultOptions returns the parameters used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		NodeSep:      120,
		RankSep:      160,
		ComponentGap: 200,
		Sweeps:       8,
		Iterations:   300,
		Repulsion:    20000,
		SpringK:      0.05,
		RestLength:   140,
		MaxStep:      60,
		Jitter:       0.25,
		MinRadius:    150,
	}
}

// seeded reports whether Seed should be used as-is.
func (o Options) seeded() bool {
	return o.Deterministic || o.Seed != 0
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NodeSep <= 0 {
		o.NodeSep = d.NodeSep
	}
	if o.RankSep <= 0 {
		o.RankSep = d.RankSep
	}
	if o.ComponentGap <= 0 {
		o.ComponentGap = d.ComponentGap
	}
	if o.Sweeps <= 0 {
		o.Sweeps = d.Sweeps
	}
	if o.Iterations <= 0 {
		o.Iterations = d.Iterations
	}
	if o.Repulsion <= 0 {
		o.Repulsion = d.Repulsion
	}
	if o.SpringK <= 0 {
		o.SpringK = d.SpringK
	}
	if o.RestLength <= 0 {
		o.RestLength = d.RestLength
	}
	if o.MaxStep <= 0 {
		o.MaxStep = d.MaxStep
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	if o.MinRadius <= 0 {
		o.MinRadius = d.MinRadius
	}
	return o
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// Compute lays out nodes with the chosen algorithm. With opts.Preserve set
// and at least one node already placed, only unplaced nodes get new
// coordinates. Passing a Kind outside the closed set panics.
func Compute(kind Kind, nodes []graph.Node, edges []graph.Edge, opts Options) []graph.Node {
	opts = opts.withDefaults()

	if opts.Preserve && anyPlaced(nodes) {
		return apply(nodes, anchorPositions(nodes, edges, opts))
	}

	switch kind {
	case KindHierarchical:
		return apply(nodes, hierarchicalPositions(nodes, edges, opts))
	case KindForce:
		return apply(nodes, forcePositions(nodes, edges, opts))
	case KindCircular:
		return apply(nodes, circularPositions(nodes, opts))
	default:
		panic(fmt.Sprintf("layout: Compute called with %v", kind))
	}
}

// Hierarchical runs a full rank-based layout pass.
func Hierarchical(nodes []graph.Node, edges []graph.Edge, opts Options) []graph.Node {
	return apply(nodes, hierarchicalPositions(nodes, edges, opts.withDefaults()))
}

// ForceDirected runs a full force-directed simulation.
func ForceDirected(nodes []graph.Node, edges []graph.Edge, opts Options) []graph.Node {
	return apply(nodes, forcePositions(nodes, edges, opts.withDefaults()))
}

// Circular places every node on one circle in input order.
func Circular(nodes []graph.Node, opts Options) []graph.Node {
	return apply(nodes, circularPositions(nodes, opts.withDefaults()))
}

// Positions extracts an id → position map, the shape graph.ApplyPositions
// expects.
func Positions(nodes []graph.Node) map[string]graph.Position {
	out := make(map[string]graph.Position, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n.Position
	}
	return out
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// apply copies nodes and writes pos into every copy that is not pinned.
func apply(nodes []graph.Node, pos map[string]graph.Position) []graph.Node {
	out := make([]graph.Node, len(nodes))
	for i, n := range nodes {
		if p, ok := pos[n.ID]; ok && !n.Pinned {
			n.Position = p
			n.Placed = true
		}
		out[i] = n
	}
	return out
}

func anyPlaced(nodes []graph.Node) bool {
	for _, n := range nodes {
		if n.Placed || n.Pinned {
			return true
		}
	}
	return false
}

// nodeSet returns the ids present in nodes.
func nodeSet(nodes []graph.Node) map[string]bool {
	set := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		set[n.ID] = true
	}
	return set
}

// usableEdges filters out self-loops, edges with an endpoint outside the
// node set and parallel duplicates. Order is preserved.
func usableEdges(nodes []graph.Node, edges []graph.Edge) []graph.Edge {
	set := nodeSet(nodes)
	seen := make(map[[2]string]bool, len(edges))
	out := make([]graph.Edge, 0, len(edges))
	for _, e := range edges {
		if e.IsSelfLoop() || !set[e.Source] || !set[e.Target] {
			continue
		}
		key := [2]string{e.Source, e.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// ringRadius is the radius that leaves roughly NodeSep between n nodes on a
// circle, never below MinRadius.
func ringRadius(n int, opts Options) float64 {
	return math.Max(opts.MinRadius, float64(n)*opts.NodeSep/(2*math.Pi))
}
