package graph

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Edge kinds
// ---------------------------------------------------------------------------

// EdgeKind says where a relationship came from.
type EdgeKind string

const (
	// EdgeRelational is backed by a stored, explicit relationship.
	EdgeRelational EdgeKind = "relational"
	// EdgeSemantic is derived from embedding similarity and is rendered
	// dashed by the frontend.
	EdgeSemantic EdgeKind = "semantic"
)

// Valid reports whether k is one of the known kinds.
func (k EdgeKind) Valid() bool {
	return k == EdgeRelational || k == EdgeSemantic
}

// ParseEdgeKind converts a wire value into an EdgeKind. An empty string is
// treated as relational.
func ParseEdgeKind(s string) (EdgeKind, error) {
	switch EdgeKind(s) {
	case "", EdgeRelational:
		return EdgeRelational, nil
	case EdgeSemantic:
		return EdgeSemantic, nil
	}
	return "", fmt.Errorf("graph: unknown edge kind %q", s)
}

// ---------------------------------------------------------------------------
// Edge
// ---------------------------------------------------------------------------

// Edge is a directed relationship between two Nodes of the view.
// ValidStart and ValidEnd optionally bound the period in which the
// relationship held; an edge with neither is valid at all times.
type Edge struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Kind       EdgeKind   `json:"kind"`
	Label      string     `json:"label,omitempty"`
	ValidStart *time.Time `json:"validStart,omitempty"`
	ValidEnd   *time.Time `json:"validEnd,omitempty"`
	Score      float64    `json:"score,omitempty"` // semantic similarity
}

// NewEdge creates a relational Edge between source and target.
func NewEdge(id, source, target string) Edge {
	return Edge{
		ID:     id,
		Source: source,
		Target: target,
		Kind:   EdgeRelational,
	}
}

// Touches reports whether nodeID is one of the edge's endpoints.
func (e Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// IsSelfLoop reports whether the edge starts and ends at the same node.
func (e Edge) IsSelfLoop() bool {
	return e.Source == e.Target
}

// HasValidity reports whether at least one validity bound is set.
func (e Edge) HasValidity() bool {
	return e.ValidStart != nil || e.ValidEnd != nil
}

// ValidDuring reports whether the edge's validity window intersects the
// closed range [from, to]. A missing bound is open-ended, so an edge without
// any window is valid under every range.
func (e Edge) ValidDuring(from, to time.Time) bool {
	if e.ValidStart != nil && e.ValidStart.After(to) {
		return false
	}
	if e.ValidEnd != nil && e.ValidEnd.Before(from) {
		return false
	}
	return true
}
