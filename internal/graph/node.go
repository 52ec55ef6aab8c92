package graph

import (
	"fmt"
	"maps"
	"strings"
)

// ---------------------------------------------------------------------------
// Geometry
// ---------------------------------------------------------------------------

// Position is a 2-D coordinate assigned by the layout engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by q.
func (p Position) Add(q Position) Position {
	return Position{X: p.X + q.X, Y: p.Y + q.Y}
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Node is a vertex of the exploration view. It represents one entity of the
// larger relationship graph (a vessel, a mission, a port, ...).
//
// Position is owned by the layout engine. Everything else treats it as
// read-only, except a manual drag which sets Pinned.
type Node struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`

	Position Position `json:"position"`
	Placed   bool     `json:"placed"`           // Position has been assigned at least once
	Pinned   bool     `json:"pinned,omitempty"` // manual override; layouts keep it fixed

	IsSeed        bool `json:"isSeed"`
	IsHighlighted bool `json:"isHighlighted,omitempty"` // set on projection copies only
}

// NewNode creates an unplaced Node.
func NewNode(id, entityType, label string) Node {
	return Node{
		ID:         id,
		EntityType: entityType,
		Label:      label,
	}
}

// clone returns a copy of n that shares no map with it.
func (n Node) clone() Node {
	n.Properties = maps.Clone(n.Properties)
	return n
}

// DisplayLabel returns the label, falling back to the id.
func (n Node) DisplayLabel() string {
	if strings.TrimSpace(n.Label) != "" {
		return n.Label
	}
	return n.ID
}

// Matches reports whether query is a case-insensitive substring of the
// node's id or label. An empty query never matches.
func (n Node) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	return strings.Contains(strings.ToLower(n.ID), q) ||
		strings.Contains(strings.ToLower(n.Label), q)
}

// String implements fmt.Stringer.
func (n Node) String() string {
	return fmt.Sprintf("%s[%s]", n.ID, n.EntityType)
}
