package view

import (
	"sort"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

// LegendEntry is one row of the entity-type legend.
type LegendEntry struct {
	EntityType string `json:"entityType"`
	Total      int    `json:"total"`
	Visible    int    `json:"visible"`
}

// Projection is the visible set handed to the renderer.
type Projection struct {
	Nodes        []graph.Node  `json:"nodes"`
	Edges        []graph.Edge  `json:"edges"`
	Legend       []LegendEntry `json:"legend"`
	Highlighted  int           `json:"highlighted"`
	HiddenNodes  int           `json:"hiddenNodes"`
	HiddenEdges  int           `json:"hiddenEdges"`
	ExpandedSeed []string      `json:"expanded"`
}

// NodeIDs returns the ids of the visible nodes in order.
func (p Projection) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Project applies f to snap:
//
//  1. a node is visible when its entity type is in f.VisibleTypes (or the
//     list is empty);
//  2. an edge is visible when its kind is enabled, both endpoints are
//     visible and, with an active time range, its validity window meets
//     the range;
//  3. visible nodes whose id or label contains f.Query are highlighted.
//
// Highlighting never hides anything.
func Project(snap graph.Snapshot, f Filter) Projection {
	types := f.typeSet()

	p := Projection{
		Nodes:        make([]graph.Node, 0, len(snap.Nodes)),
		Edges:        make([]graph.Edge, 0, len(snap.Edges)),
		ExpandedSeed: snap.Expanded,
	}

	legend := make(map[string]*LegendEntry)
	visible := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		entry, ok := legend[n.EntityType]
		if !ok {
			entry = &LegendEntry{EntityType: n.EntityType}
			legend[n.EntityType] = entry
		}
		entry.Total++

		if types != nil && !types[n.EntityType] {
			p.HiddenNodes++
			continue
		}
		entry.Visible++
		visible[n.ID] = true

		n.IsHighlighted = n.Matches(f.Query)
		if n.IsHighlighted {
			p.Highlighted++
		}
		p.Nodes = append(p.Nodes, n)
	}

	timed := f.TimeRange.Active()
	from, to := f.TimeRange.bounds()
	for _, e := range snap.Edges {
		if !kindEnabled(e.Kind, f) ||
			!visible[e.Source] || !visible[e.Target] ||
			(timed && !e.ValidDuring(from, to)) {
			p.HiddenEdges++
			continue
		}
		p.Edges = append(p.Edges, e)
	}

	p.Legend = make([]LegendEntry, 0, len(legend))
	for _, entry := range legend {
		p.Legend = append(p.Legend, *entry)
	}
	sort.Slice(p.Legend, func(i, j int) bool {
		return p.Legend[i].EntityType < p.Legend[j].EntityType
	})
	return p
}

func kindEnabled(k graph.EdgeKind, f Filter) bool {
	switch k {
	case graph.EdgeSemantic:
		return f.ShowSemantic
	default:
		return f.ShowRelational
	}
}
