package graph

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Results and snapshots
// ---------------------------------------------------------------------------

// MergeResult reports what a MergeDelta call actually changed.
type MergeResult struct {
	AddedNodes   []Node `json:"addedNodes"`
	AddedEdges   []Edge `json:"addedEdges"`
	DroppedEdges int    `json:"droppedEdges"` // edges with an unknown endpoint
}

// Empty reports whether the merge added nothing.
func (r MergeResult) Empty() bool {
	return len(r.AddedNodes) == 0 && len(r.AddedEdges) == 0
}

// Snapshot is a read-only copy of the model in insertion order. It is what
// the layout engine and the view projection work on.
type Snapshot struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Expanded []string `json:"expanded"`
}

// Stats summarises the contents of the model.
type Stats struct {
	TotalNodes  int            `json:"total_nodes"`
	TotalEdges  int            `json:"total_edges"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByKind map[string]int `json:"edges_by_kind"`
	Expanded    int            `json:"expanded"`
	Seeds       int            `json:"seeds"`
}

// ---------------------------------------------------------------------------
// Graph
// ---------------------------------------------------------------------------

// Graph is the authoritative in-memory set of nodes and edges of one
// exploration view, together with the set of nodes that have already been
// expanded.
//
// Invariant: every stored edge references two stored nodes. Each mutating
// method re-checks this before it returns.
//
// All public methods are goroutine-safe.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node    // id → node
	edges     map[string]*Edge    // id → edge
	nodeOrder []string            // insertion order
	edgeOrder []string            // insertion order
	outEdges  map[string][]string // source id → edge ids
	inEdges   map[string][]string // target id → edge ids
	byType    map[string][]string // entity type → node ids
	expanded  map[string]struct{} // node ids already expanded
}

// NewGraph returns an empty, initialised Graph.
func NewGraph() *Graph {
	g := &Graph{}
	g.resetLocked()
	return g
}

func (g *Graph) resetLocked() {
	g.nodes = make(map[string]*Node)
	g.edges = make(map[string]*Edge)
	g.nodeOrder = nil
	g.edgeOrder = nil
	g.outEdges = make(map[string][]string)
	g.inEdges = make(map[string][]string)
	g.byType = make(map[string][]string)
	g.expanded = make(map[string]struct{})
}

// Reset discards every node, edge and expansion mark.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

// ============================ MUTATIONS ==================================

// MergeDelta folds a set of new nodes and edges into the model.
//
// A node is added only if its id is not present yet, so merging the same
// delta twice is a no-op the second time. An edge is added only if its id
// is new and both endpoints exist in the node set extended by this delta;
// edges pointing at unknown nodes are dropped and counted, never stored.
func (g *Graph) MergeDelta(nodes []Node, edges []Edge) MergeResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	var res MergeResult
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		if _, ok := g.nodes[n.ID]; ok {
			continue
		}
		// The model never stores derived render state.
		n.IsHighlighted = false
		stored := n.clone()
		g.indexNodeLocked(&stored)
		res.AddedNodes = append(res.AddedNodes, stored.clone())
	}

	for _, e := range edges {
		if e.ID == "" {
			continue
		}
		if _, ok := g.edges[e.ID]; ok {
			continue
		}
		_, srcOK := g.nodes[e.Source]
		_, tgtOK := g.nodes[e.Target]
		if !srcOK || !tgtOK {
			res.DroppedEdges++
			continue
		}
		if e.Kind == "" {
			e.Kind = EdgeRelational
		}
		stored := e
		g.indexEdgeLocked(&stored)
		res.AddedEdges = append(res.AddedEdges, stored)
	}

	g.checkInvariantLocked()
	return res
}

// indexNodeLocked inserts a node into every map.
// Caller MUST hold g.mu write lock.
func (g *Graph) indexNodeLocked(n *Node) {
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	g.byType[n.EntityType] = append(g.byType[n.EntityType], n.ID)
}

// indexEdgeLocked inserts an edge into edges, outEdges and inEdges.
// Caller MUST hold g.mu write lock.
func (g *Graph) indexEdgeLocked(e *Edge) {
	g.edges[e.ID] = e
	g.edgeOrder = append(g.edgeOrder, e.ID)
	g.outEdges[e.Source] = append(g.outEdges[e.Source], e.ID)
	g.inEdges[e.Target] = append(g.inEdges[e.Target], e.ID)
}

// MarkExpanded records that nodeID's neighbourhood has been fetched.
func (g *Graph) MarkExpanded(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expanded[nodeID] = struct{}{}
}

// HasExpanded reports whether nodeID has already been expanded.
func (g *Graph) HasExpanded(nodeID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.expanded[nodeID]
	return ok
}

// MarkSeed flags a present node as a seed. It returns false when the node
// is not in the model.
func (g *Graph) MarkSeed(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return false
	}
	n.IsSeed = true
	return true
}

// RemoveNode deletes a node and every edge touching it. It returns the
// number of edges removed and whether the node existed.
func (g *Graph) RemoveNode(nodeID string) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return 0, false
	}

	touching := make(map[string]bool)
	for _, id := range g.outEdges[nodeID] {
		touching[id] = true
	}
	for _, id := range g.inEdges[nodeID] {
		touching[id] = true
	}
	for id := range touching {
		g.deindexEdgeLocked(id)
	}

	removeID(g.byType, n.EntityType, nodeID)
	g.nodeOrder = removeFromOrder(g.nodeOrder, nodeID)
	delete(g.nodes, nodeID)
	delete(g.outEdges, nodeID)
	delete(g.inEdges, nodeID)
	delete(g.expanded, nodeID)

	g.checkInvariantLocked()
	return len(touching), true
}

// deindexEdgeLocked removes one edge from every map.
// Caller MUST hold g.mu write lock.
func (g *Graph) deindexEdgeLocked(edgeID string) {
	e, ok := g.edges[edgeID]
	if !ok {
		return
	}
	removeID(g.outEdges, e.Source, edgeID)
	removeID(g.inEdges, e.Target, edgeID)
	g.edgeOrder = removeFromOrder(g.edgeOrder, edgeID)
	delete(g.edges, edgeID)
}

// ApplyPositions writes layout output back into the model. Pinned nodes and
// unknown ids are skipped. It returns the number of nodes updated.
func (g *Graph) ApplyPositions(positions map[string]Position) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	updated := 0
	for id, p := range positions {
		n, ok := g.nodes[id]
		if !ok || n.Pinned {
			continue
		}
		n.Position = p
		n.Placed = true
		updated++
	}
	return updated
}

// Pin moves a node to pos and marks it as manually placed, so later layout
// passes leave it where the user dropped it.
func (g *Graph) Pin(nodeID string, pos Position) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return false
	}
	n.Position = pos
	n.Placed = true
	n.Pinned = true
	return true
}

// Unpin releases a manual override.
func (g *Graph) Unpin(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return false
	}
	n.Pinned = false
	return true
}

// checkInvariantLocked panics if any edge references a missing node. A
// violation is a programming error in this package, not a runtime condition.
// Caller MUST hold g.mu.
func (g *Graph) checkInvariantLocked() {
	for id, e := range g.edges {
		if _, ok := g.nodes[e.Source]; !ok {
			panic(fmt.Sprintf("graph: edge %q has dangling source %q", id, e.Source))
		}
		if _, ok := g.nodes[e.Target]; !ok {
			panic(fmt.Sprintf("graph: edge %q has dangling target %q", id, e.Target))
		}
	}
}

// ---------------------------------------------------------------------------
// Slice helpers
// ---------------------------------------------------------------------------

func removeID(m map[string][]string, key, id string) {
	ids := m[key]
	for i, v := range ids {
		if v == id {
			m[key] = append(ids[:i], ids[i+1:]...)
			if len(m[key]) == 0 {
				delete(m, key)
			}
			return
		}
	}
}

func removeFromOrder(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// ============================== QUERIES ==================================

// GetNode returns a copy of the node with the given id.
func (g *Graph) GetNode(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// HasNode reports whether id is present.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Neighbours returns the ids of nodes connected to id in either direction,
// in edge insertion order, without duplicates.
func (g *Graph) Neighbours(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{id: true}
	var out []string
	for _, eid := range g.outEdges[id] {
		if t := g.edges[eid].Target; !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, eid := range g.inEdges[id] {
		if s := g.edges[eid].Source; !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Snapshot returns a copy of every node and edge in insertion order.
// Node properties are cloned, so callers may mutate the result freely.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{
		Nodes:    make([]Node, 0, len(g.nodeOrder)),
		Edges:    make([]Edge, 0, len(g.edgeOrder)),
		Expanded: make([]string, 0, len(g.expanded)),
	}
	for _, id := range g.nodeOrder {
		snap.Nodes = append(snap.Nodes, g.nodes[id].clone())
	}
	for _, id := range g.edgeOrder {
		snap.Edges = append(snap.Edges, *g.edges[id])
	}
	for id := range g.expanded {
		snap.Expanded = append(snap.Expanded, id)
	}
	sort.Strings(snap.Expanded)
	return snap
}

// NodeCount returns the number of nodes in the model.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the model.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Stats returns a full Stats snapshot.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodesByType := make(map[string]int, len(g.byType))
	for t, ids := range g.byType {
		nodesByType[t] = len(ids)
	}
	edgesByKind := make(map[string]int, 2)
	for _, e := range g.edges {
		edgesByKind[string(e.Kind)]++
	}
	seeds := 0
	for _, n := range g.nodes {
		if n.IsSeed {
			seeds++
		}
	}
	return Stats{
		TotalNodes:  len(g.nodes),
		TotalEdges:  len(g.edges),
		NodesByType: nodesByType,
		EdgesByKind: edgesByKind,
		Expanded:    len(g.expanded),
		Seeds:       seeds,
	}
}
