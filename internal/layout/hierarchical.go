package layout

import (
	"sort"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

// =========================================================================
// Hierarchical (rank-based) layout
// =========================================================================
//
// 1. split the graph into weakly connected components
// 2. per component: drop DFS back edges so the rest is acyclic
// 3. longest-path ranks over the remaining DAG
// 4. barycentric crossing reduction, alternating down and up sweeps
// 5. y = rank·RankSep, x = order·NodeSep, components packed left to right
//
// Every iteration runs over sorted ids, so the same input always yields
// the same coordinates.

// dag is the directed adjacency of one component after cycle breaking.
type dag struct {
	out map[string][]string
	in  map[string][]string
}

func hierarchicalPositions(nodes []graph.Node, edges []graph.Edge, opts Options) map[string]graph.Position {
	pos := make(map[string]graph.Position, len(nodes))
	if len(nodes) == 0 {
		return pos
	}

	edges = usableEdges(nodes, edges)
	out, in := adjacency(edges)

	offsetX := 0.0
	for _, comp := range components(nodes, out, in) {
		d := breakCycles(comp, out)
		ranks := longestPathRanks(comp, d)
		layers := orderLayers(comp, ranks, d, opts.Sweeps)

		widest := 0
		for r, layer := range layers {
			for i, id := range layer {
				pos[id] = graph.Position{
					X: opts.Center.X + offsetX + float64(i)*opts.NodeSep,
					Y: opts.Center.Y + float64(r)*opts.RankSep,
				}
			}
			if len(layer) > widest {
				widest = len(layer)
			}
		}
		offsetX += float64(widest-1)*opts.NodeSep + opts.ComponentGap
	}
	return pos
}

// adjacency builds sorted out/in neighbour lists.
func adjacency(edges []graph.Edge) (out, in map[string][]string) {
	out = make(map[string][]string)
	in = make(map[string][]string)
	for _, e := range edges {
		out[e.Source] = append(out[e.Source], e.Target)
		in[e.Target] = append(in[e.Target], e.Source)
	}
	for _, m := range []map[string][]string{out, in} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	return out, in
}

// components returns the weakly connected components, each as a sorted id
// list. Components are ordered by their smallest id.
func components(nodes []graph.Node, out, in map[string][]string) [][]string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	var comps [][]string
	for _, start := range ids {
		if visited[start] {
			continue
		}
		var comp []string
		stack := []string{start}
		visited[start] = true
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, id)
			for _, next := range append(append([]string(nil), out[id]...), in[id]...) {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		sort.Strings(comp)
		comps = append(comps, comp)
	}
	return comps
}

// breakCycles runs a DFS over the component and keeps every edge except
// back edges (edges into a node still on the DFS stack). Sources are visited
// first so that, for an acyclic input, nothing is dropped.
func breakCycles(comp []string, out map[string][]string) dag {
	d := dag{out: make(map[string][]string), in: make(map[string][]string)}

	const (
		white = iota
		grey
		black
	)
	state := make(map[string]int, len(comp))

	hasIn := make(map[string]bool, len(comp))
	for _, id := range comp {
		for _, t := range out[id] {
			hasIn[t] = true
		}
	}
	roots := make([]string, 0, len(comp))
	for _, id := range comp {
		if !hasIn[id] {
			roots = append(roots, id)
		}
	}
	for _, id := range comp {
		if hasIn[id] {
			roots = append(roots, id)
		}
	}

	var visit func(id string)
	visit = func(id string) {
		state[id] = grey
		for _, t := range out[id] {
			switch state[t] {
			case grey:
				continue // back edge
			case white:
				visit(t)
			}
			d.out[id] = append(d.out[id], t)
			d.in[t] = append(d.in[t], id)
		}
		state[id] = black
	}
	for _, r := range roots {
		if state[r] == white {
			visit(r)
		}
	}
	for k := range d.in {
		sort.Strings(d.in[k])
	}
	return d
}

// longestPathRanks assigns rank 0 to every source and rank(v) =
// max(rank(u)+1) over its predecessors, processing nodes in Kahn order.
func longestPathRanks(comp []string, d dag) map[string]int {
	indeg := make(map[string]int, len(comp))
	for _, id := range comp {
		indeg[id] = len(d.in[id])
	}
	var queue []string
	for _, id := range comp {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	rank := make(map[string]int, len(comp))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, t := range d.out[id] {
			if r := rank[id] + 1; r > rank[t] {
				rank[t] = r
			}
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	return rank
}

// orderLayers groups nodes by rank and reduces crossings with barycentric
// sweeps. The ordering with the fewest crossings seen is returned.
func orderLayers(comp []string, rank map[string]int, d dag, sweeps int) [][]string {
	maxRank := 0
	for _, id := range comp {
		if rank[id] > maxRank {
			maxRank = rank[id]
		}
	}
	layers := make([][]string, maxRank+1)
	for _, id := range comp { // comp is sorted, so layers start in id order
		layers[rank[id]] = append(layers[rank[id]], id)
	}

	best := cloneLayers(layers)
	bestCrossings := countCrossings(layers, d)

	for s := 0; s < sweeps && bestCrossings > 0; s++ {
		if s%2 == 0 {
			for r := 1; r < len(layers); r++ {
				sortByBarycenter(layers[r], layers[r-1], d.in)
			}
		} else {
			for r := len(layers) - 2; r >= 0; r-- {
				sortByBarycenter(layers[r], layers[r+1], d.out)
			}
		}
		if c := countCrossings(layers, d); c < bestCrossings {
			bestCrossings = c
			best = cloneLayers(layers)
		}
	}
	return best
}

// sortByBarycenter reorders layer by the mean index of each node's
// neighbours in ref. Nodes without neighbours in ref keep their index.
// No virtual nodes are inserted, so an edge spanning several ranks only
// pulls on its endpoints when they sit in adjacent layers.
func sortByBarycenter(layer, ref []string, neighbours map[string][]string) {
	refIdx := make(map[string]int, len(ref))
	for i, id := range ref {
		refIdx[id] = i
	}
	bary := make(map[string]float64, len(layer))
	for i, id := range layer {
		sum, n := 0.0, 0
		for _, nb := range neighbours[id] {
			if j, ok := refIdx[nb]; ok {
				sum += float64(j)
				n++
			}
		}
		if n == 0 {
			bary[id] = float64(i)
		} else {
			bary[id] = sum / float64(n)
		}
	}
	sort.SliceStable(layer, func(a, b int) bool {
		ba, bb := bary[layer[a]], bary[layer[b]]
		if ba != bb {
			return ba < bb
		}
		return layer[a] < layer[b]
	})
}

// countCrossings counts pairwise crossings of edges between adjacent ranks.
// Edges spanning more than one rank are not counted.
func countCrossings(layers [][]string, d dag) int {
	total := 0
	for r := 0; r+1 < len(layers); r++ {
		upper := indexOf(layers[r])
		lower := indexOf(layers[r+1])
		type seg struct{ a, b int }
		var segs []seg
		for _, src := range layers[r] {
			for _, t := range d.out[src] {
				if j, ok := lower[t]; ok {
					segs = append(segs, seg{upper[src], j})
				}
			}
		}
		for i := 0; i < len(segs); i++ {
			for j := i + 1; j < len(segs); j++ {
				if (segs[i].a-segs[j].a)*(segs[i].b-segs[j].b) < 0 {
					total++
				}
			}
		}
	}
	return total
}

func indexOf(layer []string) map[string]int {
	m := make(map[string]int, len(layer))
	for i, id := range layer {
		m[id] = i
	}
	return m
}

func cloneLayers(layers [][]string) [][]string {
	out := make([][]string, len(layers))
	for i, l := range layers {
		out[i] = append([]string(nil), l...)
	}
	return out
}
