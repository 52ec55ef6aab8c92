package layout

import (
	"math"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

// goldenAngle spreads successive children of one anchor without overlap.
const goldenAngle = 2.399963229728653

// anchorPositions keeps every placed node where it is and seeds each
// unplaced node next to its first placed neighbour, in edge order. Newly
// seeded nodes can anchor later ones, so a chain of new nodes grows out
// from the existing drawing. Nodes with no placed neighbour at all go in a
// row below the current bounding box.
func anchorPositions(nodes []graph.Node, edges []graph.Edge, opts Options) map[string]graph.Position {
	pos := make(map[string]graph.Position, len(nodes))
	var pending []string
	for _, n := range nodes {
		if n.Placed || n.Pinned {
			pos[n.ID] = n.Position
		} else {
			pending = append(pending, n.ID)
		}
	}
	if len(pending) == 0 {
		return pos
	}

	edges = usableEdges(nodes, edges)
	neighbours := make(map[string][]string)
	for _, e := range edges {
		neighbours[e.Source] = append(neighbours[e.Source], e.Target)
		neighbours[e.Target] = append(neighbours[e.Target], e.Source)
	}

	children := make(map[string]int) // anchor id → nodes seeded around it
	for progress := true; progress && len(pending) > 0; {
		progress = false
		rest := pending[:0]
		for _, id := range pending {
			anchor, ok := firstPlaced(neighbours[id], pos)
			if !ok {
				rest = append(rest, id)
				continue
			}
			k := children[anchor]
			children[anchor]++
			angle := math.Pi/2 + float64(k)*goldenAngle
			r := opts.NodeSep * (1 + 0.25*float64(k/6))
			a := pos[anchor]
			pos[id] = graph.Position{X: a.X + r*math.Cos(angle), Y: a.Y + r*math.Sin(angle)}
			progress = true
		}
		pending = rest
	}

	if len(pending) > 0 {
		minX, maxY := math.Inf(1), math.Inf(-1)
		for _, p := range pos {
			minX = math.Min(minX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
		if math.IsInf(minX, 1) {
			minX, maxY = opts.Center.X, opts.Center.Y-opts.RankSep
		}
		for i, id := range pending {
			pos[id] = graph.Position{X: minX + float64(i)*opts.NodeSep, Y: maxY + opts.RankSep}
		}
	}
	return pos
}

func firstPlaced(ids []string, pos map[string]graph.Position) (string, bool) {
	for _, id := range ids {
		if _, ok := pos[id]; ok {
			return id, true
		}
	}
	return "", false
}
