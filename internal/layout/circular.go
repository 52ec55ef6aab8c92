package layout

import (
	"math"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

// circularPositions spaces nodes evenly on one circle in input order,
// starting at twelve o'clock.
func circularPositions(nodes []graph.Node, opts Options) map[string]graph.Position {
	pos := make(map[string]graph.Position, len(nodes))
	switch len(nodes) {
	case 0:
		return pos
	case 1:
		pos[nodes[0].ID] = opts.Center
		return pos
	}

	radius := ringRadius(len(nodes), opts)
	for i, n := range nodes {
		angle := 2*math.Pi*float64(i)/float64(len(nodes)) - math.Pi/2
		pos[n.ID] = graph.Position{
			X: opts.Center.X + radius*math.Cos(angle),
			Y: opts.Center.Y + radius*math.Sin(angle),
		}
	}
	return pos
}
