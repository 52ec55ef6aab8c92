package layout

import (
	"math"
	"math/rand"
	"time"

	"github.com/vyuha/vyuha-explorer/internal/graph"
)

// =========================================================================
// Force-directed layout
// =========================================================================
//
// Repulsion between every pair (Repulsion / d²), a spring on every edge
// (SpringK · (d − RestLength)), a fixed number of iterations and a step cap
// that cools linearly to zero. Pinned nodes take part in the forces but
// never move.

// minDist2 keeps coincident nodes from producing infinite forces.
const minDist2 = 0.01

func forcePositions(nodes []graph.Node, edges []graph.Edge, opts Options) map[string]graph.Position {
	n := len(nodes)
	pos := make(map[string]graph.Position, n)
	if n == 0 {
		return pos
	}

	seed := opts.Seed
	if !opts.seeded() {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	idx := make(map[string]int, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	fixed := make([]bool, n)

	radius := ringRadius(n, opts)
	for i, node := range nodes {
		idx[node.ID] = i
		if node.Pinned {
			xs[i], ys[i] = node.Position.X, node.Position.Y
			fixed[i] = true
			continue
		}
		angle := 2 * math.Pi * float64(i) / float64(n)
		r := radius * (1 + opts.Jitter*(rng.Float64()-0.5))
		xs[i] = opts.Center.X + r*math.Cos(angle)
		ys[i] = opts.Center.Y + r*math.Sin(angle)
	}

	type spring struct{ a, b int }
	springs := make([]spring, 0, len(edges))
	for _, e := range usableEdges(nodes, edges) {
		springs = append(springs, spring{idx[e.Source], idx[e.Target]})
	}

	dx := make([]float64, n)
	dy := make([]float64, n)

	for it := 0; it < opts.Iterations; it++ {
		for i := range dx {
			dx[i], dy[i] = 0, 0
		}

		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				vx, vy := xs[i]-xs[j], ys[i]-ys[j]
				d2 := vx*vx + vy*vy
				if d2 < minDist2 {
					// Nudge apart along a direction derived from the pair.
					vx, vy = float64(j-i), float64(i+j)*0.5
					d2 = minDist2
				}
				d := math.Sqrt(d2)
				f := opts.Repulsion / d2
				fx, fy := f*vx/d, f*vy/d
				dx[i] += fx
				dy[i] += fy
				dx[j] -= fx
				dy[j] -= fy
			}
		}

		for _, s := range springs {
			vx, vy := xs[s.b]-xs[s.a], ys[s.b]-ys[s.a]
			d := math.Sqrt(vx*vx + vy*vy)
			if d < 1e-9 {
				continue
			}
			f := opts.SpringK * (d - opts.RestLength)
			fx, fy := f*vx/d, f*vy/d
			dx[s.a] += fx
			dy[s.a] += fy
			dx[s.b] -= fx
			dy[s.b] -= fy
		}

		step := opts.MaxStep * (1 - float64(it)/float64(opts.Iterations))
		for i := 0; i < n; i++ {
			if fixed[i] {
				continue
			}
			mag := math.Sqrt(dx[i]*dx[i] + dy[i]*dy[i])
			if mag < 1e-9 {
				continue
			}
			move := math.Min(mag, step)
			xs[i] += dx[i] / mag * move
			ys[i] += dy[i] / mag * move
		}
	}

	for i, node := range nodes {
		pos[node.ID] = graph.Position{X: xs[i], Y: ys[i]}
	}
	return pos
}
