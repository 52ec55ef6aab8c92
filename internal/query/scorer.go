package query

import "sort"

// ---------------------------------------------------------------------------
// Neighbour scoring
// ---------------------------------------------------------------------------

// candidate is a neighbour of the seed batch competing for a slot in the
// response.
type candidate struct {
	ID string

	// Links is the number of stored relationships joining the candidate to
	// a seed.
	Links int

	// Similarity is the best semantic score against any seed, 0 when the
	// candidate was only reached relationally.
	Similarity float64
}

// relational reports whether the candidate has at least one stored link.
func (c candidate) relational() bool { return c.Links > 0 }

// candidateSet accumulates candidates by id.
type candidateSet map[string]*candidate

func (s candidateSet) addLink(id string) {
	c := s.get(id)
	c.Links++
}

func (s candidateSet) addSimilarity(id string, score float64) {
	c := s.get(id)
	if score > c.Similarity {
		c.Similarity = score
	}
}

func (s candidateSet) get(id string) *candidate {
	c, ok := s[id]
	if !ok {
		c = &candidate{ID: id}
		s[id] = c
	}
	return c
}

// rank orders candidates for trimming: relationally linked neighbours first
// (more links first), then semantic-only neighbours by score, ties broken by
// id so the same store always yields the same neighbourhood.
func (s candidateSet) rank() []candidate {
	out := make([]candidate, 0, len(s))
	for _, c := range s {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.relational() != b.relational() {
			return a.relational()
		}
		if a.Links != b.Links {
			return a.Links > b.Links
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.ID < b.ID
	})
	return out
}

// trimToLimit returns the ids of the best limit candidates.
func trimToLimit(ranked []candidate, limit int) []string {
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	return ids
}
