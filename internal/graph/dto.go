package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Wire types for POST /graph/expand and GET /graph/stats
// ---------------------------------------------------------------------------

// ExpandRequest asks the graph service for the neighbourhood of every seed
// in one batch.
type ExpandRequest struct {
	SeedIDs  []string `json:"seedIds" validate:"required,min=1,dive,required"`
	Semantic bool     `json:"semantic"`
	Limit    int      `json:"limit" validate:"gte=0"`
}

// ExpandResponse is the raw neighbourhood returned for an ExpandRequest.
type ExpandResponse struct {
	Nodes []NodeDTO `json:"nodes"`
	Edges []EdgeDTO `json:"edges"`
}

// StatsResponse is the summary returned by GET /graph/stats.
type StatsResponse struct {
	UniqueNodeCount int `json:"uniqueNodeCount"`
	TotalLinkCount  int `json:"totalLinkCount"`
}

// NodeDTO is an entity as sent over the wire. Domain properties are
// flattened into the same JSON object as id, label and entityType.
type NodeDTO struct {
	ID         string
	Label      string
	EntityType string
	Properties map[string]any
}

// reserved keys are never read from or written to Properties.
var reservedNodeKeys = map[string]bool{"id": true, "label": true, "entityType": true}

// MarshalJSON implements json.Marshaler.
func (d NodeDTO) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Properties)+3)
	for k, v := range d.Properties {
		if reservedNodeKeys[k] {
			continue
		}
		out[k] = v
	}
	out["id"] = d.ID
	out["label"] = d.Label
	out["entityType"] = d.EntityType
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *NodeDTO) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var dto NodeDTO
	for k, v := range raw {
		switch k {
		case "id":
			if err := json.Unmarshal(v, &dto.ID); err != nil {
				return fmt.Errorf("graph: node id: %w", err)
			}
		case "label":
			if err := json.Unmarshal(v, &dto.Label); err != nil {
				return fmt.Errorf("graph: node label: %w", err)
			}
		case "entityType":
			if err := json.Unmarshal(v, &dto.EntityType); err != nil {
				return fmt.Errorf("graph: node entityType: %w", err)
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("graph: node property %q: %w", k, err)
			}
			if dto.Properties == nil {
				dto.Properties = make(map[string]any)
			}
			dto.Properties[k] = val
		}
	}
	*d = dto
	return nil
}

// EdgeDTO is a relationship as sent over the wire.
type EdgeDTO struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Kind       string     `json:"kind"`
	Label      string     `json:"label,omitempty"`
	ValidStart *time.Time `json:"validStart,omitempty"`
	ValidEnd   *time.Time `json:"validEnd,omitempty"`
	Score      float64    `json:"score,omitempty"`
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// ToNode converts the DTO into an unplaced view Node.
func (d NodeDTO) ToNode() Node {
	n := NewNode(d.ID, d.EntityType, d.Label)
	if len(d.Properties) > 0 {
		n.Properties = make(map[string]any, len(d.Properties))
		for k, v := range d.Properties {
			n.Properties[k] = v
		}
	}
	return n
}

// ToEdge converts the DTO into a view Edge. Unknown kinds are rejected.
func (d EdgeDTO) ToEdge() (Edge, error) {
	kind, err := ParseEdgeKind(d.Kind)
	if err != nil {
		return Edge{}, err
	}
	return Edge{
		ID:         d.ID,
		Source:     d.Source,
		Target:     d.Target,
		Kind:       kind,
		Label:      d.Label,
		ValidStart: d.ValidStart,
		ValidEnd:   d.ValidEnd,
		Score:      d.Score,
	}, nil
}

// Delta converts a response into model nodes and edges ready for
// MergeDelta. Edges with an id, endpoint or kind the model cannot accept are
// skipped and counted in rejected.
func (r *ExpandResponse) Delta() (nodes []Node, edges []Edge, rejected int) {
	nodes = make([]Node, 0, len(r.Nodes))
	for _, d := range r.Nodes {
		if d.ID == "" {
			continue
		}
		nodes = append(nodes, d.ToNode())
	}
	edges = make([]Edge, 0, len(r.Edges))
	for _, d := range r.Edges {
		if d.ID == "" || d.Source == "" || d.Target == "" {
			rejected++
			continue
		}
		e, err := d.ToEdge()
		if err != nil {
			rejected++
			continue
		}
		edges = append(edges, e)
	}
	return nodes, edges, rejected
}
