// Package query answers neighbourhood and search requests against the
// entity store. It is the server side of POST /graph/expand.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/storage"
)

// ErrInvalidRequest is returned for requests the expander refuses to run.
var ErrInvalidRequest = errors.New("query: invalid request")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config bounds the work a single expansion may do.
type Config struct {
	DefaultLimit int     `json:"default_limit" yaml:"default_limit" validate:"gte=1"`
	MaxLimit     int     `json:"max_limit" yaml:"max_limit" validate:"gtefield=DefaultLimit"`
	SemanticTopK int     `json:"semantic_top_k" yaml:"semantic_top_k" validate:"gte=1"`
	MinScore     float64 `json:"min_score" yaml:"min_score" validate:"gte=-1,lte=1"`
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 50,
		MaxLimit:     500,
		SemanticTopK: 10,
		MinScore:     0.75,
	}
}

// ---------------------------------------------------------------------------
// Expander
// ---------------------------------------------------------------------------

// Expander resolves seed neighbourhoods from storage and, optionally, the
// embedding cache. It satisfies expand.Fetcher so sessions can run against
// it in-process.
type Expander struct {
	store      *storage.Storage
	embeddings *ai.EmbeddingService
	cfg        Config
}

// NewExpander creates an Expander. embeddings may be nil, in which case
// semantic requests return relational neighbours only.
func NewExpander(store *storage.Storage, embeddings *ai.EmbeddingService, cfg Config) *Expander {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = max(def.MaxLimit, cfg.DefaultLimit)
	}
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = def.SemanticTopK
	}
	return &Expander{store: store, embeddings: embeddings, cfg: cfg}
}

// Fetch implements expand.Fetcher.
func (x *Expander) Fetch(ctx context.Context, req graph.ExpandRequest) (*graph.ExpandResponse, error) {
	return x.Expand(ctx, req)
}

// limitFor clamps a requested limit into [1, MaxLimit]; 0 selects the
// default.
func (x *Expander) limitFor(requested int) int {
	switch {
	case requested <= 0:
		return x.cfg.DefaultLimit
	case requested > x.cfg.MaxLimit:
		return x.cfg.MaxLimit
	default:
		return requested
	}
}

// Expand returns the seed entities, up to limit neighbours and every edge
// among them. Relational and semantic neighbours are gathered concurrently.
// Unknown seed ids are ignored.
func (x *Expander) Expand(ctx context.Context, req graph.ExpandRequest) (*graph.ExpandResponse, error) {
	start := time.Now()
	seeds := dedupe(req.SeedIDs)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: seedIds must not be empty", ErrInvalidRequest)
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	limit := x.limitFor(req.Limit)

	seedSet := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		seedSet[id] = true
	}

	var (
		seedEntities []*storage.Entity
		links        []*storage.Relationship
		similar      = make(map[string][]ai.SimilarityResult)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		seedEntities, err = x.store.GetEntities(gctx, seeds)
		return err
	})
	g.Go(func() error {
		var err error
		links, err = x.store.GetRelationshipsTouching(gctx, seeds, 0)
		return err
	})
	if req.Semantic && x.embeddings != nil {
		g.Go(func() error {
			for _, id := range seeds {
				if err := gctx.Err(); err != nil {
					return err
				}
				hits, err := x.embeddings.Similar(id, x.cfg.SemanticTopK, x.cfg.MinScore)
				if errors.Is(err, ai.ErrNotEmbedded) {
					continue
				}
				if err != nil {
					return err
				}
				similar[id] = hits
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("query: expand seeds %v: %w", seeds, err)
	}

	// Only seeds that exist anchor a neighbourhood.
	found := make(map[string]bool, len(seedEntities))
	for _, e := range seedEntities {
		found[e.ID] = true
	}

	candidates := make(candidateSet)
	for _, r := range links {
		switch {
		case found[r.SourceID] && !seedSet[r.TargetID]:
			candidates.addLink(r.TargetID)
		case found[r.TargetID] && !seedSet[r.SourceID]:
			candidates.addLink(r.SourceID)
		}
	}
	for seed, hits := range similar {
		if !found[seed] {
			continue
		}
		for _, h := range hits {
			if !seedSet[h.EntityID] {
				candidates.addSimilarity(h.EntityID, h.Score)
			}
		}
	}

	neighbourIDs := trimToLimit(candidates.rank(), limit)
	neighbours, err := x.store.GetEntities(ctx, neighbourIDs)
	if err != nil {
		return nil, fmt.Errorf("query: load neighbours: %w", err)
	}

	resp := &graph.ExpandResponse{
		Nodes: make([]graph.NodeDTO, 0, len(seedEntities)+len(neighbours)),
		Edges: []graph.EdgeDTO{},
	}
	included := make(map[string]bool, len(seedEntities)+len(neighbours))
	for _, e := range seedEntities {
		resp.Nodes = append(resp.Nodes, EntityDTO(e))
		included[e.ID] = true
	}
	for _, e := range neighbours {
		resp.Nodes = append(resp.Nodes, EntityDTO(e))
		included[e.ID] = true
	}

	ids := make([]string, 0, len(included))
	for id := range included {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	between, err := x.store.GetRelationshipsBetween(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query: load relationships: %w", err)
	}
	for _, r := range between {
		resp.Edges = append(resp.Edges, RelationshipDTO(r))
	}
	resp.Edges = append(resp.Edges, semanticEdges(similar, included)...)

	slog.Debug("neighbourhood expanded",
		"seeds", len(seeds),
		"semantic", req.Semantic,
		"limit", limit,
		"candidates", len(candidates),
		"nodes", len(resp.Nodes),
		"edges", len(resp.Edges),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// semanticEdges builds one edge per similar pair whose endpoints are both in
// the response. A pair found from both ends yields a single edge.
func semanticEdges(similar map[string][]ai.SimilarityResult, included map[string]bool) []graph.EdgeDTO {
	byID := make(map[string]graph.EdgeDTO)
	for seed, hits := range similar {
		for _, h := range hits {
			if !included[seed] || !included[h.EntityID] {
				continue
			}
			id := SemanticEdgeID(seed, h.EntityID)
			if prev, ok := byID[id]; ok && prev.Score >= h.Score {
				continue
			}
			src, dst := orderedPair(seed, h.EntityID)
			byID[id] = graph.EdgeDTO{
				ID:     id,
				Source: src,
				Target: dst,
				Kind:   string(graph.EdgeSemantic),
				Label:  "similar",
				Score:  h.Score,
			}
		}
	}
	out := make([]graph.EdgeDTO, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SemanticEdgeID derives a stable id for the similarity edge between a and b.
// The id does not depend on argument order, so repeat expansions from either
// endpoint dedupe in the graph model.
func SemanticEdgeID(a, b string) string {
	lo, hi := orderedPair(a, b)
	return "sem:" + strconv.FormatUint(xxhash.Sum64String(lo+"\x00"+hi), 16)
}

func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// ---------------------------------------------------------------------------
// Stats and search
// ---------------------------------------------------------------------------

// Stats returns the size of the whole entity store.
func (x *Expander) Stats(ctx context.Context) (*graph.StatsResponse, error) {
	st, err := x.store.GetGraphStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: stats: %w", err)
	}
	return &graph.StatsResponse{
		UniqueNodeCount: st.UniqueNodeCount,
		TotalLinkCount:  st.TotalLinkCount,
	}, nil
}

// SearchHit is one entity matching a search.
type SearchHit struct {
	Node  graph.NodeDTO `json:"node"`
	Score float64       `json:"score,omitempty"`
}

// Search finds entities to seed a view with. Lexical search matches id and
// label substrings; semantic search ranks embedded entities by similarity to
// the query text and needs an embedding provider.
func (x *Expander) Search(ctx context.Context, q string, limit int, semantic bool) ([]SearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	limit = x.limitFor(limit)

	if !semantic {
		ents, err := x.store.SearchEntities(ctx, q, limit)
		if err != nil {
			return nil, fmt.Errorf("query: search %q: %w", q, err)
		}
		hits := make([]SearchHit, len(ents))
		for i, e := range ents {
			hits[i] = SearchHit{Node: EntityDTO(e)}
		}
		return hits, nil
	}

	if x.embeddings == nil {
		return nil, ai.ErrNoEmbedder
	}
	results, err := x.embeddings.SimilaritySearch(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query: semantic search %q: %w", q, err)
	}
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			Node:  graph.NodeDTO{ID: r.EntityID, Label: r.Label, EntityType: r.EntityType},
			Score: r.Score,
		}
	}
	return hits, nil
}

// ---------------------------------------------------------------------------
// Conversion helpers
// ---------------------------------------------------------------------------

// EntityDTO converts a stored entity into its wire form.
func EntityDTO(e *storage.Entity) graph.NodeDTO {
	return graph.NodeDTO{
		ID:         e.ID,
		Label:      e.Label,
		EntityType: e.EntityType,
		Properties: e.Properties,
	}
}

// RelationshipDTO converts a stored relationship into a relational edge.
func RelationshipDTO(r *storage.Relationship) graph.EdgeDTO {
	return graph.EdgeDTO{
		ID:         r.ID,
		Source:     r.SourceID,
		Target:     r.TargetID,
		Kind:       string(graph.EdgeRelational),
		Label:      r.Label,
		ValidStart: r.ValidStart,
		ValidEnd:   r.ValidEnd,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
