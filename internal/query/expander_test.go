package query

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/storage"
)

var _ expand.Fetcher = (*Expander)(nil)

// buildFleet stores a small fleet graph:
//
//	v1 → m1 → p1 ← m2
//	v1 → c1
//	v2 → m1
//
// v1 and v2 have near-identical embeddings.
func buildFleet(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.SaveEntities(ctx, []*storage.Entity{
		{ID: "v1", EntityType: "vessel", Label: "Northern Aurora", Properties: map[string]any{"flag": "NO"}},
		{ID: "v2", EntityType: "vessel", Label: "Southern Cross"},
		{ID: "m1", EntityType: "mission", Label: "Patrol North"},
		{ID: "m2", EntityType: "mission", Label: "Patrol South"},
		{ID: "p1", EntityType: "port", Label: "Harbor 7"},
		{ID: "c1", EntityType: "crew", Label: "Blue Watch"},
	}))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.SaveRelationships(ctx, []*storage.Relationship{
		{ID: "r1", SourceID: "v1", TargetID: "m1", Label: "assigned_to", ValidStart: &start},
		{ID: "r2", SourceID: "m1", TargetID: "p1", Label: "departs_from"},
		{ID: "r3", SourceID: "v1", TargetID: "c1", Label: "crewed_by"},
		{ID: "r4", SourceID: "m2", TargetID: "p1", Label: "departs_from"},
		{ID: "r5", SourceID: "v2", TargetID: "m1", Label: "assigned_to"},
	})
	require.NoError(t, err)

	for id, vec := range map[string][]float32{
		"v1": {1, 0},
		"v2": {0.9, 0.1},
		"m1": {0, 1},
		"p1": {0.1, 1},
		"m2": {0.7, 0.7},
	} {
		require.NoError(t, s.SaveEmbedding(ctx, &storage.Embedding{EntityID: id, Content: id, Vector: vec, Model: "test"}))
	}
	return s
}

func buildExpander(t *testing.T, withEmbeddings bool) *Expander {
	t.Helper()
	store := buildFleet(t)
	var svc *ai.EmbeddingService
	if withEmbeddings {
		var err error
		svc, err = ai.NewEmbeddingService(context.Background(), nil, store)
		require.NoError(t, err)
	}
	return NewExpander(store, svc, DefaultConfig())
}

func nodeIDs(resp *graph.ExpandResponse) []string {
	ids := make([]string, len(resp.Nodes))
	for i, n := range resp.Nodes {
		ids[i] = n.ID
	}
	return ids
}

func edgeIDs(resp *graph.ExpandResponse) []string {
	ids := make([]string, len(resp.Edges))
	for i, e := range resp.Edges {
		ids[i] = e.ID
	}
	return ids
}

func TestExpand_Relational(t *testing.T) {
	x := buildExpander(t, true)

	resp, err := x.Expand(context.Background(), graph.ExpandRequest{SeedIDs: []string{"v1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "c1", "m1"}, nodeIDs(resp))
	assert.Equal(t, []string{"r1", "r3"}, edgeIDs(resp))

	for _, e := range resp.Edges {
		assert.Equal(t, "relational", e.Kind)
	}
	require.NotNil(t, resp.Edges[0].ValidStart)
	assert.Equal(t, "NO", resp.Nodes[0].Properties["flag"])
}

func TestExpand_LimitCapsNeighbours(t *testing.T) {
	x := buildExpander(t, false)

	resp, err := x.Expand(context.Background(), graph.ExpandRequest{SeedIDs: []string{"v1"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "c1"}, nodeIDs(resp))
	assert.Equal(t, []string{"r3"}, edgeIDs(resp))
}

func TestExpand_MoreLinksRankFirst(t *testing.T) {
	x := buildExpander(t, false)

	// m1 is linked to both seeds, c1 only to v1.
	resp, err := x.Expand(context.Background(), graph.ExpandRequest{SeedIDs: []string{"v1", "v2"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "m1"}, nodeIDs(resp))
	assert.Equal(t, []string{"r1", "r5"}, edgeIDs(resp))
}

func TestExpand_Semantic(t *testing.T) {
	x := buildExpander(t, true)

	resp, err := x.Expand(context.Background(), graph.ExpandRequest{SeedIDs: []string{"v1"}, Semantic: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "c1", "m1", "v2"}, nodeIDs(resp))

	semID := SemanticEdgeID("v1", "v2")
	assert.Equal(t, []string{"r1", "r3", "r5", semID}, edgeIDs(resp))
	sem := resp.Edges[3]
	assert.Equal(t, "semantic", sem.Kind)
	assert.Equal(t, "v1", sem.Source)
	assert.Equal(t, "v2", sem.Target)
	assert.Greater(t, sem.Score, 0.9)
}

func TestExpand_SemanticPairDedupes(t *testing.T) {
	x := buildExpander(t, true)

	resp, err := x.Expand(context.Background(), graph.ExpandRequest{SeedIDs: []string{"v1", "v2"}, Semantic: true})
	require.NoError(t, err)

	// v1 finds v2 and v2 finds v1; the pair is reported once.
	pair := SemanticEdgeID("v1", "v2")
	var count int
	for _, e := range resp.Edges {
		if e.ID == pair {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExpand_SemanticWithoutEmbeddings(t *testing.T) {
	x := buildExpander(t, false)

	resp, err := x.Expand(context.Background(), graph.ExpandRequest{SeedIDs: []string{"v1"}, Semantic: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "c1", "m1"}, nodeIDs(resp))
}

func TestExpand_InvalidAndUnknown(t *testing.T) {
	x := buildExpander(t, false)
	ctx := context.Background()

	_, err := x.Expand(ctx, graph.ExpandRequest{SeedIDs: []string{" ", ""}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = x.Expand(ctx, graph.ExpandRequest{SeedIDs: []string{"v1"}, Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	resp, err := x.Expand(ctx, graph.ExpandRequest{SeedIDs: []string{"ghost"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Nodes)
	assert.Empty(t, resp.Edges)
}

func TestExpand_MergesIdempotentlyThroughController(t *testing.T) {
	x := buildExpander(t, true)
	model := graph.NewGraph()
	ctrl := expand.NewController(model, x)
	ctx := context.Background()

	_, err := ctrl.ExpandSeeds(ctx, []string{"v1"}, expand.Options{IncludeSemantic: true})
	require.NoError(t, err)
	nodes, edges := model.NodeCount(), model.EdgeCount()

	res, err := ctrl.ExpandSeeds(ctx, []string{"v1"}, expand.Options{IncludeSemantic: true})
	require.NoError(t, err)
	assert.Equal(t, expand.StatusNoNewNeighbors, res.Status)
	assert.Equal(t, nodes, model.NodeCount())
	assert.Equal(t, edges, model.EdgeCount())

	res, err = ctrl.ExpandNode(ctx, "m1", expand.Options{})
	require.NoError(t, err)
	assert.Equal(t, expand.StatusMerged, res.Status)
	assert.True(t, model.HasNode("p1"))
}

func TestSemanticEdgeID(t *testing.T) {
	a := SemanticEdgeID("v1", "v2")
	assert.Equal(t, a, SemanticEdgeID("v2", "v1"))
	assert.True(t, strings.HasPrefix(a, "sem:"))
	assert.NotEqual(t, a, SemanticEdgeID("v1", "v3"))
}

func TestLimitFor(t *testing.T) {
	x := NewExpander(nil, nil, Config{})
	assert.Equal(t, 50, x.limitFor(0))
	assert.Equal(t, 7, x.limitFor(7))
	assert.Equal(t, 500, x.limitFor(10_000))
}

func TestStats(t *testing.T) {
	x := buildExpander(t, false)
	st, err := x.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &graph.StatsResponse{UniqueNodeCount: 6, TotalLinkCount: 5}, st)
}

func TestSearch(t *testing.T) {
	x := buildExpander(t, true)
	ctx := context.Background()

	hits, err := x.Search(ctx, "patrol", 10, false)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].Node.ID)
	assert.Equal(t, "m2", hits[1].Node.ID)

	_, err = x.Search(ctx, "  ", 10, false)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = x.Search(ctx, "patrol", 10, true)
	assert.ErrorIs(t, err, ai.ErrNoEmbedder)
}

func TestCandidateRanking(t *testing.T) {
	set := make(candidateSet)
	set.addSimilarity("s1", 0.8)
	set.addSimilarity("s2", 0.9)
	set.addLink("r1")
	set.addLink("r2")
	set.addLink("r2")
	set.addSimilarity("r1", 0.99)

	assert.Equal(t, []string{"r2", "r1", "s2", "s1"}, trimToLimit(set.rank(), 0))
	assert.Equal(t, []string{"r2", "r1"}, trimToLimit(set.rank(), 2))
}
