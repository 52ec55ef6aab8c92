package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/vyuha-explorer/internal/api"
	"github.com/vyuha/vyuha-explorer/internal/client"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/query"
	"github.com/vyuha/vyuha-explorer/internal/session"
	"github.com/vyuha/vyuha-explorer/internal/storage"
)

func newGraphServer(t *testing.T) *client.Client {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.SaveEntities(ctx, []*storage.Entity{
		{ID: "v1", EntityType: "vessel", Label: "Northern Aurora"},
		{ID: "m1", EntityType: "mission", Label: "Patrol North"},
		{ID: "p1", EntityType: "port", Label: "Harbor 7"},
	}))
	_, err = store.SaveRelationships(ctx, []*storage.Relationship{
		{ID: "r1", SourceID: "v1", TargetID: "m1", Label: "assigned_to"},
		{ID: "r2", SourceID: "m1", TargetID: "p1", Label: "departs_from"},
	})
	require.NoError(t, err)

	expander := query.NewExpander(store, nil, query.DefaultConfig())
	mgr := session.NewManager(expander, session.Config{}, nil, nil)
	t.Cleanup(mgr.Close)
	srv := api.NewServer(expander, mgr, nil, nil, nil, api.Options{})
	srv.RegisterRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := client.DefaultConfig()
	cfg.BaseURL = ts.URL
	cl, err := client.New(cfg)
	require.NoError(t, err)
	return cl
}

func TestRunExplore(t *testing.T) {
	cl := newGraphServer(t)
	var out bytes.Buffer

	err := runExplore(context.Background(), &out, cl, session.DefaultConfig(), &exploreOptions{
		search: "aurora",
		expand: []string{"m1", "ghost"},
		query:  "harbor",
		edges:  true,
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "load")
	assert.Contains(t, text, "expand m1")
	assert.Contains(t, text, "ghost is not in the view")
	for _, want := range []string{"v1", "m1", "p1", "r1", "r2", "Harbor 7"} {
		assert.Contains(t, text, want)
	}
	assert.Contains(t, text, "upstream graph: 3 entities, 2 links")
}

func TestRunExplore_TypeFilter(t *testing.T) {
	cl := newGraphServer(t)
	var out bytes.Buffer

	err := runExplore(context.Background(), &out, cl, session.DefaultConfig(), &exploreOptions{
		seeds: []string{"v1"},
		types: []string{"vessel"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Northern Aurora")
	assert.NotContains(t, out.String(), "Patrol North")
}

func TestRunExplore_NoSeeds(t *testing.T) {
	cl := newGraphServer(t)
	err := runExplore(context.Background(), &bytes.Buffer{}, cl, session.DefaultConfig(), &exploreOptions{})
	assert.ErrorContains(t, err, "no seeds")
}

func TestPrintTable_Aligns(t *testing.T) {
	var out bytes.Buffer
	rows := [][]string{{"a", "★"}, {"long-id", "x"}}
	printTable(&out, []string{"ID", "M"}, rows, rows)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Index(lines[2], "★"), strings.Index(lines[3], "x"))
}

func TestNodeMarks(t *testing.T) {
	n := graph.NewNode("a", "vessel", "A")
	assert.Empty(t, nodeMarks(n))
	n.IsSeed, n.Pinned = true, true
	assert.Equal(t, "★⌖", nodeMarks(n))
}
