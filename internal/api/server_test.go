package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/metrics"
	"github.com/vyuha/vyuha-explorer/internal/query"
	"github.com/vyuha/vyuha-explorer/internal/session"
	"github.com/vyuha/vyuha-explorer/internal/storage"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

// buildStore stores a small fleet graph:
//
//	v1 → m1 → p1 ← m2
//	v1 → c1
//	v2 → m1
func buildStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.SaveEntities(ctx, []*storage.Entity{
		{ID: "v1", EntityType: "vessel", Label: "Northern Aurora"},
		{ID: "v2", EntityType: "vessel", Label: "Southern Cross"},
		{ID: "m1", EntityType: "mission", Label: "Patrol North"},
		{ID: "m2", EntityType: "mission", Label: "Patrol South"},
		{ID: "p1", EntityType: "port", Label: "Harbor 7"},
		{ID: "c1", EntityType: "crew", Label: "Blue Watch"},
	}))
	_, err = s.SaveRelationships(ctx, []*storage.Relationship{
		{ID: "r1", SourceID: "v1", TargetID: "m1", Label: "assigned_to"},
		{ID: "r2", SourceID: "m1", TargetID: "p1", Label: "departs_from"},
		{ID: "r3", SourceID: "v1", TargetID: "c1", Label: "crewed_by"},
		{ID: "r4", SourceID: "m2", TargetID: "p1", Label: "departs_from"},
		{ID: "r5", SourceID: "v2", TargetID: "m1", Label: "assigned_to"},
	})
	require.NoError(t, err)
	return s
}

type fixture struct {
	srv     *Server
	http    *httptest.Server
	sse     *SSEBroadcaster
	metrics *metrics.Collector
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := buildStore(t)
	svc, err := ai.NewEmbeddingService(context.Background(), nil, store)
	require.NoError(t, err)
	expander := query.NewExpander(store, svc, query.DefaultConfig())

	sse := NewSSEBroadcaster()
	collector := metrics.New()

	cfg := session.DefaultConfig()
	cfg.IdleTTL = 0
	mgr := session.NewManager(expander, cfg, sse, collector)
	t.Cleanup(mgr.Close)

	jobs := ai.NewJobQueue(svc, sse, 1)
	t.Cleanup(jobs.Close)

	srv := NewServer(expander, mgr, sse, jobs, collector, opts)
	srv.RegisterRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, http: ts, sse: sse, metrics: collector}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type viewNode struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	Pinned     bool           `json:"pinned"`
	Position   graph.Position `json:"position"`
}

type viewBody struct {
	SessionID string `json:"sessionId"`
	Layout    string `json:"layout"`
	Selected  string `json:"selected"`
	Total     struct {
		Nodes int `json:"nodes"`
		Edges int `json:"edges"`
	} `json:"total"`
	Visible struct {
		Nodes       []viewNode `json:"nodes"`
		Edges       []viewEdge `json:"edges"`
		Highlighted int        `json:"highlighted"`
	} `json:"visible"`
}

type viewEdge struct {
	ID string `json:"id"`
}

type expansionBody struct {
	Data struct {
		Expansion struct {
			Status     string `json:"status"`
			AddedNodes int    `json:"addedNodes"`
		} `json:"expansion"`
		View viewBody `json:"view"`
	} `json:"data"`
}

func findNode(nodes []viewNode, id string) (viewNode, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return viewNode{}, false
}

// ---------------------------------------------------------------------------
// /graph endpoints
// ---------------------------------------------------------------------------

func TestGraphExpand(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodPost, "/graph/expand", `{"seedIds":["v1"],"limit":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[graph.ExpandResponse](t, resp)

	ids := make([]string, len(body.Nodes))
	for i, n := range body.Nodes {
		ids[i] = n.ID
	}
	assert.ElementsMatch(t, []string{"v1", "m1", "c1"}, ids)
	assert.Len(t, body.Edges, 2)
}

func TestGraphExpand_Invalid(t *testing.T) {
	f := newFixture(t, Options{})

	for name, payload := range map[string]string{
		"no seeds":      `{"seedIds":[]}`,
		"blank seed":    `{"seedIds":[""]}`,
		"negative":      `{"seedIds":["v1"],"limit":-1}`,
		"unknown field": `{"seeds":["v1"]}`,
		"not json":      `seed=v1`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/graph/expand", payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_REQUEST", decode[errorBody](t, resp).Code)
		})
	}
}

func TestGraphExpand_RateLimited(t *testing.T) {
	f := newFixture(t, Options{ExpandRate: 0.001, ExpandBurst: 1})

	first := f.do(t, http.MethodPost, "/graph/expand", `{"seedIds":["v1"]}`)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := f.do(t, http.MethodPost, "/graph/expand", `{"seedIds":["v1"]}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "1", second.Header.Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decode[errorBody](t, second).Code)
}

func TestGraphStats(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodGet, "/graph/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, graph.StatsResponse{UniqueNodeCount: 6, TotalLinkCount: 5},
		decode[graph.StatsResponse](t, resp))
}

func TestGraphSearch(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodGet, "/graph/search?q=patrol", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Results []query.SearchHit `json:"results"`
		Total   int               `json:"total"`
	}](t, resp)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, "m1", body.Results[0].Node.ID)

	resp = f.do(t, http.MethodGet, "/graph/search?q=patrol&type=vessel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), decode[map[string]any](t, resp)["total"])

	resp = f.do(t, http.MethodGet, "/graph/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/graph/search?q=patrol&semantic=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "AI_NOT_CONFIGURED", decode[errorBody](t, resp).Code)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, Options{})

	// Create with seeds.
	resp := f.do(t, http.MethodPost, "/api/sessions", `{"seedIds":["v1"],"layout":"force"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[expansionBody](t, resp)
	id := created.Data.View.SessionID
	require.NotEmpty(t, id)
	assert.Equal(t, "merged", created.Data.Expansion.Status)
	assert.Equal(t, "force", created.Data.View.Layout)
	assert.Equal(t, 3, created.Data.View.Total.Nodes)
	assert.Equal(t, 2, created.Data.View.Total.Edges)
	base := "/api/sessions/" + id

	// Expand m1 adds p1 and v2.
	resp = f.do(t, http.MethodPost, base+"/nodes/m1/expand", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	expanded := decode[expansionBody](t, resp)
	assert.Equal(t, 2, expanded.Data.Expansion.AddedNodes)
	assert.Equal(t, 5, expanded.Data.View.Total.Nodes)
	assert.Equal(t, 4, expanded.Data.View.Total.Edges)

	// Expanding again is a no-op.
	resp = f.do(t, http.MethodPost, base+"/nodes/m1/expand", `{"limit":5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[expansionBody](t, resp).Data.Expansion.AddedNodes)

	// Right-click menu.
	resp = f.do(t, http.MethodGet, base+"/nodes/m1/menu", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	menu := decode[struct {
		Data session.Menu `json:"data"`
	}](t, resp)
	assert.True(t, menu.Data.Expanded)
	assert.Equal(t, "Patrol North", menu.Data.Label)

	// Select.
	resp = f.do(t, http.MethodPost, base+"/nodes/v2/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Drag pins the node.
	resp = f.do(t, http.MethodPut, base+"/nodes/v1/position", `{"x":10,"y":20}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base+"/view", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[struct {
		Data viewBody `json:"data"`
	}](t, resp).Data
	assert.Equal(t, "v2", v.Selected)
	n, ok := findNode(v.Visible.Nodes, "v1")
	require.True(t, ok)
	assert.True(t, n.Pinned)
	assert.Equal(t, graph.Position{X: 10, Y: 20}, n.Position)

	// Release.
	resp = f.do(t, http.MethodDelete, base+"/nodes/v1/position", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Hide c1 drops r3.
	resp = f.do(t, http.MethodDelete, base+"/nodes/c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hidden := decode[map[string]map[string]any](t, resp)
	assert.Equal(t, float64(1), hidden["data"]["removedEdges"])

	// Layout switch, including an alias.
	resp = f.do(t, http.MethodPut, base+"/layout", `{"mode":"circle"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "circular", decode[struct {
		Data viewBody `json:"data"`
	}](t, resp).Data.Layout)

	resp = f.do(t, http.MethodPut, base+"/layout", `{"mode":"spiral"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_LAYOUT", decode[errorBody](t, resp).Code)

	resp = f.do(t, http.MethodPost, base+"/relayout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Filter to vessels only.
	resp = f.do(t, http.MethodPut, base+"/filter",
		`{"visibleTypes":["vessel"],"showRelational":true,"showSemantic":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	filtered := decode[struct {
		Data viewBody `json:"data"`
	}](t, resp).Data
	require.NotEmpty(t, filtered.Visible.Nodes)
	for _, n := range filtered.Visible.Nodes {
		assert.Equal(t, "vessel", n.EntityType)
	}

	resp = f.do(t, http.MethodPut, base+"/filter",
		`{"timeRange":{"from":"2024-02-01T00:00:00Z","to":"2024-01-01T00:00:00Z"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Details and list.
	resp = f.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Data struct {
			Sessions []session.Summary `json:"sessions"`
			Total    int               `json:"total"`
		} `json:"data"`
	}](t, resp)
	assert.Equal(t, 1, list.Data.Total)
	assert.Equal(t, id, list.Data.Sessions[0].ID)

	// Clear, then delete.
	resp = f.do(t, http.MethodDelete, base+"/seeds", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[struct {
		Data viewBody `json:"data"`
	}](t, resp).Data.Total.Nodes)

	resp = f.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base+"/view", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionSeeds(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[expansionBody](t, resp).Data.View.SessionID
	base := "/api/sessions/" + id

	resp = f.do(t, http.MethodPost, base+"/seeds", `{"seedIds":["c1"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[expansionBody](t, resp).Data.View.Total.Nodes)

	resp = f.do(t, http.MethodPost, base+"/seeds", `{"seedIds":["p1"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, decode[expansionBody](t, resp).Data.View.Total.Nodes)

	resp = f.do(t, http.MethodPost, base+"/seeds", `{"seedIds":["m2"],"replace":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[expansionBody](t, resp).Data.View.Total.Nodes)

	resp = f.do(t, http.MethodPost, base+"/seeds", `{"seedIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionFilter_OmittedTogglesKeepEdges(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodPost, "/api/sessions", `{"seedIds":["v1"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[expansionBody](t, resp).Data.View
	require.Len(t, created.Visible.Edges, 2)
	base := "/api/sessions/" + created.SessionID

	// A search-only filter highlights without hiding anything.
	resp = f.do(t, http.MethodPut, base+"/filter", `{"query":"north"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	searched := decode[struct {
		Data viewBody `json:"data"`
	}](t, resp).Data
	assert.Len(t, searched.Visible.Nodes, 3)
	assert.Len(t, searched.Visible.Edges, 2)
	assert.Equal(t, 2, searched.Visible.Highlighted) // v1 and m1

	// Explicit toggles still apply.
	resp = f.do(t, http.MethodPut, base+"/filter", `{"showRelational":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[struct {
		Data viewBody `json:"data"`
	}](t, resp).Data.Visible.Edges)
}

func TestCreateSession_TypeFilterKeepsEdgeKinds(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodPost, "/api/sessions",
		`{"seedIds":["v1"],"filter":{"visibleTypes":["vessel","mission"]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v := decode[expansionBody](t, resp).Data.View

	ids := make([]string, 0, len(v.Visible.Edges))
	for _, e := range v.Visible.Edges {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"r1"}, ids)
	assert.Len(t, v.Visible.Nodes, 2)
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodGet, "/api/sessions/nope/view", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "SESSION_NOT_FOUND", decode[errorBody](t, resp).Code)

	resp = f.do(t, http.MethodDelete, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/sessions", `{"layout":"spiral"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_LAYOUT", decode[errorBody](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := "/api/sessions/" + decode[expansionBody](t, resp).Data.View.SessionID

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/nodes/ghost/expand"},
		{http.MethodGet, "/nodes/ghost/menu"},
		{http.MethodPost, "/nodes/ghost/select"},
		{http.MethodDelete, "/nodes/ghost"},
		{http.MethodDelete, "/nodes/ghost/position"},
	} {
		resp := f.do(t, tc.method, base+tc.path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
		assert.Equal(t, "NODE_NOT_FOUND", decode[errorBody](t, resp).Code, tc.path)
	}
}

// ---------------------------------------------------------------------------
// Embedding jobs
// ---------------------------------------------------------------------------

func TestEmbeddingJobs(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodPost, "/api/embeddings/jobs", `{"kind":"teleport"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_JOB_KIND", decode[errorBody](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/api/embeddings/jobs", `{"kind":"similarity_search","params":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARAMS", decode[errorBody](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/api/embeddings/jobs", `{"kind":"embed_all"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decode[struct {
		Data ai.Job `json:"data"`
	}](t, resp).Data
	require.NotEmpty(t, job.ID)
	assert.Equal(t, ai.JobEmbedAll, job.Kind)

	// No provider is configured, so the job ends up failed.
	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/api/embeddings/jobs/"+job.ID, "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		got := decode[struct {
			Data ai.Job `json:"data"`
		}](t, resp).Data
		return got.Status == ai.JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/embeddings/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode[map[string]map[string]any](t, resp)["data"]["total"])

	resp = f.do(t, http.MethodGet, "/api/embeddings/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmbeddingJobs_NotConfigured(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil, Options{})
	srv.RegisterRoutes()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/embeddings/jobs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ---------------------------------------------------------------------------
// Operations and middleware
// ---------------------------------------------------------------------------

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, Options{})

	resp := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])

	f.do(t, http.MethodPost, "/api/sessions", "")

	resp = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vyuha_active_sessions 1")
	assert.Contains(t, string(body), `vyuha_http_requests_total{method="GET",status="200"}`)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Options{CORSOrigins: []string{"https://fleet.example"}})

	for origin, allowed := range map[string]bool{
		"http://localhost:5173": true,
		"https://fleet.example": true,
		"https://evil.example":  false,
	} {
		req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/graph/expand", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		if allowed {
			assert.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"))
		} else {
			assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}

// ---------------------------------------------------------------------------
// SSE
// ---------------------------------------------------------------------------

func TestSSEBroadcaster(t *testing.T) {
	b := NewSSEBroadcaster()
	ch := b.Subscribe("c1")
	assert.Equal(t, 1, b.ClientCount())

	b.Notify(session.EventUpdated, map[string]any{"sessionId": "s1"})
	evt := <-ch
	assert.Equal(t, session.EventUpdated, evt.Event)

	b.BroadcastToClient("c1", SSEEvent{Event: "ping"})
	assert.Equal(t, "ping", (<-ch).Event)

	// A full buffer drops instead of blocking.
	for i := 0; i < sseBufferSize+10; i++ {
		b.Notify("flood", nil)
	}
	assert.Len(t, ch, sseBufferSize)

	b.Unsubscribe("c1")
	assert.Equal(t, 0, b.ClientCount())
	b.Unsubscribe("c1")
}

func TestMatchesSession(t *testing.T) {
	assert.True(t, matchesSession(SSEEvent{Data: map[string]any{"sessionId": "a"}}, "a"))
	assert.False(t, matchesSession(SSEEvent{Data: map[string]any{"sessionId": "b"}}, "a"))
	assert.True(t, matchesSession(SSEEvent{Data: map[string]any{"job_id": "j"}}, "a"))
	assert.True(t, matchesSession(SSEEvent{Data: "plain"}, "a"))
}

func TestSSEStreamsSessionEvents(t *testing.T) {
	f := newFixture(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())

	require.Eventually(t, func() bool { return f.sse.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.do(t, http.MethodPost, "/api/sessions", `{"seedIds":["v1"]}`)

	var events []string
	for lines.Scan() {
		line := lines.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
		if len(events) > 0 && events[len(events)-1] == session.EventUpdated {
			break
		}
	}
	assert.Contains(t, events, session.EventUpdated)
}
