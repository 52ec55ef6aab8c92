package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/query"
)

// The /graph endpoints are the neighbourhood service consumed by the
// expansion client. Their bodies are not wrapped in {"data": ...}.

// ---------------------------------------------------------------------------
// POST /graph/expand
// ---------------------------------------------------------------------------

func (s *Server) handleGraphExpand(w http.ResponseWriter, r *http.Request) {
	var req graph.ExpandRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	resp, err := s.expander.Expand(r.Context(), req)
	if err != nil {
		if errors.Is(err, query.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		slog.Error("graph expand failed", "seeds", req.SeedIDs, "error", err)
		writeError(w, http.StatusInternalServerError, "EXPAND_ERROR",
			"expansion failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// GET /graph/stats
// ---------------------------------------------------------------------------

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.expander.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STATS_ERROR",
			"failed to get graph stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// GET /graph/search?q=X&limit=N&semantic=true&type=Y
// ---------------------------------------------------------------------------

func (s *Server) handleGraphSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := params.Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY",
			"q query parameter is required")
		return
	}

	limit := 20
	if l := params.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v >= 1 {
			limit = v
		}
	}
	limit = clampInt(limit, 1, 100)

	semantic, _ := strconv.ParseBool(params.Get("semantic"))

	hits, err := s.expander.Search(r.Context(), q, limit, semantic)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		case errors.Is(err, ai.ErrNoEmbedder):
			writeError(w, http.StatusServiceUnavailable, "AI_NOT_CONFIGURED",
				"semantic search requires an embedding provider")
		default:
			writeError(w, http.StatusInternalServerError, "SEARCH_ERROR",
				"search failed: "+err.Error())
		}
		return
	}

	if entityType := params.Get("type"); entityType != "" {
		filtered := make([]query.SearchHit, 0, len(hits))
		for _, h := range hits {
			if h.Node.EntityType == entityType {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": hits,
		"total":   len(hits),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// clampInt restricts val to the range [lo, hi].
func clampInt(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
