package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/graph"
	"github.com/vyuha/vyuha-explorer/internal/layout"
	"github.com/vyuha/vyuha-explorer/internal/session"
	"github.com/vyuha/vyuha-explorer/internal/view"
)

// ---------------------------------------------------------------------------
// Request / response types
// ---------------------------------------------------------------------------

type createSessionRequest struct {
	SeedIDs  []string     `json:"seedIds" validate:"omitempty,dive,required"`
	Layout   string       `json:"layout"`
	Semantic *bool        `json:"semantic"`
	Limit    int          `json:"limit" validate:"gte=0,lte=500"`
	Filter   *view.Filter `json:"filter"`
}

type seedsRequest struct {
	SeedIDs  []string `json:"seedIds" validate:"required,min=1,dive,required"`
	Replace  bool     `json:"replace"`
	Semantic *bool    `json:"semantic"`
	Limit    int      `json:"limit" validate:"gte=0,lte=500"`
}

type expandNodeRequest struct {
	Semantic *bool `json:"semantic"`
	Limit    int   `json:"limit" validate:"gte=0,lte=500"`
}

type layoutRequest struct {
	Mode string `json:"mode" validate:"required"`
}

// expansionResponse pairs what an expansion did with the resulting view.
type expansionResponse struct {
	Expansion *expand.Result `json:"expansion,omitempty"`
	View      session.View   `json:"view"`
}

type sessionDetail struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"createdAt"`
	LastUsed  time.Time   `json:"lastUsed"`
	Filter    view.Filter `json:"filter"`
	Stats     graph.Stats `json:"stats"`
}

// ---------------------------------------------------------------------------
// POST /api/sessions
// ---------------------------------------------------------------------------

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// Toggles left out of the filter keep their defaults.
	filter := view.DefaultFilter()
	req := createSessionRequest{Filter: &filter}
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Layout != "" {
		if _, err := layout.ParseKind(req.Layout); err != nil {
			writeError(w, http.StatusBadRequest, "UNKNOWN_LAYOUT", err.Error())
			return
		}
	}
	if req.Filter != nil {
		if err := req.Filter.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
			return
		}
	}

	sess := s.sessions.Create()
	if req.Layout != "" {
		if err := sess.SetLayout(req.Layout); err != nil {
			writeSessionError(w, err)
			return
		}
	}
	if req.Filter != nil {
		if err := sess.SetFilter(*req.Filter); err != nil {
			writeSessionError(w, err)
			return
		}
	}

	resp := expansionResponse{}
	if len(req.SeedIDs) > 0 {
		res, err := sess.Load(r.Context(), req.SeedIDs, s.expandOptions(req.Semantic, req.Limit))
		if err != nil {
			// The session exists and can be retried; report the failure with it.
			slog.Warn("initial load failed", "session", sess.ID, "error", err)
			writeSessionError(w, err)
			return
		}
		resp.Expansion = &res
	}
	resp.View = sess.View()

	writeJSON(w, http.StatusCreated, map[string]any{"data": resp})
}

// ---------------------------------------------------------------------------
// GET /api/sessions
// ---------------------------------------------------------------------------

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"sessions": list,
			"total":    len(list),
		},
	})
}

// ---------------------------------------------------------------------------
// GET /api/sessions/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": sessionDetail{
			ID:        sess.ID,
			CreatedAt: sess.CreatedAt,
			LastUsed:  sess.LastUsed(),
			Filter:    sess.Filter(),
			Stats:     sess.Stats(),
		},
	})
}

// ---------------------------------------------------------------------------
// DELETE /api/sessions/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// GET /api/sessions/{id}/view
// ---------------------------------------------------------------------------

func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// ---------------------------------------------------------------------------
// POST /api/sessions/{id}/seeds
// ---------------------------------------------------------------------------

// handleAddSeeds adds seeds to the view, or replaces the view when
// "replace" is set.
func (s *Server) handleAddSeeds(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req seedsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	opts := s.expandOptions(req.Semantic, req.Limit)
	var (
		res expand.Result
		err error
	)
	if req.Replace {
		res, err = sess.Load(r.Context(), req.SeedIDs, opts)
	} else {
		res, err = sess.AddSeeds(r.Context(), req.SeedIDs, opts)
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": expansionResponse{Expansion: &res, View: sess.View()},
	})
}

// ---------------------------------------------------------------------------
// DELETE /api/sessions/{id}/seeds
// ---------------------------------------------------------------------------

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// ---------------------------------------------------------------------------
// POST /api/sessions/{id}/nodes/{node}/expand
// ---------------------------------------------------------------------------

func (s *Server) handleExpandNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req expandNodeRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := sess.Expand(r.Context(), r.PathValue("node"), s.expandOptions(req.Semantic, req.Limit))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": expansionResponse{Expansion: &res, View: sess.View()},
	})
}

// ---------------------------------------------------------------------------
// GET /api/sessions/{id}/nodes/{node}/menu
// ---------------------------------------------------------------------------

func (s *Server) handleNodeMenu(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	menu, err := sess.ExpandMenu(r.PathValue("node"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": menu})
}

// ---------------------------------------------------------------------------
// POST /api/sessions/{id}/nodes/{node}/select
// ---------------------------------------------------------------------------

func (s *Server) handleSelectNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	node, err := sess.Select(r.PathValue("node"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": node})
}

// ---------------------------------------------------------------------------
// PUT /api/sessions/{id}/nodes/{node}/position
// ---------------------------------------------------------------------------

func (s *Server) handleDragNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var pos graph.Position
	if err := decodeJSON(w, r, &pos, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	nodeID := r.PathValue("node")
	if err := sess.Drag(nodeID, pos); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"nodeId": nodeID, "position": pos, "pinned": true},
	})
}

// ---------------------------------------------------------------------------
// DELETE /api/sessions/{id}/nodes/{node}/position
// ---------------------------------------------------------------------------

func (s *Server) handleReleaseNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	nodeID := r.PathValue("node")
	if err := sess.Release(nodeID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"nodeId": nodeID, "pinned": false},
	})
}

// ---------------------------------------------------------------------------
// DELETE /api/sessions/{id}/nodes/{node}
// ---------------------------------------------------------------------------

func (s *Server) handleHideNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	nodeID := r.PathValue("node")
	removed, err := sess.Hide(nodeID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"nodeId": nodeID, "removedEdges": removed},
	})
}

// ---------------------------------------------------------------------------
// PUT /api/sessions/{id}/layout
// ---------------------------------------------------------------------------

func (s *Server) handleSetLayout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req layoutRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := sess.SetLayout(req.Mode); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// ---------------------------------------------------------------------------
// POST /api/sessions/{id}/relayout
// ---------------------------------------------------------------------------

func (s *Server) handleRelayout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.Relayout()
	writeJSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// ---------------------------------------------------------------------------
// PUT /api/sessions/{id}/filter
// ---------------------------------------------------------------------------

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	f := view.DefaultFilter()
	if err := decodeJSON(w, r, &f, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := sess.SetFilter(f); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sess.View()})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// lookupSession resolves the {id} path value, writing a 404 when missing.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

// expandOptions fills an unset semantic flag from the session defaults.
func (s *Server) expandOptions(semantic *bool, limit int) expand.Options {
	include := s.sessions.Config().Expand.IncludeSemantic
	if semantic != nil {
		include = *semantic
	}
	return expand.Options{IncludeSemantic: include, Limit: limit}
}

// writeSessionError maps session, layout and expansion errors onto HTTP
// statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", err.Error())
	case errors.Is(err, layout.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "UNKNOWN_LAYOUT", err.Error())
	case errors.Is(err, expand.ErrNoSeeds):
		writeError(w, http.StatusBadRequest, "NO_SEEDS", err.Error())
	case errors.Is(err, expand.ErrExpansionInFlight):
		writeError(w, http.StatusConflict, "EXPANSION_IN_FLIGHT", err.Error())
	case errors.Is(err, expand.ErrFetchFailed):
		writeError(w, http.StatusBadGateway, "FETCH_FAILED", err.Error())
	default:
		slog.Error("session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
