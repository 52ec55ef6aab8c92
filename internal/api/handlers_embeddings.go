package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vyuha/vyuha-explorer/internal/ai"
)

// ---------------------------------------------------------------------------
// POST /api/embeddings/jobs
// ---------------------------------------------------------------------------

type enqueueJobRequest struct {
	Kind   ai.JobKind      `json:"kind" validate:"required"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleEnqueueEmbeddingJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI_NOT_CONFIGURED",
			"embedding job queue is not configured")
		return
	}

	var req enqueueJobRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "UNKNOWN_JOB_KIND",
			"kind must be one of: embed_entity, embed_all, similarity_search")
		return
	}
	if len(req.Params) == 0 {
		req.Params = json.RawMessage("{}")
	}
	if err := validateJobParams(req.Kind, req.Params); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error())
		return
	}

	job, err := s.jobs.Enqueue(req.Kind, req.Params)
	if err != nil {
		if errors.Is(err, ai.ErrQueueFull) {
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "ENQUEUE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"data": job})
}

// validateJobParams decodes params into the struct for kind and checks its
// validate tags.
func validateJobParams(kind ai.JobKind, params json.RawMessage) error {
	var dst any
	switch kind {
	case ai.JobEmbedEntity:
		dst = &ai.EmbedEntityParams{}
	case ai.JobEmbedAll:
		dst = &ai.EmbedAllParams{}
	case ai.JobSimilaritySearch:
		dst = &ai.SimilaritySearchParams{}
	default:
		return errors.New("unknown job kind")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return err
	}
	return validateStruct(dst)
}

// ---------------------------------------------------------------------------
// GET /api/embeddings/jobs?limit=N
// ---------------------------------------------------------------------------

func (s *Server) handleListEmbeddingJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI_NOT_CONFIGURED",
			"embedding job queue is not configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v >= 1 {
			limit = v
		}
	}
	jobs := s.jobs.ListJobs(clampInt(limit, 1, 500))

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"jobs":  jobs,
			"total": len(jobs),
		},
	})
}

// ---------------------------------------------------------------------------
// GET /api/embeddings/jobs/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleEmbeddingJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "AI_NOT_CONFIGURED",
			"embedding job queue is not configured")
		return
	}

	job, ok := s.jobs.GetJob(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND",
			"no embedding job with that ID")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": job})
}
