package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyuha/vyuha-explorer/internal/storage"
)

var (
	// ErrNotEmbedded is returned by Similar when the entity has no cached
	// vector.
	ErrNotEmbedded = errors.New("ai: entity has no embedding")

	// ErrNoEmbedder is returned by operations that must call a provider when
	// the service was built without one.
	ErrNoEmbedder = errors.New("ai: no embedding provider configured")
)

// ---------------------------------------------------------------------------
// EmbeddingService
// ---------------------------------------------------------------------------

const embeddingWorkers = 5

// EmbeddingService generates, stores and searches vector embeddings for
// entities. Generation is delegated to an Embedder; similarity between
// already-embedded entities only needs the in-memory cache.
type EmbeddingService struct {
	embedder Embedder
	store    *storage.Storage

	mu    sync.RWMutex
	cache map[string]*storage.Embedding // keyed by entity id

	// expectedDimensions is learned from the first vector and used to
	// reject vectors produced by a different model.
	expectedDimensions int
}

// NewEmbeddingService creates an EmbeddingService and loads existing
// embeddings from storage into its in-memory cache. embedder may be nil, in
// which case only Similar and CacheSize are usable.
func NewEmbeddingService(ctx context.Context, embedder Embedder, store *storage.Storage) (*EmbeddingService, error) {
	svc := &EmbeddingService{
		embedder: embedder,
		store:    store,
		cache:    make(map[string]*storage.Embedding),
	}
	if err := svc.ReloadCache(ctx); err != nil {
		return nil, err
	}
	slog.Info("embeddings loaded", "count", svc.CacheSize())
	return svc, nil
}

// ---------------------------------------------------------------------------
// EmbedEntity: embed a single entity
// ---------------------------------------------------------------------------

// EmbedEntity generates an embedding for the given entity and persists it.
// An entity that is already embedded is returned as-is unless force is set.
func (s *EmbeddingService) EmbedEntity(ctx context.Context, entityID string, force bool) (*storage.Embedding, error) {
	ent, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("ai/embeddings: load entity %q: %w", entityID, err)
	}
	emb, _, err := s.embedEntity(ctx, ent, force)
	return emb, err
}

func (s *EmbeddingService) embedEntity(ctx context.Context, ent *storage.Entity, force bool) (*storage.Embedding, bool, error) {
	if !force {
		if existing, ok := s.cached(ent.ID); ok {
			return existing, true, nil
		}
	}
	if s.embedder == nil {
		return nil, false, ErrNoEmbedder
	}

	content := buildEntityContent(ent)
	if content == "" {
		return nil, false, fmt.Errorf("ai/embeddings: empty content for entity %q", ent.ID)
	}

	vec, err := s.embedder.Embed(ctx, content, "")
	if err != nil {
		return nil, false, fmt.Errorf("ai/embeddings: embed entity %q: %w", ent.ID, err)
	}
	if err := s.checkDimensions(len(vec)); err != nil {
		return nil, false, err
	}

	emb := &storage.Embedding{
		ID:         uuid.New().String(),
		EntityID:   ent.ID,
		Content:    content,
		Vector:     vec,
		Model:      s.embedder.Model(),
		Dimensions: len(vec),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveEmbedding(ctx, emb); err != nil {
		return nil, false, fmt.Errorf("ai/embeddings: save: %w", err)
	}

	s.mu.Lock()
	s.cache[ent.ID] = emb
	s.mu.Unlock()

	slog.Debug("entity embedded", "entity_id", ent.ID, "dimensions", len(vec))
	return emb, false, nil
}

func (s *EmbeddingService) checkDimensions(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expectedDimensions == 0 && n > 0 {
		s.expectedDimensions = n
		slog.Info("embedding dimensions set",
			"dimensions", n,
			"provider", s.embedder.Name(),
		)
		return nil
	}
	if n != s.expectedDimensions {
		return fmt.Errorf(
			"ai/embeddings: dimension mismatch: expected %d got %d, inconsistent model usage",
			s.expectedDimensions, n,
		)
	}
	return nil
}

func (s *EmbeddingService) cached(entityID string) (*storage.Embedding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.cache[entityID]
	return emb, ok
}

// ---------------------------------------------------------------------------
// EmbedAll: embed every entity using a worker pool
// ---------------------------------------------------------------------------

// EmbedProgress reports batch embedding progress.
type EmbedProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// EmbedAll embeds every entity in the store. progress receives an update
// after each entity; it may be nil. Individual failures are counted, not
// returned; only a cancelled context or an unreadable store is an error.
func (s *EmbeddingService) EmbedAll(ctx context.Context, force bool, progress func(EmbedProgress)) (EmbedProgress, error) {
	entities, err := s.store.AllEntities(ctx)
	if err != nil {
		return EmbedProgress{}, fmt.Errorf("ai/embeddings: list entities: %w", err)
	}

	prog := EmbedProgress{Total: len(entities)}
	ch := make(chan *storage.Entity, len(entities))
	for _, e := range entities {
		ch <- e
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < embeddingWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ent := range ch {
				if ctx.Err() != nil {
					return
				}
				_, skipped, err := s.embedEntity(ctx, ent, force)
				mu.Lock()
				switch {
				case err != nil:
					prog.Errors++
					slog.Warn("embedding error", "entity_id", ent.ID, "error", err)
				case skipped:
					prog.Skipped++
				default:
					prog.Completed++
				}
				if progress != nil {
					progress(prog)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	slog.Info("embedding batch complete",
		"total", prog.Total,
		"completed", prog.Completed,
		"skipped", prog.Skipped,
		"errors", prog.Errors,
	)
	return prog, ctx.Err()
}

// ---------------------------------------------------------------------------
// Similarity: cosine similarity over cached embeddings
// ---------------------------------------------------------------------------

// SimilarityResult is a single search hit.
type SimilarityResult struct {
	EntityID   string  `json:"entity_id"`
	Label      string  `json:"label,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	Score      float64 `json:"score"`
}

// Similar returns up to topK entities whose cached vectors are closest to the
// vector of entityID, best first, excluding entityID itself and anything
// scoring below minScore. Ties are broken by entity id.
func (s *EmbeddingService) Similar(entityID string, topK int, minScore float64) ([]SimilarityResult, error) {
	if topK <= 0 {
		topK = 10
	}
	src, ok := s.cached(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotEmbedded, entityID)
	}
	return s.rank(src.Vector, topK, minScore, entityID), nil
}

// SimilaritySearch embeds the query text and returns the top-k most similar
// entities from the in-memory cache, labelled from storage.
func (s *EmbeddingService) SimilaritySearch(ctx context.Context, query string, topK int) ([]SimilarityResult, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if topK <= 0 {
		topK = 10
	}

	queryVec, err := s.embedder.Embed(ctx, query, "")
	if err != nil {
		return nil, fmt.Errorf("ai/embeddings: embed query: %w", err)
	}

	results := s.rank(queryVec, topK, math.Inf(-1), "")
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.EntityID
	}
	ents, err := s.store.GetEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ai/embeddings: label results: %w", err)
	}
	byID := make(map[string]*storage.Entity, len(ents))
	for _, e := range ents {
		byID[e.ID] = e
	}
	for i := range results {
		if e, ok := byID[results[i].EntityID]; ok {
			results[i].Label = e.Label
			results[i].EntityType = e.EntityType
		}
	}
	return results, nil
}

func (s *EmbeddingService) rank(vec []float32, topK int, minScore float64, exclude string) []SimilarityResult {
	s.mu.RLock()
	embeddings := make([]*storage.Embedding, 0, len(s.cache))
	for _, emb := range s.cache {
		embeddings = append(embeddings, emb)
	}
	s.mu.RUnlock()

	results := make([]SimilarityResult, 0, len(embeddings))
	for _, emb := range embeddings {
		if emb.EntityID == exclude {
			continue
		}
		sim, err := cosineSimilarity(vec, emb.Vector)
		if err != nil {
			slog.Debug("skipping embedding",
				"entity_id", emb.EntityID,
				"error", err.Error(),
			)
			continue
		}
		if sim < minScore {
			continue
		}
		results = append(results, SimilarityResult{EntityID: emb.EntityID, Score: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EntityID < results[j].EntityID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// ReloadCache refreshes the in-memory embedding cache from storage.
func (s *EmbeddingService) ReloadCache(ctx context.Context) error {
	all, err := s.store.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("ai/embeddings: reload: %w", err)
	}

	cache := make(map[string]*storage.Embedding, len(all))
	var expectedDim, mismatchCount int
	for _, emb := range all {
		cache[emb.EntityID] = emb
		if expectedDim == 0 {
			expectedDim = len(emb.Vector)
			continue
		}
		if len(emb.Vector) != expectedDim {
			mismatchCount++
		}
	}
	if mismatchCount > 0 {
		slog.Warn("embedding dimension inconsistency in cache",
			"mismatched", mismatchCount,
			"total", len(all),
			"expected_dimensions", expectedDim,
		)
	}

	s.mu.Lock()
	s.cache = cache
	s.expectedDimensions = expectedDim
	s.mu.Unlock()
	return nil
}

// CacheSize returns the number of embeddings in the in-memory cache.
func (s *EmbeddingService) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// ---------------------------------------------------------------------------
// Content builder: turns an Entity into text suitable for embedding
// ---------------------------------------------------------------------------

// buildEntityContent produces a textual representation of an entity. Property
// keys are sorted so the same entity always yields the same text.
func buildEntityContent(e *storage.Entity) string {
	if e.Label == "" && e.EntityType == "" && len(e.Properties) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", e.EntityType, e.Label)

	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, e.Properties[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// ---------------------------------------------------------------------------
// Math helpers
// ---------------------------------------------------------------------------

// cosineSimilarity computes the cosine similarity between two vectors.
// Vectors of different length cannot be compared.
func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return dot / denom, nil
}
