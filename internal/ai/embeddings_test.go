package ai

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/vyuha-explorer/internal/storage"
)

// fakeEmbedder maps text to a vector by keyword so tests can reason about
// which entities end up close to each other.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, _ string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for k := range f.fail {
		if strings.Contains(text, k) {
			return nil, errors.New("provider down")
		}
	}
	switch {
	case strings.Contains(text, "vessel"):
		return []float32{1, 0.1, 0}, nil
	case strings.Contains(text, "mission"):
		return []float32{0, 1, 0.1}, nil
	default:
		return []float32{0.1, 0, 1}, nil
	}
}

func (f *fakeEmbedder) Name() string  { return "fake" }
func (f *fakeEmbedder) Model() string { return "fake-embed" }
func (f *fakeEmbedder) Close() error  { return nil }

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func buildTestStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "vyuha.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SaveEntities(context.Background(), []*storage.Entity{
		{ID: "v1", EntityType: "vessel", Label: "Northern Aurora", Properties: map[string]any{"flag": "NO"}},
		{ID: "v2", EntityType: "vessel", Label: "Southern Cross"},
		{ID: "m1", EntityType: "mission", Label: "Patrol North"},
		{ID: "p1", EntityType: "port", Label: "Harbor 7"},
	}))
	return s
}

func TestEmbedAll_EmbedsEveryEntity(t *testing.T) {
	store := buildTestStore(t)
	emb := &fakeEmbedder{}
	svc, err := NewEmbeddingService(context.Background(), emb, store)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.CacheSize())

	var last EmbedProgress
	var updates int
	prog, err := svc.EmbedAll(context.Background(), false, func(p EmbedProgress) {
		updates++
		last = p
	})
	require.NoError(t, err)
	assert.Equal(t, EmbedProgress{Total: 4, Completed: 4}, prog)
	assert.Equal(t, prog, last)
	assert.Equal(t, 4, updates)
	assert.Equal(t, 4, svc.CacheSize())

	// A second pass skips everything without calling the provider.
	prog, err = svc.EmbedAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, prog.Skipped)
	assert.Equal(t, 4, emb.Calls())

	// A fresh service sees the persisted vectors.
	again, err := NewEmbeddingService(context.Background(), nil, store)
	require.NoError(t, err)
	assert.Equal(t, 4, again.CacheSize())
}

func TestEmbedAll_CountsFailures(t *testing.T) {
	store := buildTestStore(t)
	svc, err := NewEmbeddingService(context.Background(), &fakeEmbedder{fail: map[string]bool{"port": true}}, store)
	require.NoError(t, err)

	prog, err := svc.EmbedAll(context.Background(), false, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, prog.Completed)
	assert.Equal(t, 1, prog.Errors)
	assert.Equal(t, 3, svc.CacheSize())
}

func TestEmbedEntity(t *testing.T) {
	store := buildTestStore(t)
	emb := &fakeEmbedder{}
	svc, err := NewEmbeddingService(context.Background(), emb, store)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := svc.EmbedEntity(ctx, "v1", false)
	require.NoError(t, err)
	assert.Equal(t, "fake-embed", got.Model)
	assert.Equal(t, 3, got.Dimensions)
	assert.Equal(t, "[vessel] Northern Aurora\nflag: NO", got.Content)

	_, err = svc.EmbedEntity(ctx, "v1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.Calls())

	_, err = svc.EmbedEntity(ctx, "v1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.Calls())

	_, err = svc.EmbedEntity(ctx, "ghost", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEmbedEntity_WithoutProvider(t *testing.T) {
	svc, err := NewEmbeddingService(context.Background(), nil, buildTestStore(t))
	require.NoError(t, err)
	_, err = svc.EmbedEntity(context.Background(), "v1", false)
	assert.ErrorIs(t, err, ErrNoEmbedder)
	_, err = svc.SimilaritySearch(context.Background(), "north", 3)
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestSimilar(t *testing.T) {
	store := buildTestStore(t)
	svc, err := NewEmbeddingService(context.Background(), &fakeEmbedder{}, store)
	require.NoError(t, err)
	_, err = svc.EmbedAll(context.Background(), false, nil)
	require.NoError(t, err)

	got, err := svc.Similar("v1", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].EntityID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)

	got, err = svc.Similar("v1", 2, -1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v2", got[0].EntityID)
	for _, r := range got {
		assert.NotEqual(t, "v1", r.EntityID)
	}

	_, err = svc.Similar("ghost", 5, 0)
	assert.ErrorIs(t, err, ErrNotEmbedded)
}

func TestSimilaritySearch_LabelsResults(t *testing.T) {
	store := buildTestStore(t)
	svc, err := NewEmbeddingService(context.Background(), &fakeEmbedder{}, store)
	require.NoError(t, err)
	_, err = svc.EmbedAll(context.Background(), false, nil)
	require.NoError(t, err)

	got, err := svc.SimilaritySearch(context.Background(), "which mission", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].EntityID)
	assert.Equal(t, "Patrol North", got[0].Label)
	assert.Equal(t, "mission", got[0].EntityType)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1, false},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, false},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0, false},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
