package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/stagegate/pkg/config"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float64{1, 2}, []float64{1, 2, 3}), "length mismatch")
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 1}), "zero vector")
	assert.Zero(t, Cosine(nil, nil))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"run", "the", "lint", "step", "v2"}, Tokenize("Run the LINT-step, v2!"))
	assert.Empty(t, Tokenize("  ...  "))
}

func TestHashingModelDeterministic(t *testing.T) {
	m := NewHashingModel(128)
	ctx := context.Background()

	a, err := m.Embed(ctx, "clean up merged branches")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "clean up merged branches")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
	assert.Equal(t, "hashing/128", m.Name())

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestHashingModelRanksParaphrases(t *testing.T) {
	m := NewHashingModel(0)
	ctx := context.Background()

	q, _ := m.Embed(ctx, "run the unit tests for the api package")
	near, _ := m.Embed(ctx, "run unit tests for the api package")
	far, _ := m.Embed(ctx, "deploy the frontend to staging")

	simNear := m.Similarity(q, near)
	simFar := m.Similarity(q, far)
	assert.Greater(t, simNear, 0.8)
	assert.Greater(t, simNear, simFar)
}

func TestHashingModelEmptyText(t *testing.T) {
	m := NewHashingModel(16)
	vec, err := m.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, m.Similarity(vec, vec))
}

func TestConfidenceModel(t *testing.T) {
	m := NewConfidenceModel(NewKeywordClassifier([]string{"lint", "test"}))
	ctx := context.Background()

	vec, err := m.Embed(ctx, "lint and test")
	require.NoError(t, err)
	require.Len(t, vec, 1)
	assert.InDelta(t, 2.0/3.0, vec[0], 1e-9)

	// The stored embedding is ignored by the legacy formula.
	assert.InDelta(t, 2.0/3.0*0.95, m.Similarity(vec, []float64{0.1}), 1e-9)
	assert.InDelta(t, 2.0/3.0*0.95, m.Similarity(vec, nil), 1e-9)
	assert.Zero(t, m.Similarity(nil, vec))
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil)
	got, err := c.Classify(context.Background(), "deploy release")
	require.NoError(t, err)
	assert.Equal(t, "automation", got.Label)
	assert.Equal(t, 1.0, got.Confidence)

	got, _ = c.Classify(context.Background(), "what is the weather")
	assert.Equal(t, "unknown", got.Label)
	assert.Zero(t, got.Confidence)
}

type slowModel struct{ HashingModel }

func (s *slowModel) Embed(ctx context.Context, _ string) ([]float64, error) {
	select {
	case <-time.After(time.Second):
		return []float64{1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWithTimeout(t *testing.T) {
	m := WithTimeout(&slowModel{}, 20*time.Millisecond)
	_, err := m.Embed(context.Background(), "anything")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	fast := NewHashingModel(8)
	assert.Same(t, Model(fast), WithTimeout(fast, 0))

	wrapped := WithTimeout(fast, time.Second)
	assert.Equal(t, "hashing/8", wrapped.Name())
	vec, err := wrapped.Embed(context.Background(), "lint")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestOpenAIModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "text-embedding-3-small" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.6,0.8]}],
			"usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer srv.Close()

	m, err := NewOpenAIModel(config.OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai/text-embedding-3-small", m.Name())

	vec, err := m.Embed(context.Background(), "run tests")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.8}, vec)
	assert.InDelta(t, 1.0, m.Similarity(vec, []float64{0.6, 0.8}), 1e-9)
}

func TestOpenAIModelRequiresKey(t *testing.T) {
	_, err := NewOpenAIModel(config.OpenAIConfig{})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()

	m, err := FromConfig(cfg.Cache, cfg.Embedding)
	require.NoError(t, err)
	assert.Equal(t, "hashing/256", m.Name())

	cfg.Cache.SimilarityModel = "confidence"
	m, err = FromConfig(cfg.Cache, cfg.Embedding)
	require.NoError(t, err)
	assert.Equal(t, "confidence", m.Name())

	cfg.Cache.SimilarityModel = "openai"
	_, err = FromConfig(cfg.Cache, cfg.Embedding)
	assert.Error(t, err, "missing api key")

	cfg.Cache.SimilarityModel = "tfidf"
	_, err = FromConfig(cfg.Cache, cfg.Embedding)
	assert.ErrorIs(t, err, ErrUnknownModel)
}
