// Package embedding turns queries into comparable fingerprints for the
// semantic cache tier.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/pario-ai/stagegate/pkg/config"
)

var (
	// ErrUnknownModel is returned by FromConfig for an unsupported model name.
	ErrUnknownModel = errors.New("unknown similarity model")

	// ErrEmptyEmbedding is returned when a provider yields no vector.
	ErrEmptyEmbedding = errors.New("empty embedding")
)

// Model computes embeddings and compares them. Embed must be deterministic
// for a given Name so that stored fingerprints stay comparable.
type Model interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float64, error)
	// Similarity scores a query embedding against a stored embedding.
	Similarity(query, stored []float64) float64
}

// Classification is the output of a Classifier.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier assigns a label and confidence to a query.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either has zero magnitude.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FromConfig builds the similarity model selected by cfg, bounded by the
// configured embed timeout.
func FromConfig(cfg config.CacheConfig, emb config.EmbeddingConfig) (Model, error) {
	var m Model
	switch cfg.SimilarityModel {
	case "", "hashing":
		m = NewHashingModel(cfg.Dimensions)
	case "confidence":
		m = NewConfidenceModel(NewKeywordClassifier(cfg.Keywords))
	case "openai":
		om, err := NewOpenAIModel(emb.OpenAI)
		if err != nil {
			return nil, err
		}
		m = om
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, cfg.SimilarityModel)
	}
	return WithTimeout(m, cfg.EmbedTimeout), nil
}
