package embedding

import (
	"context"
	"fmt"
)

// confidenceScale is the factor the legacy formula applies to confidence.
const confidenceScale = 0.95

// ConfidenceModel reproduces the original placeholder: the embedding is the
// classifier confidence, and similarity is that confidence scaled by 0.95
// regardless of the stored entry. Every stored entry therefore scores the
// same and the first one wins.
type ConfidenceModel struct {
	classifier Classifier
}

// NewConfidenceModel wraps c.
func NewConfidenceModel(c Classifier) *ConfidenceModel {
	return &ConfidenceModel{classifier: c}
}

// Name implements Model.
func (m *ConfidenceModel) Name() string { return "confidence" }

// Embed classifies text and returns its confidence as a one-element vector.
func (m *ConfidenceModel) Embed(ctx context.Context, text string) ([]float64, error) {
	c, err := m.classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return []float64{c.Confidence}, nil
}

// Similarity implements Model.
func (m *ConfidenceModel) Similarity(query, _ []float64) float64 {
	if len(query) == 0 {
		return 0
	}
	return query[0] * confidenceScale
}

// DefaultKeywords is the vocabulary used when none is configured.
var DefaultKeywords = []string{
	"analyze", "build", "cleanup", "commit", "deploy", "fix", "format",
	"lint", "refactor", "release", "review", "test",
}

// KeywordClassifier scores a query by the share of its tokens that appear
// in a fixed automation vocabulary.
type KeywordClassifier struct {
	vocab map[string]bool
}

// NewKeywordClassifier builds a classifier over keywords, or DefaultKeywords
// when keywords is empty.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	vocab := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		for _, tok := range Tokenize(k) {
			vocab[tok] = true
		}
	}
	return &KeywordClassifier{vocab: vocab}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, text string) (Classification, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return Classification{Label: "unknown"}, nil
	}
	matched := 0
	for _, tok := range tokens {
		if k.vocab[tok] {
			matched++
		}
	}
	c := Classification{Label: "unknown", Confidence: float64(matched) / float64(len(tokens))}
	if matched > 0 {
		c.Label = "automation"
	}
	return c, nil
}
