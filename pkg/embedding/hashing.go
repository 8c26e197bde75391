package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

const defaultDimensions = 256

// HashingModel embeds text with signed feature hashing of word unigrams and
// bigrams. Vectors are L2-normalized and compared by cosine similarity.
type HashingModel struct {
	dims int
}

// NewHashingModel returns a HashingModel with the given vector size.
func NewHashingModel(dims int) *HashingModel {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &HashingModel{dims: dims}
}

// Name includes the dimension count; vectors of different sizes never compare.
func (m *HashingModel) Name() string {
	return fmt.Sprintf("hashing/%d", m.dims)
}

// Embed returns the hashed feature vector for text.
func (m *HashingModel) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, m.dims)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		m.add(vec, "u:"+tok, 1)
		if i > 0 {
			m.add(vec, "b:"+tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Similarity is the cosine similarity of the two vectors.
func (m *HashingModel) Similarity(query, stored []float64) float64 {
	return Cosine(query, stored)
}

func (m *HashingModel) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(m.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
