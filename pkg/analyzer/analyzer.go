// Package analyzer reads the task analysis emitted by the upstream
// complexity analyzer.
package analyzer

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/stagegate/pkg/models"
)

// ErrInvalidJSON is returned for input that is not a JSON object.
var ErrInvalidJSON = errors.New("analysis is not a valid JSON object")

// Parse extracts a TaskAnalysis. Missing or non-numeric scores and token
// estimates become 0, which routes the task to the simple band.
func Parse(data []byte) (models.TaskAnalysis, error) {
	if !gjson.ValidBytes(data) {
		return models.TaskAnalysis{}, ErrInvalidJSON
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return models.TaskAnalysis{}, ErrInvalidJSON
	}

	return models.TaskAnalysis{
		Task:               doc.Get("task").String(),
		ComplexityScore:    int(number(first(doc, "complexity_score", "score"))),
		EstimatedTokens:    number(first(doc, "estimated_tokens", "tokens")),
		RecommendedPattern: first(doc, "recommended_pattern", "pattern").String(),
	}, nil
}

func first(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// number accepts JSON numbers and numeric strings, truncating fractions.
func number(r gjson.Result) int64 {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0
		}
		f = v
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int64(f)
}
