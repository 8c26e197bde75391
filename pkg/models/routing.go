package models

import "time"

// Band is a discrete complexity category derived from a complexity score.
type Band string

const (
	BandSimple      Band = "simple"
	BandModerate    Band = "moderate"
	BandComplex     Band = "complex"
	BandVeryComplex Band = "very_complex"
)

// Bands lists every band in ascending order of complexity.
var Bands = []Band{BandSimple, BandModerate, BandComplex, BandVeryComplex}

// ParseBand returns the Band named s.
func ParseBand(s string) (Band, bool) {
	for _, b := range Bands {
		if string(b) == s {
			return b, true
		}
	}
	return "", false
}

// Decision is the outcome for the stage 2 analysis path. The user_* values
// only appear in feedback events.
type Decision string

const (
	DecisionSkip        Decision = "skip"
	DecisionSuggest     Decision = "suggest"
	DecisionAutoApprove Decision = "auto_approve"
	DecisionUserApprove Decision = "user_approve"
	DecisionUserReject  Decision = "user_reject"
)

// TaskAnalysis is what the upstream analyzer reports about a task.
type TaskAnalysis struct {
	Task               string `json:"task,omitempty"`
	ComplexityScore    int    `json:"complexity_score"`
	EstimatedTokens    int64  `json:"estimated_tokens"`
	RecommendedPattern string `json:"recommended_pattern,omitempty"`
}

// RoutingDecision is the immutable result of one routing request.
type RoutingDecision struct {
	ID                 string    `json:"id"`
	Band               Band      `json:"band"`
	Decision           Decision  `json:"decision"`
	Reason             string    `json:"reason"`
	ComplexityScore    int       `json:"complexity_score"`
	EstimatedTokens    int64     `json:"estimated_tokens"`
	RecommendedPattern string    `json:"recommended_pattern,omitempty"`
	TokenBudget        int64     `json:"token_budget"`
	ApprovalRate       *float64  `json:"approval_rate,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}
