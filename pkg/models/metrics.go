package models

import "time"

// Metrics log event types and features written by the routing policy.
const (
	EventRoutingDecision = "auto_routing_decision"
	EventRoutingFeedback = "auto_routing_feedback"

	FeatureStage2 = "stage2_analysis"
)

// Event is a single append-only metrics log record.
type Event struct {
	ID                 string            `json:"id"`
	EventType          string            `json:"event_type"`
	Feature            string            `json:"feature"`
	Decision           Decision          `json:"decision"`
	Band               Band              `json:"complexity_band,omitempty"`
	ComplexityScore    int               `json:"complexity_score"`
	EstimatedTokens    int64             `json:"estimated_tokens"`
	RecommendedPattern string            `json:"recommended_pattern,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// EventQueryOpts specifies filters for querying the metrics log.
type EventQueryOpts struct {
	EventType string
	Feature   string
	Decision  Decision
	Band      Band
	Since     time.Time
	Until     time.Time
	Limit     int
}

// DecisionStat holds the number of logged decisions for a band/decision pair.
type DecisionStat struct {
	Band     Band     `json:"band"`
	Decision Decision `json:"decision"`
	Count    int64    `json:"count"`
}
