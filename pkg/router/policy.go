package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pario-ai/stagegate/pkg/config"
	"github.com/pario-ai/stagegate/pkg/metrics"
	"github.com/pario-ai/stagegate/pkg/models"
)

// Decision reasons.
const (
	ReasonTooSimple          = "complexity too low for heavy analysis"
	ReasonNeedsHuman         = "always requires human approval"
	ReasonInsufficientBudget = "insufficient token budget"
	ReasonHistoryUnavailable = "approval history unavailable"
)

// Policy decides whether the stage 2 analysis path should be skipped,
// suggested to a human or auto-approved. Every decision it makes is
// appended to the metrics log, which in turn feeds its approval-rate gate.
type Policy struct {
	cfg config.RoutingConfig
	log metrics.Log
	now func() time.Time
}

// New creates a Policy from the given configuration and metrics log.
func New(cfg config.RoutingConfig, log metrics.Log) *Policy {
	return &Policy{cfg: cfg, log: log, now: time.Now}
}

// SetClock replaces the wall clock used for timestamps and the approval window.
func (p *Policy) SetClock(now func() time.Time) {
	p.now = now
}

// Band maps a complexity score to its band. A score on a threshold belongs
// to the higher band.
func (p *Policy) Band(score int) models.Band {
	t := p.cfg.Bands
	switch {
	case score < t.Moderate:
		return models.BandSimple
	case score < t.Complex:
		return models.BandModerate
	case score < t.VeryComplex:
		return models.BandComplex
	default:
		return models.BandVeryComplex
	}
}

// Decide routes a task. The returned decision is valid even when err is
// non-nil; err then reports that the decision could not be logged.
func (p *Policy) Decide(ctx context.Context, task models.TaskAnalysis, tokenBudget int64) (models.RoutingDecision, error) {
	band := p.Band(task.ComplexityScore)
	d := models.RoutingDecision{
		ID:                 uuid.NewString(),
		Band:               band,
		ComplexityScore:    task.ComplexityScore,
		EstimatedTokens:    task.EstimatedTokens,
		RecommendedPattern: task.RecommendedPattern,
		TokenBudget:        tokenBudget,
		RecordedAt:         p.now(),
	}

	switch band {
	case models.BandSimple:
		d.Decision, d.Reason = models.DecisionSkip, ReasonTooSimple
	case models.BandVeryComplex:
		d.Decision, d.Reason = models.DecisionSuggest, ReasonNeedsHuman
	default:
		p.gate(ctx, &d)
	}

	logrus.WithFields(logrus.Fields{
		"band":     d.Band,
		"score":    d.ComplexityScore,
		"tokens":   d.EstimatedTokens,
		"budget":   d.TokenBudget,
		"decision": d.Decision,
	}).Info("[ROUTER] " + d.Reason)

	if err := p.log.Append(ctx, models.Event{
		ID:                 d.ID,
		EventType:          models.EventRoutingDecision,
		Feature:            models.FeatureStage2,
		Decision:           d.Decision,
		Band:               d.Band,
		ComplexityScore:    d.ComplexityScore,
		EstimatedTokens:    d.EstimatedTokens,
		RecommendedPattern: d.RecommendedPattern,
		Reason:             d.Reason,
		CreatedAt:          d.RecordedAt,
	}); err != nil {
		return d, fmt.Errorf("record decision: %w", err)
	}
	return d, nil
}

// gate applies the budget and auto-approval gates for the moderate and
// complex bands.
func (p *Policy) gate(ctx context.Context, d *models.RoutingDecision) {
	if d.Band == models.BandComplex && (d.TokenBudget <= 0 || d.TokenBudget < d.EstimatedTokens) {
		d.Decision, d.Reason = models.DecisionSuggest, ReasonInsufficientBudget
		return
	}
	if !p.cfg.AutoApprove(d.Band) {
		d.Decision = models.DecisionSuggest
		d.Reason = fmt.Sprintf("auto-approval disabled for %s band", d.Band)
		return
	}

	rate, err := p.ApprovalRate(ctx, d.Band)
	if err != nil {
		logrus.WithError(err).WithField("band", d.Band).Warn("[ROUTER] cannot read approval history, falling back to suggest")
		d.Decision, d.Reason = models.DecisionSuggest, ReasonHistoryUnavailable
		return
	}
	d.ApprovalRate = &rate

	threshold := p.cfg.ApprovalRateThreshold
	if rate >= threshold {
		d.Decision = models.DecisionAutoApprove
		d.Reason = fmt.Sprintf("approval rate %.2f meets threshold %.2f", rate, threshold)
		return
	}
	d.Decision = models.DecisionSuggest
	d.Reason = fmt.Sprintf("approval rate %.2f below threshold %.2f", rate, threshold)
}

// ApprovalRate returns approvals / (approvals + rejections) for band over
// the configured window, or 0 when there is no history.
func (p *Policy) ApprovalRate(ctx context.Context, band models.Band) (float64, error) {
	var since time.Time
	if p.cfg.ApprovalWindow > 0 {
		since = p.now().Add(-p.cfg.ApprovalWindow)
	}
	approvals, rejections, err := p.log.ApprovalCounts(ctx, band, since)
	if err != nil {
		return 0, err
	}
	total := approvals + rejections
	if total == 0 {
		return 0, nil
	}
	return float64(approvals) / float64(total), nil
}

// RecordFeedback logs a human verdict on a suggested or auto-approved run.
func (p *Policy) RecordFeedback(ctx context.Context, band models.Band, approved bool, note string) error {
	if _, ok := models.ParseBand(string(band)); !ok {
		return fmt.Errorf("unknown band %q", band)
	}
	d := models.DecisionUserReject
	if approved {
		d = models.DecisionUserApprove
	}
	ev := models.Event{
		EventType: models.EventRoutingFeedback,
		Feature:   models.FeatureStage2,
		Decision:  d,
		Band:      band,
		CreatedAt: p.now(),
	}
	if note != "" {
		ev.Metadata = map[string]string{"note": note}
	}
	if err := p.log.Append(ctx, ev); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	logrus.WithFields(logrus.Fields{"band": band, "decision": d}).Info("[ROUTER] feedback recorded")
	return nil
}
