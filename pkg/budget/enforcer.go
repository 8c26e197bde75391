package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/pario-ai/stagegate/pkg/metrics"
	"github.com/pario-ai/stagegate/pkg/models"
)

// Enforcer turns budget policies and the approved-token history into the
// token budget handed to the routing policy.
type Enforcer struct {
	policies []models.BudgetPolicy
	log      metrics.Log
	now      func() time.Time
}

// New creates an Enforcer with the given policies and metrics log.
func New(policies []models.BudgetPolicy, log metrics.Log) *Enforcer {
	return &Enforcer{policies: policies, log: log, now: time.Now}
}

// Remaining returns the smallest remaining allowance among the policies that
// apply to band, floored at zero. Zero also means no policy applies, which
// the routing policy treats as no budget.
func (e *Enforcer) Remaining(ctx context.Context, band models.Band) (int64, error) {
	statuses, err := e.statuses(ctx, e.applicable(band))
	if err != nil {
		return 0, err
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	remaining := statuses[0].Remaining
	for _, s := range statuses[1:] {
		remaining = min(remaining, s.Remaining)
	}
	return remaining, nil
}

// Status returns usage against every configured policy.
func (e *Enforcer) Status(ctx context.Context) ([]models.BudgetStatus, error) {
	return e.statuses(ctx, e.policies)
}

func (e *Enforcer) statuses(ctx context.Context, policies []models.BudgetPolicy) ([]models.BudgetStatus, error) {
	out := make([]models.BudgetStatus, 0, len(policies))
	for _, p := range policies {
		used, err := e.log.ApprovedTokens(ctx, p.Band, periodStart(p.Period, e.now()))
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return out, nil
}

func (e *Enforcer) applicable(band models.Band) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Band == "" || p.Band == band {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
