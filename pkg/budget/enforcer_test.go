package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/stagegate/pkg/metrics"
	"github.com/pario-ai/stagegate/pkg/models"
)

var testNow = time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*metrics.SQLiteLog, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	l, err := metrics.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, context.Background()
}

func approve(t *testing.T, l metrics.Log, band models.Band, tokens int64, at time.Time) {
	t.Helper()
	err := l.Append(context.Background(), models.Event{
		EventType:       models.EventRoutingDecision,
		Feature:         models.FeatureStage2,
		Decision:        models.DecisionAutoApprove,
		Band:            band,
		EstimatedTokens: tokens,
		CreatedAt:       at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func newEnforcer(policies []models.BudgetPolicy, l metrics.Log) *Enforcer {
	e := New(policies, l)
	e.now = func() time.Time { return testNow }
	return e
}

func TestRemainingNoPolicies(t *testing.T) {
	l, ctx := setup(t)
	e := newEnforcer(nil, l)

	got, err := e.Remaining(ctx, models.BandComplex)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("expected 0 without policies, got %d", got)
	}
}

func TestRemainingDaily(t *testing.T) {
	l, ctx := setup(t)
	approve(t, l, models.BandComplex, 300, testNow.Add(-time.Hour))
	approve(t, l, models.BandComplex, 5000, testNow.Add(-24*time.Hour)) // yesterday

	e := newEnforcer([]models.BudgetPolicy{
		{MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	got, err := e.Remaining(ctx, models.BandComplex)
	if err != nil {
		t.Fatal(err)
	}
	if got != 700 {
		t.Errorf("expected 700 remaining, got %d", got)
	}
}

func TestRemainingTakesMinimum(t *testing.T) {
	l, ctx := setup(t)
	approve(t, l, models.BandComplex, 400, testNow.Add(-time.Hour))
	approve(t, l, models.BandModerate, 100, testNow.Add(-time.Hour))
	approve(t, l, models.BandComplex, 2000, testNow.AddDate(0, 0, -3))

	e := newEnforcer([]models.BudgetPolicy{
		{MaxTokens: 10000, Period: models.BudgetMonthly},
		{Band: models.BandComplex, MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	got, err := e.Remaining(ctx, models.BandComplex)
	if err != nil {
		t.Fatal(err)
	}
	if got != 600 {
		t.Errorf("expected 600 remaining, got %d", got)
	}

	got, err = e.Remaining(ctx, models.BandModerate)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7500 {
		t.Errorf("expected 7500 remaining for moderate, got %d", got)
	}
}

func TestRemainingFlooredAtZero(t *testing.T) {
	l, ctx := setup(t)
	approve(t, l, models.BandComplex, 1500, testNow.Add(-time.Minute))

	e := newEnforcer([]models.BudgetPolicy{
		{MaxTokens: 1000, Period: models.BudgetDaily},
	}, l)

	got, err := e.Remaining(ctx, models.BandComplex)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("expected 0 remaining, got %d", got)
	}
}

func TestStatus(t *testing.T) {
	l, ctx := setup(t)
	approve(t, l, models.BandComplex, 250, testNow.Add(-time.Hour))

	e := newEnforcer([]models.BudgetPolicy{
		{MaxTokens: 1000, Period: models.BudgetDaily},
		{Band: models.BandModerate, MaxTokens: 500, Period: models.BudgetMonthly},
	}, l)

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Used != 250 || statuses[0].Remaining != 750 {
		t.Errorf("global policy: used=%d remaining=%d", statuses[0].Used, statuses[0].Remaining)
	}
	if statuses[1].Used != 0 || statuses[1].Remaining != 500 {
		t.Errorf("moderate policy: used=%d remaining=%d", statuses[1].Used, statuses[1].Remaining)
	}
}

func TestPeriodStart(t *testing.T) {
	daily := periodStart(models.BudgetDaily, testNow)
	if !daily.Equal(time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily start: %v", daily)
	}
	monthly := periodStart(models.BudgetMonthly, testNow)
	if !monthly.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly start: %v", monthly)
	}
}
