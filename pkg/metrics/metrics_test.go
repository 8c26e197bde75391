package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/stagegate/pkg/models"
)

func newTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "metrics_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func decision(band models.Band, d models.Decision, tokens int64, at time.Time) models.Event {
	return models.Event{
		EventType:       models.EventRoutingDecision,
		Feature:         models.FeatureStage2,
		Decision:        d,
		Band:            band,
		EstimatedTokens: tokens,
		CreatedAt:       at,
	}
}

func feedback(band models.Band, approved bool, at time.Time) models.Event {
	d := models.DecisionUserReject
	if approved {
		d = models.DecisionUserApprove
	}
	return models.Event{
		EventType: models.EventRoutingFeedback,
		Feature:   models.FeatureStage2,
		Decision:  d,
		Band:      band,
		CreatedAt: at,
	}
}

func TestAppendAssignsIDAndTime(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, models.Event{
		EventType: models.EventRoutingDecision,
		Feature:   models.FeatureStage2,
		Decision:  models.DecisionSkip,
		Band:      models.BandSimple,
		Metadata:  map[string]string{"note": "first"},
	}))

	events, err := l.Query(ctx, models.EventQueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
	assert.Equal(t, "first", events[0].Metadata["note"])
}

func TestQueryFiltersAndOrder(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, decision(models.BandSimple, models.DecisionSkip, 0, base)))
	require.NoError(t, l.Append(ctx, decision(models.BandComplex, models.DecisionSuggest, 900, base.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, decision(models.BandComplex, models.DecisionAutoApprove, 500, base.Add(2*time.Hour))))

	all, err := l.Query(ctx, models.EventQueryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.DecisionAutoApprove, all[0].Decision)
	assert.Equal(t, models.DecisionSkip, all[2].Decision)

	complexOnly, err := l.Query(ctx, models.EventQueryOpts{Band: models.BandComplex})
	require.NoError(t, err)
	assert.Len(t, complexOnly, 2)

	windowed, err := l.Query(ctx, models.EventQueryOpts{Since: base.Add(30 * time.Minute), Until: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, int64(900), windowed[0].EstimatedTokens)

	limited, err := l.Query(ctx, models.EventQueryOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestApprovalCounts(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, decision(models.BandModerate, models.DecisionAutoApprove, 10, base)))
	require.NoError(t, l.Append(ctx, feedback(models.BandModerate, true, base.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, feedback(models.BandModerate, false, base.Add(2*time.Hour))))
	require.NoError(t, l.Append(ctx, decision(models.BandModerate, models.DecisionSuggest, 10, base)))
	require.NoError(t, l.Append(ctx, feedback(models.BandComplex, false, base)))

	approvals, rejections, err := l.ApprovalCounts(ctx, models.BandModerate, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), approvals)
	assert.Equal(t, int64(1), rejections)

	approvals, rejections, err = l.ApprovalCounts(ctx, models.BandModerate, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, approvals)
	assert.Equal(t, int64(1), rejections)

	approvals, rejections, err = l.ApprovalCounts(ctx, models.BandVeryComplex, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, approvals)
	assert.Zero(t, rejections)
}

func TestApprovedTokens(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(ctx, decision(models.BandComplex, models.DecisionAutoApprove, 500, base)))
	require.NoError(t, l.Append(ctx, decision(models.BandModerate, models.DecisionAutoApprove, 200, base.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, decision(models.BandComplex, models.DecisionSuggest, 9000, base)))

	total, err := l.ApprovedTokens(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(700), total)

	total, err = l.ApprovedTokens(ctx, models.BandComplex, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)

	total, err = l.ApprovedTokens(ctx, "", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(200), total)
}

func TestStats(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Append(ctx, decision(models.BandSimple, models.DecisionSkip, 0, now)))
	require.NoError(t, l.Append(ctx, decision(models.BandSimple, models.DecisionSkip, 0, now)))
	require.NoError(t, l.Append(ctx, decision(models.BandComplex, models.DecisionSuggest, 0, now)))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.DecisionStat{
		{Band: models.BandComplex, Decision: models.DecisionSuggest, Count: 1},
		{Band: models.BandSimple, Decision: models.DecisionSkip, Count: 2},
	}, stats)
}

func TestAppendOnlyAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	l1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l1.Append(ctx, decision(models.BandSimple, models.DecisionSkip, 0, time.Now())))
	require.NoError(t, l1.Close())

	l2, err := New(path)
	require.NoError(t, err)
	defer l2.Close()
	require.NoError(t, l2.Append(ctx, decision(models.BandSimple, models.DecisionSkip, 0, time.Now())))

	events, err := l2.Query(ctx, models.EventQueryOpts{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestQuerySkipsUnreadableMetadata(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	ev := feedback(models.BandModerate, true, time.Now())
	ev.Metadata = map[string]string{"note": "ok"}
	require.NoError(t, l.Append(ctx, ev))
	_, err := l.db.ExecContext(ctx, `UPDATE events SET metadata = '{not json'`)
	require.NoError(t, err)

	events, err := l.Query(ctx, models.EventQueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Metadata)
	assert.Equal(t, models.DecisionUserApprove, events[0].Decision)
}
