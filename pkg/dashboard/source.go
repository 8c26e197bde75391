package dashboard

import (
	"context"

	"github.com/pario-ai/stagegate/pkg/engine"
	"github.com/pario-ai/stagegate/pkg/metrics"
	"github.com/pario-ai/stagegate/pkg/models"
)

// Source supplies the figures shown on the dashboard.
type Source interface {
	CacheStats(ctx context.Context) (models.CacheStats, error)
	DecisionStats(ctx context.Context) ([]models.DecisionStat, error)
	BudgetStatus(ctx context.Context) ([]models.BudgetStatus, error)
	ApprovalRates(ctx context.Context) (map[models.Band]float64, error)
}

// EngineSource reads dashboard figures from a live engine and metrics log.
type EngineSource struct {
	Engine *engine.Engine
	Log    metrics.Log
}

func (s EngineSource) CacheStats(ctx context.Context) (models.CacheStats, error) {
	if s.Engine.Cache() == nil {
		return models.CacheStats{}, nil
	}
	return s.Engine.Cache().Stats(ctx)
}

func (s EngineSource) DecisionStats(ctx context.Context) ([]models.DecisionStat, error) {
	return s.Log.Stats(ctx)
}

func (s EngineSource) BudgetStatus(ctx context.Context) ([]models.BudgetStatus, error) {
	if s.Engine.Budget() == nil {
		return nil, nil
	}
	return s.Engine.Budget().Status(ctx)
}

func (s EngineSource) ApprovalRates(ctx context.Context) (map[models.Band]float64, error) {
	rates := make(map[models.Band]float64, 2)
	for _, b := range []models.Band{models.BandModerate, models.BandComplex} {
		r, err := s.Engine.Policy().ApprovalRate(ctx, b)
		if err != nil {
			return nil, err
		}
		rates[b] = r
	}
	return rates, nil
}
