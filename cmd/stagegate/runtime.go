package main

import (
	"fmt"

	"github.com/pario-ai/stagegate/pkg/budget"
	"github.com/pario-ai/stagegate/pkg/cache/sqlite"
	"github.com/pario-ai/stagegate/pkg/embedding"
	"github.com/pario-ai/stagegate/pkg/engine"
	"github.com/pario-ai/stagegate/pkg/lock"
	"github.com/pario-ai/stagegate/pkg/metrics"
	"github.com/pario-ai/stagegate/pkg/router"
)

// runtime holds the opened stores for one command invocation.
type runtime struct {
	engine  *engine.Engine
	log     *metrics.SQLiteLog
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// open builds the engine from the loaded config.
func (a *app) open() (*runtime, error) {
	cfg := a.cfg
	rt := &runtime{}

	log, err := metrics.New(cfg.Metrics.DBPath)
	if err != nil {
		return nil, err
	}
	rt.log = log
	rt.closers = append(rt.closers, func() { _ = log.Close() })

	var cache *sqlite.Cache
	if cfg.Cache.Enabled {
		model, err := embedding.FromConfig(cfg.Cache, cfg.Embedding)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("similarity model: %w", err)
		}
		cache, err = sqlite.New(cfg.Cache.DBPath, sqlite.Options{
			TTL:                 cfg.Cache.TTL,
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			Model:               model,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = cache.Close() })
	}

	var enforcer *budget.Enforcer
	if cfg.Budget.Enabled {
		enforcer = budget.New(cfg.Budget.Policies, log)
	}

	locker, closeLock, err := lock.FromConfig(cfg.Lock)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeLock)

	rt.engine = engine.New(cache, router.New(cfg.AutoRouting, log), enforcer, locker)
	return rt, nil
}
