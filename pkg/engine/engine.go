// Package engine ties the cache store, routing policy, budget enforcer and
// write lock into the single decision-and-cache entry point.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/stagegate/pkg/budget"
	"github.com/pario-ai/stagegate/pkg/cache/sqlite"
	"github.com/pario-ai/stagegate/pkg/lock"
	"github.com/pario-ai/stagegate/pkg/models"
	"github.com/pario-ai/stagegate/pkg/router"
)

// ErrCacheDisabled is returned by cache writes on an engine built without a
// cache.
var ErrCacheDisabled = errors.New("cache is disabled")

// cacheLock is the lock name guarding every cache mutation.
const cacheLock = "cache"

// Source tells where a response came from.
type Source string

const (
	SourceExact    Source = "exact"
	SourceSemantic Source = "semantic"
	SourceComputed Source = "computed"
	SourceNone     Source = "none"
)

// Request describes one unit of work. Key addresses the exact tier and
// Query the semantic tier; either may be empty.
type Request struct {
	Key   string
	Query string
	Task  models.TaskAnalysis
	// TokenBudget overrides the enforcer's remaining budget when set.
	TokenBudget *int64
}

// Result is the outcome of Resolve. Decision is nil on a cache hit.
type Result struct {
	Response []byte                  `json:"response,omitempty"`
	Source   Source                  `json:"source"`
	Decision *models.RoutingDecision `json:"decision,omitempty"`
	Stored   bool                    `json:"stored"`
}

// ComputeFunc runs the expensive operation once a decision has been made.
type ComputeFunc func(ctx context.Context, d models.RoutingDecision) ([]byte, error)

// Engine is the decision-and-cache facade.
type Engine struct {
	cache  *sqlite.Cache
	policy *router.Policy
	budget *budget.Enforcer
	locker lock.Locker
}

// New creates an Engine. cache and enforcer may be nil; a nil locker
// means an in-process lock.
func New(cache *sqlite.Cache, policy *router.Policy, enforcer *budget.Enforcer, locker lock.Locker) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Engine{cache: cache, policy: policy, budget: enforcer, locker: locker}
}

// Lookup consults the exact tier, then the semantic tier. Cache failures
// are logged and treated as misses.
func (e *Engine) Lookup(ctx context.Context, key, query string) ([]byte, Source, bool) {
	if e.cache == nil {
		return nil, SourceNone, false
	}
	if key != "" {
		resp, ok, err := e.cache.LookupExact(ctx, key)
		if err != nil {
			logrus.WithError(err).Warn("[ENGINE] exact lookup failed")
		} else if ok {
			return resp, SourceExact, true
		}
	}
	if query != "" {
		resp, ok, err := e.cache.LookupSemantic(ctx, query)
		switch {
		case errors.Is(err, sqlite.ErrNoModel):
		case err != nil:
			logrus.WithError(err).Warn("[ENGINE] semantic lookup failed")
		case ok:
			return resp, SourceSemantic, true
		}
	}
	return nil, SourceNone, false
}

// Resolve returns a cached response when one exists. Otherwise it asks the
// routing policy for a decision, runs compute and caches the response when
// the decision needs no human (skip or auto_approve). A nil compute returns
// the decision alone.
func (e *Engine) Resolve(ctx context.Context, req Request, compute ComputeFunc) (Result, error) {
	if resp, src, ok := e.Lookup(ctx, req.Key, req.Query); ok {
		return Result{Response: resp, Source: src}, nil
	}

	d := e.Decide(ctx, req.Task, req.TokenBudget)
	res := Result{Source: SourceNone, Decision: &d}
	if compute == nil {
		return res, nil
	}

	resp, err := compute(ctx, d)
	if err != nil {
		return res, fmt.Errorf("compute: %w", err)
	}
	res.Response = resp
	res.Source = SourceComputed

	if !cacheable(d.Decision) || e.cache == nil {
		return res, nil
	}
	stored, err := e.store(ctx, req.Key, req.Query, resp)
	if err != nil {
		logrus.WithError(err).Warn("[ENGINE] storing response failed")
	}
	res.Stored = stored
	return res, nil
}

// Decide resolves the token budget and routes task. Budget and logging
// failures are logged; the decision is always usable.
func (e *Engine) Decide(ctx context.Context, task models.TaskAnalysis, tokenBudget *int64) models.RoutingDecision {
	var b int64
	switch {
	case tokenBudget != nil:
		b = *tokenBudget
	case e.budget != nil:
		remaining, err := e.budget.Remaining(ctx, e.policy.Band(task.ComplexityScore))
		if err != nil {
			logrus.WithError(err).Warn("[ENGINE] budget unavailable, treating as none")
		}
		b = remaining
	}

	d, err := e.policy.Decide(ctx, task, b)
	if err != nil {
		logrus.WithError(err).Warn("[ENGINE] decision not logged")
	}
	return d
}

func cacheable(d models.Decision) bool {
	return d == models.DecisionSkip || d == models.DecisionAutoApprove
}

// store writes resp to the tiers selected by key and query and reports
// whether any tier was written.
func (e *Engine) store(ctx context.Context, key, query string, resp []byte) (bool, error) {
	if key == "" && query == "" {
		return false, nil
	}
	unlock, err := e.locker.Lock(ctx, cacheLock)
	if err != nil {
		return false, err
	}
	defer unlock()

	stored := false
	if key != "" {
		if err := e.cache.StoreExact(ctx, key, resp); err != nil {
			return false, err
		}
		stored = true
	}
	if query != "" {
		err := e.cache.StoreSemantic(ctx, query, key, resp)
		switch {
		case errors.Is(err, sqlite.ErrNoModel):
		case err != nil:
			return stored, err
		default:
			stored = true
		}
	}
	return stored, nil
}

// Put stores resp in the exact tier under the write lock.
func (e *Engine) Put(ctx context.Context, key string, resp []byte) error {
	if e.cache == nil {
		return ErrCacheDisabled
	}
	if key == "" {
		return sqlite.ErrInvalidArgument
	}
	_, err := e.store(ctx, key, "", resp)
	return err
}

// Remember stores resp in the semantic tier for query under the write lock.
func (e *Engine) Remember(ctx context.Context, query, key string, resp []byte) error {
	if e.cache == nil {
		return ErrCacheDisabled
	}
	unlock, err := e.locker.Lock(ctx, cacheLock)
	if err != nil {
		return err
	}
	defer unlock()
	return e.cache.StoreSemantic(ctx, query, key, resp)
}

// Cleanup runs a cache cleanup under the write lock.
func (e *Engine) Cleanup(ctx context.Context, mode models.CleanupMode) (models.CleanupResult, error) {
	if e.cache == nil {
		return models.CleanupResult{}, ErrCacheDisabled
	}
	unlock, err := e.locker.Lock(ctx, cacheLock)
	if err != nil {
		return models.CleanupResult{}, err
	}
	defer unlock()
	return e.cache.Cleanup(ctx, mode)
}

// Cache returns the cache store, or nil when caching is disabled.
func (e *Engine) Cache() *sqlite.Cache { return e.cache }

// Policy returns the routing policy.
func (e *Engine) Policy() *router.Policy { return e.policy }

// Budget returns the budget enforcer, or nil when budgets are disabled.
func (e *Engine) Budget() *budget.Enforcer { return e.budget }
