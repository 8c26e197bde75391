package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/stagegate/pkg/embedding"
	"github.com/pario-ai/stagegate/pkg/models"
)

// DefaultSimilarityThreshold applies when Options.SimilarityThreshold is zero.
const DefaultSimilarityThreshold = 0.90

// Options configures a Cache.
type Options struct {
	TTL time.Duration
	// SimilarityThreshold is the minimum score for a semantic hit. Zero
	// selects DefaultSimilarityThreshold, so a threshold of exactly 0
	// cannot be expressed.
	SimilarityThreshold float64
	// Model embeds semantic queries. Exact-only caches may leave it nil.
	Model embedding.Model
	Clock func() time.Time
}

// Cache is a two-tier response cache backed by SQLite. The exact tier is
// keyed by an opaque string; the semantic tier is searched by embedding
// similarity. Entries expire lazily: an expired row is a miss but stays on
// disk until Cleanup removes it.
type Cache struct {
	db        *sql.DB
	ttl       time.Duration
	threshold float64
	model     embedding.Model
	now       func() time.Time
	hits      atomic.Int64
	misses    atomic.Int64
}

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, opts Options) (*Cache, error) {
	if opts.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl %s", ErrInvalidArgument, opts.TTL)
	}
	threshold := opts.SimilarityThreshold
	if threshold == 0 {
		threshold = DefaultSimilarityThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v outside [0,1]", ErrInvalidArgument, threshold)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	db, err := openOrReinit(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	return &Cache{
		db:        db,
		ttl:       opts.TTL,
		threshold: threshold,
		model:     opts.Model,
		now:       now,
	}, nil
}

// HashKey derives an exact-tier key from its parts.
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Threshold returns the semantic similarity threshold.
func (c *Cache) Threshold() float64 { return c.threshold }

// cutoff is the oldest created_at that is still fresh.
func (c *Cache) cutoff() int64 {
	return c.now().Add(-c.ttl).UnixNano()
}

// LookupExact returns the response stored under key. A hit increments the
// entry's access count.
func (c *Cache) LookupExact(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var response []byte
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT response, created_at FROM exact_entries WHERE cache_key = ?`, key,
	).Scan(&response, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if createdAt < c.cutoff() {
		c.misses.Add(1)
		return nil, false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE exact_entries SET access_count = access_count + 1 WHERE cache_key = ?`, key,
	); err != nil {
		return nil, false, fmt.Errorf("cache touch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("cache lookup commit: %w", err)
	}

	c.hits.Add(1)
	return response, true, nil
}

// Peek returns the exact entry under key without touching its access
// count. Expired entries are returned too.
func (c *Cache) Peek(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	if key == "" {
		return models.CacheEntry{}, false, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	var e models.CacheEntry
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT cache_key, response, created_at, access_count FROM exact_entries WHERE cache_key = ?`, key,
	).Scan(&e.Key, &e.Response, &createdAt, &e.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("cache peek: %w", err)
	}
	e.Timestamp = time.Unix(0, createdAt)
	return e, true, nil
}

// Expired reports whether an entry written at ts is past the TTL.
func (c *Cache) Expired(ts time.Time) bool {
	return c.now().Sub(ts) > c.ttl
}

// StoreExact writes response under key, replacing any previous entry.
func (c *Cache) StoreExact(ctx context.Context, key string, response []byte) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO exact_entries (cache_key, response, created_at, access_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   response = excluded.response,
		   created_at = excluded.created_at,
		   access_count = 1`,
		key, response, c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// LookupSemantic embeds query and returns the most similar fresh entry
// produced by the same model, if its similarity reaches the threshold.
// The earliest stored entry wins ties.
func (c *Cache) LookupSemantic(ctx context.Context, query string) ([]byte, bool, error) {
	if c.model == nil {
		return nil, false, ErrNoModel
	}
	if strings.TrimSpace(query) == "" {
		return nil, false, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}

	vec, err := c.model.Embed(ctx, query)
	if err != nil {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("embed query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, embedding, response FROM semantic_entries
		 WHERE model = ? AND created_at >= ?
		 ORDER BY id ASC`,
		c.model.Name(), c.cutoff(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("semantic scan: %w", err)
	}
	defer rows.Close()

	var (
		best    []byte
		bestSim float64
		found   bool
		bestID  int64
	)
	for rows.Next() {
		var id int64
		var raw string
		var response []byte
		if err := rows.Scan(&id, &raw, &response); err != nil {
			return nil, false, fmt.Errorf("semantic scan: %w", err)
		}
		var stored []float64
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			logrus.WithFields(logrus.Fields{"id": id, "error": err}).Warn("[CACHE] skipping unreadable embedding")
			continue
		}
		sim := c.model.Similarity(vec, stored)
		if !found || sim > bestSim {
			best, bestSim, bestID, found = response, sim, id, true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("semantic scan: %w", err)
	}

	if !found || bestSim < c.threshold {
		c.misses.Add(1)
		return nil, false, nil
	}

	logrus.WithFields(logrus.Fields{
		"id":         bestID,
		"similarity": bestSim,
	}).Debug("[CACHE] semantic hit")
	c.hits.Add(1)
	return best, true, nil
}

// StoreSemantic appends a semantic entry for query. Entries are never
// deduplicated.
func (c *Cache) StoreSemantic(ctx context.Context, query, key string, response []byte) error {
	if c.model == nil {
		return ErrNoModel
	}
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}

	vec, err := c.model.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO semantic_entries (cache_key, query, model, embedding, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, query, c.model.Name(), string(raw), response, c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("semantic store: %w", err)
	}
	return nil
}

// Cleanup removes expired entries from both tiers, or everything when mode
// is CleanupAll.
func (c *Cache) Cleanup(ctx context.Context, mode models.CleanupMode) (models.CleanupResult, error) {
	var where string
	var args []any
	switch mode {
	case models.CleanupExpired:
		where = ` WHERE created_at < ?`
		args = []any{c.cutoff()}
	case models.CleanupAll:
	default:
		return models.CleanupResult{}, fmt.Errorf("%w: cleanup mode %q", ErrInvalidArgument, mode)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return models.CleanupResult{}, fmt.Errorf("cache cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var res models.CleanupResult
	for _, t := range []struct {
		table string
		n     *int64
	}{
		{"exact_entries", &res.Exact},
		{"semantic_entries", &res.Semantic},
	} {
		r, err := tx.ExecContext(ctx, `DELETE FROM `+t.table+where, args...)
		if err != nil {
			return models.CleanupResult{}, fmt.Errorf("cache cleanup %s: %w", t.table, err)
		}
		*t.n, _ = r.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return models.CleanupResult{}, fmt.Errorf("cache cleanup commit: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"mode":     mode,
		"exact":    res.Exact,
		"semantic": res.Semantic,
	}).Info("[CACHE] cleanup complete")
	return res, nil
}

// Stats returns entry counts, access totals and this process's hit/miss
// counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var s models.CacheStats
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(access_count), 0) FROM exact_entries`,
	).Scan(&s.ExactEntries, &s.TotalAccessCount)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM semantic_entries`,
	).Scan(&s.SemanticEntries); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	if s.ExactEntries > 0 {
		s.AvgAccessesPerEntry = float64(s.TotalAccessCount) / float64(s.ExactEntries)
	}
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	return s, nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
