package models

import "time"

// CacheEntry stores a response memoized under an exact key.
type CacheEntry struct {
	Key         string    `json:"key"`
	Response    []byte    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
	AccessCount int64     `json:"access_count"`
}

// CleanupMode selects which entries Cleanup removes.
type CleanupMode string

const (
	CleanupExpired CleanupMode = "expired"
	CleanupAll     CleanupMode = "all"
)

// CleanupResult reports how many entries were removed from each tier.
type CleanupResult struct {
	Exact    int64 `json:"exact"`
	Semantic int64 `json:"semantic"`
}

// Total returns the number of entries removed across both tiers.
func (r CleanupResult) Total() int64 {
	return r.Exact + r.Semantic
}

// CacheStats reports cache contents and process-local hit/miss counters.
type CacheStats struct {
	ExactEntries        int64   `json:"exact_entry_count"`
	SemanticEntries     int64   `json:"semantic_entry_count"`
	TotalAccessCount    int64   `json:"total_access_count"`
	AvgAccessesPerEntry float64 `json:"avg_accesses_per_entry"`
	Hits                int64   `json:"hits"`
	Misses              int64   `json:"misses"`
}
