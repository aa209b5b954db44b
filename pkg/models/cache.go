package models

import "time"

// CacheEntry is a full copy of a semantic cache entry, as persisted in snapshots.
type CacheEntry struct {
	ID         uint64       `json:"id"`
	Query      string       `json:"query"`
	Model      string       `json:"model"`
	Answer     string       `json:"answer"`
	Embedding  []float32    `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
	LastAccess time.Time    `json:"last_access"`
	Hits       int64        `json:"hits"`
	Energy     EnergyRecord `json:"energy"`
}

// EntrySummary is the read-only view of a cache entry exposed to dashboards.
type EntrySummary struct {
	ID         uint64    `json:"id"`
	Query      string    `json:"query"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Hits       int64     `json:"hits"`
	EnergyWh   float64   `json:"energy_wh"`
	CarbonG    float64   `json:"carbon_g"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	Capacity   int     `json:"capacity"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	BaselineWh float64 `json:"baseline_wh"`
}

// HitRate returns hits over lookups as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
