// Package cache implements the semantic response cache: embedding lookup against
// a similarity index with true-LRU eviction.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/embedding"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/models"
	"github.com/greencache-ai/greencache/pkg/similarity"
)

// DefaultThreshold is the similarity at or above which a lookup is a hit.
const DefaultThreshold = 0.85

// Config sizes a SemanticCache.
type Config struct {
	Capacity  int
	Threshold float64
	Dim       int
}

// Result is the outcome of a Lookup.
type Result struct {
	Outcome    models.Outcome
	EntryID    uint64
	Answer     string
	Model      string
	Similarity float64
	// Embedding is the query vector; set on every result so a miss can be inserted.
	Embedding []float32
	// BaselineWh is the average miss cost a hit avoided.
	BaselineWh float64
}

type entry struct {
	id         uint64
	query      string
	model      string
	answer     string
	embedding  []float32
	createdAt  time.Time
	energy     models.EnergyRecord
	lastAccess atomic.Int64 // unix nanos
	hits       atomic.Int64
}

func (e *entry) copy(withEmbedding bool) models.CacheEntry {
	ce := models.CacheEntry{
		ID:         e.id,
		Query:      e.query,
		Model:      e.model,
		Answer:     e.answer,
		CreatedAt:  e.createdAt,
		LastAccess: time.Unix(0, e.lastAccess.Load()).UTC(),
		Hits:       e.hits.Load(),
		Energy:     e.energy,
	}
	if withEmbedding {
		ce.Embedding = append([]float32(nil), e.embedding...)
	}
	return ce
}

// SemanticCache is safe for concurrent use. A single RWMutex guards the entry
// store and the similarity index together: lookups share the read lock (hit
// bookkeeping uses atomics), inserts and evictions take the write lock, so no
// lookup ever observes a half-inserted or half-evicted entry.
type SemanticCache struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
	index   *similarity.Index
	nextID  uint64

	// running mean of inserted entries' energy
	baselineSum float64
	baselineN   int64

	provider  embedding.Provider
	capacity  int
	threshold float64
	dim       int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	now     func() time.Time
	onEvict func(models.CacheEntry)
	logger  *zap.Logger
}

// Option configures a SemanticCache.
type Option func(*SemanticCache)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *SemanticCache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *SemanticCache) { c.logger = logging.OrNop(l) }
}

// WithEvictHook registers fn to be called, outside the lock, for every evicted entry.
func WithEvictHook(fn func(models.CacheEntry)) Option {
	return func(c *SemanticCache) { c.onEvict = fn }
}

// New validates cfg against the provider and returns an empty cache.
func New(p embedding.Provider, cfg Config, opts ...Option) (*SemanticCache, error) {
	if p == nil {
		return nil, errors.New("embedding provider is required")
	}
	if cfg.Capacity <= 0 {
		return nil, errors.Newf("capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.Threshold < -1 || cfg.Threshold > 1 {
		return nil, errors.Newf("similarity threshold %v out of range [-1, 1]", cfg.Threshold)
	}
	if p.Dimensions() != cfg.Dim {
		return nil, errors.Wrapf(similarity.ErrDimensionMismatch,
			"provider %s produces %d dimensions, cache configured for %d", p.Name(), p.Dimensions(), cfg.Dim)
	}
	idx, err := similarity.New(cfg.Dim)
	if err != nil {
		return nil, err
	}

	c := &SemanticCache{
		entries:   make(map[uint64]*entry, cfg.Capacity),
		index:     idx,
		provider:  p,
		capacity:  cfg.Capacity,
		threshold: cfg.Threshold,
		dim:       cfg.Dim,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Lookup embeds query and returns a Hit when the most similar entry scores at
// least the threshold. Embedding failures return a Miss result together with
// an error marked embedding.ErrEmbedding.
func (c *SemanticCache) Lookup(ctx context.Context, query string) (Result, error) {
	vec, err := c.provider.Embed(ctx, query)
	if err == nil && len(vec) != c.dim {
		err = errors.Wrapf(similarity.ErrDimensionMismatch, "query embedding has %d dimensions, want %d", len(vec), c.dim)
	}
	if err != nil {
		c.misses.Add(1)
		return Result{Outcome: models.OutcomeMiss}, errors.Mark(err, embedding.ErrEmbedding)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	matches, err := c.index.Search(vec, 1)
	if err != nil {
		c.misses.Add(1)
		return Result{Outcome: models.OutcomeMiss, Embedding: vec}, err
	}
	if len(matches) == 0 || matches[0].Score < c.threshold {
		c.misses.Add(1)
		res := Result{Outcome: models.OutcomeMiss, Embedding: vec}
		if len(matches) > 0 {
			res.Similarity = matches[0].Score
		}
		return res, nil
	}

	e, ok := c.entries[matches[0].ID]
	if !ok {
		// index and store are updated together under the write lock
		c.logger.Error("index entry missing from store", zap.Uint64("entry_id", matches[0].ID))
		c.misses.Add(1)
		return Result{Outcome: models.OutcomeMiss, Embedding: vec}, nil
	}
	e.lastAccess.Store(c.now().UnixNano())
	e.hits.Add(1)
	c.hits.Add(1)

	return Result{
		Outcome:    models.OutcomeHit,
		EntryID:    e.id,
		Answer:     e.answer,
		Model:      e.model,
		Similarity: matches[0].Score,
		Embedding:  vec,
		BaselineWh: c.baselineLocked(e),
	}, nil
}

func (c *SemanticCache) baselineLocked(e *entry) float64 {
	if c.baselineN > 0 && c.baselineSum > 0 {
		return c.baselineSum / float64(c.baselineN)
	}
	return e.energy.EnergyWh
}

// Insert stores a new entry, evicting the least recently accessed one when the
// cache is full. It returns the new entry's id.
func (c *SemanticCache) Insert(query string, vec []float32, answer, model string, cost models.EnergyRecord) (uint64, error) {
	if len(vec) != c.dim {
		return 0, errors.Wrapf(similarity.ErrDimensionMismatch, "insert: got %d dimensions, want %d", len(vec), c.dim)
	}

	c.mu.Lock()
	var evicted *entry
	if len(c.entries) >= c.capacity {
		evicted = c.evictLocked()
	}

	c.nextID++
	now := c.now()
	e := &entry{
		id:        c.nextID,
		query:     query,
		model:     model,
		answer:    answer,
		embedding: append([]float32(nil), vec...),
		createdAt: now.UTC(),
		energy:    cost,
	}
	e.lastAccess.Store(now.UnixNano())

	if err := c.index.Insert(e.id, e.embedding); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.entries[e.id] = e
	c.baselineSum += cost.EnergyWh
	c.baselineN++
	c.mu.Unlock()

	if evicted != nil {
		c.evicted(evicted)
	}
	return e.id, nil
}

// evictLocked removes the entry with the oldest last access, smallest id first on ties.
func (c *SemanticCache) evictLocked() *entry {
	var victim *entry
	var oldest int64
	for _, e := range c.entries {
		at := e.lastAccess.Load()
		if victim == nil || at < oldest || (at == oldest && e.id < victim.id) {
			victim, oldest = e, at
		}
	}
	if victim == nil {
		return nil
	}
	c.index.Remove(victim.id)
	delete(c.entries, victim.id)
	return victim
}

func (c *SemanticCache) evicted(e *entry) {
	c.evictions.Add(1)
	c.logger.Debug("evicted cache entry",
		zap.Uint64("entry_id", e.id),
		zap.Int64("hits", e.hits.Load()))
	if c.onEvict != nil {
		c.onEvict(e.copy(false))
	}
}

// Snapshot returns read-only summaries of all entries ordered by id.
func (c *SemanticCache) Snapshot() []models.EntrySummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.EntrySummary, 0, len(c.entries))
	for _, e := range c.entries {
		ce := e.copy(false)
		out = append(out, models.EntrySummary{
			ID:         ce.ID,
			Query:      ce.Query,
			Model:      ce.Model,
			CreatedAt:  ce.CreatedAt,
			LastAccess: ce.LastAccess,
			Hits:       ce.Hits,
			EnergyWh:   ce.Energy.EnergyWh,
			CarbonG:    ce.Energy.CarbonG,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entries returns full copies of all entries, embeddings included, ordered by id.
func (c *SemanticCache) Entries() []models.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.copy(true))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the cache contents with entries, as loaded from a snapshot.
// Entries with the wrong dimension or a duplicate id are skipped; when more
// than capacity remain, the most recently accessed are kept. It returns the
// number of entries restored and skipped.
func (c *SemanticCache) Restore(entries []models.CacheEntry) (restored, skipped int) {
	valid := make([]models.CacheEntry, 0, len(entries))
	seen := make(map[uint64]bool, len(entries))
	for _, ce := range entries {
		if len(ce.Embedding) != c.dim || seen[ce.ID] || ce.ID == 0 {
			skipped++
			continue
		}
		seen[ce.ID] = true
		valid = append(valid, ce)
	}
	sort.Slice(valid, func(i, j int) bool {
		if !valid[i].LastAccess.Equal(valid[j].LastAccess) {
			return valid[i].LastAccess.After(valid[j].LastAccess)
		}
		return valid[i].ID > valid[j].ID
	})
	if len(valid) > c.capacity {
		skipped += len(valid) - c.capacity
		valid = valid[:c.capacity]
	}

	idx, _ := similarity.New(c.dim)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint64]*entry, c.capacity)
	c.index = idx
	c.baselineSum, c.baselineN = 0, 0
	for _, ce := range valid {
		e := &entry{
			id:        ce.ID,
			query:     ce.Query,
			model:     ce.Model,
			answer:    ce.Answer,
			embedding: append([]float32(nil), ce.Embedding...),
			createdAt: ce.CreatedAt,
			energy:    ce.Energy,
		}
		e.lastAccess.Store(ce.LastAccess.UnixNano())
		e.hits.Store(ce.Hits)
		if err := c.index.Insert(e.id, e.embedding); err != nil {
			skipped++
			continue
		}
		c.entries[e.id] = e
		c.baselineSum += ce.Energy.EnergyWh
		c.baselineN++
		if e.id > c.nextID {
			c.nextID = e.id
		}
	}
	return len(c.entries), skipped
}

// Clear removes every entry. Ids keep increasing across clears.
func (c *SemanticCache) Clear() int {
	idx, _ := similarity.New(c.dim)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[uint64]*entry, c.capacity)
	c.index = idx
	return n
}

// Stats returns counters and the current baseline.
func (c *SemanticCache) Stats() models.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var baseline float64
	if c.baselineN > 0 {
		baseline = c.baselineSum / float64(c.baselineN)
	}
	return models.CacheStats{
		Entries:    len(c.entries),
		Capacity:   c.capacity,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		BaselineWh: baseline,
	}
}

// Len returns the number of cached entries.
func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Threshold returns the hit threshold.
func (c *SemanticCache) Threshold() float64 { return c.threshold }

// Dim returns the embedding dimension.
func (c *SemanticCache) Dim() int { return c.dim }
