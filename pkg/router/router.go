// Package router answers queries from the semantic cache or an upstream LLM
// and accounts for the energy each path consumed.
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/greencache-ai/greencache/pkg/cache"
	"github.com/greencache-ai/greencache/pkg/embedding"
	"github.com/greencache-ai/greencache/pkg/energy"
	"github.com/greencache-ai/greencache/pkg/llm"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/models"
)

// DefaultTimeout bounds an upstream LLM call when no timeout is configured.
const DefaultTimeout = 2 * time.Minute

// ErrBudgetExceeded marks a query refused by the BudgetChecker.
var ErrBudgetExceeded = errors.New("carbon budget exceeded")

// EventSink receives every event the router emits.
type EventSink interface {
	Record(ctx context.Context, ev models.QueryEvent) error
}

// BudgetChecker decides whether an upstream call for model may proceed.
type BudgetChecker interface {
	Check(ctx context.Context, model string) error
}

// Snapshotter persists the cache contents after they change.
type Snapshotter interface {
	Save(ctx context.Context, entries []models.CacheEntry) error
}

// Router is the QueryRouter. It is safe for concurrent use; all shared state
// lives in the SemanticCache, which carries its own lock.
type Router struct {
	cache     *cache.SemanticCache
	llm       llm.Service
	estimator *energy.Estimator

	budget       BudgetChecker
	sinks        []EventSink
	snapshots    Snapshotter
	snapMu       sync.Mutex
	timeout      time.Duration
	defaultModel string

	group  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithBudget refuses upstream calls the checker rejects.
func WithBudget(b BudgetChecker) Option {
	return func(r *Router) { r.budget = b }
}

// WithSinks adds event sinks.
func WithSinks(sinks ...EventSink) Option {
	return func(r *Router) { r.sinks = append(r.sinks, sinks...) }
}

// WithSnapshotter saves the cache after every insert.
func WithSnapshotter(s Snapshotter) Option {
	return func(r *Router) { r.snapshots = s }
}

// WithTimeout bounds each upstream LLM call. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDefaultModel is used when a query names no model.
func WithDefaultModel(model string) Option {
	return func(r *Router) { r.defaultModel = model }
}

// WithClock overrides time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = logging.OrNop(l) }
}

// New creates a Router over the given cache, upstream service and estimator.
func New(c *cache.SemanticCache, svc llm.Service, est *energy.Estimator, opts ...Option) (*Router, error) {
	if c == nil {
		return nil, errors.New("router: cache is required")
	}
	if svc == nil {
		return nil, errors.New("router: llm service is required")
	}
	if est == nil {
		return nil, errors.New("router: energy estimator is required")
	}
	r := &Router{
		cache:     c,
		llm:       svc,
		estimator: est,
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Cache returns the cache the router serves from.
func (r *Router) Cache() *cache.SemanticCache { return r.cache }

// Estimator returns the router's energy estimator.
func (r *Router) Estimator() *energy.Estimator { return r.estimator }

type missResult struct {
	resp    llm.Response
	energy  models.EnergyRecord
	entryID uint64
}

// Handle answers query from the cache when a similar one was seen before and
// from the upstream LLM otherwise. Failures are reported on the returned
// event, never as an error.
func (r *Router) Handle(ctx context.Context, query, model string) models.QueryEvent {
	start := r.now()
	ev := r.newEvent(start, query, model)

	res, lookup, err := energy.Measure(ctx, r.estimator, func(ctx context.Context) (cache.Result, error) {
		return r.cache.Lookup(ctx, query)
	})
	ev.Lookup = lookup
	ev.Energy = lookup
	ev.Similarity = res.Similarity
	if err != nil {
		return r.finish(ctx, r.fail(ev, err), start)
	}

	if res.Outcome == models.OutcomeHit {
		ev.Outcome = models.OutcomeHit
		ev.EntryID = res.EntryID
		ev.Answer = res.Answer
		ev.SavedWh = max(0, res.BaselineWh-lookup.EnergyWh)
		ev.SavedCarbonG = ev.SavedWh * r.estimator.Profile().CarbonIntensity
		return r.finish(ctx, ev, start)
	}

	if err := r.checkBudget(ctx, ev.Model); err != nil {
		return r.finish(ctx, r.fail(ev, err), start)
	}

	// The shared call is detached from any one caller; each caller waits on its own ctx.
	key := ev.Model + "\x00" + query
	leader := false
	ch := r.group.DoChan(key, func() (any, error) {
		leader = true
		return r.miss(context.WithoutCancel(ctx), query, ev.Model, res.Embedding)
	})

	var sr singleflight.Result
	select {
	case sr = <-ch:
	case <-ctx.Done():
		err := errors.Wrap(ctx.Err(), "waiting for upstream answer")
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Mark(err, llm.ErrTimeout)
		}
		return r.finish(ctx, r.fail(ev, err), start)
	}

	mr, _ := sr.Val.(missResult)
	ev.Shared = !leader
	if leader {
		ev.LLM = mr.energy
		ev.Energy = energy.Combine(lookup, mr.energy)
	}
	if sr.Err != nil {
		return r.finish(ctx, r.fail(ev, sr.Err), start)
	}
	ev.Answer = mr.resp.Answer
	ev.EntryID = mr.entryID
	return r.finish(ctx, ev, start)
}

// miss calls upstream and inserts the answer. Concurrent identical misses share one call.
func (r *Router) miss(ctx context.Context, query, model string, vec []float32) (missResult, error) {
	resp, rec, err := r.call(ctx, query, model)
	out := missResult{resp: resp, energy: rec}
	if err != nil {
		return out, err
	}

	id, err := r.cache.Insert(query, vec, resp.Answer, resp.Model, rec)
	if err != nil {
		// the answer is still good; it just won't be reused
		r.logger.Error("cache insert failed", zap.Error(err))
		return out, nil
	}
	out.entryID = id
	r.save(ctx)
	return out, nil
}

// call runs one measured upstream request under the router's timeout.
func (r *Router) call(ctx context.Context, query, model string) (llm.Response, models.EnergyRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, rec, err := energy.Measure(callCtx, r.estimator, func(ctx context.Context) (llm.Response, error) {
		return r.llm.Query(ctx, query, model)
	})
	if err == nil && strings.TrimSpace(resp.Answer) == "" {
		err = errors.Wrap(llm.ErrLLM, "empty answer")
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, llm.ErrTimeout) {
			err = errors.Mark(err, llm.ErrTimeout)
		}
		return resp, rec, err
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return resp, rec, nil
}

// Direct answers query from upstream without consulting or filling the cache.
func (r *Router) Direct(ctx context.Context, query, model string) models.QueryEvent {
	start := r.now()
	ev := r.newEvent(start, query, model)
	ev.Uncached = true

	if err := r.checkBudget(ctx, ev.Model); err != nil {
		ev.Energy = models.EnergyRecord{Confidence: models.ConfidenceUnavailable}
		return r.finish(ctx, r.fail(ev, err), start)
	}

	resp, rec, err := r.call(ctx, query, ev.Model)
	ev.LLM = rec
	ev.Energy = rec
	if err != nil {
		return r.finish(ctx, r.fail(ev, err), start)
	}
	ev.Answer = resp.Answer
	return r.finish(ctx, ev, start)
}

func (r *Router) newEvent(start time.Time, query, model string) models.QueryEvent {
	if model == "" {
		model = r.defaultModel
	}
	return models.QueryEvent{
		ID:        uuid.NewString(),
		Timestamp: start.UTC(),
		Query:     query,
		Model:     model,
		Outcome:   models.OutcomeMiss,
	}
}

func (r *Router) checkBudget(ctx context.Context, model string) error {
	if r.budget == nil {
		return nil
	}
	if err := r.budget.Check(ctx, model); err != nil {
		if errors.Is(err, ErrBudgetExceeded) {
			return err
		}
		return errors.Mark(err, ErrBudgetExceeded)
	}
	return nil
}

// fail turns ev into a failed Miss carrying err.
func (r *Router) fail(ev models.QueryEvent, err error) models.QueryEvent {
	ev.Outcome = models.OutcomeMiss
	ev.Answer = ""
	ev.EntryID = 0
	ev.Error = err.Error()
	ev.Reason = Reason(err)
	return ev
}

// Reason classifies a query error for events and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, embedding.ErrEmbedding):
		return models.ReasonEmbedding
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.ReasonTimeout
	case errors.Is(err, ErrBudgetExceeded):
		return models.ReasonBudget
	case errors.Is(err, llm.ErrLLM):
		return models.ReasonLLM
	default:
		return models.ReasonInternal
	}
}

func (r *Router) finish(ctx context.Context, ev models.QueryEvent, start time.Time) models.QueryEvent {
	ev.LatencyMs = float64(r.now().Sub(start)) / float64(time.Millisecond)

	fields := []zap.Field{
		zap.String("id", ev.ID),
		zap.String("model", ev.Model),
		zap.String("outcome", string(ev.Outcome)),
		zap.Float64("similarity", ev.Similarity),
		zap.Float64("energy_wh", ev.Energy.EnergyWh),
		zap.String("confidence", string(ev.Energy.Confidence)),
		zap.Float64("latency_ms", ev.LatencyMs),
	}
	if ev.Failed() {
		r.logger.Warn("query failed", append(fields, zap.String("reason", ev.Reason), zap.String("error", ev.Error))...)
	} else {
		r.logger.Debug("query handled", fields...)
	}

	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		if err := s.Record(sinkCtx, ev); err != nil {
			r.logger.Error("event sink failed", zap.String("id", ev.ID), zap.Error(err))
		}
	}
	return ev
}

func (r *Router) save(ctx context.Context) {
	if r.snapshots == nil {
		return
	}
	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	if err := r.snapshots.Save(context.WithoutCancel(ctx), r.cache.Entries()); err != nil {
		r.logger.Error("cache snapshot failed", zap.Error(err))
	}
}
