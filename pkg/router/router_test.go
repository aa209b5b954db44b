package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/greencache-ai/greencache/pkg/cache"
	"github.com/greencache-ai/greencache/pkg/embedding"
	"github.com/greencache-ai/greencache/pkg/energy"
	"github.com/greencache-ai/greencache/pkg/llm"
	"github.com/greencache-ai/greencache/pkg/models"
)

// manualClock only moves when advanced.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type constSampler float64

func (s constSampler) Sample(context.Context) (float64, error) { return float64(s), nil }

// fakeLLM answers after advancing the clock by cost. A non-nil block holds
// every call until closed or cancelled.
type fakeLLM struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
	clock *manualClock
	cost  time.Duration
}

func (f *fakeLLM) Query(ctx context.Context, prompt, model string) (llm.Response, error) {
	f.mu.Lock()
	f.calls++
	err, block := f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	if f.clock != nil {
		f.clock.Advance(f.cost)
	}
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Answer: "answer to " + prompt, Model: model}, nil
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.QueryEvent
}

func (s *recordingSink) Record(_ context.Context, ev models.QueryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []models.QueryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueryEvent(nil), s.events...)
}

type failingSink struct{}

func (failingSink) Record(context.Context, models.QueryEvent) error {
	return errors.New("disk full")
}

type toggleBudget struct {
	mu      sync.Mutex
	blocked bool
}

func (b *toggleBudget) Check(context.Context, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blocked {
		return errors.New("daily carbon limit of 10.00g reached")
	}
	return nil
}

type countingSnapshotter struct {
	mu    sync.Mutex
	saves int
	last  int
}

func (s *countingSnapshotter) Save(_ context.Context, entries []models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = len(entries)
	return nil
}

// 100W for 36s of upstream time is 1Wh; lookups take no clock time.
var testProfile = energy.Profile{IdleWatts: 10, TDPWatts: 50, CarbonIntensity: 0.5}

type fixture struct {
	router *Router
	cache  *cache.SemanticCache
	llm    *fakeLLM
	clock  *manualClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := newManualClock()

	p, err := embedding.NewHash(64)
	require.NoError(t, err)
	c, err := cache.New(p, cache.Config{Capacity: 8, Threshold: cache.DefaultThreshold, Dim: 64})
	require.NoError(t, err)

	est := energy.NewEstimator(constSampler(100), nil, testProfile, energy.WithClock(clock.Now))
	f := &fakeLLM{clock: clock, cost: 36 * time.Second}

	opts = append([]Option{WithClock(clock.Now), WithDefaultModel("llama3")}, opts...)
	r, err := New(c, f, est, opts...)
	require.NoError(t, err)
	return &fixture{router: r, cache: c, llm: f, clock: clock}
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, &fakeLLM{}, nil)
	require.Error(t, err)
}

func TestHandleMissThenHit(t *testing.T) {
	sink := &recordingSink{}
	fx := newFixture(t, WithSinks(sink))
	ctx := context.Background()

	miss := fx.router.Handle(ctx, "what is the capital of france", "")
	require.False(t, miss.Failed(), miss.Error)
	assert.Equal(t, models.OutcomeMiss, miss.Outcome)
	assert.Equal(t, "llama3", miss.Model)
	assert.Equal(t, "answer to what is the capital of france", miss.Answer)
	assert.NotZero(t, miss.EntryID)
	assert.InDelta(t, 1.0, miss.LLM.EnergyWh, 1e-9)
	assert.InDelta(t, 1.0, miss.Energy.EnergyWh, 1e-9)
	assert.Equal(t, models.ConfidenceMeasured, miss.Energy.Confidence)
	assert.InDelta(t, 36000.0, miss.LatencyMs, 1e-6)
	assert.Equal(t, 1, fx.cache.Len())

	hit := fx.router.Handle(ctx, "what is the capital of france", "")
	require.False(t, hit.Failed(), hit.Error)
	assert.Equal(t, models.OutcomeHit, hit.Outcome)
	assert.Equal(t, miss.EntryID, hit.EntryID)
	assert.Equal(t, miss.Answer, hit.Answer)
	assert.InDelta(t, 1.0, hit.Similarity, 1e-6)
	assert.Zero(t, hit.Energy.EnergyWh)
	assert.InDelta(t, 1.0, hit.SavedWh, 1e-9)
	assert.InDelta(t, 0.5, hit.SavedCarbonG, 1e-9)
	assert.Equal(t, 1, fx.llm.Calls())

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, miss.ID, events[0].ID)
	assert.Equal(t, hit.ID, events[1].ID)
}

func TestHandleTimeoutLeavesCacheUnchanged(t *testing.T) {
	sink := &recordingSink{}
	fx := newFixture(t, WithTimeout(20*time.Millisecond), WithSinks(sink))
	fx.llm.block = make(chan struct{})

	ev := fx.router.Handle(context.Background(), "slow question", "llama3")
	assert.Equal(t, models.OutcomeMiss, ev.Outcome)
	assert.True(t, ev.Failed())
	assert.Equal(t, models.ReasonTimeout, ev.Reason)
	assert.Empty(t, ev.Answer)
	assert.Zero(t, ev.EntryID)
	assert.Zero(t, fx.cache.Len())
	require.Len(t, sink.Events(), 1)
	assert.True(t, sink.Events()[0].Failed())
}

func TestHandleLLMErrorIsNotCached(t *testing.T) {
	fx := newFixture(t)
	fx.llm.err = errors.Mark(errors.New("502 bad gateway"), llm.ErrLLM)

	ev := fx.router.Handle(context.Background(), "anything", "llama3")
	assert.True(t, ev.Failed())
	assert.Equal(t, models.ReasonLLM, ev.Reason)
	assert.Contains(t, ev.Error, "502 bad gateway")
	assert.InDelta(t, 1.0, ev.Energy.EnergyWh, 1e-9, "failed calls still cost energy")
	assert.Zero(t, fx.cache.Len())
}

func TestHandleEmbeddingFailure(t *testing.T) {
	fx := newFixture(t)

	ev := fx.router.Handle(context.Background(), "   ", "llama3")
	assert.Equal(t, models.OutcomeMiss, ev.Outcome)
	assert.Equal(t, models.ReasonEmbedding, ev.Reason)
	assert.Empty(t, ev.Answer)
	assert.Zero(t, fx.llm.Calls())
	assert.Zero(t, fx.cache.Len())
}

func TestHandleBudgetBlocksMissesOnly(t *testing.T) {
	budget := &toggleBudget{}
	fx := newFixture(t, WithBudget(budget))
	ctx := context.Background()

	first := fx.router.Handle(ctx, "how do magnets work", "llama3")
	require.False(t, first.Failed(), first.Error)

	budget.blocked = true
	hit := fx.router.Handle(ctx, "how do magnets work", "llama3")
	assert.Equal(t, models.OutcomeHit, hit.Outcome)
	assert.False(t, hit.Failed())

	blocked := fx.router.Handle(ctx, "why is the sky blue", "llama3")
	assert.True(t, blocked.Failed())
	assert.Equal(t, models.ReasonBudget, blocked.Reason)
	assert.Contains(t, blocked.Error, "daily carbon limit")
	assert.Equal(t, 1, fx.llm.Calls())
}

func TestHandleSharesConcurrentMisses(t *testing.T) {
	fx := newFixture(t)
	fx.llm.clock = nil
	fx.llm.block = make(chan struct{})

	const n = 8
	events := make([]models.QueryEvent, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			events[i] = fx.router.Handle(context.Background(), "tell me a joke", "llama3")
		}(i)
	}

	require.Eventually(t, func() bool { return fx.llm.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fx.llm.block)
	wg.Wait()

	assert.Equal(t, 1, fx.llm.Calls())
	assert.Equal(t, 1, fx.cache.Len())
	shared := 0
	for _, ev := range events {
		require.False(t, ev.Failed(), ev.Error)
		assert.Equal(t, "answer to tell me a joke", ev.Answer)
		if ev.Shared {
			shared++
		}
	}
	assert.Equal(t, n-1, shared)
}

func TestHandleSharedMissSurvivesLeaderCancel(t *testing.T) {
	fx := newFixture(t)
	fx.llm.clock = nil
	fx.llm.block = make(chan struct{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan models.QueryEvent, 1)
	go func() { leaderDone <- fx.router.Handle(leaderCtx, "what is a quasar", "llama3") }()
	require.Eventually(t, func() bool { return fx.llm.Calls() == 1 }, time.Second, time.Millisecond)

	followerDone := make(chan models.QueryEvent, 1)
	go func() { followerDone <- fx.router.Handle(context.Background(), "what is a quasar", "llama3") }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	leader := <-leaderDone
	assert.True(t, leader.Failed())
	assert.Contains(t, leader.Error, "context canceled")

	close(fx.llm.block)
	follower := <-followerDone
	require.False(t, follower.Failed(), follower.Error)
	assert.Equal(t, "answer to what is a quasar", follower.Answer)
	assert.True(t, follower.Shared)
	assert.Equal(t, 1, fx.llm.Calls())
	assert.Equal(t, 1, fx.cache.Len())
}

func TestHandleSharedMissHonoursCallerDeadline(t *testing.T) {
	fx := newFixture(t)
	fx.llm.clock = nil
	fx.llm.block = make(chan struct{})

	leaderDone := make(chan models.QueryEvent, 1)
	go func() { leaderDone <- fx.router.Handle(context.Background(), "explain tides", "llama3") }()
	require.Eventually(t, func() bool { return fx.llm.Calls() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	follower := fx.router.Handle(ctx, "explain tides", "llama3")
	assert.True(t, follower.Failed())
	assert.Equal(t, models.ReasonTimeout, follower.Reason)

	close(fx.llm.block)
	leader := <-leaderDone
	require.False(t, leader.Failed(), leader.Error)
	assert.Equal(t, 1, fx.llm.Calls())
	assert.Equal(t, 1, fx.cache.Len())
}

func TestHandleSavesSnapshotAfterInsert(t *testing.T) {
	snap := &countingSnapshotter{}
	fx := newFixture(t, WithSnapshotter(snap))
	ctx := context.Background()

	fx.router.Handle(ctx, "first question", "llama3")
	fx.router.Handle(ctx, "first question", "llama3")
	fx.router.Handle(ctx, "a second unrelated question about tides", "llama3")

	assert.Equal(t, 2, snap.saves, "hits do not save")
	assert.Equal(t, 2, snap.last)
}

func TestHandleSurvivesSinkErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	fx := newFixture(t, WithSinks(failingSink{}), WithLogger(zap.New(core)))
	ev := fx.router.Handle(context.Background(), "question", "llama3")
	assert.False(t, ev.Failed())

	entries := logs.FilterMessage("event sink failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, ev.ID, entries[0].ContextMap()["id"])
	assert.Contains(t, entries[0].ContextMap()["error"], "disk full")
}

func TestDirectBypassesCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.router.Handle(ctx, "question", "llama3")
	ev := fx.router.Direct(ctx, "question", "llama3")
	require.False(t, ev.Failed(), ev.Error)
	assert.Equal(t, models.OutcomeMiss, ev.Outcome)
	assert.True(t, ev.Uncached)
	assert.InDelta(t, 1.0, ev.Energy.EnergyWh, 1e-9)
	assert.Equal(t, 2, fx.llm.Calls())
	assert.Equal(t, 1, fx.cache.Len())
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.Wrap(embedding.ErrEmbedding, "x"), models.ReasonEmbedding},
		{errors.Mark(errors.New("x"), llm.ErrTimeout), models.ReasonTimeout},
		{context.DeadlineExceeded, models.ReasonTimeout},
		{errors.Mark(errors.New("x"), llm.ErrLLM), models.ReasonLLM},
		{errors.Mark(errors.New("x"), ErrBudgetExceeded), models.ReasonBudget},
		{errors.New("x"), models.ReasonInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err))
	}
}
