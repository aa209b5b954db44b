package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/budget"
	"github.com/greencache-ai/greencache/pkg/cache"
	"github.com/greencache-ai/greencache/pkg/cache/sqlite"
	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/embedding"
	"github.com/greencache-ai/greencache/pkg/energy"
	"github.com/greencache-ai/greencache/pkg/history"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/router"
	"github.com/greencache-ai/greencache/pkg/tracker"
)

// app holds the components a command runs against.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	sampler  string
	cache    *cache.SemanticCache
	store    *sqlite.Store
	tracker  *tracker.SQLiteTracker
	history  *history.Store
	enforcer *budget.Enforcer
	upstream *router.Upstream
	router   *router.Router

	closers []func() error
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// openStores opens the event tracker and, when enabled, prompt history and budget.
func openStores(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "init tracker")
	}
	a.tracker = tr
	a.closers = append(a.closers, tr.Close)

	if cfg.History.Enabled {
		h, err := history.New(cfg.History, logger)
		if err != nil {
			a.close()
			return nil, errors.Wrap(err, "init history")
		}
		a.history = h
		a.closers = append(a.closers, h.Close)
	}

	if cfg.Budget.Enabled {
		a.enforcer = budget.New(cfg.Budget.Policies, tr)
	}
	return a, nil
}

// openReports opens the stores read by reporting commands.
func openReports(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return openStores(cfg, logger)
}

// openApp builds the full query path: sampler, estimator, embedding, cache,
// snapshot store, upstream and router.
func openApp(ctx context.Context, cmd *cobra.Command, extra ...router.EventSink) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, logger, nil, extra...)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, cacheOpts []cache.Option, extra ...router.EventSink) (*app, error) {
	a, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.wire(ctx, cacheOpts, extra); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cacheOpts []cache.Option, extra []router.EventSink) error {
	cfg := a.cfg

	sampler, kind, err := energy.NewSampler(cfg.Energy, a.logger)
	if err != nil {
		return errors.Wrap(err, "init energy sampler")
	}
	a.sampler = kind
	est := energy.NewEstimator(sampler, energy.CPU{}, energy.ProfileFrom(cfg.Energy), energy.WithLogger(a.logger))

	provider, err := embedding.New(cfg.Embedding, a.logger)
	if err != nil {
		return errors.Wrap(err, "init embedding provider")
	}

	opts := append([]cache.Option{cache.WithLogger(a.logger)}, cacheOpts...)
	c, err := cache.New(provider, cache.Config{
		Capacity:  cfg.Cache.Capacity,
		Threshold: cfg.Cache.SimilarityThreshold,
		Dim:       cfg.Embedding.Dim,
	}, opts...)
	if err != nil {
		return errors.Wrap(err, "init cache")
	}
	a.cache = c

	routerOpts := []router.Option{
		router.WithTimeout(cfg.LLM.Timeout),
		router.WithDefaultModel(cfg.LLM.DefaultModel),
		router.WithLogger(a.logger),
	}

	if cfg.Cache.Snapshot {
		st, err := sqlite.New(cfg.SnapshotPath())
		if err != nil {
			return errors.Wrap(err, "open cache snapshot")
		}
		a.store = st
		a.closers = append(a.closers, st.Close)

		entries, err := st.Load(ctx)
		if err != nil {
			return errors.Wrap(err, "load cache snapshot")
		}
		restored, skipped := c.Restore(entries)
		a.logger.Info("cache warm start",
			zap.Int("restored", restored),
			zap.Int("skipped", skipped),
			zap.String("path", cfg.SnapshotPath()),
		)
		routerOpts = append(routerOpts, router.WithSnapshotter(st))
	}

	sinks := []router.EventSink{a.tracker}
	if a.history != nil {
		sinks = append(sinks, a.history)
	}
	sinks = append(sinks, extra...)
	routerOpts = append(routerOpts, router.WithSinks(sinks...))
	if a.enforcer != nil {
		routerOpts = append(routerOpts, router.WithBudget(a.enforcer))
	}

	a.upstream = router.NewUpstream(cfg, a.logger)
	r, err := router.New(c, a.upstream, est, routerOpts...)
	if err != nil {
		return errors.Wrap(err, "init router")
	}
	a.router = r
	return nil
}

// close releases resources in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
