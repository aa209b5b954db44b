package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/cache"
	"github.com/greencache-ai/greencache/pkg/energy"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/metrics"
	"github.com/greencache-ai/greencache/pkg/server"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// the entries gauge is read on scrape, after the cache exists
			var a *app
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(reg, func() int {
				if a == nil || a.cache == nil {
					return 0
				}
				return a.cache.Len()
			})
			if err != nil {
				return errors.Wrap(err, "init metrics")
			}

			a, err = buildApp(ctx, cfg, logger, []cache.Option{cache.WithEvictHook(m.Evicted)}, m)
			if err != nil {
				return err
			}
			defer a.close()

			opts := []server.Option{
				server.WithTracker(a.tracker),
				server.WithPlatform(energy.Describe(ctx, a.sampler)),
				server.WithMetrics(reg),
				server.WithLogger(logger),
			}
			if a.enforcer != nil {
				opts = append(opts, server.WithBudget(a.enforcer))
			}
			if a.store != nil {
				opts = append(opts, server.WithSnapshotStore(a.store))
			}

			logger.Info("starting greencache",
				zap.String("listen", cfg.Listen),
				zap.String("sampler", a.sampler),
				zap.Int("capacity", cfg.Cache.Capacity),
				zap.Float64("threshold", cfg.Cache.SimilarityThreshold),
			)
			return server.New(cfg, a.router, opts...).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
