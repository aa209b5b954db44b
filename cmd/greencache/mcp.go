package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start greencache as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			deps := mcp.Deps{
				Querier: a.router,
				Cache:   a.cache,
				Events:  a.tracker,
			}
			if a.enforcer != nil {
				deps.Budget = a.enforcer
			}
			if a.history != nil {
				deps.History = a.history
			}

			a.logger.Info("starting greencache MCP server", zap.String("sampler", a.sampler))
			return mcp.New(deps, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
