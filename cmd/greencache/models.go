package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/llm"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/router"
)

func newModelsCmd() *cobra.Command {
	var resolve string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List upstream models and resolve a requested model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout)
			defer cancel()

			available, err := router.NewUpstream(cfg, logger).Models(ctx)
			if err != nil {
				return err
			}

			if resolve != "" {
				model, err := llm.ValidateModel(resolve, available)
				if err != nil {
					return err
				}
				fmt.Println(model)
				return nil
			}

			for _, m := range available {
				marker := " "
				if m == cfg.LLM.DefaultModel {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, m)
			}
			for _, r := range cfg.Router.Routes {
				fmt.Printf("  %s -> %s\n", r.Model, describeTargets(r.Targets))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&resolve, "resolve", "", "print the upstream model a requested name resolves to")
	return cmd
}

func describeTargets(targets []config.RouteTarget) string {
	var s string
	for i, t := range targets {
		if i > 0 {
			s += ", "
		}
		s += t.Provider
		if t.Model != "" {
			s += "/" + t.Model
		}
	}
	return s
}
