package router

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/llm"
	"github.com/greencache-ai/greencache/pkg/logging"
)

// Upstream is an llm.Service that walks a model's fallback chain across providers.
type Upstream struct {
	resolver *Resolver
	clients  map[string]llm.Service
	logger   *zap.Logger
}

// NewUpstream builds one llm.Client per configured provider.
func NewUpstream(cfg *config.Config, logger *zap.Logger) *Upstream {
	clients := make(map[string]llm.Service, len(cfg.Providers))
	for _, p := range cfg.Providers {
		clients[p.Name] = llm.NewClient(p, cfg.LLM.MaxRetries, llm.WithLogger(logger))
	}
	return NewUpstreamWith(NewResolver(cfg), clients, logger)
}

// NewUpstreamWith uses the given per-provider services.
func NewUpstreamWith(r *Resolver, clients map[string]llm.Service, logger *zap.Logger) *Upstream {
	return &Upstream{resolver: r, clients: clients, logger: logging.OrNop(logger)}
}

// Query implements llm.Service. A failed target falls through to the next one
// unless the deadline has passed.
func (u *Upstream) Query(ctx context.Context, prompt, model string) (llm.Response, error) {
	routes, err := u.resolver.Resolve(model)
	if err != nil {
		return llm.Response{}, errors.Mark(err, llm.ErrLLM)
	}

	var lastErr error
	for i, route := range routes {
		svc, ok := u.clients[route.Provider.Name]
		if !ok {
			continue
		}
		resp, err := svc.Query(ctx, prompt, route.Model)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, llm.ErrTimeout) || ctx.Err() != nil {
			break
		}
		if i < len(routes)-1 {
			u.logger.Warn("provider failed, trying next route",
				zap.String("provider", route.Provider.Name),
				zap.String("model", route.Model),
				zap.Error(err))
		}
	}
	if lastErr == nil {
		lastErr = errors.Wrapf(llm.ErrLLM, "no client for model %q", model)
	}
	return llm.Response{}, lastErr
}

// Models implements llm.ModelLister over every provider that can list models.
// Providers that fail to answer are skipped.
func (u *Upstream) Models(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var (
		out     []string
		lastErr error
		asked   int
	)
	names := make([]string, 0, len(u.clients))
	for name := range u.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lister, ok := u.clients[name].(llm.ModelLister)
		if !ok {
			continue
		}
		asked++
		ids, err := lister.Models(ctx)
		if err != nil {
			lastErr = err
			u.logger.Warn("list models failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if asked == 0 {
		return nil, errors.Wrap(llm.ErrLLM, "no provider can list models")
	}
	return out, nil
}
