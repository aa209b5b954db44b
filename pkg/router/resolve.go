package router

import (
	"github.com/cockroachdb/errors"

	"github.com/greencache-ai/greencache/pkg/config"
)

// ErrNoProviders is returned when no upstream provider is configured.
var ErrNoProviders = errors.New("no providers configured")

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Resolver resolves requested model names to ordered provider+model chains.
type Resolver struct {
	providers []config.ProviderConfig
	routes    []config.RouteConfig
}

// NewResolver creates a Resolver from the given configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{providers: cfg.Providers, routes: cfg.Router.Routes}
}

// Resolve returns an ordered list of routes for the requested model.
// If the model matches a configured route, the route's targets are returned.
// Otherwise, the first provider is used with the original model name.
func (r *Resolver) Resolve(requestedModel string) ([]Route, error) {
	if len(r.providers) == 0 {
		return nil, ErrNoProviders
	}

	providerIndex := make(map[string]config.ProviderConfig, len(r.providers))
	for _, p := range r.providers {
		providerIndex[p.Name] = p
	}

	for _, route := range r.routes {
		if route.Model != requestedModel {
			continue
		}
		var routes []Route
		for _, target := range route.Targets {
			provider, ok := providerIndex[target.Provider]
			if !ok {
				continue // skip unknown providers
			}
			model := target.Model
			if model == "" {
				model = requestedModel
			}
			routes = append(routes, Route{Provider: provider, Model: model})
		}
		if len(routes) == 0 {
			return nil, errors.Newf("route %q: all providers unknown", requestedModel)
		}
		return routes, nil
	}

	// No matching route: default to first provider
	return []Route{{Provider: r.providers[0], Model: requestedModel}}, nil
}
