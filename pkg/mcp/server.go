// Package mcp exposes greencache to MCP clients over stdio.
package mcp

import (
	"context"
	"io"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/greencache-ai/greencache/pkg/models"
)

// Querier answers queries through the semantic cache.
type Querier interface {
	Handle(ctx context.Context, query, model string) models.QueryEvent
	Compare(ctx context.Context, query, model string) (models.Comparison, error)
}

// CacheReader provides cache statistics without coupling to the cache implementation.
type CacheReader interface {
	Stats() models.CacheStats
	Snapshot() []models.EntrySummary
}

// EventReader reads tracked query events.
type EventReader interface {
	Recent(ctx context.Context, limit int) ([]models.EventRecord, error)
	Summary(ctx context.Context, since time.Time) ([]models.EnergySummary, error)
}

// BudgetReporter reports carbon budget status.
type BudgetReporter interface {
	Status(ctx context.Context) ([]models.BudgetStatus, error)
}

// HistorySearcher searches past prompts.
type HistorySearcher interface {
	Search(ctx context.Context, term string, limit int) ([]models.HistoryEntry, error)
}

// Deps are the collaborators behind the tools. Nil members disable their tools' data.
type Deps struct {
	Querier Querier
	Cache   CacheReader
	Events  EventReader
	Budget  BudgetReporter
	History HistorySearcher
}

// Server is an MCP server exposing greencache tools.
type Server struct {
	deps Deps
	mcp  *mcpserver.MCPServer
}

// New creates a new MCP Server with all tools registered.
func New(deps Deps, version string) *Server {
	s := &Server{
		deps: deps,
		mcp: mcpserver.NewMCPServer(
			"greencache",
			version,
			mcpserver.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcp }

// Run serves JSON-RPC from r to w until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	return mcpserver.NewStdioServer(s.mcp).Listen(ctx, r, w)
}
