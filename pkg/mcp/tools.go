package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultLimit = 20
	defaultDays  = 7
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("greencache_query",
		mcp.WithDescription("Answer a question through the semantic cache, reporting hit or miss and the energy used."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithString("model",
			mcp.Description("Model to use on a cache miss (optional, defaults to the configured model)"),
		),
	), s.handleQuery)

	s.mcp.AddTool(mcp.NewTool("greencache_compare",
		mcp.WithDescription("Run a question through the cache and directly upstream, and report the energy and carbon the cache saved."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithString("model",
			mcp.Description("Model to use (optional)"),
		),
	), s.handleCompare)

	s.mcp.AddTool(mcp.NewTool("greencache_cache_stats",
		mcp.WithDescription("Show semantic cache statistics and the most used entries."),
		mcp.WithNumber("limit",
			mcp.Description("Number of entries to list (default: 20)"),
		),
	), s.handleCacheStats)

	s.mcp.AddTool(mcp.NewTool("greencache_energy_summary",
		mcp.WithDescription("Show energy, carbon and savings by model and outcome over recent days."),
		mcp.WithNumber("days",
			mcp.Description("Number of days to cover (default: 7)"),
		),
	), s.handleEnergySummary)

	s.mcp.AddTool(mcp.NewTool("greencache_recent_events",
		mcp.WithDescription("List the most recent queries with their outcome and energy."),
		mcp.WithNumber("limit",
			mcp.Description("Number of events to list (default: 20)"),
		),
	), s.handleRecentEvents)

	s.mcp.AddTool(mcp.NewTool("greencache_history_search",
		mcp.WithDescription("Search past prompts and their answers."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Text the prompt must contain"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries (default: 20)"),
		),
	), s.handleHistorySearch)

	s.mcp.AddTool(mcp.NewTool("greencache_budget",
		mcp.WithDescription("Show carbon budget usage against configured limits."),
	), s.handleBudget)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Querier == nil {
		return mcp.NewToolResultText("Query routing is not configured."), nil
	}
	query, err := req.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	ev := s.deps.Querier.Handle(ctx, query, req.GetString("model", ""))
	if ev.Failed() {
		return mcp.NewToolResultError(formatEvent(ev)), nil
	}
	return mcp.NewToolResultText(formatEvent(ev)), nil
}

func (s *Server) handleCompare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Querier == nil {
		return mcp.NewToolResultText("Query routing is not configured."), nil
	}
	query, err := req.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	cmp, err := s.deps.Querier.Compare(ctx, query, req.GetString("model", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compare failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatComparison(cmp)), nil
}

func (s *Server) handleCacheStats(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Cache == nil {
		return mcp.NewToolResultText("Cache is not configured."), nil
	}
	limit := req.GetInt("limit", defaultLimit)
	return mcp.NewToolResultText(formatCacheStats(s.deps.Cache.Stats(), s.deps.Cache.Snapshot(), limit)), nil
}

func (s *Server) handleEnergySummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Events == nil {
		return mcp.NewToolResultText("Event tracking is not configured."), nil
	}
	days := req.GetInt("days", defaultDays)
	if days <= 0 {
		return mcp.NewToolResultError("days must be positive"), nil
	}
	rows, err := s.deps.Events.Summary(ctx, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return mcp.NewToolResultError("Error fetching energy summary: " + err.Error()), nil
	}
	return mcp.NewToolResultText(formatSummary(rows)), nil
}

func (s *Server) handleRecentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Events == nil {
		return mcp.NewToolResultText("Event tracking is not configured."), nil
	}
	events, err := s.deps.Events.Recent(ctx, req.GetInt("limit", defaultLimit))
	if err != nil {
		return mcp.NewToolResultError("Error fetching events: " + err.Error()), nil
	}
	return mcp.NewToolResultText(formatEvents(events)), nil
}

func (s *Server) handleHistorySearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.History == nil {
		return mcp.NewToolResultText("Prompt history is not configured."), nil
	}
	term, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	entries, err := s.deps.History.Search(ctx, term, req.GetInt("limit", defaultLimit))
	if err != nil {
		return mcp.NewToolResultError("Error searching history: " + err.Error()), nil
	}
	return mcp.NewToolResultText(formatHistory(entries)), nil
}

func (s *Server) handleBudget(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.deps.Budget == nil {
		return mcp.NewToolResultText("Budget enforcement is not configured."), nil
	}
	statuses, err := s.deps.Budget.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError("Error fetching budget status: " + err.Error()), nil
	}
	return mcp.NewToolResultText(formatBudgetStatus(statuses)), nil
}
