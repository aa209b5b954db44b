package main

import (
	"strings"
	"testing"
	"time"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/models"
)

func TestFormatHistoryEntries(t *testing.T) {
	if got := formatHistoryEntries(nil); got != "No history entries found.\n" {
		t.Errorf("empty: got %q", got)
	}

	out := formatHistoryEntries([]models.HistoryEntry{
		{
			ID: 1, Prompt: "line one\nline two", Response: "answer", Model: "llama3",
			Outcome: models.OutcomeMiss, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Metadata: map[string]string{"energy_wh": "0.5", "carbon_g": "0.24"},
		},
		{
			ID: 2, Prompt: "slow", Model: "llama3", Outcome: models.OutcomeMiss,
			Metadata: map[string]string{"error": "llm request timed out", "reason": models.ReasonTimeout},
		},
	})
	for _, want := range []string{
		"#1  2026-01-02 03:04:05  miss  llama3",
		"Q: line one line two",
		"A: answer",
		"energy: 0.5 Wh, carbon: 0.24 g",
		"error: llm request timed out (timeout)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDescribeTargets(t *testing.T) {
	got := describeTargets([]config.RouteTarget{
		{Provider: "ollama", Model: "llama3:8b"},
		{Provider: "openai"},
	})
	if got != "ollama/llama3:8b, openai" {
		t.Errorf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a much longer query", 10); got != "a much..." {
		t.Errorf("got %q", got)
	}
}
