package models

import "time"

// HistoryEntry is one prompt/response interaction.
type HistoryEntry struct {
	ID        int64             `json:"id"`
	EventID   string            `json:"event_id"`
	Prompt    string            `json:"prompt"`
	Response  string            `json:"response"`
	Model     string            `json:"model"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HistoryConfig controls the prompt history store.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxBodySize   int    `yaml:"max_body_size"` // bytes
}
