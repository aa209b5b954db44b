// Package tracker persists query events and aggregates their energy use.
package tracker

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/greencache-ai/greencache/pkg/models"
)

// Tracker records and queries query events.
type Tracker interface {
	// Record stores an event.
	Record(ctx context.Context, ev models.QueryEvent) error
	// Recent returns the newest events first.
	Recent(ctx context.Context, limit int) ([]models.EventRecord, error)
	// Since returns events at or after since, oldest first.
	Since(ctx context.Context, since time.Time) ([]models.EventRecord, error)
	// Summary aggregates events since a given time by model and outcome.
	Summary(ctx context.Context, since time.Time) ([]models.EnergySummary, error)
	// TotalCarbonByModel returns grams of CO2 emitted since a given time.
	// An empty model sums across all models.
	TotalCarbonByModel(ctx context.Context, model string, since time.Time) (float64, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS query_events (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	query TEXT NOT NULL,
	outcome TEXT NOT NULL,
	model TEXT NOT NULL,
	watts REAL NOT NULL DEFAULT 0,
	energy_wh REAL NOT NULL DEFAULT 0,
	carbon_g REAL NOT NULL DEFAULT 0,
	latency_ms REAL NOT NULL DEFAULT 0,
	confidence TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	saved_wh REAL NOT NULL DEFAULT 0,
	saved_carbon_g REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_time ON query_events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_model_time ON query_events(model, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open tracker db")
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate tracker db")
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores the flat form of ev.
func (t *SQLiteTracker) Record(ctx context.Context, ev models.QueryEvent) error {
	r := ev.Flat()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO query_events
		 (id, created_at, query, outcome, model, watts, energy_wh, carbon_g, latency_ms,
		  confidence, error, reason, saved_wh, saved_carbon_g)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UTC(), r.Query, string(r.Outcome), r.Model, r.Watts, r.EnergyWh, r.CarbonG, r.LatencyMs,
		string(r.Confidence), r.Error, r.Reason, r.SavedWh, r.SavedCarbonG,
	)
	if err != nil {
		return errors.Wrap(err, "record event")
	}
	return nil
}

const selectEvents = `SELECT id, created_at, query, outcome, model, watts, energy_wh, carbon_g, latency_ms,
	confidence, error, reason, saved_wh, saved_carbon_g FROM query_events`

// Recent returns up to limit events, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx, selectEvents+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent events")
	}
	return scanEvents(rows)
}

// Since returns events at or after since, oldest first.
func (t *SQLiteTracker) Since(ctx context.Context, since time.Time) ([]models.EventRecord, error) {
	rows, err := t.db.QueryContext(ctx, selectEvents+` WHERE created_at >= ? ORDER BY created_at ASC`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "events since")
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.EventRecord, error) {
	defer rows.Close()

	var records []models.EventRecord
	for rows.Next() {
		var (
			r                   models.EventRecord
			outcome, confidence string
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Query, &outcome, &r.Model, &r.Watts, &r.EnergyWh, &r.CarbonG,
			&r.LatencyMs, &confidence, &r.Error, &r.Reason, &r.SavedWh, &r.SavedCarbonG); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		r.Outcome = models.Outcome(outcome)
		r.Confidence = models.Confidence(confidence)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns energy grouped by model and outcome since a given time.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.EnergySummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT model, outcome, COUNT(*),
		        SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
		        COALESCE(SUM(energy_wh), 0), COALESCE(SUM(carbon_g), 0), COALESCE(AVG(latency_ms), 0),
		        COALESCE(SUM(saved_wh), 0), COALESCE(SUM(saved_carbon_g), 0)
		 FROM query_events WHERE created_at >= ?
		 GROUP BY model, outcome ORDER BY model, outcome`,
		since.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "summary")
	}
	defer rows.Close()

	var summaries []models.EnergySummary
	for rows.Next() {
		var (
			s       models.EnergySummary
			outcome string
		)
		if err := rows.Scan(&s.Model, &outcome, &s.Queries, &s.Failures, &s.EnergyWh, &s.CarbonG,
			&s.AvgLatencyMs, &s.SavedWh, &s.SavedCarbonG); err != nil {
			return nil, errors.Wrap(err, "scan summary")
		}
		s.Outcome = models.Outcome(outcome)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// TotalCarbonByModel returns grams of CO2 emitted since a given time.
func (t *SQLiteTracker) TotalCarbonByModel(ctx context.Context, model string, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(carbon_g), 0) FROM query_events WHERE created_at >= ?`
	args := []any{since.UTC()}
	if model != "" {
		query += ` AND model = ?`
		args = append(args, model)
	}

	var total float64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "total carbon")
	}
	return total, nil
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

var csvHeader = []string{
	"id", "timestamp", "query", "outcome", "model", "watts", "energy_wh", "carbon_g",
	"latency_ms", "confidence", "error", "reason", "saved_wh", "saved_carbon_g",
}

// ExportCSV writes every event since a given time to w, oldest first.
func ExportCSV(ctx context.Context, t Tracker, w io.Writer, since time.Time) (int, error) {
	records, err := t.Since(ctx, since)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, errors.Wrap(err, "write csv header")
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Query,
			string(r.Outcome),
			r.Model,
			formatFloat(r.Watts),
			formatFloat(r.EnergyWh),
			formatFloat(r.CarbonG),
			formatFloat(r.LatencyMs),
			string(r.Confidence),
			r.Error,
			r.Reason,
			formatFloat(r.SavedWh),
			formatFloat(r.SavedCarbonG),
		}
		if err := cw.Write(row); err != nil {
			return 0, errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return len(records), errors.Wrap(cw.Error(), "flush csv")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
