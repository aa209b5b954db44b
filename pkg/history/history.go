// Package history keeps an append-only record of prompts and answers.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/models"
)

// Store writes and queries history entries in a dedicated SQLite database.
type Store struct {
	db     *sql.DB
	cfg    models.HistoryConfig
	logger *zap.Logger
	now    func() time.Time
	done   chan struct{}
	wg     sync.WaitGroup
}

// New opens the history database, creates the schema and starts the
// hourly retention cleanup.
func New(cfg models.HistoryConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate history db")
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logging.OrNop(logger),
		now:    time.Now,
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.retentionLoop()

	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS prompt_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT NOT NULL DEFAULT '',
		prompt     TEXT NOT NULL,
		response   TEXT NOT NULL DEFAULT '',
		model      TEXT NOT NULL DEFAULT '',
		outcome    TEXT NOT NULL DEFAULT '',
		metadata   TEXT,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_prompt ON prompt_history(prompt)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_history_created ON prompt_history(created_at)`)
	return err
}

// Add appends an entry, truncating bodies over the configured size.
func (s *Store) Add(ctx context.Context, entry models.HistoryEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	prompt := s.truncate(entry.Prompt)
	response := s.truncate(entry.Response)

	var meta sql.NullString
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return 0, errors.Wrap(err, "encode history metadata")
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prompt_history (event_id, prompt, response, model, outcome, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EventID, prompt, response, entry.Model, string(entry.Outcome), meta, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "add history")
	}
	return res.LastInsertId()
}

// Record stores a handled query. It satisfies the router's event sink.
func (s *Store) Record(ctx context.Context, ev models.QueryEvent) error {
	meta := map[string]string{
		"energy_wh":  strconv.FormatFloat(ev.Energy.EnergyWh, 'f', -1, 64),
		"carbon_g":   strconv.FormatFloat(ev.Energy.CarbonG, 'f', -1, 64),
		"confidence": string(ev.Energy.Confidence),
		"latency_ms": strconv.FormatFloat(ev.LatencyMs, 'f', 1, 64),
	}
	if ev.Outcome == models.OutcomeHit {
		meta["similarity"] = strconv.FormatFloat(ev.Similarity, 'f', 4, 64)
		meta["entry_id"] = strconv.FormatUint(ev.EntryID, 10)
	}
	if ev.Failed() {
		meta["error"] = ev.Error
		meta["reason"] = ev.Reason
	}

	_, err := s.Add(ctx, models.HistoryEntry{
		EventID:   ev.ID,
		Prompt:    ev.Query,
		Response:  ev.Answer,
		Model:     ev.Model,
		Outcome:   ev.Outcome,
		Metadata:  meta,
		CreatedAt: ev.Timestamp,
	})
	return err
}

const selectEntries = `SELECT id, event_id, prompt, response, model, outcome, metadata, created_at FROM prompt_history`

// Last returns the n most recent entries, newest first.
func (s *Store) Last(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 {
		n = 20
	}
	return s.query(ctx, selectEntries+` ORDER BY created_at DESC, id DESC LIMIT ?`, n)
}

// FindExact returns entries whose prompt equals prompt, newest first.
func (s *Store) FindExact(ctx context.Context, prompt string) ([]models.HistoryEntry, error) {
	return s.query(ctx, selectEntries+` WHERE prompt = ? ORDER BY created_at DESC, id DESC`, s.truncate(prompt))
}

// Search returns up to limit entries whose prompt contains term, newest first.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(term) + "%"
	return s.query(ctx, selectEntries+` WHERE prompt LIKE ? ESCAPE '\' ORDER BY created_at DESC, id DESC LIMIT ?`, pattern, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			e       models.HistoryEntry
			outcome string
			meta    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Prompt, &e.Response, &e.Model, &outcome, &meta, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		e.Outcome = models.Outcome(outcome)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompt_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "history cleanup")
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			n, err := s.Cleanup(context.Background())
			if err != nil {
				s.logger.Warn("history cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("history cleanup", zap.Int64("deleted", n))
			}
		}
	}
}

func (s *Store) truncate(body string) string {
	if s.cfg.MaxBodySize <= 0 || len(body) <= s.cfg.MaxBodySize {
		return body
	}
	// cut on a rune boundary
	n := s.cfg.MaxBodySize
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return body[:n]
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
