// Package sqlite persists semantic cache snapshots so a restarted process can warm-start.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/greencache-ai/greencache/pkg/models"
)

// Store keeps the latest snapshot of cache entries in SQLite.
type Store struct {
	db *sql.DB
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS semantic_cache_entries (
	id INTEGER PRIMARY KEY,
	query TEXT NOT NULL,
	model TEXT NOT NULL,
	answer TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	last_access_ns INTEGER NOT NULL,
	hits INTEGER NOT NULL DEFAULT 0,
	watts REAL NOT NULL DEFAULT 0,
	elapsed_seconds REAL NOT NULL DEFAULT 0,
	energy_wh REAL NOT NULL DEFAULT 0,
	carbon_g REAL NOT NULL DEFAULT 0,
	confidence TEXT NOT NULL DEFAULT 'unavailable'
);
`

// New opens the snapshot database at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot db")
	}

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate snapshot db")
	}

	return &Store{db: db}, nil
}

// Save replaces the stored snapshot with entries in one transaction.
func (s *Store) Save(ctx context.Context, entries []models.CacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "snapshot begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM semantic_cache_entries`); err != nil {
		return errors.Wrap(err, "snapshot reset")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO semantic_cache_entries
		 (id, query, model, answer, embedding, created_at, last_access_ns, hits,
		  watts, elapsed_seconds, energy_wh, carbon_g, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "snapshot prepare")
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			int64(e.ID), e.Query, e.Model, e.Answer, EncodeEmbedding(e.Embedding),
			e.CreatedAt.UTC(), e.LastAccess.UnixNano(), e.Hits,
			e.Energy.Watts, e.Energy.ElapsedSeconds, e.Energy.EnergyWh, e.Energy.CarbonG, string(e.Energy.Confidence),
		)
		if err != nil {
			return errors.Wrapf(err, "snapshot entry %d", e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "snapshot commit")
	}
	return nil
}

// Load returns every stored entry ordered by id.
func (s *Store) Load(ctx context.Context) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, model, answer, embedding, created_at, last_access_ns, hits,
		        watts, elapsed_seconds, energy_wh, carbon_g, confidence
		 FROM semantic_cache_entries ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var (
			e          models.CacheEntry
			id         int64
			blob       []byte
			lastAccess int64
			confidence string
		)
		if err := rows.Scan(&id, &e.Query, &e.Model, &e.Answer, &blob, &e.CreatedAt, &lastAccess, &e.Hits,
			&e.Energy.Watts, &e.Energy.ElapsedSeconds, &e.Energy.EnergyWh, &e.Energy.CarbonG, &confidence); err != nil {
			return nil, errors.Wrap(err, "scan snapshot entry")
		}
		emb, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", id)
		}
		e.ID = uint64(id)
		e.Embedding = emb
		e.LastAccess = time.Unix(0, lastAccess).UTC()
		e.Energy.Confidence = models.Confidence(confidence)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_cache_entries`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count snapshot")
	}
	return n, nil
}

// Clear removes every stored entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM semantic_cache_entries`); err != nil {
		return errors.Wrap(err, "clear snapshot")
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EncodeEmbedding packs v as little-endian float32s.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding reverses EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.Newf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
