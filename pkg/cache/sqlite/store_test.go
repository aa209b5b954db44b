package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencache-ai/greencache/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "snapshot_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntry(id uint64, query string) models.CacheEntry {
	now := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	return models.CacheEntry{
		ID:         id,
		Query:      query,
		Model:      "llama3",
		Answer:     "answer to " + query,
		Embedding:  []float32{0.25, -1.5, 3},
		CreatedAt:  now,
		LastAccess: now.Add(time.Duration(id) * time.Nanosecond),
		Hits:       int64(id),
		Energy: models.EnergyRecord{
			Watts: 30, ElapsedSeconds: 2, EnergyWh: 30.0 * 2 / 3600, CarbonG: 0.0079,
			Confidence: models.ConfidenceEstimated,
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []models.CacheEntry{sampleEntry(2, "b"), sampleEntry(1, "a")}
	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, uint64(1), out[0].ID)
	assert.Equal(t, "a", out[0].Query)
	assert.Equal(t, "answer to a", out[0].Answer)
	assert.Equal(t, []float32{0.25, -1.5, 3}, out[0].Embedding)
	assert.Equal(t, in[1].LastAccess, out[0].LastAccess)
	assert.True(t, in[1].CreatedAt.Equal(out[0].CreatedAt))
	assert.Equal(t, int64(1), out[0].Hits)
	assert.Equal(t, in[1].Energy, out[0].Energy)
}

func TestSaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []models.CacheEntry{sampleEntry(1, "a"), sampleEntry(2, "b")}))
	require.NoError(t, s.Save(ctx, []models.CacheEntry{sampleEntry(3, "c")}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(3), out[0].ID)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []models.CacheEntry{sampleEntry(1, "a")}))
	require.NoError(t, s.Clear(ctx))

	out, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []models.CacheEntry{sampleEntry(7, "warm")}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	out, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "warm", out[0].Query)
}

func TestEmbeddingCodec(t *testing.T) {
	v := []float32{1, -0.5, 3.25e-8}
	got, err := DecodeEmbedding(EncodeEmbedding(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}
