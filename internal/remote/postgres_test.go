package remote

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("EGGSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EGGSYNC_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgres(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresUpsertMerges(t *testing.T) {
	s := testPostgres(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, s.Upsert(ctx, "events", id, map[string]any{"label": "good"}))
	require.NoError(t, s.Upsert(ctx, "events", id, map[string]any{"image_path": "images/a.jpg"}))

	doc, err := s.Document(ctx, "events", id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"label": "good", "image_path": "images/a.jpg"}, doc)
}

func TestPostgresApplyOnce(t *testing.T) {
	s := testPostgres(t)
	ctx := context.Background()
	doc := uuid.NewString()
	incs := []Increment{
		{Collection: "daily_summaries", DocID: doc, Field: "total", Delta: 1},
		{Collection: "daily_summaries", DocID: doc, Field: "labels.cracked", Delta: 1},
	}

	applied, err := s.ApplyOnce(ctx, doc, incs)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = s.ApplyOnce(ctx, doc, incs)
	require.NoError(t, err)
	assert.False(t, applied)

	c, err := s.Counters(ctx, "daily_summaries", doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"total": 1, "labels.cracked": 1}, c)
}

func TestPostgresMigrateIsIdempotent(t *testing.T) {
	s := testPostgres(t)
	require.NoError(t, s.migrate())
}
