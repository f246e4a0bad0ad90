package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/casegate/internal/domain/archive"
	"github.com/bryanwahyu/casegate/internal/domain/cases"
)

func setupRepo(t *testing.T) *CaseRepository {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewCaseRepository(conn)
}

func sampleCase(id string) *archive.Case {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &archive.Case{
		ID:         cases.ID(id),
		CreatedAt:  created,
		ArchivedAt: created.Add(time.Minute),
		Name:       "Ann",
		Phone:      "+62-1",
		Handle:     "ann",
		ImageKey:   "cases/" + id + ".jpg",
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	for i := 0; i < 2; i++ {
		conn, err := Open(context.Background(), path)
		require.NoError(t, err)

		var mode string
		require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
		require.NoError(t, conn.Close())
	}
}

func TestSaveGet(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	want := sampleCase("c1")
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, "+62-1", got.Phone)
	assert.Equal(t, "ann", got.Handle)
	assert.Equal(t, "cases/c1.jpg", got.ImageKey)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.ArchivedAt.Equal(got.ArchivedAt))
	assert.Nil(t, got.AILevel)
	assert.Nil(t, got.AssessedAt)
}

func TestGet_NotFound(t *testing.T) {
	_, err := setupRepo(t).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestSaveAssessment(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	require.NoError(t, repo.Save(ctx, sampleCase("c1")))

	at := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	a := cases.Assessment{Level: 2, Prob: 0.87, Suggestion: "observe"}
	require.NoError(t, repo.SaveAssessment(ctx, "c1", a, at))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.AILevel)
	assert.Equal(t, 2, *got.AILevel)
	assert.InDelta(t, 0.87, *got.AIProb, 1e-9)
	assert.Equal(t, "observe", *got.AISuggestion)
	require.NotNil(t, got.AssessedAt)
	assert.True(t, at.Equal(*got.AssessedAt))

	assert.ErrorIs(t, repo.SaveAssessment(ctx, "nope", a, at), archive.ErrNotFound)
}

func TestSave_ReArchiveKeepsAssessment(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	c := sampleCase("c1")
	require.NoError(t, repo.Save(ctx, c))
	require.NoError(t, repo.SaveAssessment(ctx, "c1", cases.Assessment{Level: 1, Prob: 0.2}, time.Now()))

	c.ImageKey = "cases/c1.png"
	c.ArchivedAt = c.ArchivedAt.Add(time.Hour)
	require.NoError(t, repo.Save(ctx, c))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "cases/c1.png", got.ImageKey)
	require.NotNil(t, got.AILevel)
	assert.Equal(t, 1, *got.AILevel)
}
