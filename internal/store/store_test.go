package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/souq-assistant/internal/domain"
)

type clockSetter interface {
	Repository
	setNow(func() time.Time)
}

func (s *SQLiteStore) setNow(now func() time.Time) { s.now = now }
func (s *MemoryStore) setNow(now func() time.Time) { s.now = now }

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := newSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func repositories(t *testing.T) map[string]func(t *testing.T) clockSetter {
	t.Helper()
	return map[string]func(t *testing.T) clockSetter{
		"sqlite": func(t *testing.T) clockSetter { return newSQLiteForTest(t) },
		"memory": func(t *testing.T) clockSetter { return NewMemory() },
	}
}

func price(v float64) *float64 { return &v }

func TestLoadDraftDefaultsToEmpty(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			repo := newRepo(t)

			d, err := repo.LoadDraft(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, "u1", d.UserID)
			assert.Equal(t, domain.StepTitle, d.Step)
			assert.True(t, d.IsEmpty())
			assert.Zero(t, d.Version)
		})
	}
}

func TestMergeDraftPersistsAdditively(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)

			_, err := repo.MergeDraft(ctx, "u1", domain.Fields{Title: "Toyota Hilux", Price: price(5000), Currency: domain.CurrencyUSD})
			require.NoError(t, err)
			d, err := repo.MergeDraft(ctx, "u1", domain.Fields{})
			require.NoError(t, err)
			assert.Equal(t, int64(2), d.Version)

			loaded, err := repo.LoadDraft(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "Toyota Hilux", loaded.Title)
			require.NotNil(t, loaded.Price)
			assert.Equal(t, 5000.0, *loaded.Price)
			assert.Equal(t, domain.CurrencyUSD, loaded.Currency)
			assert.Equal(t, domain.StepDescription, loaded.Step)
			assert.False(t, loaded.CreatedAt.IsZero())
		})
	}
}

func TestUpdateDraftIsAtomicUnderConcurrency(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)

			var wg sync.WaitGroup
			errs := make(chan error, domain.MaxImages)
			for i := 0; i < domain.MaxImages; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					url := fmt.Sprintf("https://cdn.example.com/%d.jpg", i)
					_, err := repo.MergeDraft(ctx, "u1", domain.Fields{Images: []string{url}})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			d, err := repo.LoadDraft(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, d.Images, domain.MaxImages)
			assert.Equal(t, int64(domain.MaxImages), d.Version)
		})
	}
}

func TestUpdateDraftPassesCallbackErrorThrough(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)
			errStop := errors.New("stop")

			_, err := repo.MergeDraft(ctx, "u1", domain.Fields{Title: "Sofa"})
			require.NoError(t, err)

			_, err = repo.UpdateDraft(ctx, "u1", func(d *domain.Draft) error {
				d.Title = "changed"
				return errStop
			})
			assert.ErrorIs(t, err, errStop)

			d, err := repo.LoadDraft(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "Sofa", d.Title)
		})
	}
}

func TestResetDraft(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)

			_, err := repo.MergeDraft(ctx, "u1", domain.Fields{Title: "Sofa"})
			require.NoError(t, err)
			require.NoError(t, repo.ResetDraft(ctx, "u1"))
			require.NoError(t, repo.ResetDraft(ctx, "u1"))

			d, err := repo.LoadDraft(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, d.IsEmpty())
			assert.Equal(t, domain.StepTitle, d.Step)
		})
	}
}

func TestIdempotencyInsertOrKeep(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)
			now := time.Now().Truncate(time.Second)
			repo.setNow(func() time.Time { return now })

			got, err := repo.GetIdempotency(ctx, "u1:tok")
			require.NoError(t, err)
			assert.Nil(t, got)

			first := &domain.IdempotencyRecord{Key: "u1:tok", UserID: "u1", Response: []byte(`{"reply":"a"}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
			stored, err := repo.PutIdempotency(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, first.Response, stored.Response)

			second := &domain.IdempotencyRecord{Key: "u1:tok", UserID: "u1", Response: []byte(`{"reply":"b"}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
			stored, err = repo.PutIdempotency(ctx, second)
			require.NoError(t, err)
			assert.Equal(t, first.Response, stored.Response)

			got, err = repo.GetIdempotency(ctx, "u1:tok")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, first.Response, got.Response)
		})
	}
}

func TestDeleteExpired(t *testing.T) {
	t.Parallel()
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			repo := newRepo(t)
			now := time.Now().Truncate(time.Second)

			repo.setNow(func() time.Time { return now.Add(-48 * time.Hour) })
			_, err := repo.MergeDraft(ctx, "stale", domain.Fields{Title: "Old"})
			require.NoError(t, err)
			repo.setNow(func() time.Time { return now })
			_, err = repo.MergeDraft(ctx, "fresh", domain.Fields{Title: "New"})
			require.NoError(t, err)

			_, err = repo.PutIdempotency(ctx, &domain.IdempotencyRecord{Key: "old", UserID: "u", Response: []byte("{}"), CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
			require.NoError(t, err)
			_, err = repo.PutIdempotency(ctx, &domain.IdempotencyRecord{Key: "new", UserID: "u", Response: []byte("{}"), CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
			require.NoError(t, err)

			drafts, records, err := repo.DeleteExpired(ctx, now, 24*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(1), drafts)
			assert.Equal(t, int64(1), records)

			d, err := repo.LoadDraft(ctx, "fresh")
			require.NoError(t, err)
			assert.Equal(t, "New", d.Title)
			d, err = repo.LoadDraft(ctx, "stale")
			require.NoError(t, err)
			assert.True(t, d.IsEmpty())
		})
	}
}

func TestSQLiteRetriesOnVersionConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a, err := newSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := newSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	calls := 0
	d, err := a.UpdateDraft(ctx, "u1", func(d *domain.Draft) error {
		calls++
		if calls == 1 {
			// Another process commits first.
			_, err := b.MergeDraft(ctx, "u1", domain.Fields{Title: "From B"})
			require.NoError(t, err)
		}
		domain.Merge(d, domain.Fields{Phone: "771234567"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "From B", d.Title)
	assert.Equal(t, "771234567", d.Phone)
	assert.Equal(t, int64(2), d.Version)
}
