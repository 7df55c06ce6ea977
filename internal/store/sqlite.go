package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite. Drafts are stored as JSON
// documents guarded by a version column.
type SQLiteStore struct {
	db      *sql.DB
	draftMu sync.Mutex // Serializes draft writes in this process to avoid SQLITE_BUSY
	retry   shared.RetryPolicy
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLite(dbPath)
}

func newSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:  db,
		now: time.Now,
		retry: shared.RetryPolicy{
			Attempts:  5,
			BaseDelay: 20 * time.Millisecond,
			Retryable: func(err error) bool {
				return callbackCause(err) == nil && errors.Is(err, ErrConflict)
			},
		},
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS drafts (
		user_id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_updated ON drafts(updated_at);

	CREATE TABLE IF NOT EXISTS idempotency (
		key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		response BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadDraft returns the stored draft or an empty one.
func (s *SQLiteStore) LoadDraft(ctx context.Context, userID string) (*domain.Draft, error) {
	return s.loadDraft(ctx, s.db, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) loadDraft(ctx context.Context, q queryRower, userID string) (*domain.Draft, error) {
	row := q.QueryRowContext(ctx, `SELECT doc, version FROM drafts WHERE user_id = ?`, userID)

	var doc string
	var version int64
	err := row.Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewDraft(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft: %w", err)
	}

	var d domain.Draft
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", userID, err)
	}
	d.UserID = userID
	d.Version = version
	return &d, nil
}

// UpdateDraft runs fn against the latest draft and writes it back if the
// version did not move. Conflicts and SQLITE_BUSY are retried with
// exponential backoff.
func (s *SQLiteStore) UpdateDraft(ctx context.Context, userID string, fn UpdateFunc) (*domain.Draft, error) {
	var out *domain.Draft
	err := shared.Retry(ctx, "update draft", s.retry, func() error {
		d, err := s.updateDraftOnce(ctx, userID, fn)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if cause := callbackCause(err); cause != nil {
		return nil, cause
	}
	if err != nil {
		return nil, fmt.Errorf("update draft for %s: %w", userID, err)
	}
	return out, nil
}

func (s *SQLiteStore) updateDraftOnce(ctx context.Context, userID string, fn UpdateFunc) (*domain.Draft, error) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	d, err := s.loadDraft(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	expected := d.Version
	if err := fn(d); err != nil {
		return nil, &callbackError{err: err}
	}

	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UserID = userID
	d.UpdatedAt = now
	d.Version = expected + 1

	doc, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}

	var result sql.Result
	if expected == 0 {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO drafts (user_id, doc, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			userID, string(doc), d.Version, d.CreatedAt.Unix(), now.Unix())
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE drafts SET doc = ?, version = ?, updated_at = ?
			WHERE user_id = ? AND version = ?`,
			string(doc), d.Version, now.Unix(), userID, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("write draft: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("Draft write lost optimistic race", "user_id", userID, "expected_version", expected)
		return nil, ErrConflict
	}
	return d, nil
}

// MergeDraft merges fields into the stored draft.
func (s *SQLiteStore) MergeDraft(ctx context.Context, userID string, fields domain.Fields) (*domain.Draft, error) {
	return s.UpdateDraft(ctx, userID, mergeFields(fields))
}

// ResetDraft removes the user's draft.
func (s *SQLiteStore) ResetDraft(ctx context.Context, userID string) error {
	err := shared.Retry(ctx, "reset draft", shared.DefaultRetryPolicy, func() error {
		s.draftMu.Lock()
		defer s.draftMu.Unlock()
		_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE user_id = ?`, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete draft for %s: %w", userID, err)
	}
	return nil
}

// GetIdempotency returns the unexpired record stored under key.
func (s *SQLiteStore) GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, user_id, response, created_at, expires_at
		FROM idempotency WHERE key = ? AND expires_at > ?`, key, s.now().Unix())

	var rec domain.IdempotencyRecord
	var createdAt, expiresAt int64
	err := row.Scan(&rec.Key, &rec.UserID, &rec.Response, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan idempotency record: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &rec, nil
}

// PutIdempotency inserts rec, replacing only an expired record with the
// same key.
func (s *SQLiteStore) PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) (*domain.IdempotencyRecord, error) {
	query := `
	INSERT INTO idempotency (key, user_id, response, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		user_id = excluded.user_id,
		response = excluded.response,
		created_at = excluded.created_at,
		expires_at = excluded.expires_at
	WHERE idempotency.expires_at <= excluded.created_at`

	err := shared.Retry(ctx, "put idempotency", shared.DefaultRetryPolicy, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.Key, rec.UserID, rec.Response, rec.CreatedAt.Unix(), rec.ExpiresAt.Unix())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("put idempotency record: %w", err)
	}

	stored, err := s.GetIdempotency(ctx, rec.Key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return rec, nil
	}
	return stored, nil
}

// DeleteExpired removes expired idempotency records and stale drafts.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time, draftTTL time.Duration) (int64, int64, error) {
	recRes, err := s.db.ExecContext(ctx, `DELETE FROM idempotency WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	records, err := recRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("idempotency rows affected: %w", err)
	}

	var drafts int64
	if draftTTL > 0 {
		draftRes, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE updated_at < ?`, now.Add(-draftTTL).Unix())
		if err != nil {
			return 0, records, fmt.Errorf("delete stale drafts: %w", err)
		}
		if drafts, err = draftRes.RowsAffected(); err != nil {
			return 0, records, fmt.Errorf("draft rows affected: %w", err)
		}
	}

	return drafts, records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
