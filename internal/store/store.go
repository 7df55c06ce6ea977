// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/souq-assistant/internal/domain"
)

// ErrConflict is returned when a draft changed between read and write and
// the retries were exhausted.
var ErrConflict = errors.New("draft version conflict")

// UpdateFunc mutates a draft in place. Returning an error aborts the update
// and the error is passed through to the caller unchanged.
type UpdateFunc func(d *domain.Draft) error

// Repository defines the interface for persisting drafts and idempotency
// records.
type Repository interface {
	// LoadDraft returns the user's draft, or an empty draft at the title step
	// when none exists.
	LoadDraft(ctx context.Context, userID string) (*domain.Draft, error)

	// UpdateDraft applies fn to the latest stored draft and persists the
	// result atomically. fn may run more than once if a concurrent writer
	// wins the race, so it must not have side effects.
	UpdateDraft(ctx context.Context, userID string, fn UpdateFunc) (*domain.Draft, error)

	// MergeDraft merges fields into the draft additively.
	MergeDraft(ctx context.Context, userID string, fields domain.Fields) (*domain.Draft, error)

	// ResetDraft deletes the user's draft.
	ResetDraft(ctx context.Context, userID string) error

	// GetIdempotency returns the unexpired record stored under key, or nil.
	GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error)

	// PutIdempotency stores rec unless an unexpired record already exists
	// under its key. The record that ends up stored is returned.
	PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) (*domain.IdempotencyRecord, error)

	// DeleteExpired removes idempotency records expired at now and drafts
	// not updated within draftTTL.
	DeleteExpired(ctx context.Context, now time.Time, draftTTL time.Duration) (drafts int64, records int64, err error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

func mergeFields(fields domain.Fields) UpdateFunc {
	return func(d *domain.Draft) error {
		domain.Merge(d, fields)
		return nil
	}
}

// callbackError marks an error returned by an UpdateFunc so it is neither
// retried nor wrapped.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

// callbackCause returns the UpdateFunc error wrapped in err, or nil.
func callbackCause(err error) error {
	var ce *callbackError
	if errors.As(err, &ce) {
		return ce.err
	}
	return nil
}
