package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/souq-assistant/internal/domain"
)

// MemoryStore implements Repository in process memory. Updates hold a
// single lock, so they are trivially atomic.
type MemoryStore struct {
	mu      sync.Mutex
	drafts  map[string][]byte
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		drafts:  make(map[string][]byte),
		records: make(map[string]domain.IdempotencyRecord),
		now:     time.Now,
	}
}

// Drafts are kept encoded so callers can never alias stored state.
func (s *MemoryStore) load(userID string) (*domain.Draft, error) {
	doc, ok := s.drafts[userID]
	if !ok {
		return domain.NewDraft(userID), nil
	}
	var d domain.Draft
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", userID, err)
	}
	return &d, nil
}

// LoadDraft returns the stored draft or an empty one.
func (s *MemoryStore) LoadDraft(_ context.Context, userID string) (*domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(userID)
}

// UpdateDraft applies fn under the store lock.
func (s *MemoryStore) UpdateDraft(ctx context.Context, userID string, fn UpdateFunc) (*domain.Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UserID = userID
	d.UpdatedAt = now
	d.Version++

	doc, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}
	s.drafts[userID] = doc
	return d, nil
}

// MergeDraft merges fields into the stored draft.
func (s *MemoryStore) MergeDraft(ctx context.Context, userID string, fields domain.Fields) (*domain.Draft, error) {
	return s.UpdateDraft(ctx, userID, mergeFields(fields))
}

// ResetDraft removes the user's draft.
func (s *MemoryStore) ResetDraft(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, userID)
	return nil
}

// GetIdempotency returns the unexpired record stored under key.
func (s *MemoryStore) GetIdempotency(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Expired(s.now()) {
		return nil, nil
	}
	rec.Response = slices.Clone(rec.Response)
	return &rec, nil
}

// PutIdempotency stores rec unless an unexpired record exists.
func (s *MemoryStore) PutIdempotency(_ context.Context, rec *domain.IdempotencyRecord) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Key]; ok && !existing.Expired(s.now()) {
		existing.Response = slices.Clone(existing.Response)
		return &existing, nil
	}
	stored := *rec
	stored.Response = slices.Clone(rec.Response)
	s.records[rec.Key] = stored
	return rec, nil
}

// DeleteExpired removes expired records and stale drafts.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time, draftTTL time.Duration) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records int64
	for k, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, k)
			records++
		}
	}

	var drafts int64
	if draftTTL > 0 {
		cutoff := now.Add(-draftTTL)
		for userID := range s.drafts {
			d, err := s.load(userID)
			if err != nil || d.UpdatedAt.Before(cutoff) {
				delete(s.drafts, userID)
				drafts++
			}
		}
	}
	return drafts, records, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
