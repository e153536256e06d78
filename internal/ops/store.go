package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
)

// Store persists interview drafts and the submission log in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database.
func NewStore(database *sql.DB) *Store {
	return &Store{db: database}
}

// SaveDraft implements flow.Store.
func (s *Store) SaveDraft(ctx context.Context, snap flow.Snapshot) error {
	_, err := SaveDraft(ctx, s.db, SaveDraftInput{Snapshot: snap})
	return err
}

// LoadDraft implements flow.Store. A missing draft yields (nil, nil).
func (s *Store) LoadDraft(ctx context.Context, sessionID string) (*flow.Snapshot, error) {
	snap, err := LoadDraft(ctx, s.db, sessionID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return snap, err
}

// ClearDraft implements flow.Store.
func (s *Store) ClearDraft(ctx context.Context, sessionID string) error {
	_, err := ClearDraft(ctx, s.db, sessionID)
	return err
}

// RecordSubmission appends an attempt to the submission log.
func (s *Store) RecordSubmission(ctx context.Context, input RecordSubmissionInput) error {
	_, err := RecordSubmission(ctx, s.db, input)
	return err
}
