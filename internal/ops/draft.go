package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/intake/internal/db"
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// draftDoc is the stored JSON form of a snapshot. Answers are kept as a loose
// record so drafts written under older key names still load.
type draftDoc struct {
	StorageKey string               `json:"storage_key"`
	Step       string               `json:"step"`
	Answers    record.WorkingRecord `json:"answers"`
	Photos     []photo.Meta         `json:"photos"`
}

// SaveDraftInput contains parameters for the SaveDraft operation.
type SaveDraftInput struct {
	Snapshot flow.Snapshot
}

// SaveDraftOutput contains the result of the SaveDraft operation.
type SaveDraftOutput struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
	UpdatedAt int64  `json:"updated_at"`
}

// SaveDraft stores the snapshot of a session, replacing its previous one.
func SaveDraft(ctx context.Context, database *sql.DB, input SaveDraftInput) (*SaveDraftOutput, error) {
	snap := input.Snapshot
	if strings.TrimSpace(snap.SessionID) == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}

	photos := snap.Photos
	if photos == nil {
		photos = []photo.Meta{}
	}
	data, err := json.Marshal(draftDoc{
		StorageKey: StorageKey,
		Step:       snap.Step.String(),
		Answers:    snap.Answers.Record(),
		Photos:     photos,
	})
	if err != nil {
		return nil, errors.NewUnexpected(err)
	}

	now := snap.UpdatedAt.Unix()
	if snap.UpdatedAt.IsZero() {
		now = time.Now().Unix()
	}
	d := &db.Draft{
		SessionID:    snap.SessionID,
		StorageKey:   StorageKey,
		Step:         snap.Step.Index(),
		SnapshotJSON: string(data),
		PhotoCount:   len(photos),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.UpsertDraft(database, d); err != nil {
		return nil, err
	}

	return &SaveDraftOutput{
		SessionID: snap.SessionID,
		Step:      snap.Step.String(),
		UpdatedAt: now,
	}, nil
}

// LoadDraft returns the saved snapshot of a session. A missing draft is a
// NOT_FOUND error.
func LoadDraft(ctx context.Context, database *sql.DB, sessionID string) (*flow.Snapshot, error) {
	d, err := db.GetDraft(database, sessionID)
	if err != nil {
		return nil, err
	}

	var doc draftDoc
	if err := json.Unmarshal([]byte(d.SnapshotJSON), &doc); err != nil {
		return nil, errors.NewUnexpected(fmt.Errorf("draft %s: %w", sessionID, err))
	}

	return &flow.Snapshot{
		SessionID: d.SessionID,
		Step:      flow.Clamp(d.Step),
		Answers:   record.Normalize(doc.Answers),
		Photos:    doc.Photos,
		UpdatedAt: time.Unix(d.UpdatedAt, 0),
	}, nil
}

// ClearDraftOutput contains the result of the ClearDraft operation.
type ClearDraftOutput struct {
	SessionID string `json:"session_id"`
	Cleared   bool   `json:"cleared"`
}

// ClearDraft removes a session's draft. Clearing a missing draft is not an error.
func ClearDraft(ctx context.Context, database *sql.DB, sessionID string) (*ClearDraftOutput, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}
	cleared, err := db.DeleteDraft(database, sessionID)
	if err != nil {
		return nil, err
	}
	return &ClearDraftOutput{SessionID: sessionID, Cleared: cleared}, nil
}

// ListDraftsInput contains parameters for the ListDrafts operation.
type ListDraftsInput struct {
	Limit  int // default: 20, max: 100
	Offset int
}

// DraftSummary describes a stored draft without its answers.
type DraftSummary struct {
	SessionID  string `json:"session_id"`
	Step       string `json:"step"`
	FullName   string `json:"full_name,omitempty"`
	PhotoCount int    `json:"photo_count"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// ListDraftsOutput contains the result of the ListDrafts operation.
type ListDraftsOutput struct {
	Items      []DraftSummary `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// ListDrafts returns stored drafts, most recently updated first.
func ListDrafts(ctx context.Context, database *sql.DB, input ListDraftsInput) (*ListDraftsOutput, error) {
	limit, offset := page(input.Limit, input.Offset)

	drafts, total, err := db.ListDrafts(database, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]DraftSummary, 0, len(drafts))
	for _, d := range drafts {
		summary := DraftSummary{
			SessionID:  d.SessionID,
			Step:       flow.Clamp(d.Step).String(),
			PhotoCount: d.PhotoCount,
			CreatedAt:  d.CreatedAt,
			UpdatedAt:  d.UpdatedAt,
		}
		var doc draftDoc
		if json.Unmarshal([]byte(d.SnapshotJSON), &doc) == nil {
			summary.FullName = record.Normalize(doc.Answers).FullName
		}
		items = append(items, summary)
	}

	return &ListDraftsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// PurgeDraftsInput contains parameters for the PurgeDrafts operation.
type PurgeDraftsInput struct {
	OlderThanDays int // required, at least 1
}

// PurgeDraftsOutput contains the result of the PurgeDrafts operation.
type PurgeDraftsOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// PurgeDrafts permanently deletes drafts not touched for OlderThanDays days.
func PurgeDrafts(ctx context.Context, database *sql.DB, input PurgeDraftsInput) (*PurgeDraftsOutput, error) {
	if input.OlderThanDays < 1 {
		return nil, errors.NewInvalidRequest("older_than_days must be at least 1")
	}

	cutoff := time.Now().AddDate(0, 0, -input.OlderThanDays).Unix()
	count, err := db.PurgeDrafts(database, cutoff)
	if err != nil {
		return nil, err
	}

	return &PurgeDraftsOutput{
		Purged:  int(count),
		Message: formatPurgeMessage(int(count), input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count, olderThanDays int) string {
	if count == 0 {
		return "No drafts to purge"
	}
	word := "draft"
	if count > 1 {
		word = "drafts"
	}
	return fmt.Sprintf("Permanently deleted %d %s (untouched for more than %d days)", count, word, olderThanDays)
}
