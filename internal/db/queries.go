package db

import (
	"database/sql"

	"github.com/hpungsan/intake/internal/errors"
)

// Draft is a stored interview snapshot. SnapshotJSON holds answers and photo
// metadata only, never image bytes.
type Draft struct {
	SessionID    string
	StorageKey   string
	Step         int
	SnapshotJSON string
	PhotoCount   int
	CreatedAt    int64
	UpdatedAt    int64
}

// Submission is one submission attempt in the log.
type Submission struct {
	ID         string
	SessionID  string
	RequestID  string
	Status     string
	Code       string
	Message    string
	PhotoCount int
	ElapsedMS  int64
	CreatedAt  int64
}

// Submission statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// UpsertDraft stores d, replacing any draft of the same session.
// created_at of an existing draft is kept.
func UpsertDraft(db *sql.DB, d *Draft) error {
	query := `
		INSERT INTO drafts (
			session_id, storage_key, step, snapshot_json, photo_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			storage_key = excluded.storage_key,
			step = excluded.step,
			snapshot_json = excluded.snapshot_json,
			photo_count = excluded.photo_count,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query,
		d.SessionID, d.StorageKey, d.Step, d.SnapshotJSON, d.PhotoCount,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.NewUnexpected(err)
	}
	return nil
}

// GetDraft retrieves the draft of a session.
func GetDraft(db *sql.DB, sessionID string) (*Draft, error) {
	query := `
		SELECT session_id, storage_key, step, snapshot_json, photo_count, created_at, updated_at
		FROM drafts
		WHERE session_id = ?
	`

	d, err := scanDraft(db.QueryRow(query, sessionID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(sessionID)
	}
	if err != nil {
		return nil, errors.NewUnexpected(err)
	}
	return d, nil
}

// DeleteDraft removes a session's draft. It reports whether one existed.
func DeleteDraft(db *sql.DB, sessionID string) (bool, error) {
	result, err := db.Exec(`DELETE FROM drafts WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, errors.NewUnexpected(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewUnexpected(err)
	}
	return rowsAffected > 0, nil
}

// ListDrafts returns drafts, most recently updated first, and the total count.
func ListDrafts(db *sql.DB, limit, offset int) ([]Draft, int, error) {
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM drafts`).Scan(&total); err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}

	rows, err := db.Query(`
		SELECT session_id, storage_key, step, snapshot_json, photo_count, created_at, updated_at
		FROM drafts
		ORDER BY updated_at DESC, session_id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}
	defer rows.Close()

	drafts := make([]Draft, 0)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, 0, errors.NewUnexpected(err)
		}
		drafts = append(drafts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}
	return drafts, total, nil
}

// PurgeDrafts deletes drafts last updated before the given unix time.
func PurgeDrafts(db *sql.DB, before int64) (int64, error) {
	result, err := db.Exec(`DELETE FROM drafts WHERE updated_at < ?`, before)
	if err != nil {
		return 0, errors.NewUnexpected(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewUnexpected(err)
	}
	return n, nil
}

// InsertSubmission appends an attempt to the submission log.
func InsertSubmission(db *sql.DB, s *Submission) error {
	query := `
		INSERT INTO submissions (
			id, session_id, request_id, status, code, message, photo_count, elapsed_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		s.ID, s.SessionID, toNullString(s.RequestID), s.Status,
		toNullString(s.Code), toNullString(s.Message),
		s.PhotoCount, s.ElapsedMS, s.CreatedAt,
	)
	if err != nil {
		return errors.NewUnexpected(err)
	}
	return nil
}

// ListSubmissions returns logged attempts, newest first. An empty sessionID
// lists every session.
func ListSubmissions(db *sql.DB, sessionID string, limit, offset int) ([]Submission, int, error) {
	where := ""
	args := []any{}
	if sessionID != "" {
		where = " WHERE session_id = ?"
		args = append(args, sessionID)
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM submissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}

	query := `
		SELECT id, session_id, request_id, status, code, message, photo_count, elapsed_ms, created_at
		FROM submissions` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}
	defer rows.Close()

	out := make([]Submission, 0)
	for rows.Next() {
		var (
			s         Submission
			requestID sql.NullString
			code      sql.NullString
			message   sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &s.SessionID, &requestID, &s.Status, &code, &message,
			&s.PhotoCount, &s.ElapsedMS, &s.CreatedAt,
		); err != nil {
			return nil, 0, errors.NewUnexpected(err)
		}
		s.RequestID = requestID.String
		s.Code = code.String
		s.Message = message.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewUnexpected(err)
	}
	return out, total, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDraft scans a single row into a Draft struct.
func scanDraft(row rowScanner) (*Draft, error) {
	var d Draft
	err := row.Scan(
		&d.SessionID, &d.StorageKey, &d.Step, &d.SnapshotJSON,
		&d.PhotoCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// toNullString stores empty strings as NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
