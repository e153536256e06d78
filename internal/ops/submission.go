package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/intake/internal/db"
	"github.com/hpungsan/intake/internal/errors"
)

// RecordSubmissionInput describes one finished submission attempt.
type RecordSubmissionInput struct {
	SessionID  string
	RequestID  string
	Err        error // nil for a successful attempt
	PhotoCount int
	Elapsed    time.Duration
}

// SubmissionSummary is one entry of the submission log.
type SubmissionSummary struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	RequestID  string `json:"request_id,omitempty"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	PhotoCount int    `json:"photo_count"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	CreatedAt  int64  `json:"created_at"`
}

// RecordSubmission logs an attempt. Failures keep their error code and the
// message the person was shown, never the underlying cause.
func RecordSubmission(ctx context.Context, database *sql.DB, input RecordSubmissionInput) (*SubmissionSummary, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, errors.NewInvalidRequest("session_id is required")
	}

	row := &db.Submission{
		ID:         ulid.Make().String(),
		SessionID:  input.SessionID,
		RequestID:  input.RequestID,
		Status:     db.StatusSucceeded,
		PhotoCount: input.PhotoCount,
		ElapsedMS:  input.Elapsed.Milliseconds(),
		CreatedAt:  time.Now().Unix(),
	}
	if input.Err != nil {
		row.Status = db.StatusFailed
		row.Code = string(errors.ErrUnexpected)
		var iErr *errors.IntakeError
		if errors.As(input.Err, &iErr) {
			row.Code = string(iErr.Code)
		}
		row.Message = errors.Message(input.Err)
	}

	if err := db.InsertSubmission(database, row); err != nil {
		return nil, err
	}
	return toSubmissionSummary(*row), nil
}

// ListSubmissionsInput contains parameters for the ListSubmissions operation.
type ListSubmissionsInput struct {
	SessionID string // optional filter
	Limit     int    // default: 20, max: 100
	Offset    int
}

// ListSubmissionsOutput contains the result of the ListSubmissions operation.
type ListSubmissionsOutput struct {
	Items      []SubmissionSummary `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// ListSubmissions returns logged attempts, newest first.
func ListSubmissions(ctx context.Context, database *sql.DB, input ListSubmissionsInput) (*ListSubmissionsOutput, error) {
	limit, offset := page(input.Limit, input.Offset)

	rows, total, err := db.ListSubmissions(database, strings.TrimSpace(input.SessionID), limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]SubmissionSummary, 0, len(rows))
	for _, r := range rows {
		items = append(items, *toSubmissionSummary(r))
	}

	return &ListSubmissionsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

func toSubmissionSummary(r db.Submission) *SubmissionSummary {
	return &SubmissionSummary{
		ID:         r.ID,
		SessionID:  r.SessionID,
		RequestID:  r.RequestID,
		Status:     r.Status,
		Code:       r.Code,
		Message:    r.Message,
		PhotoCount: r.PhotoCount,
		ElapsedMS:  r.ElapsedMS,
		CreatedAt:  r.CreatedAt,
	}
}
