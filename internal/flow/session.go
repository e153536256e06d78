package flow

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// Progress counts prepared photos during a submission.
type Progress struct {
	Done  int
	Total int
}

// Session is one person's interview. All fields are guarded by mu and only
// change through Navigator.Dispatch.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	answers   record.Answers
	photos    *photo.Set
	pending   []photo.Meta
	step      Step
	err       error
	inFlight  bool
	gen       uint64
	progress  Progress
	cancel    context.CancelFunc
	updatedAt time.Time
}

// NewSession creates a session at the first step.
func NewSession(id string, photos *photo.Set) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		answers:   record.Answers{Services: []string{}},
		photos:    photos,
		updatedAt: now,
	}
}

// View is a consistent, read-only copy of a session's state.
type View struct {
	ID          string
	Step        Step
	Answers     record.Answers
	Current     []photo.Entry
	Inspiration []photo.Entry
	PhotoCount  int
	Caps        photo.Caps
	Pending     []photo.Meta
	Err         error
	InFlight    bool
	Progress    Progress
	Generation  uint64
	UpdatedAt   time.Time
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	return View{
		ID:          s.ID,
		Step:        s.step,
		Answers:     s.answers.Clone(),
		Current:     s.photos.Selected(photo.BucketCurrent),
		Inspiration: s.photos.Selected(photo.BucketInspiration),
		PhotoCount:  s.photos.Total(),
		Caps:        s.photos.Caps(),
		Pending:     append([]photo.Meta(nil), s.pending...),
		Err:         s.err,
		InFlight:    s.inFlight,
		Progress:    s.progress,
		Generation:  s.gen,
		UpdatedAt:   s.updatedAt,
	}
}

// Close releases the session's photos and cancels any in-flight submission.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.inFlight = false
	s.photos.Clear()
}

// idleSince reports when the session last changed.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: s.ID,
		Step:      s.step,
		Answers:   s.answers.Clone(),
		Photos:    s.photos.Meta(),
		UpdatedAt: s.updatedAt,
	}
}

// ErrorMessage returns the user-facing text of the step error, or "".
func (v View) ErrorMessage() string {
	if v.Err == nil {
		return ""
	}
	return errors.Message(v.Err)
}

// FieldError returns the step error's message when it concerns field.
func (v View) FieldError(field string) string {
	var iErr *errors.IntakeError
	if !errors.As(v.Err, &iErr) || iErr.Details == nil {
		return ""
	}
	if f, _ := iErr.Details["field"].(string); f == field {
		return iErr.Message
	}
	return ""
}

// Retryable reports whether the step error invites another submit.
func (v View) Retryable() bool {
	return errors.IsRetryable(v.Err)
}

// Complete reports whether the session reached the terminal step.
func (v View) Complete() bool {
	return v.Step == StepComplete
}
