package flow

import (
	"context"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/gate"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// GoTo moves to Step, clamped to the navigable range.
type GoTo struct {
	Step Step
}

func (c GoTo) apply(n *Navigator, s *Session) (effect, error) {
	if err := navigable(s); err != nil || s.step == StepComplete {
		return effectNone, err
	}
	err := n.walk(s, clampNavigable(c.Step))
	return effectSave, err
}

// Advance moves one step forward if the current step's gate allows it.
type Advance struct{}

func (Advance) apply(n *Navigator, s *Session) (effect, error) {
	return GoTo{Step: s.step + 1}.apply(n, s)
}

// Retreat moves one step back. Going back is never gated.
type Retreat struct{}

func (Retreat) apply(n *Navigator, s *Session) (effect, error) {
	return GoTo{Step: s.step - 1}.apply(n, s)
}

// Resync realigns the session with the step the page was opened at, as
// carried by the URL or the saved marker. An equal step keeps the current
// error so a redirect after a rejection still shows it.
type Resync struct {
	Step Step
}

func (c Resync) apply(n *Navigator, s *Session) (effect, error) {
	if s.inFlight || s.step == StepComplete {
		return effectNone, nil
	}
	if clampNavigable(c.Step) == s.step {
		return effectNone, nil
	}
	return GoTo(c).apply(n, s)
}

// UpdateAnswers merges the fields present in Patch into the answers.
type UpdateAnswers struct {
	Patch record.WorkingRecord
}

func (c UpdateAnswers) apply(n *Navigator, s *Session) (effect, error) {
	if err := navigable(s); err != nil || s.step == StepComplete {
		return effectNone, err
	}
	s.answers = s.answers.Merge(c.Patch)
	return effectSave, nil
}

// AddPhotos adds picks to a bucket. Kept is set to how many survived
// deduplication and the bucket cap.
type AddPhotos struct {
	Bucket photo.Bucket
	Photos []*photo.Photo
	Kept   int
}

func (c *AddPhotos) apply(n *Navigator, s *Session) (effect, error) {
	if err := navigable(s); err != nil {
		return effectNone, err
	}
	kept, err := s.photos.Add(c.Bucket, c.Photos...)
	if err != nil {
		return effectNone, err
	}
	c.Kept = kept
	if kept > 0 {
		s.pending = nil
	}
	return effectSave, nil
}

// RemovePhoto removes one pick and releases its preview.
type RemovePhoto struct {
	Bucket photo.Bucket
	Index  int
}

func (c RemovePhoto) apply(n *Navigator, s *Session) (effect, error) {
	if err := navigable(s); err != nil {
		return effectNone, err
	}
	if err := s.photos.RemoveAt(c.Bucket, c.Index); err != nil {
		return effectNone, err
	}
	return effectSave, nil
}

// Ticket is what a started submission works from.
type Ticket struct {
	Generation uint64
	Answers    record.Answers
	Photos     []*photo.Photo
}

// SubmitStarted re-checks the submission gate and, if it passes, marks the
// session in flight and fills Ticket. Only a session on review may start. Cancel is called by Abandon.
type SubmitStarted struct {
	Cancel context.CancelFunc
	Ticket Ticket
}

func (c *SubmitStarted) apply(n *Navigator, s *Session) (effect, error) {
	if s.inFlight {
		return effectNone, errors.NewBusy()
	}
	if s.step == StepComplete {
		return effectNone, errors.NewInvalidRequest("This consultation was already sent.")
	}
	if s.step != StepReview {
		err := errors.NewInvalidRequest("Please review your answers before sending.")
		err.Err = ErrNotAtReview
		return effectNone, err
	}

	in := gate.Input{Answers: s.answers, PhotoCount: s.photos.Total()}
	if err := n.rules.Submission(in); err != nil {
		s.step = StepReview
		s.err = err
		return effectSave, err
	}

	s.gen++
	s.inFlight = true
	s.cancel = c.Cancel
	s.err = nil
	s.step = StepSubmitting
	s.progress = Progress{Total: s.photos.Total()}
	c.Ticket = Ticket{
		Generation: s.gen,
		Answers:    s.answers.Clone(),
		Photos:     s.photos.All(),
	}
	return effectNone, nil
}

// ReportProgress records how many photos are prepared.
type ReportProgress struct {
	Generation uint64
	Done       int
	Total      int
}

func (c ReportProgress) apply(n *Navigator, s *Session) (effect, error) {
	if err := current(s, c.Generation); err != nil {
		return effectNone, err
	}
	s.progress = Progress{Done: c.Done, Total: c.Total}
	return effectNone, nil
}

// SubmitSucceeded completes the interview. Photos are released and the
// draft is cleared.
type SubmitSucceeded struct {
	Generation uint64
}

func (c SubmitSucceeded) apply(n *Navigator, s *Session) (effect, error) {
	if err := current(s, c.Generation); err != nil {
		return effectNone, err
	}
	s.finish()
	s.step = StepComplete
	s.err = nil
	s.pending = nil
	s.photos.Clear()
	return effectClear, nil
}

// SubmitFailed returns to review with Err as the step error. Answers and
// photos are untouched so the person can simply submit again.
type SubmitFailed struct {
	Generation uint64
	Err        error
}

func (c SubmitFailed) apply(n *Navigator, s *Session) (effect, error) {
	if err := current(s, c.Generation); err != nil {
		return effectNone, err
	}
	s.finish()
	s.step = StepReview
	s.err = c.Err
	return effectSave, nil
}

// Abandon cancels an in-flight submission and returns to review. Updates
// from the abandoned attempt are dropped afterwards.
type Abandon struct{}

func (Abandon) apply(n *Navigator, s *Session) (effect, error) {
	if !s.inFlight {
		return effectNone, nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.finish()
	s.step = StepReview
	s.err = nil
	return effectSave, nil
}

func (s *Session) finish() {
	s.inFlight = false
	s.cancel = nil
	s.progress = Progress{}
}

func navigable(s *Session) error {
	if s.inFlight {
		return errors.NewBusy()
	}
	return nil
}

func current(s *Session, gen uint64) error {
	if !s.inFlight || gen != s.gen {
		return ErrStale
	}
	return nil
}
