package flow

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/gate"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// ErrStale is returned for submission updates that belong to an abandoned
// or superseded attempt. The update is dropped.
var ErrStale = stderrors.New("stale submission update")

// ErrNotAtReview is wrapped by the error SubmitStarted returns when the
// session is not on the review step.
var ErrNotAtReview = stderrors.New("submission must start from review")

// Snapshot is the persistable part of a session: no image bytes.
type Snapshot struct {
	SessionID string
	Step      Step
	Answers   record.Answers
	Photos    []photo.Meta
	UpdatedAt time.Time
}

// Store persists draft snapshots and the navigation marker.
type Store interface {
	SaveDraft(ctx context.Context, snap Snapshot) error
	LoadDraft(ctx context.Context, sessionID string) (*Snapshot, error)
	ClearDraft(ctx context.Context, sessionID string) error
}

// effect says what Dispatch does with the store after a command.
type effect int

const (
	effectNone effect = iota
	effectSave
	effectClear
)

// Command is one state change. Commands are applied by Navigator.Dispatch
// with the session locked.
type Command interface {
	apply(n *Navigator, s *Session) (effect, error)
}

// Navigator applies commands to sessions and consults the gates before any
// forward move.
type Navigator struct {
	rules gate.Rules
	gates map[Step]gate.Gate
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewNavigator creates a Navigator. store and log may be nil.
func NewNavigator(rules gate.Rules, store Store, log *zap.Logger) *Navigator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Navigator{
		rules: rules,
		gates: map[Step]gate.Gate{
			StepIdentity: rules.Identity,
			StepServices: rules.Services,
			StepPhotos:   rules.PhotoStep,
		},
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Rules returns the thresholds the gates use.
func (n *Navigator) Rules() gate.Rules {
	return n.rules
}

// Dispatch applies cmd to s. It is the only way session state changes.
// The returned error is also recorded as the step error where it concerns
// the person (gate rejections, submission failures).
func (n *Navigator) Dispatch(ctx context.Context, s *Session, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.step
	eff, err := cmd.apply(n, s)
	if err != nil && stderrors.Is(err, ErrStale) {
		n.log.Debug("dropped stale update", zap.String("session", s.ID))
		return err
	}
	if eff != effectNone {
		s.updatedAt = n.now()
	}

	if s.step != from {
		n.log.Info("step changed",
			zap.String("session", s.ID),
			zap.Stringer("from", from),
			zap.Stringer("step", s.step))
	}

	if n.store != nil {
		switch eff {
		case effectSave:
			if serr := n.store.SaveDraft(ctx, s.snapshotLocked()); serr != nil {
				n.log.Warn("draft save failed", zap.String("session", s.ID), zap.Error(serr))
			}
		case effectClear:
			if serr := n.store.ClearDraft(ctx, s.ID); serr != nil {
				n.log.Warn("draft clear failed", zap.String("session", s.ID), zap.Error(serr))
			}
		}
	}
	return err
}

// Restore loads a saved draft into a fresh session. The saved step is
// re-entered through the gates from the start, so a draft can never land
// past a step its answers do not satisfy. It reports whether a draft was found.
func (n *Navigator) Restore(ctx context.Context, s *Session) (bool, error) {
	if n.store == nil {
		return false, nil
	}
	snap, err := n.store.LoadDraft(ctx, s.ID)
	if err != nil || snap == nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = snap.Answers.Clone()
	s.pending = append([]photo.Meta(nil), snap.Photos...)
	s.step = StepIntro
	_ = n.walk(s, clampNavigable(snap.Step))
	s.updatedAt = n.now()

	n.log.Info("draft restored",
		zap.String("session", s.ID),
		zap.Stringer("step", s.step),
		zap.Int("photos", len(snap.Photos)))
	return true, nil
}

// walk moves s toward target, checking the gate of every step it leaves on
// the way forward. A rejection stops on the failing step with its error.
func (n *Navigator) walk(s *Session, target Step) error {
	s.err = nil
	in := gate.Input{Answers: s.answers, PhotoCount: s.photos.Total()}
	for st := s.step; st < target; st++ {
		g, ok := n.gates[st]
		if !ok {
			continue
		}
		if err := g(in); err != nil {
			s.step = st
			s.err = err
			return err
		}
	}
	s.step = target
	return nil
}
