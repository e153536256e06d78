package flow

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/gate"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

type memStore struct {
	mu      sync.Mutex
	drafts  map[string]Snapshot
	saves   int
	cleared []string
}

func newMemStore() *memStore {
	return &memStore{drafts: make(map[string]Snapshot)}
}

func (m *memStore) SaveDraft(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[snap.SessionID] = snap
	m.saves++
	return nil
}

func (m *memStore) LoadDraft(_ context.Context, id string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *memStore) ClearDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	m.cleared = append(m.cleared, id)
	return nil
}

var testRules = gate.Rules{MinPhoneDigits: 7, MinPhotos: 1}

func newTestSession(t *testing.T) (*Navigator, *Session, *memStore) {
	t.Helper()
	store := newMemStore()
	nav := NewNavigator(testRules, store, nil)
	s := NewSession("s1", photo.NewSet(photo.Caps{Current: 2, Inspiration: 1}, photo.NewPreviewRegistry()))
	return nav, s, store
}

func validIdentity() record.WorkingRecord {
	return record.WorkingRecord{
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
		"phone":    "555-123-4567",
	}
}

func jpegPhoto(name string) *photo.Photo {
	return &photo.Photo{Name: name, MediaType: "image/jpeg", Size: int64(len(name)), Source: photo.Bytes(name)}
}

func dispatch(t *testing.T, nav *Navigator, s *Session, cmd Command) error {
	t.Helper()
	return nav.Dispatch(context.Background(), s, cmd)
}

func TestAdvance_BlockedByIdentityGate(t *testing.T) {
	nav, s, _ := newTestSession(t)

	require.NoError(t, dispatch(t, nav, s, Advance{}))
	require.Equal(t, StepIdentity, s.View().Step)

	err := dispatch(t, nav, s, Advance{})
	require.True(t, errors.Is(err, errors.ErrValidation))

	v := s.View()
	require.Equal(t, StepIdentity, v.Step)
	require.NotEmpty(t, v.FieldError("fullName"))
	require.Empty(t, v.FieldError("email"))
}

func TestRetreat_NeverGated(t *testing.T) {
	nav, s, _ := newTestSession(t)
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: validIdentity()}))
	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepServices}))

	// Clearing the name would block a forward move but not a backward one.
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: record.WorkingRecord{"fullName": ""}}))
	require.NoError(t, dispatch(t, nav, s, Retreat{}))
	require.Equal(t, StepIdentity, s.View().Step)

	require.NoError(t, dispatch(t, nav, s, Retreat{}))
	require.NoError(t, dispatch(t, nav, s, Retreat{}))
	require.Equal(t, StepIntro, s.View().Step)
}

func TestGoTo_ForwardJumpStopsOnFailingGate(t *testing.T) {
	nav, s, _ := newTestSession(t)
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: validIdentity()}))

	err := dispatch(t, nav, s, GoTo{Step: StepReview})
	require.True(t, errors.Is(err, errors.ErrValidation))

	v := s.View()
	require.Equal(t, StepServices, v.Step)
	require.NotEmpty(t, v.FieldError("services"))
}

func TestGoTo_ClampsToReview(t *testing.T) {
	nav, s, _ := newTestSession(t)
	patch := validIdentity()
	patch["services"] = []any{"Color"}
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: patch}))

	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepComplete}))
	require.Equal(t, StepReview, s.View().Step)

	require.NoError(t, dispatch(t, nav, s, GoTo{Step: Step(-4)}))
	require.Equal(t, StepIntro, s.View().Step)
}

func TestGoTo_ResetsStepError(t *testing.T) {
	nav, s, _ := newTestSession(t)
	require.NoError(t, dispatch(t, nav, s, Advance{}))
	require.Error(t, dispatch(t, nav, s, Advance{}))
	require.Error(t, s.View().Err)

	require.NoError(t, dispatch(t, nav, s, Retreat{}))
	require.NoError(t, s.View().Err)
}

func TestBackThenForward_PreservesAnswersAndPhotos(t *testing.T) {
	nav, s, _ := newTestSession(t)
	patch := validIdentity()
	patch["services"] = []any{"Color"}
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: patch}))
	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepPhotos}))

	add := &AddPhotos{Bucket: photo.BucketCurrent, Photos: []*photo.Photo{jpegPhoto("me.jpg")}}
	require.NoError(t, dispatch(t, nav, s, add))
	require.Equal(t, 1, add.Kept)
	require.NoError(t, dispatch(t, nav, s, Advance{}))
	require.Equal(t, StepReview, s.View().Step)

	for range 3 {
		require.NoError(t, dispatch(t, nav, s, Retreat{}))
	}
	require.Equal(t, StepServices, s.View().Step)
	for range 3 {
		require.NoError(t, dispatch(t, nav, s, Advance{}))
	}

	v := s.View()
	require.Equal(t, StepReview, v.Step)
	require.Equal(t, "Jane Doe", v.Answers.FullName)
	require.Equal(t, []string{"Color"}, v.Answers.Services)
	require.Equal(t, 1, v.PhotoCount)
}

func TestPhotoStepExit_Enforced(t *testing.T) {
	store := newMemStore()
	rules := testRules
	rules.EnforcePhotoStepExit = true
	nav := NewNavigator(rules, store, nil)
	s := NewSession("strict", photo.NewSet(photo.Caps{Current: 2, Inspiration: 1}, nil))

	patch := validIdentity()
	patch["services"] = []any{"Cut"}
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: patch}))

	err := dispatch(t, nav, s, GoTo{Step: StepReview})
	require.True(t, errors.Is(err, errors.ErrValidation))
	require.Equal(t, StepPhotos, s.View().Step)
}

func TestResync(t *testing.T) {
	nav, s, _ := newTestSession(t)
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: validIdentity()}))
	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepServices}))

	// Back button: URL says identity.
	require.NoError(t, dispatch(t, nav, s, Resync{Step: StepIdentity}))
	require.Equal(t, StepIdentity, s.View().Step)

	// A forged URL cannot skip the services gate.
	require.Error(t, dispatch(t, nav, s, Resync{Step: StepReview}))
	require.Equal(t, StepServices, s.View().Step)

	// Same step keeps the error for the redirected page.
	require.NoError(t, dispatch(t, nav, s, Resync{Step: StepServices}))
	require.NotEmpty(t, s.View().ErrorMessage())
}

func TestDispatch_PersistsMarker(t *testing.T) {
	nav, s, store := newTestSession(t)
	require.NoError(t, dispatch(t, nav, s, Advance{}))

	snap, err := store.LoadDraft(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, StepIdentity, snap.Step)
}

func readyForSubmit(t *testing.T, nav *Navigator, s *Session) {
	t.Helper()
	patch := validIdentity()
	patch["services"] = []any{"Color"}
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: patch}))
	require.NoError(t, dispatch(t, nav, s, &AddPhotos{Bucket: photo.BucketCurrent, Photos: []*photo.Photo{jpegPhoto("a.jpg")}}))
	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepReview}))
}

func TestSubmitStarted_RejectsWithoutPhotos(t *testing.T) {
	nav, s, _ := newTestSession(t)
	patch := validIdentity()
	patch["services"] = []any{"Color"}
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: patch}))
	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepReview}))

	start := &SubmitStarted{}
	err := dispatch(t, nav, s, start)
	require.True(t, errors.Is(err, errors.ErrValidation))

	v := s.View()
	require.Equal(t, StepReview, v.Step)
	require.False(t, v.InFlight)
	require.NotEmpty(t, v.FieldError("photos"))
}

func TestSubmitStarted_OnlyFromReview(t *testing.T) {
	nav, s, _ := newTestSession(t)
	require.NoError(t, dispatch(t, nav, s, UpdateAnswers{Patch: validIdentity()}))
	require.NoError(t, dispatch(t, nav, s, &AddPhotos{Bucket: photo.BucketCurrent, Photos: []*photo.Photo{jpegPhoto("a.jpg")}}))
	require.NoError(t, dispatch(t, nav, s, GoTo{Step: StepIdentity}))

	cancelled := false
	start := &SubmitStarted{Cancel: func() { cancelled = true }}
	err := dispatch(t, nav, s, start)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
	require.True(t, stderrors.Is(err, ErrNotAtReview))

	v := s.View()
	require.Equal(t, StepIdentity, v.Step)
	require.False(t, v.InFlight)
	require.Empty(t, v.Answers.Services)
	require.Zero(t, start.Ticket.Generation)
	require.False(t, cancelled)
}

func TestSubmission_InFlightIgnoresNavigation(t *testing.T) {
	nav, s, _ := newTestSession(t)
	readyForSubmit(t, nav, s)

	start := &SubmitStarted{Cancel: func() {}}
	require.NoError(t, dispatch(t, nav, s, start))
	require.Equal(t, StepSubmitting, s.View().Step)
	require.Len(t, start.Ticket.Photos, 1)

	for _, cmd := range []Command{Advance{}, Retreat{}, GoTo{Step: StepIntro}, UpdateAnswers{Patch: record.WorkingRecord{"name": "x"}}, &SubmitStarted{}} {
		err := dispatch(t, nav, s, cmd)
		require.True(t, errors.Is(err, errors.ErrBusy), "%T", cmd)
	}
	require.Equal(t, StepSubmitting, s.View().Step)
	require.Equal(t, "Jane Doe", s.View().Answers.FullName)
}

func TestSubmission_SucceededClearsDraft(t *testing.T) {
	nav, s, store := newTestSession(t)
	readyForSubmit(t, nav, s)

	start := &SubmitStarted{}
	require.NoError(t, dispatch(t, nav, s, start))
	require.NoError(t, dispatch(t, nav, s, ReportProgress{Generation: start.Ticket.Generation, Done: 1, Total: 1}))
	require.Equal(t, Progress{Done: 1, Total: 1}, s.View().Progress)

	require.NoError(t, dispatch(t, nav, s, SubmitSucceeded{Generation: start.Ticket.Generation}))

	v := s.View()
	require.Equal(t, StepComplete, v.Step)
	require.Zero(t, v.PhotoCount)
	require.Contains(t, store.cleared, s.ID)

	// Terminal.
	require.NoError(t, dispatch(t, nav, s, Retreat{}))
	require.Equal(t, StepComplete, s.View().Step)
}

func TestSubmission_FailedReturnsToReview(t *testing.T) {
	nav, s, _ := newTestSession(t)
	readyForSubmit(t, nav, s)

	start := &SubmitStarted{}
	require.NoError(t, dispatch(t, nav, s, start))
	require.NoError(t, dispatch(t, nav, s, SubmitFailed{Generation: start.Ticket.Generation, Err: errors.NewNetworkTimeout(nil)}))

	v := s.View()
	require.Equal(t, StepReview, v.Step)
	require.True(t, v.Retryable())
	require.Equal(t, errors.MsgTimeout, v.ErrorMessage())
	require.Equal(t, 1, v.PhotoCount)
}

func TestAbandon_DropsStaleUpdates(t *testing.T) {
	nav, s, _ := newTestSession(t)
	readyForSubmit(t, nav, s)

	cancelled := false
	start := &SubmitStarted{Cancel: func() { cancelled = true }}
	require.NoError(t, dispatch(t, nav, s, start))
	require.NoError(t, dispatch(t, nav, s, Abandon{}))
	require.True(t, cancelled)
	require.Equal(t, StepReview, s.View().Step)

	err := dispatch(t, nav, s, SubmitSucceeded{Generation: start.Ticket.Generation})
	require.True(t, stderrors.Is(err, ErrStale))
	require.Equal(t, StepReview, s.View().Step)

	// A new attempt works normally.
	retry := &SubmitStarted{}
	require.NoError(t, dispatch(t, nav, s, retry))
	require.Greater(t, retry.Ticket.Generation, start.Ticket.Generation)
}

func TestRestore_RewalksGates(t *testing.T) {
	store := newMemStore()
	nav := NewNavigator(testRules, store, nil)
	require.NoError(t, store.SaveDraft(context.Background(), Snapshot{
		SessionID: "r1",
		Step:      StepComplete,
		Answers:   record.Answers{FullName: "Jane Doe", Email: "jane@x.com", Phone: "5551234567"},
		Photos:    []photo.Meta{{Bucket: photo.BucketCurrent, Name: "me.jpg", Size: 10}},
	}))

	s := NewSession("r1", photo.NewSet(photo.Caps{Current: 2, Inspiration: 1}, nil))
	found, err := nav.Restore(context.Background(), s)
	require.NoError(t, err)
	require.True(t, found)

	v := s.View()
	require.Equal(t, StepServices, v.Step, "no services chosen, so the walk stops there")
	require.Len(t, v.Pending, 1)
}

func TestRestore_NoDraft(t *testing.T) {
	nav, s, _ := newTestSession(t)
	found, err := nav.Restore(context.Background(), s)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, StepIntro, s.View().Step)
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		in     string
		want   Step
		wantOK bool
	}{
		{in: "2", want: StepServices, wantOK: true},
		{in: "review", want: StepReview, wantOK: true},
		{in: "REVIEW", want: StepReview, wantOK: true},
		{in: "99", want: StepComplete, wantOK: true},
		{in: "-1", want: StepIntro, wantOK: true},
		{in: "nope", want: StepIntro},
		{in: "", want: StepIntro},
	}
	for _, tt := range tests {
		got, ok := ParseStep(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseStep(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
