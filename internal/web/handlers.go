package web

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/payload"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
	"github.com/hpungsan/intake/internal/submit"
)

const (
	sessionCookie   = "intake_session"
	multipartMemory = 8 << 20
)

// ServiceChoices are the services offered on the services step.
var ServiceChoices = []string{
	"Color",
	"Highlights",
	"Balayage",
	"Haircut",
	"Color correction",
	"Extensions",
	"Treatment",
}

// formFields are the single-valued answers a step form may carry.
var formFields = []record.Field{
	record.FieldFullName,
	record.FieldEmail,
	record.FieldPhone,
	record.FieldLastColorDate,
	record.FieldPreferredStylist,
	record.FieldGoals,
	record.FieldBoxDye,
	record.FieldChemicalServices,
	record.FieldSensitivities,
	record.FieldCompany,
}

// previewTypes are the media types a preview is served as. Anything else
// goes out as an opaque download.
var previewTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// Handlers contains HTTP route handlers for the interview.
type Handlers struct {
	sessions  *flow.Registry
	nav       *flow.Navigator
	submitter *submit.Controller
	previews  *photo.PreviewRegistry
	drafts    flow.Store
	cfg       *config.Config
	renderer  *Renderer
	log       *zap.Logger
}

// HandleStep handles GET /intake?step=N: show the current step. A step in
// the URL is treated as the history signal and resynced through the gates;
// the response then redirects to wherever the session actually is.
func (h *Handlers) HandleStep(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)

	raw := r.URL.Query().Get("step")
	if st, ok := flow.ParseStep(raw); ok {
		if err := h.nav.Dispatch(h.ctx(r), s, flow.Resync{Step: st}); !shown(err) {
			h.renderer.renderError(w, r, err)
			return
		}
	}

	v := s.View()
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, stateOf(v))
		return
	}
	if raw != strconv.Itoa(v.Step.Index()) {
		http.Redirect(w, r, stepURL(v.Step), http.StatusSeeOther)
		return
	}
	h.renderStep(w, r, v)
}

// HandleNext handles POST /intake/next: save the step's answers and advance.
func (h *Handlers) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, flow.Advance{})
}

// HandleBack handles POST /intake/back: save the step's answers and go back.
func (h *Handlers) HandleBack(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, flow.Retreat{})
}

func (h *Handlers) move(w http.ResponseWriter, r *http.Request, cmd flow.Command) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	s := h.session(w, r)
	ctx := h.ctx(r)

	// A form from a stale tab must not move the session from another step.
	if posted, ok := flow.ParseStep(r.PostForm.Get("step")); ok && posted != s.View().Step {
		h.redirect(w, r, s.View())
		return
	}

	if patch := answersFromForm(r.PostForm); len(patch) > 0 {
		if err := h.nav.Dispatch(ctx, s, flow.UpdateAnswers{Patch: patch}); !shown(err) {
			h.renderer.renderError(w, r, err)
			return
		}
	}
	if err := h.nav.Dispatch(ctx, s, cmd); !shown(err) {
		h.renderer.renderError(w, r, err)
		return
	}
	h.redirect(w, r, s.View())
}

// HandleUpload handles POST /intake/photos: add picks to a bucket.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if stderrors.As(err, &tooBig) {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("Those photos are too large to upload together. Try fewer at a time."))
			return
		}
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	bucket, ok := photo.ParseBucket(r.FormValue("bucket"))
	if !ok {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("bucket must be \"current\" or \"inspiration\""))
		return
	}

	photos, err := readUploads(r.MultipartForm)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	s := h.session(w, r)
	add := &flow.AddPhotos{Bucket: bucket, Photos: photos}
	if err := h.nav.Dispatch(h.ctx(r), s, add); !shown(err) {
		h.renderer.renderError(w, r, err)
		return
	}
	h.log.Info("photos picked",
		zap.String("session", s.ID),
		zap.String("bucket", string(bucket)),
		zap.Int("offered", len(photos)),
		zap.Int("kept", add.Kept))

	h.redirect(w, r, s.View())
}

// HandleRemovePhoto handles POST /intake/photos/remove: drop one pick.
func (h *Handlers) HandleRemovePhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	bucket, ok := photo.ParseBucket(r.PostForm.Get("bucket"))
	if !ok {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("bucket must be \"current\" or \"inspiration\""))
		return
	}
	index, err := strconv.Atoi(r.PostForm.Get("index"))
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("index must be an integer"))
		return
	}

	s := h.session(w, r)
	if err := h.nav.Dispatch(h.ctx(r), s, flow.RemovePhoto{Bucket: bucket, Index: index}); !shown(err) {
		h.renderer.renderError(w, r, err)
		return
	}
	h.redirect(w, r, s.View())
}

// HandlePreview handles GET /intake/preview/{handle}: serve a pick's bytes
// to the session that owns it.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	notFound := errors.NewNotFound("photo preview")

	id, ok := sessionID(r)
	if !ok {
		h.renderer.renderError(w, r, notFound)
		return
	}
	s, ok := h.sessions.Get(id)
	if !ok || !ownsPreview(s.View(), handle) {
		h.renderer.renderError(w, r, notFound)
		return
	}
	p, ok := h.previews.Get(handle)
	if !ok {
		h.renderer.renderError(w, r, notFound)
		return
	}

	rc, err := p.Source.Open()
	if err != nil {
		h.renderer.renderError(w, r, errors.NewUnexpected(err))
		return
	}
	defer rc.Close()

	ct := strings.ToLower(strings.TrimSpace(p.MediaType))
	if !previewTypes[ct] {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// HandleSubmit handles POST /intake/submit: start sending the consultation.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	v := s.View()
	if v.Step != flow.StepReview {
		h.redirect(w, r, v)
		return
	}

	if err := h.submitter.Start(h.ctx(r), s, originOf(r)); !shown(err) {
		h.renderer.renderError(w, r, err)
		return
	}
	h.redirect(w, r, s.View())
}

// HandleProgress handles GET /intake/progress: poll a running submission.
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	v := s.View()

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, stateOf(v))
		return
	}
	if isHTMX(r) {
		if !v.InFlight {
			w.Header().Set("HX-Redirect", stepURL(v.Step))
			w.WriteHeader(http.StatusOK)
			return
		}
		h.renderer.renderBlock(w, http.StatusOK, "submitting", "progress", h.stepData(v))
		return
	}
	http.Redirect(w, r, stepURL(v.Step), http.StatusSeeOther)
}

// HandleAbandon handles POST /intake/abandon: stop waiting for a submission.
func (h *Handlers) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if err := h.nav.Dispatch(h.ctx(r), s, flow.Abandon{}); !shown(err) {
		h.renderer.renderError(w, r, err)
		return
	}
	h.redirect(w, r, s.View())
}

// HandleRestart handles POST /intake/restart: forget this interview and
// start a fresh one.
func (h *Handlers) HandleRestart(w http.ResponseWriter, r *http.Request) {
	ctx := h.ctx(r)
	if id, ok := sessionID(r); ok {
		h.sessions.Remove(id)
		if h.drafts != nil {
			if err := h.drafts.ClearDraft(ctx, id); err != nil {
				h.log.Warn("draft clear failed", zap.String("session", id), zap.Error(err))
			}
		}
	}

	next := h.sessions.Create()
	setSessionCookie(w, r, next.ID)
	h.redirect(w, r, next.View())
}

// session resolves the request's interview, restoring a saved draft the
// first time a session id is seen by this process. An id with no live
// session and no draft gets a fresh session.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) *flow.Session {
	if id, ok := sessionID(r); ok {
		if s, live := h.sessions.Get(id); live {
			return s
		}
		s := h.sessions.Detached(id)
		found, err := h.nav.Restore(h.ctx(r), s)
		if err != nil {
			h.log.Warn("draft restore failed", zap.String("session", id), zap.Error(err))
		}
		if found {
			return h.sessions.Adopt(s)
		}
		s.Close()
	}

	s := h.sessions.Create()
	setSessionCookie(w, r, s.ID)
	return s
}

// ctx detaches store writes from the client connection so a closed tab
// cannot lose a draft save.
func (h *Handlers) ctx(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, v flow.View) {
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, stateOf(v))
		return
	}
	http.Redirect(w, r, stepURL(v.Step), http.StatusSeeOther)
}

func (h *Handlers) renderStep(w http.ResponseWriter, r *http.Request, v flow.View) {
	if isHTMX(r) {
		w.Header().Set("HX-Push-Url", stepURL(v.Step))
	}
	h.renderer.renderPage(w, r, stepPages[v.Step], h.stepData(v))
}

func (h *Handlers) stepData(v flow.View) StepPageData {
	data := StepPageData{
		PageData: PageData{
			Title:   stepTitle(v.Step),
			Version: h.renderer.version,
		},
		View:      v,
		Copy:      h.renderer.copy[stepPages[v.Step]],
		Number:    v.Step.Index(),
		Total:     flow.LastNavigable.Index(),
		Error:     v.ErrorMessage(),
		Retryable: v.Retryable(),
	}
	switch v.Step {
	case flow.StepServices:
		data.Services = serviceOptions(v.Answers.Services)
	case flow.StepPhotos:
		data.Buckets = []BucketData{
			{
				Name:    photo.BucketCurrent,
				Title:   "Your hair now",
				Entries: v.Current,
				Cap:     v.Caps.Current,
				CanAdd:  len(v.Current) < v.Caps.Current,
			},
			{
				Name:     photo.BucketInspiration,
				Title:    "Inspiration",
				Optional: true,
				Entries:  v.Inspiration,
				Cap:      v.Caps.Inspiration,
				CanAdd:   len(v.Inspiration) < v.Caps.Inspiration,
			},
		}
	}
	return data
}

// shown reports whether err is already reflected on the page the person is
// sent to next: gate rejections are the step error, BUSY is the sending page.
func shown(err error) bool {
	return err == nil ||
		errors.Is(err, errors.ErrValidation) ||
		errors.Is(err, errors.ErrBusy) ||
		stderrors.Is(err, flow.ErrStale) ||
		stderrors.Is(err, flow.ErrNotAtReview)
}

func sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	if _, err := ulid.ParseStrict(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// answersFromForm collects the answers present in a step form. Only the
// fields the form carries are returned, so other steps' answers stay put.
func answersFromForm(form url.Values) record.WorkingRecord {
	patch := record.WorkingRecord{}
	for _, f := range formFields {
		if vs, ok := form[string(f)]; ok && len(vs) > 0 {
			patch[string(f)] = vs[0]
		}
	}
	// The services step always posts an empty "services" value so that
	// unchecking every box clears the list.
	if vs, ok := form[string(record.FieldServices)]; ok {
		patch[string(record.FieldServices)] = vs
	}
	return patch
}

func readUploads(form *multipart.Form) ([]*photo.Photo, error) {
	files := form.File["photos"]
	modified := form.Value["modified"]

	out := make([]*photo.Photo, 0, len(files))
	for i, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			return nil, errors.NewUnexpected(fmt.Errorf("read upload %q: %w", fh.Filename, err))
		}
		p := &photo.Photo{
			Name:      fh.Filename,
			MediaType: fh.Header.Get("Content-Type"),
			Size:      int64(len(data)),
			Source:    photo.Bytes(data),
		}
		if i < len(modified) {
			if ms, err := strconv.ParseInt(modified[i], 10, 64); err == nil && ms > 0 {
				p.ModTime = time.UnixMilli(ms)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func ownsPreview(v flow.View, handle string) bool {
	if handle == "" {
		return false
	}
	for _, e := range slices.Concat(v.Current, v.Inspiration) {
		if e.Preview == handle {
			return true
		}
	}
	return false
}

func serviceOptions(chosen []string) []ServiceOption {
	opts := make([]ServiceOption, 0, len(ServiceChoices))
	for _, name := range ServiceChoices {
		opts = append(opts, ServiceOption{Name: name, Checked: slices.Contains(chosen, name)})
	}
	// Services restored from an imported record may not be on the menu.
	for _, name := range chosen {
		if !slices.Contains(ServiceChoices, name) {
			opts = append(opts, ServiceOption{Name: name, Checked: true})
		}
	}
	return opts
}

func originOf(r *http.Request) payload.Origin {
	from := r.Referer()
	if from == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		from = scheme + "://" + r.Host + "/intake"
	}
	return payload.Origin{SubmittedFrom: from, UserAgent: r.UserAgent()}
}
