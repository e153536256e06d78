package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/db"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/gate"
	"github.com/hpungsan/intake/internal/imaging"
	"github.com/hpungsan/intake/internal/ops"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/submit"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newTestHandlers(t *testing.T, database *sql.DB, endpoint string) *Handlers {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Endpoint = endpoint

	store := ops.NewStore(database)
	previews := photo.NewPreviewRegistry()
	nav := flow.NewNavigator(gate.Rules{
		MinPhoneDigits: cfg.MinPhoneDigits,
		MinPhotos:      cfg.MinPhotos,
	}, store, nil)
	ctrl := submit.NewController(nav, imaging.NewPipeline(nil),
		submit.NewHTTPTransport(endpoint, nil), store, submit.OptionsFromConfig(cfg), nil)

	h, err := NewHandlers(Deps{
		Sessions:  flow.NewRegistry(photo.Caps{Current: cfg.MaxCurrentPhotos, Inspiration: cfg.InspirationCap()}, previews),
		Navigator: nav,
		Submitter: ctrl,
		Previews:  previews,
		Drafts:    store,
		Config:    cfg,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("NewHandlers: %v", err)
	}
	t.Cleanup(ctrl.Wait)
	return h
}

// client carries the session cookie between requests.
type client struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func newClient(t *testing.T, h *Handlers) *client {
	return &client{t: t, handler: Routes(h, nil)}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookie {
			c.cookie = ck
		}
	}
	return rec
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest("GET", target, nil))
}

func (c *client) getJSON(target string) State {
	c.t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	req.Header.Set("Accept", "application/json")
	rec := c.do(req)
	if rec.Code != http.StatusOK {
		c.t.Fatalf("GET %s status = %d, want 200", target, rec.Code)
	}
	var st State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		c.t.Fatalf("decode state: %v", err)
	}
	return st
}

func (c *client) post(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) upload(bucket string, files map[string][]byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("bucket", bucket); err != nil {
		c.t.Fatalf("write field: %v", err)
	}
	for name, data := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photos"; filename="%s"`, name))
		hdr.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(hdr)
		if err != nil {
			c.t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write(data)
	}
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/intake/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, step flow.Step) {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303 (body: %s)", rec.Code, rec.Body.String())
	}
	if got, want := rec.Header().Get("Location"), stepURL(step); got != want {
		t.Fatalf("Location = %q, want %q", got, want)
	}
}

func identityForm() url.Values {
	return url.Values{
		"step":     {"1"},
		"fullName": {"  Jane Doe "},
		"phone":    {"555-123-4567"},
		"email":    {"jane@x.com"},
		"company":  {""},
	}
}

// reachPhotos walks a fresh client through the first four steps.
func (c *client) reachPhotos() {
	c.t.Helper()
	expectRedirect(c.t, c.post("/intake/next", url.Values{"step": {"0"}}), flow.StepIdentity)
	expectRedirect(c.t, c.post("/intake/next", identityForm()), flow.StepServices)
	expectRedirect(c.t, c.post("/intake/next", url.Values{"step": {"2"}, "services": {"", "Color"}}), flow.StepHistory)
	expectRedirect(c.t, c.post("/intake/next", url.Values{"step": {"3"}, "goals": {"Warmer tones"}}), flow.StepPhotos)
}

// --- HandleStep ---

func TestHandleStep_NewSessionRedirectsToIntro(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))

	rec := c.get("/intake")
	expectRedirect(t, rec, flow.StepIntro)
	if c.cookie == nil {
		t.Fatal("expected a session cookie")
	}
	if !c.cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
}

func TestHandleStep_RendersIntroCopy(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))

	rec := c.get("/intake?step=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
	if !strings.Contains(body, "<h1>Before your appointment</h1>") {
		t.Error("expected intro markdown rendered to HTML")
	}
}

func TestHandleStep_HtmxReturnsContentOnly(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.get("/intake")

	req := httptest.NewRequest("GET", "/intake?step=0", nil)
	req.Header.Set("HX-Request", "true")
	rec := c.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<!DOCTYPE html>") {
		t.Error("htmx response should not contain full layout")
	}
	if got := rec.Header().Get("HX-Push-Url"); got != "/intake?step=0" {
		t.Errorf("HX-Push-Url = %q", got)
	}
}

func TestHandleStep_ForgedStepIsGated(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))

	// Jumping straight to review stops on the first step whose gate fails.
	expectRedirect(t, c.get("/intake?step=5"), flow.StepIdentity)

	rec := c.get("/intake?step=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Please add your name") {
		t.Error("expected the identity gate message")
	}
}

func TestHandleStep_OutOfRangeIsClamped(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	expectRedirect(t, c.get("/intake?step=-4"), flow.StepIntro)
	// Forward again through passing gates, clamped to review.
	expectRedirect(t, c.get("/intake?step=99"), flow.StepReview)
}

func TestHandleStep_JSONState(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	st := c.getJSON("/intake")
	if st.Step != "photos" || st.StepIndex != 4 {
		t.Errorf("step = %q (%d), want photos (4)", st.Step, st.StepIndex)
	}
	if st.Answers.FullName != "Jane Doe" {
		t.Errorf("fullName = %q, want trimmed %q", st.Answers.FullName, "Jane Doe")
	}
	if len(st.Answers.Services) != 1 || st.Answers.Services[0] != "Color" {
		t.Errorf("services = %v", st.Answers.Services)
	}
	if st.Error != nil {
		t.Errorf("unexpected error state: %+v", st.Error)
	}
}

// --- HandleNext / HandleBack ---

func TestHandleNext_IdentityGateShowsFieldError(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	expectRedirect(t, c.post("/intake/next", url.Values{"step": {"0"}}), flow.StepIdentity)

	rec := c.post("/intake/next", url.Values{"step": {"1"}, "fullName": {"Jane Doe"}})
	expectRedirect(t, rec, flow.StepIdentity)

	page := c.get("/intake?step=1").Body.String()
	if !strings.Contains(page, "Please add a phone number") {
		t.Error("expected phone message")
	}
	if !strings.Contains(page, `name="phone" type="tel" autocomplete="tel" value="" aria-invalid="true"`) {
		t.Error("expected phone input marked invalid")
	}
	if !strings.Contains(page, `value="Jane Doe"`) {
		t.Error("typed name should be kept")
	}

	st := c.getJSON("/intake")
	if st.Error == nil || st.Error.Field != "phone" || st.Error.Code != "VALIDATION" {
		t.Errorf("error state = %+v", st.Error)
	}
}

func TestHandleBack_PreservesAnswers(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	expectRedirect(t, c.post("/intake/back", url.Values{"step": {"4"}}), flow.StepHistory)
	expectRedirect(t, c.post("/intake/back", url.Values{"step": {"3"}, "goals": {"Cooler tones"}}), flow.StepServices)
	expectRedirect(t, c.post("/intake/back", url.Values{"step": {"2"}}), flow.StepIdentity)

	page := c.get("/intake?step=1").Body.String()
	if !strings.Contains(page, `value="Jane Doe"`) {
		t.Error("name should survive going back")
	}

	expectRedirect(t, c.post("/intake/next", url.Values{"step": {"1"}}), flow.StepServices)
	expectRedirect(t, c.post("/intake/next", url.Values{"step": {"2"}}), flow.StepHistory)
	if st := c.getJSON("/intake"); st.Answers.Goals != "Cooler tones" {
		t.Errorf("goals = %q, want value typed before going back", st.Answers.Goals)
	}
}

func TestHandleNext_UncheckingServicesClearsThem(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()
	c.get("/intake?step=2")

	expectRedirect(t, c.post("/intake/next", url.Values{"step": {"2"}, "services": {""}}), flow.StepServices)
	if !strings.Contains(c.get("/intake?step=2").Body.String(), "Please pick the service you") {
		t.Error("expected services message")
	}
}

func TestHandleNext_StaleFormIsIgnored(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	rec := c.post("/intake/next", url.Values{"step": {"1"}, "fullName": {"Someone Else"}})
	expectRedirect(t, rec, flow.StepPhotos)
	if st := c.getJSON("/intake"); st.Answers.FullName != "Jane Doe" {
		t.Errorf("stale form changed answers: %q", st.Answers.FullName)
	}
}

// --- Photos ---

func TestHandleUpload_AddsAndServesPreview(t *testing.T) {
	h := newTestHandlers(t, setupDB(t), "")
	c := newClient(t, h)
	c.reachPhotos()

	expectRedirect(t, c.upload("current", map[string][]byte{"me.png": pngBytes(t, 8, 8, 10)}), flow.StepPhotos)

	st := c.getJSON("/intake")
	if len(st.Photos) != 1 {
		t.Fatalf("photos = %d, want 1", len(st.Photos))
	}
	p := st.Photos[0]
	if p.Bucket != photo.BucketCurrent || p.Name != "me.png" || p.Preview == "" {
		t.Fatalf("photo = %+v", p)
	}

	rec := c.get(p.Preview)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	// Another visitor cannot read it.
	other := newClient(t, h)
	other.get("/intake")
	if rec := other.get(p.Preview); rec.Code != http.StatusNotFound {
		t.Errorf("foreign preview status = %d, want 404", rec.Code)
	}
}

func TestHandleUpload_DedupesAndCaps(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	a := pngBytes(t, 8, 8, 1)
	c.upload("current", map[string][]byte{"a.png": a})
	c.upload("current", map[string][]byte{"a.png": a})
	if st := c.getJSON("/intake"); len(st.Photos) != 1 {
		t.Fatalf("after duplicate: photos = %d, want 1", len(st.Photos))
	}

	c.upload("current", map[string][]byte{
		"b.png": pngBytes(t, 9, 9, 2),
		"c.png": pngBytes(t, 10, 10, 3),
	})
	st := c.getJSON("/intake")
	if len(st.Photos) != 2 {
		t.Fatalf("photos = %d, want cap of 2", len(st.Photos))
	}

	if !strings.Contains(c.get("/intake?step=4").Body.String(), "2 / 2") {
		t.Error("expected bucket count on the page")
	}
}

func TestHandleUpload_UnknownBucket(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	rec := c.upload("selfies", map[string][]byte{"a.png": pngBytes(t, 4, 4, 1)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRemovePhoto(t *testing.T) {
	h := newTestHandlers(t, setupDB(t), "")
	c := newClient(t, h)
	c.reachPhotos()
	c.upload("inspiration", map[string][]byte{"goal.png": pngBytes(t, 4, 4, 1)})
	preview := c.getJSON("/intake").Photos[0].Preview

	rec := c.post("/intake/photos/remove", url.Values{"bucket": {"inspiration"}, "index": {"0"}})
	expectRedirect(t, rec, flow.StepPhotos)

	if st := c.getJSON("/intake"); len(st.Photos) != 0 {
		t.Errorf("photos = %d, want 0", len(st.Photos))
	}
	if h.previews.Len() != 0 {
		t.Errorf("preview handles = %d, want released", h.previews.Len())
	}
	if rec := c.get(preview); rec.Code != http.StatusNotFound {
		t.Errorf("removed preview status = %d, want 404", rec.Code)
	}
}

// --- Submission ---

func intakeEndpoint(t *testing.T, body string, calls *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHandleSubmit_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	database := setupDB(t)
	h := newTestHandlers(t, database, intakeEndpoint(t, `{"ok":true}`, &calls))
	c := newClient(t, h)
	c.reachPhotos()
	c.upload("current", map[string][]byte{"me.png": pngBytes(t, 40, 30, 9)})
	expectRedirect(t, c.post("/intake/next", url.Values{"step": {"4"}}), flow.StepReview)
	sessionID := c.cookie.Value

	rec := c.post("/intake/submit", nil)
	if loc := rec.Header().Get("Location"); loc != stepURL(flow.StepSubmitting) && loc != stepURL(flow.StepComplete) {
		t.Fatalf("Location = %q", loc)
	}
	h.submitter.Wait()

	expectRedirect(t, c.get("/intake"), flow.StepComplete)
	if !strings.Contains(c.get("/intake?step=7").Body.String(), "Thank you!") {
		t.Error("expected completion copy")
	}
	if calls.Load() != 1 {
		t.Errorf("endpoint calls = %d, want 1", calls.Load())
	}

	// Navigation after completion stays put.
	expectRedirect(t, c.get("/intake?step=1"), flow.StepComplete)

	snap, err := ops.NewStore(database).LoadDraft(context.Background(), sessionID)
	if err != nil || snap != nil {
		t.Errorf("draft after success = %+v, %v; want cleared", snap, err)
	}
	subs, err := ops.ListSubmissions(context.Background(), database, ops.ListSubmissionsInput{SessionID: sessionID})
	if err != nil || len(subs.Items) != 1 || subs.Items[0].Status != db.StatusSucceeded {
		t.Errorf("submission log = %+v, %v", subs, err)
	}
}

func TestHandleSubmit_RejectionReturnsToReview(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandlers(t, setupDB(t), intakeEndpoint(t, `{"ok":false,"message":"Please call the salon to book color correction."}`, &calls))
	c := newClient(t, h)
	c.reachPhotos()
	c.upload("current", map[string][]byte{"me.png": pngBytes(t, 40, 30, 9)})
	c.post("/intake/next", url.Values{"step": {"4"}})

	c.post("/intake/submit", nil)
	h.submitter.Wait()

	expectRedirect(t, c.get("/intake"), flow.StepReview)
	page := c.get("/intake?step=5").Body.String()
	if !strings.Contains(page, "Please call the salon to book color correction.") {
		t.Error("expected server message verbatim")
	}
	st := c.getJSON("/intake")
	if len(st.Photos) != 1 || st.Answers.FullName != "Jane Doe" {
		t.Errorf("answers or photos lost after rejection: %+v", st)
	}
}

func TestHandleSubmit_ZeroPhotosStaysLocal(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandlers(t, setupDB(t), intakeEndpoint(t, `{"ok":true}`, &calls))
	c := newClient(t, h)
	c.reachPhotos()
	expectRedirect(t, c.post("/intake/next", url.Values{"step": {"4"}}), flow.StepReview)

	expectRedirect(t, c.post("/intake/submit", nil), flow.StepReview)
	h.submitter.Wait()

	if calls.Load() != 0 {
		t.Errorf("endpoint calls = %d, want 0", calls.Load())
	}
	if !strings.Contains(c.get("/intake?step=5").Body.String(), "Please add at least one photo") {
		t.Error("expected photo message")
	}
}

func TestHandleSubmit_OnlyFromReview(t *testing.T) {
	var calls atomic.Int32
	h := newTestHandlers(t, setupDB(t), intakeEndpoint(t, `{"ok":true}`, &calls))
	c := newClient(t, h)
	c.reachPhotos()

	expectRedirect(t, c.post("/intake/submit", nil), flow.StepPhotos)
	if calls.Load() != 0 {
		t.Errorf("endpoint calls = %d, want 0", calls.Load())
	}
}

func TestHandleProgress_NotInFlight(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.get("/intake")

	req := httptest.NewRequest("GET", "/intake/progress", nil)
	req.Header.Set("HX-Request", "true")
	rec := c.do(req)
	if got := rec.Header().Get("HX-Redirect"); got != stepURL(flow.StepIntro) {
		t.Errorf("HX-Redirect = %q", got)
	}

	st := c.getJSON("/intake/progress")
	if st.InFlight || st.Progress != nil {
		t.Errorf("progress state = %+v", st)
	}
}

func TestHandleAbandon_NoopWhenIdle(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.reachPhotos()

	expectRedirect(t, c.post("/intake/abandon", nil), flow.StepPhotos)
}

// --- Sessions ---

func TestRestore_ResumesSavedDraft(t *testing.T) {
	database := setupDB(t)
	c := newClient(t, newTestHandlers(t, database, ""))
	c.reachPhotos()
	c.upload("current", map[string][]byte{"me.png": pngBytes(t, 8, 8, 1)})

	// A new process sees only the draft.
	restarted := newClient(t, newTestHandlers(t, database, ""))
	restarted.cookie = c.cookie

	expectRedirect(t, restarted.get("/intake"), flow.StepPhotos)
	st := restarted.getJSON("/intake")
	if st.Answers.FullName != "Jane Doe" || st.Answers.Goals != "Warmer tones" {
		t.Errorf("answers = %+v", st.Answers)
	}
	if len(st.Photos) != 0 || len(st.Pending) != 1 || st.Pending[0].Name != "me.png" {
		t.Errorf("photos = %v pending = %v; want bytes gone, metadata kept", st.Photos, st.Pending)
	}
	if !strings.Contains(restarted.get("/intake?step=4").Body.String(), "Please pick them again") {
		t.Error("expected re-pick notice")
	}
}

func TestHandleRestart(t *testing.T) {
	database := setupDB(t)
	c := newClient(t, newTestHandlers(t, database, ""))
	c.reachPhotos()
	old := c.cookie.Value

	expectRedirect(t, c.post("/intake/restart", nil), flow.StepIntro)
	if c.cookie.Value == old {
		t.Error("expected a new session cookie")
	}
	if st := c.getJSON("/intake"); st.Answers.FullName != "" {
		t.Errorf("new session carries answers: %+v", st.Answers)
	}
	snap, err := ops.NewStore(database).LoadDraft(context.Background(), old)
	if err != nil || snap != nil {
		t.Errorf("old draft = %+v, %v; want cleared", snap, err)
	}
}

func TestSession_InvalidCookieStartsFresh(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	c.cookie = &http.Cookie{Name: sessionCookie, Value: "../../etc"}

	c.get("/intake")
	if c.cookie.Value == "../../etc" {
		t.Error("invalid session id should be replaced")
	}
}

func TestSession_UnknownIDWithoutDraftIsNotRegistered(t *testing.T) {
	h := newTestHandlers(t, setupDB(t), "")
	forged := ulid.Make().String()

	c := newClient(t, h)
	c.cookie = &http.Cookie{Name: sessionCookie, Value: forged}
	c.get("/intake")

	if c.cookie.Value == forged {
		t.Error("unknown session id should be replaced")
	}
	if _, live := h.sessions.Get(forged); live {
		t.Error("unknown session id was registered")
	}
	if n := h.sessions.Len(); n != 1 {
		t.Errorf("live sessions = %d, want 1", n)
	}
}

// --- Errors and headers ---

func TestRenderError_ContentNegotiation(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))

	req := httptest.NewRequest("GET", "/intake/preview/nope", nil)
	req.Header.Set("Accept", "application/json")
	rec := c.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error struct {
			Code   string `json:"code"`
			Status int    `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" || body.Error.Status != 404 {
		t.Errorf("error = %+v", body.Error)
	}

	req = httptest.NewRequest("GET", "/intake/preview/nope", nil)
	req.Header.Set("HX-Request", "true")
	rec = c.do(req)
	if !strings.Contains(rec.Body.String(), `class="error-message"`) || strings.Contains(rec.Body.String(), "<!DOCTYPE html>") {
		t.Errorf("htmx error body = %q", rec.Body.String())
	}

	rec = c.get("/intake/preview/nope")
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected full error page")
	}
}

func TestSecurityHeaders(t *testing.T) {
	c := newClient(t, newTestHandlers(t, setupDB(t), ""))
	rec := c.get("/intake?step=0")

	for _, hdr := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options"} {
		if rec.Header().Get(hdr) == "" {
			t.Errorf("missing %s", hdr)
		}
	}
}

func TestAnswersFromForm(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want map[string]any
	}{
		{"empty", url.Values{}, map[string]any{}},
		{"ignores step marker", url.Values{"step": {"1"}}, map[string]any{}},
		{"single values", url.Values{"fullName": {"Jane"}, "goals": {"Lighter"}}, map[string]any{"fullName": "Jane", "goals": "Lighter"}},
		{"services list", url.Values{"services": {"", "Color"}}, map[string]any{"services": []string{"", "Color"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := answersFromForm(tt.form)
			if fmt.Sprint(map[string]any(got)) != fmt.Sprint(tt.want) {
				t.Errorf("answersFromForm() = %v, want %v", got, tt.want)
			}
		})
	}
}
