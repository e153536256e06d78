package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/photo"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// ServiceOption is one checkbox on the services step.
type ServiceOption struct {
	Name    string
	Checked bool
}

// StepPageData is the template data for every interview step.
type StepPageData struct {
	PageData
	View      flow.View
	Copy      template.HTML
	Services  []ServiceOption
	Number    int
	Total     int
	Error     string
	Retryable bool
	Buckets   []BucketData
}

// BucketData is one photo bucket on the photos step.
type BucketData struct {
	Name     photo.Bucket
	Title    string
	Optional bool
	Entries  []photo.Entry
	Cap      int
	CanAdd   bool
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// stepPages maps each step to its template.
var stepPages = map[flow.Step]string{
	flow.StepIntro:      "intro",
	flow.StepIdentity:   "identity",
	flow.StepServices:   "services",
	flow.StepHistory:    "history",
	flow.StepPhotos:     "photos",
	flow.StepReview:     "review",
	flow.StepSubmitting: "submitting",
	flow.StepComplete:   "complete",
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	copy      map[string]template.HTML
	version   string
	log       *zap.Logger
}

// NewRenderer creates a Renderer by parsing templates from templateFS and
// rendering the markdown step copy found in copyFS.
func NewRenderer(templateFS, copyFS fs.FS, version string, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"add":       func(a, b int) int { return a + b },
		"stepURL":   stepURL,
		"join":      strings.Join,
		"formatKB":  formatKB,
		"stepTitle": stepTitle,
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	names := make([]string, 0, len(stepPages)+1)
	for _, name := range stepPages {
		names = append(names, name)
	}
	names = append(names, "error")

	templates := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, name+".html"))
		templates[name] = t
	}

	copies := make(map[string]template.HTML)
	if copyFS != nil {
		for _, name := range names {
			md, err := fs.ReadFile(copyFS, name+".md")
			if err != nil {
				continue
			}
			copies[name] = renderMarkdown(string(md))
		}
	}

	return &Renderer{
		templates: templates,
		copy:      copies,
		version:   version,
		log:       log,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if isHTMX(req) {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
// Used for htmx partial swaps that target a sub-section of the page.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		r.log.Error("template not found", zap.String("template", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		r.log.Error("template execution failed",
			zap.String("template", page),
			zap.String("block", block),
			zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	var iErr *errors.IntakeError
	if !errors.As(err, &iErr) {
		iErr = errors.NewUnexpected(err)
	}
	if iErr.Status >= http.StatusInternalServerError {
		r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
	}

	status := iErr.Status
	message := iErr.Message

	// HTMX request: return HTML fragment
	if isHTMX(req) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	// JSON request
	if wantsJSON(req) {
		renderJSON(w, status, map[string]any{
			"error": map[string]any{
				"code":    string(iErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	// Full error page
	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

func isHTMX(req *http.Request) bool {
	return req != nil && req.Header.Get("HX-Request") == "true"
}

func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// stepURL is the address a step is mirrored to.
func stepURL(s flow.Step) string {
	return fmt.Sprintf("/intake?step=%d", s.Index())
}

func stepTitle(s flow.Step) string {
	switch s {
	case flow.StepIntro:
		return "Welcome"
	case flow.StepIdentity:
		return "About you"
	case flow.StepServices:
		return "Services"
	case flow.StepHistory:
		return "Hair history"
	case flow.StepPhotos:
		return "Photos"
	case flow.StepReview:
		return "Review"
	case flow.StepSubmitting:
		return "Sending"
	case flow.StepComplete:
		return "Thank you"
	}
	return s.String()
}

// formatKB formats a byte count as whole kilobytes, rounding up.
func formatKB(n int64) string {
	if n <= 0 {
		return "0 KB"
	}
	return fmt.Sprintf("%d KB", (n+1023)/1024)
}
