// Package web serves the guided consultation interview over HTTP.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/submit"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

//go:embed copy/*.md
var copyFS embed.FS

// Session housekeeping.
const (
	sweepEvery  = time.Minute
	sessionIdle = 2 * time.Hour
)

// Deps are the collaborators the web surface drives.
type Deps struct {
	Sessions  *flow.Registry
	Navigator *flow.Navigator
	Submitter *submit.Controller
	Previews  *photo.PreviewRegistry
	Drafts    flow.Store
	Config    *config.Config
	Log       *zap.Logger
	Version   string
}

// NewHandlers wires the route handlers from deps.
func NewHandlers(deps Deps) (*Handlers, error) {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	copySub, err := fs.Sub(copyFS, "copy")
	if err != nil {
		return nil, fmt.Errorf("copy sub-FS: %w", err)
	}

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Handlers{
		sessions:  deps.Sessions,
		nav:       deps.Navigator,
		submitter: deps.Submitter,
		previews:  deps.Previews,
		drafts:    deps.Drafts,
		cfg:       cfg,
		renderer:  NewRenderer(templateSub, copySub, deps.Version, log),
		log:       log,
	}, nil
}

// NewServer creates and configures the HTTP server for the interview.
func NewServer(deps Deps, bind string, port int) (*http.Server, error) {
	h, err := NewHandlers(deps)
	if err != nil {
		return nil, err
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           Routes(h, staticSub),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// Routes builds the route table.
func Routes(h *Handlers, static fs.FS) http.Handler {
	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/intake", http.StatusFound)
	})
	mux.HandleFunc("GET /intake", h.HandleStep)
	mux.HandleFunc("POST /intake/next", h.HandleNext)
	mux.HandleFunc("POST /intake/back", h.HandleBack)
	mux.HandleFunc("POST /intake/photos", h.HandleUpload)
	mux.HandleFunc("POST /intake/photos/remove", h.HandleRemovePhoto)
	mux.HandleFunc("GET /intake/preview/{handle}", h.HandlePreview)
	mux.HandleFunc("POST /intake/submit", h.HandleSubmit)
	mux.HandleFunc("GET /intake/progress", h.HandleProgress)
	mux.HandleFunc("POST /intake/abandon", h.HandleAbandon)
	mux.HandleFunc("POST /intake/restart", h.HandleRestart)

	if static != nil {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	}

	// Wrap with security headers
	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self'; style-src 'self'; form-action 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// Sweep closes idle sessions every interval until ctx is done.
func Sweep(ctx context.Context, sessions *flow.Registry, every, maxIdle time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sessions.Sweep(maxIdle); n > 0 {
				log.Info("idle sessions closed", zap.Int("count", n), zap.Int("live", sessions.Len()))
			}
		}
	}
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
// In-flight submissions are waited for before it returns.
func Run(srv *http.Server, deps Deps) error {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if deps.Sessions != nil {
		go Sweep(sweepCtx, deps.Sessions, sweepEvery, sessionIdle, log)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("intake UI running", zap.String("url", "http://"+srv.Addr+"/intake"))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(ctx)
		if deps.Submitter != nil {
			deps.Submitter.Wait()
		}
		return err
	}
}
