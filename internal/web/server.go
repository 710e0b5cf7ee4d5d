// Package web serves the interactive reviewer: prediction cards, the
// highlighted email body, and the edit gestures that feed the correction ledger.
package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/ledger"
	"github.com/hpungsan/evlens/internal/logging"
	"github.com/hpungsan/evlens/internal/overlay"
	"github.com/hpungsan/evlens/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Deps are the collaborators the web UI needs.
type Deps struct {
	Sessions *session.Manager
	Config   *config.Config
	Sink     ledger.Sink
	// DB backs the stored-submissions pages; nil hides them.
	DB     *sql.DB
	Logger *log.Logger
}

// NewHandler builds the routed handler for the web UI.
func NewHandler(deps Deps, version string) (http.Handler, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	logger := logging.OrDiscard(deps.Logger)
	h := &Handlers{
		sessions: deps.Sessions,
		cfg:      deps.Config,
		sink:     deps.Sink,
		db:       deps.DB,
		logger:   logger,
		renderer: NewRenderer(templateSub, version, logger),
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("POST /sessions", h.HandleCreate)
	mux.HandleFunc("GET /sessions/{id}", h.HandleReview)
	mux.HandleFunc("POST /sessions/{id}/{action}", h.HandleAction)
	mux.HandleFunc("GET /sessions/{id}/feedback", h.HandleFeedback)
	mux.HandleFunc("DELETE /sessions/{id}", h.HandleClose)
	mux.HandleFunc("GET /submissions", h.HandleSubmissions)
	mux.HandleFunc("GET /submissions/{id}", h.HandleSubmission)

	mux.HandleFunc("GET /evidence.css", handleEvidenceCSS)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux), nil
}

// NewServer creates the HTTP server for the web UI.
func NewServer(deps Deps, version, bind string, port int) (*http.Server, error) {
	handler, err := NewHandler(deps, version)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func handleEvidenceCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write([]byte(overlay.Stylesheet()))
}

// securityHeaders adds security-related HTTP headers to all responses.
// Email bodies are rendered inline, so remote images and inline styles stay blocked.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, logger *log.Logger) error {
	logger = logging.OrDiscard(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("evlens UI running", "url", "http://"+srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
