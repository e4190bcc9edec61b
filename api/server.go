// Package api provides the HTTP server for peerscope.
//
// It exposes the index catalog, the snapshot store, fetch and chart-view
// endpoints under /api/v1, and serves the embedded single-page UI at /.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/internal/app"
	"github.com/seenimoa/peerscope/internal/catalog"
	"github.com/seenimoa/peerscope/internal/dashboard"
	"github.com/seenimoa/peerscope/internal/marketdata"
	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/web"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	app     *app.App
	logger  *zap.Logger
	serveUI bool // when true, serve the embedded web UI at /
	now     func() time.Time
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(a *app.App) *Server {
	srv := &Server{
		app:     a,
		logger:  a.Logger.Named("api"),
		serveUI: true,
		now:     time.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// SetServeUI controls whether the embedded web UI is served.
// Must be called before ListenAndServe.
func (s *Server) SetServeUI(enabled bool) {
	s.serveUI = enabled
	s.router = s.buildRouter()
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server and shuts it down gracefully on
// SIGINT/SIGTERM or when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	// Fetches of a whole sector can take a while at the default rate limit.
	r.Use(middleware.Timeout(170 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.app.Config.API.CORSOrigins) > 0 {
		origins = s.app.Config.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Index lists
		r.Get("/indices", s.handleListIndices)
		r.Get("/indices/{id}", s.handleGetIndex)

		// Snapshots
		r.Get("/snapshots", s.handleListSnapshots)
		r.Get("/snapshots/latest", s.handleLatestSnapshot)
		r.Get("/snapshots/{id}", s.handleGetSnapshot)

		// Fetch and chart views
		r.Post("/fetch", s.handleFetch)
		r.Get("/views", s.handleListViews)
		r.Post("/view", s.handleView)

		// Configuration
		r.Get("/config", s.handleGetConfig)
	})

	if s.serveUI {
		s.mountUI(r, web.StaticFS())
	}

	return r
}

// mountUI serves the embedded single-page UI. Unknown paths fall back to
// index.html.
func (s *Server) mountUI(r chi.Router, staticFS fs.FS) {
	fileServer := http.FileServerFS(staticFS)

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		rPath := strings.TrimPrefix(r.URL.Path, "/")
		if rPath == "" {
			rPath = "index.html"
		}

		f, err := staticFS.Open(rPath)
		if err != nil {
			serveIndexHTML(w, staticFS)
			return
		}
		f.Close()

		if strings.HasSuffix(rPath, ".html") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}
		fileServer.ServeHTTP(w, r)
	})
}

// serveIndexHTML reads and serves the embedded index.html.
func serveIndexHTML(w http.ResponseWriter, staticFS fs.FS) {
	data, err := fs.ReadFile(staticFS, "index.html")
	if err != nil {
		http.Error(w, "web UI not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// accessLog logs one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", r.RemoteAddr),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FetchRequest is the body for POST /api/v1/fetch.
type FetchRequest struct {
	Tickers string `json:"tickers"`         // comma separated
	Index   string `json:"index,omitempty"` // when set, sector peers are fetched too
}

// FetchResponse is returned by POST /api/v1/fetch.
type FetchResponse struct {
	Requested []string                   `json:"requested"`
	Snapshot  *snapshot.Meta             `json:"snapshot,omitempty"`
	Fetched   int                        `json:"fetched"`
	Failures  []marketdata.SymbolFailure `json:"failures"`
}

// SnapshotList is returned by GET /api/v1/snapshots.
type SnapshotList struct {
	Snapshots []snapshot.Meta `json:"snapshots"`
	Latest    *snapshot.Meta  `json:"latest,omitempty"`
	Stale     bool            `json:"stale"`
}

// IndexDetail is returned by GET /api/v1/indices/{id}.
type IndexDetail struct {
	Info         *models.IndexInfo         `json:"info"`
	Constituents []models.IndexConstituent `json:"constituents"`
}

// ============================================================
// Helpers
// ============================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// writeErr maps a domain error to its HTTP status.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, dashboard.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrInvalidRequest),
		errors.Is(err, marketdata.ErrNoSymbols),
		errors.Is(err, catalog.ErrMissingColumn):
		return http.StatusBadRequest
	case errors.Is(err, snapshot.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, marketdata.ErrAllSymbolsFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
