// Package server provides the HTTP admin API for gallery-admin.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/amaradri/gallery-admin/internal/clientgallery"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/amaradri/gallery-admin/internal/state"
)

// History records and reports gallery saves. *state.State implements it.
type History interface {
	LastSave() (*state.SaveSummary, error)
	RecordSave(sum state.SaveSummary) error
}

// Pinger is a backend the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Engine     *gallery.Engine
	Galleries  *clientgallery.Service
	History    History
	Gate       *auth.Gate
	MCPHandler http.Handler

	// Blobs serves stored images under /blobs/ when the filesystem
	// backend is used. Nil disables the route.
	Blobs http.Handler

	// Checks are probed by /healthz, keyed by backend name.
	Checks map[string]Pinger

	Logger *slog.Logger
}

// Server holds the handler dependencies.
type Server struct {
	engine    *gallery.Engine
	galleries *clientgallery.Service
	history   History
	checks    map[string]Pinger
	logger    *slog.Logger
	now       func() time.Time
}

// NewMux builds the HTTP mux. Everything except /healthz and /blobs/ is
// behind the staff gate.
func NewMux(cfg MuxConfig) *http.ServeMux {
	s := &Server{
		engine:    cfg.Engine,
		galleries: cfg.Galleries,
		history:   cfg.History,
		checks:    cfg.Checks,
		logger:    cfg.Logger.With(slog.String("component", "server")),
		now:       time.Now,
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/gallery", s.handleGallery)
	api.HandleFunc("POST /api/gallery/files", s.handleAddFiles)
	api.HandleFunc("DELETE /api/gallery/entries/{id}", s.handleRemoveEntry)
	api.HandleFunc("POST /api/gallery/reorder", s.handleReorder)
	api.HandleFunc("GET /api/gallery/plan", s.handlePlan)
	api.HandleFunc("POST /api/gallery/save", s.handleSave)
	api.HandleFunc("POST /api/gallery/reload", s.handleReload)
	api.HandleFunc("GET /api/gallery/events", s.handleEvents)

	api.HandleFunc("GET /api/client-galleries", s.handleListGalleries)
	api.HandleFunc("POST /api/client-galleries", s.handleCreateGallery)
	api.HandleFunc("DELETE /api/client-galleries/{name}", s.handleDeleteGallery)
	api.HandleFunc("PUT /api/client-galleries/{name}/status", s.handleSetGalleryStatus)
	api.HandleFunc("GET /api/client-galleries/export", s.handleExportGalleries)
	api.HandleFunc("POST /api/client-galleries/import", s.handleImportGalleries)

	if cfg.MCPHandler != nil {
		api.Handle("/mcp", cfg.MCPHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if cfg.Blobs != nil {
		mux.Handle("GET /blobs/", http.StripPrefix("/blobs", cfg.Blobs))
	}

	gated := cfg.Gate.Middleware(api)
	mux.Handle("/api/", gated)
	mux.Handle("/mcp", gated)

	return mux
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK

	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", slog.String("backend", name), slog.String("error", err.Error()))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable

			continue
		}

		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}
