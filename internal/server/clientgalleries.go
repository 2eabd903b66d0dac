package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/amaradri/gallery-admin/internal/clientgallery"
)

const maxManifestBytes = 4 << 20

func (s *Server) handleListGalleries(w http.ResponseWriter, r *http.Request) {
	list, err := s.galleries.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"galleries": list})
}

func (s *Server) handleCreateGallery(w http.ResponseWriter, r *http.Request) {
	var in clientgallery.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}

	g, err := s.galleries.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleDeleteGallery(w http.ResponseWriter, r *http.Request) {
	if err := s.galleries.Delete(r.Context(), r.PathValue("name")); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status clientgallery.Status `json:"status"`
}

func (s *Server) handleSetGalleryStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}

	g, err := s.galleries.SetStatus(r.Context(), r.PathValue("name"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleExportGalleries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="client-galleries.yaml"`)

	if err := s.galleries.Export(r.Context(), w); err != nil {
		// Headers are gone once the encoder has written; log only.
		s.logger.Error("exporting galleries", slog.String("error", err.Error()))
	}
}

func (s *Server) handleImportGalleries(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxManifestBytes)

	res, err := s.galleries.Import(r.Context(), r.Body)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.badRequest(w, fmt.Sprintf("importing manifest: %v", err))
			return
		}

		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, res)
}
