package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"github.com/amaradri/gallery-admin/internal/gallery"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		loadErr *gallery.LoadError
		saveErr *gallery.SaveError
	)

	switch {
	case errors.Is(err, apperrors.ErrBusy),
		errors.Is(err, apperrors.ErrGalleryExists):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrEntryNotFound),
		errors.Is(err, apperrors.ErrGalleryNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrIndexOutOfRange),
		errors.Is(err, apperrors.ErrMissingFields),
		errors.Is(err, apperrors.ErrInvalidLink),
		errors.Is(err, apperrors.ErrInvalidName),
		errors.Is(err, apperrors.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &loadErr), errors.As(err, &saveErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes err as a JSON body.
// Internal errors are not echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
