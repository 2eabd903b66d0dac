package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/amaradri/gallery-admin/internal/auth"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/amaradri/gallery-admin/internal/state"
)

const (
	// maxUploadBytes caps a whole multipart upload request.
	maxUploadBytes = 512 << 20

	// multipartMemory is how much of an upload is buffered in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20

	// uploadField is the multipart form field carrying the images.
	uploadField = "files"
)

type galleryResponse struct {
	Gallery  gallery.View       `json:"gallery"`
	LastSave *state.SaveSummary `json:"last_save,omitempty"`
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	resp := galleryResponse{Gallery: s.engine.State()}

	if s.history != nil {
		last, err := s.history.LastSave()
		if err != nil {
			s.logger.Warn("reading last save", slog.String("error", err.Error()))
		}

		resp.LastSave = last
	}

	writeJSON(w, http.StatusOK, resp)
}

type addFilesResponse struct {
	Added   []gallery.Entry `json:"added"`
	Gallery gallery.View    `json:"gallery"`
}

func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.badRequest(w, fmt.Sprintf("reading upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		s.badRequest(w, fmt.Sprintf("no files in form field %q", uploadField))
		return
	}

	files := make([]gallery.File, 0, len(headers))

	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, r, fmt.Errorf("opening upload %s: %w", fh.Filename, err))
			return
		}

		data, err := io.ReadAll(f)
		f.Close()

		if err != nil {
			s.writeError(w, r, fmt.Errorf("reading upload %s: %w", fh.Filename, err))
			return
		}

		// Browsers send octet-stream for types they do not know; let the
		// engine infer those from the name and content instead.
		ct := fh.Header.Get("Content-Type")
		if ct == "application/octet-stream" {
			ct = ""
		}

		files = append(files, gallery.File{Name: fh.Filename, ContentType: ct, Data: data})
	}

	added, err := s.engine.AddFiles(files)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("files added",
		slog.String("user_id", auth.RequestUserID(r.Context())),
		slog.Int("offered", len(files)),
		slog.Int("added", len(added)),
	)

	if added == nil {
		added = []gallery.Entry{}
	}

	writeJSON(w, http.StatusOK, addFilesResponse{Added: added, Gallery: s.engine.State()})
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveEntry(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, galleryResponse{Gallery: s.engine.State()})
}

type reorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}

	if req.From == nil || req.To == nil {
		s.badRequest(w, "from and to are required")
		return
	}

	if err := s.engine.Reorder(*req.From, *req.To); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, galleryResponse{Gallery: s.engine.State()})
}

type planResponse struct {
	Plan    gallery.Plan `json:"plan"`
	Diff    string       `json:"diff"`
	CanSave bool         `json:"can_save"`
}

func (s *Server) handlePlan(w http.ResponseWriter, _ *http.Request) {
	plan := s.engine.Plan()

	writeJSON(w, http.StatusOK, planResponse{
		Plan:    plan,
		Diff:    plan.Describe(),
		CanSave: !plan.Empty(),
	})
}

type saveResponse struct {
	Saved   bool                `json:"saved"`
	Result  *gallery.SaveResult `json:"result,omitempty"`
	Summary *state.SaveSummary  `json:"summary,omitempty"`
	Gallery gallery.View        `json:"gallery"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.SaveWithResult(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !res.Applied() {
		writeJSON(w, http.StatusOK, saveResponse{Gallery: s.engine.State()})
		return
	}

	user := auth.RequestUserID(r.Context())
	sum := state.Summarize(res, user, s.now())

	if s.history != nil {
		if err := s.history.RecordSave(sum); err != nil {
			s.logger.Warn("recording save", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("gallery saved via API",
		slog.String("user_id", user),
		slog.Int("deleted", sum.Deleted),
		slog.Int("uploaded", sum.Uploaded),
	)

	writeJSON(w, http.StatusOK, saveResponse{
		Saved:   true,
		Result:  res,
		Summary: &sum,
		Gallery: s.engine.State(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Load(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, galleryResponse{Gallery: s.engine.State()})
}
