package clientgallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML document used to move galleries between
// deployments.
type Manifest struct {
	Galleries []Gallery `yaml:"galleries"`
}

// ImportResult counts what an import did.
type ImportResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// Export writes every gallery to w as a YAML manifest, newest first.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	galleries, err := s.List(ctx)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(Manifest{Galleries: galleries}); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	return enc.Close()
}

// Import reads a YAML manifest from r and creates every gallery whose
// slug is not taken yet. Existing galleries are left untouched. Status
// and creation time are kept from the manifest when present.
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	res := &ImportResult{}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range m.Galleries {
		g, err := s.validate(Input{Name: entry.Name, Title: entry.Title, DriveLink: entry.DriveLink})
		if err != nil {
			return res, fmt.Errorf("manifest entry %d: %w", i, err)
		}

		g.Status = entry.Status
		if !g.Status.Valid() {
			g.Status = StatusLive
		}

		g.CreatedAt = entry.CreatedAt.UTC()
		if entry.CreatedAt.IsZero() {
			g.CreatedAt = s.now().UTC()
		}

		err = s.insertLocked(ctx, g)
		if errors.Is(err, apperrors.ErrGalleryExists) {
			res.Skipped = append(res.Skipped, g.Slug)
			continue
		}

		if err != nil {
			return res, err
		}

		res.Created = append(res.Created, g.Slug)
	}

	s.logger.Info("client galleries imported",
		slog.Int("created", len(res.Created)),
		slog.Int("skipped", len(res.Skipped)),
	)

	return res, nil
}
