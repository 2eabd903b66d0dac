// Package clientgallery manages the per-client private gallery records:
// a name, a title, a link to the shared drive folder and a visibility
// status, addressed by a URL slug derived from the name.
package clientgallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IndexPath is the state store path holding the list of gallery slugs.
const IndexPath = "clientgalleries"

// Status controls whether a client gallery is reachable.
type Status string

const (
	StatusLive   Status = "live"
	StatusHidden Status = "hidden"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusLive || s == StatusHidden
}

// Gallery is one client gallery record.
type Gallery struct {
	Name      string    `json:"name" yaml:"name"`
	Title     string    `json:"title" yaml:"title"`
	DriveLink string    `json:"driveLink" yaml:"drive_link"`
	Slug      string    `json:"url" yaml:"url"`
	Status    Status    `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// Input is the form data for a new gallery.
type Input struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	DriveLink string `json:"driveLink"`
}

// Store is the path-addressed JSON store the records live in.
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, value json.RawMessage) error
	Delete(ctx context.Context, path string) error
}

// Service reads and writes client gallery records. Writes from one
// process are serialized; there is no cross-process locking.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// New creates a service over store.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With(slog.String("component", "clientgallery")),
		now:    time.Now,
	}
}

func recordPath(slug string) string {
	return IndexPath + "/" + slug
}

// Slug derives the URL segment for a gallery name: accents are folded,
// letters lowercased and every run of other characters becomes a single
// hyphen. "Anna & Jo Müller" becomes "anna-jo-muller".
func Slug(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder

	hyphen := false

	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}

			b.WriteRune(r)

			hyphen = false

			continue
		}

		hyphen = true
	}

	return b.String()
}

// List returns every gallery, newest first.
func (s *Service) List(ctx context.Context) ([]Gallery, error) {
	slugs, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Gallery, 0, len(slugs))

	for _, slug := range slugs {
		g, err := s.read(ctx, slug)
		if errors.Is(err, apperrors.ErrGalleryNotFound) {
			s.logger.Warn("index references missing gallery", slog.String("slug", slug))
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, *g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

// Get returns the gallery for a name or slug.
func (s *Service) Get(ctx context.Context, name string) (*Gallery, error) {
	slug := Slug(name)
	if slug == "" {
		return nil, fmt.Errorf("%q: %w", name, apperrors.ErrGalleryNotFound)
	}

	return s.read(ctx, slug)
}

// Create validates in and stores a new live gallery.
func (s *Service) Create(ctx context.Context, in Input) (*Gallery, error) {
	g, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	g.Status = StatusLive
	g.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertLocked(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("client gallery created", slog.String("slug", g.Slug))

	return g, nil
}

// Delete removes the gallery for a name or slug.
func (s *Service) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	slugs, err := s.readIndex(ctx)
	if err != nil {
		return err
	}

	slugs = slices.DeleteFunc(slugs, func(v string) bool { return v == g.Slug })
	if err := s.writeIndex(ctx, slugs); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, recordPath(g.Slug)); err != nil {
		return fmt.Errorf("deleting gallery %s: %w", g.Slug, err)
	}

	s.logger.Info("client gallery deleted", slog.String("slug", g.Slug))

	return nil
}

// SetStatus changes the visibility of a gallery.
func (s *Service) SetStatus(ctx context.Context, name string, status Status) (*Gallery, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%q: %w", status, apperrors.ErrInvalidStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if g.Status == status {
		return g, nil
	}

	g.Status = status
	if err := s.write(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("client gallery status changed",
		slog.String("slug", g.Slug),
		slog.String("status", string(status)),
	)

	return g, nil
}

func (s *Service) validate(in Input) (*Gallery, error) {
	name := strings.TrimSpace(in.Name)
	title := strings.TrimSpace(in.Title)
	link := strings.TrimSpace(in.DriveLink)

	if name == "" || title == "" || link == "" {
		return nil, apperrors.ErrMissingFields
	}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q: %w", link, apperrors.ErrInvalidLink)
	}

	slug := Slug(name)
	if slug == "" {
		return nil, fmt.Errorf("%q: %w", name, apperrors.ErrInvalidName)
	}

	return &Gallery{Name: name, Title: title, DriveLink: link, Slug: slug}, nil
}

// insertLocked stores a new record and adds it to the index. The record
// is written before the index so a crash in between leaves an orphan
// record, never a dangling index entry.
func (s *Service) insertLocked(ctx context.Context, g *Gallery) error {
	if _, err := s.read(ctx, g.Slug); err == nil {
		return fmt.Errorf("%q: %w", g.Name, apperrors.ErrGalleryExists)
	} else if !errors.Is(err, apperrors.ErrGalleryNotFound) {
		return err
	}

	if err := s.write(ctx, g); err != nil {
		return err
	}

	slugs, err := s.readIndex(ctx)
	if err != nil {
		return err
	}

	if !slices.Contains(slugs, g.Slug) {
		slugs = append(slugs, g.Slug)
	}

	return s.writeIndex(ctx, slugs)
}

func (s *Service) read(ctx context.Context, slug string) (*Gallery, error) {
	raw, err := s.store.Get(ctx, recordPath(slug))
	if err != nil {
		return nil, fmt.Errorf("reading gallery %s: %w", slug, err)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%q: %w", slug, apperrors.ErrGalleryNotFound)
	}

	var g Gallery
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decoding gallery %s: %w", slug, err)
	}

	return &g, nil
}

func (s *Service) write(ctx context.Context, g *Gallery) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding gallery %s: %w", g.Slug, err)
	}

	if err := s.store.Set(ctx, recordPath(g.Slug), data); err != nil {
		return fmt.Errorf("writing gallery %s: %w", g.Slug, err)
	}

	return nil
}

func (s *Service) readIndex(ctx context.Context) ([]string, error) {
	raw, err := s.store.Get(ctx, IndexPath)
	if err != nil {
		return nil, fmt.Errorf("reading gallery index: %w", err)
	}

	if len(raw) == 0 {
		return nil, nil
	}

	var slugs []string
	if err := json.Unmarshal(raw, &slugs); err != nil {
		return nil, fmt.Errorf("decoding gallery index: %w", err)
	}

	return slugs, nil
}

func (s *Service) writeIndex(ctx context.Context, slugs []string) error {
	if slugs == nil {
		slugs = []string{}
	}

	data, err := json.Marshal(slugs)
	if err != nil {
		return fmt.Errorf("encoding gallery index: %w", err)
	}

	if err := s.store.Set(ctx, IndexPath, data); err != nil {
		return fmt.Errorf("writing gallery index: %w", err)
	}

	return nil
}
