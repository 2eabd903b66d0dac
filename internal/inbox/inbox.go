// Package inbox watches a drop folder and feeds new images into the
// live gallery as pending entries.
//
// A file handed to the gallery stays in the folder until a save settles
// it: it is deleted once a save completes without its pending entry, and
// offered again if a reload discards the entry. Files the gallery rejects
// are left in place. A restart before saving re-offers everything still
// in the folder.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/fsnotify/fsnotify"
)

const (
	inboxDirPerm = fs.FileMode(0o755)

	// debounceInterval is how often settled files are flushed to the
	// gallery.
	debounceInterval = 500 * time.Millisecond

	// settleTime is how long a file must go without writes before it is
	// read. Copies into the folder arrive as a burst of write events.
	settleTime = 300 * time.Millisecond

	// maxFileSize caps what is read into memory for a single image.
	maxFileSize = 64 << 20

	// eventBuffer sizes the gallery event subscription. Progress events
	// arrive once per upload during a save.
	eventBuffer = 256
)

// Sink receives batches of files and reports what became of them.
// *gallery.Engine implements it.
type Sink interface {
	AddFiles(files []gallery.File) ([]gallery.Entry, error)
	Subscribe(buffer int) (<-chan gallery.Event, func())
}

// handover tracks a file that is a pending entry in the gallery.
type handover struct {
	id string

	// seen is set once an event shows the entry in the working copy.
	// Events published before the handover never carry it.
	seen bool
}

// Watcher monitors the inbox directory.
type Watcher struct {
	dir     string
	sink    Sink
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	// queued holds settled files that could not be handed over yet
	// because the gallery was busy.
	queued map[string]struct{}

	// ignored remembers rejected files so they are not re-read on every
	// tick. A later write to the file clears the mark.
	ignored map[string]struct{}

	// handed maps paths to the pending entries created from them.
	handed map[string]*handover
}

// NewWatcher creates a watcher for dir feeding sink.
func NewWatcher(dir string, sink Sink, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:     dir,
		sink:    sink,
		logger:  logger.With(slog.String("component", "inbox")),
		queued:  make(map[string]struct{}),
		ignored: make(map[string]struct{}),
		handed:  make(map[string]*handover),
	}
}

// Watch blocks until ctx is cancelled. Files already present when it
// starts are picked up on the first tick.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, inboxDirPerm); err != nil {
		return fmt.Errorf("creating inbox dir: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching inbox dir: %w", err)
	}

	events, unsubscribe := w.sink.Subscribe(eventBuffer)
	defer unsubscribe()

	w.logger.Info("inbox watcher started", slog.String("dir", w.dir))

	existing, err := w.scan()
	if err != nil {
		return err
	}

	for _, path := range existing {
		w.queued[path] = struct{}{}
	}

	pending := make(map[string]time.Time)

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if _, ok := w.handed[event.Name]; ok {
					continue
				}

				pending[event.Name] = time.Now()
				delete(w.ignored, event.Name)
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				delete(w.queued, event.Name)
				delete(w.ignored, event.Name)
				delete(w.handed, event.Name)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			w.settle(ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < settleTime {
					continue
				}

				delete(pending, path)
				w.queued[path] = struct{}{}
			}

			w.flush()
		}
	}
}

// flush hands every queued file to the sink in one batch.
func (w *Watcher) flush() {
	if len(w.queued) == 0 {
		return
	}

	paths := make([]string, 0, len(w.queued))
	for path := range w.queued {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	var (
		files  []gallery.File
		byName = make(map[string]string, len(paths))
	)

	for _, path := range paths {
		if _, ok := w.handed[path]; ok {
			delete(w.queued, path)
			continue
		}

		f, ok := w.read(path)
		if !ok {
			delete(w.queued, path)
			continue
		}

		files = append(files, f)
		byName[f.Name] = path
	}

	if len(files) == 0 {
		return
	}

	added, err := w.sink.AddFiles(files)
	if errors.Is(err, apperrors.ErrBusy) {
		w.logger.Debug("gallery busy, keeping inbox files queued", slog.Int("count", len(files)))
		return
	}

	for _, path := range byName {
		delete(w.queued, path)
	}

	if err != nil {
		w.logger.Warn("adding inbox files failed", slog.String("error", err.Error()))
		return
	}

	accepted := make(map[string]string, len(added))
	for _, e := range added {
		accepted[e.Name] = e.ID
	}

	for name, path := range byName {
		id, ok := accepted[name]
		if !ok {
			w.ignored[path] = struct{}{}
			w.logger.Debug("inbox file is not an image, leaving in place", slog.String("file", name))

			continue
		}

		w.handed[path] = &handover{id: id}
	}

	if len(added) > 0 {
		w.logger.Info("inbox files added to gallery", slog.Int("count", len(added)))
	}
}

// settle reconciles handed files with a gallery event. Once the entry
// has been seen, a save that drops it means the image was uploaded or
// discarded by staff, so the file is deleted. A reload that drops it
// means the pending entry was thrown away, so the file is offered again.
func (w *Watcher) settle(ev gallery.Event) {
	if len(w.handed) == 0 {
		return
	}

	present := make(map[string]struct{}, len(ev.View.Working))
	for _, e := range ev.View.Working {
		present[e.ID] = struct{}{}
	}

	for path, h := range w.handed {
		if _, ok := present[h.id]; ok {
			h.seen = true
			continue
		}

		if !h.seen {
			continue
		}

		switch ev.Kind {
		case gallery.EventSaved:
			delete(w.handed, path)

			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				w.logger.Warn("removing inbox file", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}

			w.logger.Debug("inbox file settled", slog.String("path", path))

		case gallery.EventLoaded:
			delete(w.handed, path)
			w.queued[path] = struct{}{}
		}
	}
}

// read loads a regular file from the inbox. Symlinks, directories,
// oversized and ignored files are skipped.
func (w *Watcher) read(path string) (gallery.File, bool) {
	if _, skip := w.ignored[path]; skip {
		return gallery.File{}, false
	}

	info, err := os.Lstat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("stat failed", slog.String("path", path), slog.String("error", err.Error()))
		}

		return gallery.File{}, false
	}

	if !info.Mode().IsRegular() {
		return gallery.File{}, false
	}

	if info.Size() > maxFileSize {
		w.ignored[path] = struct{}{}
		w.logger.Warn("inbox file too large", slog.String("path", path), slog.Int64("size", info.Size()))

		return gallery.File{}, false
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the watched directory
	if err != nil {
		w.logger.Warn("reading file", slog.String("path", path), slog.String("error", err.Error()))
		return gallery.File{}, false
	}

	// The raw base name is unique within the folder; storage keys are
	// normalized by the gallery.
	return gallery.File{Name: filepath.Base(path), Data: data}, true
}

// scan lists the files already sitting in the inbox.
func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox dir: %w", err)
	}

	var paths []string

	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.Type().IsRegular() && !shouldIgnore(path) {
			paths = append(paths, path)
		}
	}

	return paths, nil
}

func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}

	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".crdownload") {
		return true
	}

	return false
}
