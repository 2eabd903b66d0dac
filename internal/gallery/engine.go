package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"golang.org/x/sync/errgroup"
)

// defaultResolveConcurrency caps the number of blob URL lookups that run
// at once during Load.
const defaultResolveConcurrency = 8

// Options tunes an Engine. The zero value is usable.
type Options struct {
	// SkipMissing drops entries whose blob no longer exists instead of
	// failing the load. The dropped ids stay in the stored order list
	// until a save that has other work to do rewrites it; a load alone
	// never writes.
	SkipMissing bool

	// ResolveConcurrency bounds parallel URL resolution during Load.
	ResolveConcurrency int

	// Now supplies the clock used to build storage keys.
	Now func() time.Time
}

// Engine owns the live gallery's snapshot and working copy. All state
// changes go through its methods; the UI layer reads State and listens
// on Subscribe.
//
// Load and Save never run concurrently: a second call while one is in
// flight fails with errors.ErrBusy, as do mutations.
type Engine struct {
	state  StateStore
	blobs  BlobStore
	logger *slog.Logger
	opts   Options
	events *hub

	mu         sync.Mutex
	status     Status
	busy       bool
	snapshot   Snapshot
	working    []Entry
	pending    map[string]File
	progress   float64
	lastErr    string
	lastMillis int64
}

// New creates an engine over the given stores. The engine holds no data
// until Load succeeds.
func New(state StateStore, blobs BlobStore, logger *slog.Logger, opts Options) *Engine {
	if opts.ResolveConcurrency <= 0 {
		opts.ResolveConcurrency = defaultResolveConcurrency
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		state:   state,
		blobs:   blobs,
		logger:  logger.With(slog.String("component", "gallery")),
		opts:    opts,
		events:  newHub(),
		status:  StatusIdle,
		pending: make(map[string]File),
	}
}

// Subscribe registers a listener for state changes. The returned cancel
// function unregisters it and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.events.subscribe(buffer)
}

// State returns a copy of the current engine state.
func (e *Engine) State() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.viewLocked()
}

func (e *Engine) viewLocked() View {
	working := make([]Entry, len(e.working))
	copy(working, e.working)

	return View{
		Status:   e.status,
		Snapshot: e.snapshot.Entries(),
		Working:  working,
		CanSave:  canSave(e.snapshot, e.working),
		Progress: e.progress,
		Error:    e.lastErr,
	}
}

func (e *Engine) emit(kind EventKind) {
	if e.events.count() == 0 {
		return
	}

	ev := Event{Kind: kind, View: e.State()}
	if dropped := e.events.publish(ev); dropped > 0 {
		e.logger.Debug("event dropped for slow subscribers",
			slog.String("kind", string(kind)),
			slog.Int("subscribers", dropped),
		)
	}
}

// CanSave reports whether Save has anything to do.
func (e *Engine) CanSave() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return canSave(e.snapshot, e.working)
}

// Plan computes the operations a Save would perform right now.
func (e *Engine) Plan() Plan {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Diff(e.snapshot, e.working)
}

// Load fetches the order list, resolves a display URL for every entry
// and replaces both the snapshot and the working copy. Local edits are
// discarded. Once started it runs to completion regardless of ctx
// cancellation, so a caller that goes away cannot leave the gallery in
// StatusLoadFailed.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return apperrors.ErrBusy
	}

	e.busy = true
	e.status = StatusLoading
	e.mu.Unlock()

	e.emit(EventLoading)

	entries, err := e.fetch(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.busy = false

	if err != nil {
		e.status = StatusLoadFailed
		e.lastErr = err.Error()
		e.mu.Unlock()

		e.logger.Warn("gallery load failed", slog.String("error", err.Error()))
		e.emit(EventLoadFailed)

		return err
	}

	e.resetLocked(entries)
	e.mu.Unlock()

	e.logger.Info("gallery loaded", slog.Int("entries", len(entries)))
	e.emit(EventLoaded)

	return nil
}

// resetLocked installs entries as the new baseline and working copy.
func (e *Engine) resetLocked(entries []Entry) {
	e.snapshot = NewSnapshot(entries)
	e.working = e.snapshot.Entries()
	e.pending = make(map[string]File)
	e.status = StatusReady
	e.progress = 0
	e.lastErr = ""
}

// fetch reads the authoritative gallery without touching engine state.
func (e *Engine) fetch(ctx context.Context) ([]Entry, error) {
	records, err := readOrder(ctx, e.state)
	if err != nil {
		return nil, &LoadError{Op: "read order", Err: err}
	}

	entries := make([]Entry, len(records))
	missing := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ResolveConcurrency)

	for i, rec := range records {
		g.Go(func() error {
			url, err := e.blobs.URL(gctx, BlobKey(rec.ID))
			if err != nil {
				if e.opts.SkipMissing && errors.Is(err, apperrors.ErrBlobNotFound) {
					missing[i] = true
					return nil
				}

				return fmt.Errorf("resolving %s: %w", rec.ID, err)
			}

			entries[i] = Entry{ID: rec.ID, Location: url, Name: rec.ID}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &LoadError{Op: "resolve", Err: err}
	}

	out := entries[:0]

	for i, entry := range entries {
		if missing[i] {
			e.logger.Warn("skipping entry with missing blob", slog.String("id", records[i].ID))
			continue
		}

		out = append(out, entry)
	}

	return out, nil
}

// AddFiles appends one pending entry per image file, in input order.
// Files that are not images are dropped without error. It returns the
// entries that were added.
func (e *Engine) AddFiles(files []File) ([]Entry, error) {
	e.mu.Lock()

	if e.busy {
		e.mu.Unlock()
		return nil, apperrors.ErrBusy
	}

	var added []Entry

	for _, f := range files {
		ct := detectContentType(f)
		if !isImageType(ct) {
			e.logger.Debug("ignoring non-image file",
				slog.String("name", f.Name),
				slog.String("content_type", ct),
			)

			continue
		}

		id := newPendingID()
		entry := Entry{
			ID:       id,
			Location: pendingScheme + id,
			Name:     f.Name,
			Order:    len(e.working),
		}

		data := make([]byte, len(f.Data))
		copy(data, f.Data)

		e.pending[id] = File{Name: f.Name, ContentType: ct, Data: data}
		e.working = append(e.working, entry)
		added = append(added, entry)
	}

	e.mu.Unlock()

	if len(added) > 0 {
		e.emit(EventChanged)
	}

	return added, nil
}

// RemoveEntry drops an entry from the working copy. A persisted entry
// removed this way is deleted from the blob store on the next Save.
func (e *Engine) RemoveEntry(id string) error {
	e.mu.Lock()

	if e.busy {
		e.mu.Unlock()
		return apperrors.ErrBusy
	}

	idx := -1

	for i, entry := range e.working {
		if entry.ID == id {
			idx = i
			break
		}
	}

	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("removing %q: %w", id, apperrors.ErrEntryNotFound)
	}

	e.working = append(e.working[:idx], e.working[idx+1:]...)
	delete(e.pending, id)
	renumber(e.working)
	e.mu.Unlock()

	e.emit(EventChanged)

	return nil
}

// Reorder moves the entry at from to position to, shifting the entries
// in between by one.
func (e *Engine) Reorder(from, to int) error {
	e.mu.Lock()

	if e.busy {
		e.mu.Unlock()
		return apperrors.ErrBusy
	}

	n := len(e.working)
	if from < 0 || from >= n || to < 0 || to >= n {
		e.mu.Unlock()
		return fmt.Errorf("moving %d to %d in %d entries: %w", from, to, n, apperrors.ErrIndexOutOfRange)
	}

	if from == to {
		e.mu.Unlock()
		return nil
	}

	e.working = moveEntry(e.working, from, to)
	renumber(e.working)
	e.mu.Unlock()

	e.emit(EventChanged)

	return nil
}

func moveEntry(entries []Entry, from, to int) []Entry {
	moved := entries[from]
	out := make([]Entry, 0, len(entries))
	out = append(out, entries[:from]...)
	out = append(out, entries[from+1:]...)
	out = append(out[:to], append([]Entry{moved}, out[to:]...)...)

	return out
}

func renumber(entries []Entry) {
	for i := range entries {
		entries[i].Order = i
	}
}
