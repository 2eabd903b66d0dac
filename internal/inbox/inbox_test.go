package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"github.com/amaradri/gallery-admin/internal/gallery"
	"github.com/amaradri/gallery-admin/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink accepts files whose name ends in an image extension and
// publishes whatever the test sends on events.
type fakeSink struct {
	mu      sync.Mutex
	batches [][]string
	busy    int
	err     error
	events  chan gallery.Event
}

func (s *fakeSink) Subscribe(int) (<-chan gallery.Event, func()) {
	return s.events, func() {}
}

func (s *fakeSink) AddFiles(files []gallery.File) ([]gallery.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy > 0 {
		s.busy--
		return nil, apperrors.ErrBusy
	}

	if s.err != nil {
		return nil, s.err
	}

	var (
		names []string
		added []gallery.Entry
	)

	for _, f := range files {
		names = append(names, f.Name)

		switch filepath.Ext(f.Name) {
		case ".jpg", ".png":
			added = append(added, gallery.Entry{ID: "blob-" + f.Name, Name: f.Name})
		}
	}

	s.batches = append(s.batches, names)

	return added, nil
}

func (s *fakeSink) accepted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, b := range s.batches {
		out = append(out, b...)
	}

	sort.Strings(out)

	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func newTestWatcher(dir string, sink Sink) *Watcher {
	return NewWatcher(dir, sink, logging.Discard())
}

// viewEvent builds an event whose working copy holds ids.
func viewEvent(kind gallery.EventKind, ids ...string) gallery.Event {
	working := make([]gallery.Entry, len(ids))
	for i, id := range ids {
		working[i] = gallery.Entry{ID: id, Order: i}
	}

	return gallery.Event{Kind: kind, View: gallery.View{Working: working}}
}

func TestFlush_RemovesAcceptedFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.jpg", "jpeg")
	notes := writeFile(t, dir, "notes.txt", "hello")

	w.queued[a] = struct{}{}
	w.queued[notes] = struct{}{}
	w.flush()

	require.Len(t, sink.batches, 1)
	assert.Equal(t, []string{"a.jpg", "notes.txt"}, sink.batches[0])

	assert.FileExists(t, a, "accepted file kept until saved")
	require.Contains(t, w.handed, a)
	assert.Equal(t, "blob-a.jpg", w.handed[a].id)

	assert.FileExists(t, notes, "rejected file kept")
	assert.Contains(t, w.ignored, notes)
	assert.NotContains(t, w.handed, notes)
	assert.Empty(t, w.queued)

	// Neither a rejected nor a handed file is offered again.
	w.queued[notes] = struct{}{}
	w.queued[a] = struct{}{}
	w.flush()
	assert.Len(t, sink.batches, 1)
	assert.Empty(t, w.queued)
}

func TestFlush_NamesDifferingOnlyInNormalization(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	composed := writeFile(t, dir, "caf\u00e9.jpg", "one")
	decomposed := writeFile(t, dir, "cafe\u0301.jpg", "two")

	w.queued[composed] = struct{}{}
	w.queued[decomposed] = struct{}{}
	w.flush()

	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)

	require.Contains(t, w.handed, composed)
	require.Contains(t, w.handed, decomposed)
	assert.NotEqual(t, w.handed[composed].id, w.handed[decomposed].id)
	assert.Empty(t, w.queued)

	// Both are settled; nothing is offered on the next tick.
	w.flush()
	assert.Len(t, sink.batches, 1)
}

func TestSettle_SaveRemovesUploadedFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.jpg", "jpeg")
	w.queued[a] = struct{}{}
	w.flush()

	w.settle(viewEvent(gallery.EventChanged, "x.jpg", "blob-a.jpg"))
	assert.FileExists(t, a)

	w.settle(viewEvent(gallery.EventSaving, "x.jpg", "blob-a.jpg"))
	w.settle(viewEvent(gallery.EventSaved, "x.jpg", "1700000000000_a.jpg"))

	assert.NoFileExists(t, a)
	assert.Empty(t, w.handed)
}

func TestSettle_IgnoresEventsFromBeforeHandover(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.jpg", "jpeg")
	w.queued[a] = struct{}{}
	w.flush()

	// A save that finished before the file was added does not carry
	// its entry and must not settle it.
	w.settle(viewEvent(gallery.EventSaved, "x.jpg"))

	assert.FileExists(t, a)
	assert.Contains(t, w.handed, a)
}

func TestSettle_ReloadOffersFileAgain(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.png", "png")
	w.queued[a] = struct{}{}
	w.flush()

	w.settle(viewEvent(gallery.EventChanged, "blob-a.png"))
	w.settle(viewEvent(gallery.EventLoaded))

	assert.FileExists(t, a)
	assert.Empty(t, w.handed)
	assert.Contains(t, w.queued, a)

	w.flush()
	require.Len(t, sink.batches, 2)
	assert.Equal(t, []string{"a.png"}, sink.batches[1])
	assert.Contains(t, w.handed, a)
}

func TestSettle_RemovedEntryIsDiscardedOnSave(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.png", "png")
	w.queued[a] = struct{}{}
	w.flush()

	w.settle(viewEvent(gallery.EventChanged, "blob-a.png"))
	w.settle(viewEvent(gallery.EventChanged))
	assert.FileExists(t, a, "removal alone settles nothing")

	w.settle(viewEvent(gallery.EventSaved))
	assert.NoFileExists(t, a)
}

func TestFlush_BusyKeepsQueue(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{busy: 1}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.png", "png")
	w.queued[a] = struct{}{}

	w.flush()
	assert.Contains(t, w.queued, a)
	assert.FileExists(t, a)

	w.flush()
	assert.Empty(t, w.queued)
	assert.Contains(t, w.handed, a)
}

func TestFlush_SinkErrorLeavesFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{err: errors.New("boom")}
	w := newTestWatcher(dir, sink)

	a := writeFile(t, dir, "a.png", "png")
	w.queued[a] = struct{}{}
	w.flush()

	assert.FileExists(t, a)
	assert.Empty(t, w.queued)
}

func TestFlush_SkipsVanishedAndDirectories(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	w := newTestWatcher(dir, sink)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w.queued[filepath.Join(dir, "gone.jpg")] = struct{}{}
	w.queued[sub] = struct{}{}
	w.flush()

	assert.Empty(t, sink.batches)
	assert.Empty(t, w.queued)
}

func TestShouldIgnore(t *testing.T) {
	for _, p := range []string{"/in/.DS_Store", "/in/a.jpg~", "/in/a.jpg.part", "/in/x.crdownload", "/in/.a.swp"} {
		assert.True(t, shouldIgnore(p), p)
	}

	assert.False(t, shouldIgnore("/in/wedding.jpg"))
}

func TestWatch_PicksUpExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "existing.jpg", "jpeg")
	writeFile(t, dir, ".hidden.jpg", "jpeg")

	sink := &fakeSink{events: make(chan gallery.Event, 8)}
	w := newTestWatcher(dir, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Watch(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.accepted()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	writeFile(t, dir, "new.png", "png")

	require.Eventually(t, func() bool {
		return len(sink.accepted()) == 2
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, []string{"existing.jpg", "new.png"}, sink.accepted())

	sink.events <- viewEvent(gallery.EventChanged, "blob-existing.jpg", "blob-new.png")
	sink.events <- viewEvent(gallery.EventSaved, "1_existing.jpg", "2_new.png")

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "new.png"))
		return os.IsNotExist(err)
	}, 5*time.Second, 50*time.Millisecond)

	assert.FileExists(t, filepath.Join(dir, ".hidden.jpg"))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
