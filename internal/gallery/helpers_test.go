package gallery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
	"github.com/amaradri/gallery-admin/internal/logging"
	"github.com/stretchr/testify/require"
)

var quietLogger = logging.Discard()

// memState is an in-memory StateStore that records every write.
type memState struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	writes []json.RawMessage
	getErr error
	setErr func(n int) error

	// afterSet runs with the lock held once write n has been stored.
	afterSet func(n int)
}

func newMemState() *memState {
	return &memState{values: make(map[string]json.RawMessage)}
}

func (m *memState) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	return m.values[path], nil
}

func (m *memState) Set(_ context.Context, path string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setErr != nil {
		if err := m.setErr(len(m.writes)); err != nil {
			return err
		}
	}

	m.values[path] = append(json.RawMessage(nil), value...)
	m.writes = append(m.writes, m.values[path])

	if m.afterSet != nil {
		m.afterSet(len(m.writes) - 1)
	}

	return nil
}

func (m *memState) order(t *testing.T) []OrderRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []OrderRecord
	require.NoError(t, json.Unmarshal(m.values[OrderPath], &out))

	return out
}

func (m *memState) seed(t *testing.T, records ...OrderRecord) {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)

	m.mu.Lock()
	m.values[OrderPath] = data
	m.mu.Unlock()
}

// memBlobs is an in-memory BlobStore recording operations in order.
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	ops       []string
	uploadErr func(key string) error
	deleteErr error
	urlErr    error
}

func newMemBlobs(keys ...string) *memBlobs {
	b := &memBlobs{objects: make(map[string][]byte)}
	for _, k := range keys {
		b.objects[BlobKey(k)] = []byte("img:" + k)
	}

	return b
}

func (b *memBlobs) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uploadErr != nil {
		if err := b.uploadErr(key); err != nil {
			return err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	b.objects[key] = data
	b.ops = append(b.ops, "upload "+key)

	return nil
}

func (b *memBlobs) URL(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.urlErr != nil {
		return "", b.urlErr
	}

	if _, ok := b.objects[key]; !ok {
		return "", fmt.Errorf("%s: %w", key, apperrors.ErrBlobNotFound)
	}

	return "https://cdn.test/" + key, nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ops = append(b.ops, "delete "+key)

	if b.deleteErr != nil {
		return b.deleteErr
	}

	delete(b.objects, key)

	return nil
}

func (b *memBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.objects[key]

	return ok
}

func (b *memBlobs) uploads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string

	for _, op := range b.ops {
		if k, ok := strings.CutPrefix(op, "upload "); ok {
			out = append(out, k)
		}
	}

	return out
}

// fixedClock returns a clock frozen at the given unix millisecond.
// ctxBlobs fails URL lookups once the caller's context is done.
type ctxBlobs struct {
	*memBlobs
}

func (b ctxBlobs) URL(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return b.memBlobs.URL(ctx, key)
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// loadedEngine seeds the stores with ids in order and returns a loaded
// engine over them.
func loadedEngine(t *testing.T, ids ...string) (*Engine, *memState, *memBlobs) {
	t.Helper()

	state := newMemState()
	blobs := newMemBlobs(ids...)

	records := make([]OrderRecord, len(ids))
	for i, id := range ids {
		records[i] = OrderRecord{ID: id, Order: i}
	}

	state.seed(t, records...)

	e := New(state, blobs, quietLogger, Options{Now: fixedClock(1700000000000)})
	require.NoError(t, e.Load(context.Background()))

	return e, state, blobs
}

func workingIDs(e *Engine) []string {
	v := e.State()
	ids := make([]string, len(v.Working))
	for i, entry := range v.Working {
		ids[i] = entry.ID
	}

	return ids
}

func png(name string) File {
	return File{Name: name, ContentType: "image/png", Data: []byte("\x89PNG" + name)}
}

func persisted(id string) Entry {
	return Entry{ID: id, Location: "https://cdn.test/" + BlobKey(id), Name: id}
}

func pendingEntry(id, name string) Entry {
	return Entry{ID: id, Location: pendingScheme + id, Name: name}
}
