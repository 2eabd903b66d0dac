package gallery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/amaradri/gallery-admin/internal/errors"
)

// SaveResult summarizes a completed save. Its slices are never nil.
type SaveResult struct {
	Deleted  int           `json:"deleted"`
	Uploaded []OrderRecord `json:"uploaded"`
	Order    []OrderRecord `json:"order"`

	applied bool
}

// Applied reports whether the save wrote anything. It is false when
// the working copy already matched the snapshot, including when another
// save got there first.
func (r *SaveResult) Applied() bool {
	return r.applied
}

func newSaveResult(order []OrderRecord) *SaveResult {
	if order == nil {
		order = []OrderRecord{}
	}

	return &SaveResult{Uploaded: []OrderRecord{}, Order: order}
}

// Save reconciles the remote side with the working copy:
//  1. delete blobs of entries removed since the snapshot
//  2. write the retained order if it changed
//  3. upload pending entries and append them to a fresh read of the
//     order list
//  4. write the combined order list
//  5. reload
//
// It is best effort and not transactional. Delete failures are logged
// and ignored. Any other failure stops the sequence and returns a
// *SaveError; the working copy is left as it was so the caller can
// retry, and blobs already uploaded stay in storage. Save is a no-op
// when CanSave is false. Once started it runs to completion regardless
// of ctx cancellation.
func (e *Engine) Save(ctx context.Context) error {
	_, err := e.SaveWithResult(ctx)
	return err
}

// SaveWithResult is Save returning a summary of the remote operations.
func (e *Engine) SaveWithResult(ctx context.Context) (*SaveResult, error) {
	e.mu.Lock()

	if e.busy {
		e.mu.Unlock()
		return nil, apperrors.ErrBusy
	}

	plan := Diff(e.snapshot, e.working)
	if plan.Empty() {
		e.mu.Unlock()
		return newSaveResult(plan.Retained), nil
	}

	files := make(map[string]File, len(plan.Pending))
	for _, p := range plan.Pending {
		files[p.ID] = e.pending[p.ID]
	}

	retainedLocations := make(map[string]string, len(e.working))
	for _, entry := range e.working {
		if !entry.Pending() {
			retainedLocations[entry.ID] = entry.Location
		}
	}

	e.busy = true
	e.status = StatusSaving
	e.progress = 0
	e.lastErr = ""
	e.mu.Unlock()

	e.emit(EventSaving)

	ctx = context.WithoutCancel(ctx)

	e.logger.Info("saving gallery",
		slog.Int("deletes", len(plan.Deletes)),
		slog.Int("retained", len(plan.Retained)),
		slog.Int("uploads", len(plan.Pending)),
		slog.Bool("reorder", plan.ReorderNeeded),
	)
	e.logger.Debug("save plan", slog.String("diff", plan.Describe()))

	result, err := e.execute(ctx, plan, files)
	if err != nil {
		e.mu.Lock()
		e.busy = false
		e.status = StatusReady
		e.progress = 0
		e.lastErr = err.Error()
		e.mu.Unlock()

		e.logger.Warn("gallery save failed", slog.String("error", err.Error()))
		e.emit(EventSaveFailed)

		return nil, err
	}

	entries, err := e.fetch(ctx)
	if err != nil {
		// The remote side is already consistent; fall back to the
		// written order list so the working copy does not keep pending
		// entries that would be uploaded a second time.
		e.logger.Warn("refresh after save failed, using saved order",
			slog.String("error", err.Error()),
		)

		entries = synthesize(result, retainedLocations)
	}

	e.mu.Lock()
	e.busy = false
	e.resetLocked(entries)
	e.mu.Unlock()

	e.logger.Info("gallery saved",
		slog.Int("deleted", result.Deleted),
		slog.Int("uploaded", len(result.Uploaded)),
		slog.Int("entries", len(result.Order)),
	)
	e.emit(EventSaved)

	return result, nil
}

// execute runs save steps 1-4 against the stores.
func (e *Engine) execute(ctx context.Context, plan Plan, files map[string]File) (*SaveResult, error) {
	result := newSaveResult(plan.Retained)
	result.applied = true

	for _, id := range plan.Deletes {
		if err := e.blobs.Delete(ctx, BlobKey(id)); err != nil {
			e.logger.Warn("delete warning",
				slog.String("key", BlobKey(id)),
				slog.String("error", err.Error()),
			)

			continue
		}

		result.Deleted++
	}

	if plan.ReorderNeeded {
		if err := writeOrder(ctx, e.state, plan.Retained); err != nil {
			return nil, &SaveError{Op: "write retained order", Err: err}
		}
	}

	if len(plan.Pending) == 0 {
		return result, nil
	}

	current, err := readOrder(ctx, e.state)
	if err != nil {
		return nil, &SaveError{Op: "read order", Err: err}
	}

	order := Densify(current)
	start := len(order)

	for i, p := range plan.Pending {
		f := files[p.ID]
		key := StorageKey(e.nextMillis(), f.Name)

		err := e.blobs.Upload(ctx, BlobKey(key), bytes.NewReader(f.Data), int64(len(f.Data)), f.ContentType)
		if err != nil {
			return nil, &SaveError{Op: "upload", Err: fmt.Errorf("uploading %s: %w", f.Name, err)}
		}

		rec := OrderRecord{ID: key, Order: start + i}
		order = append(order, rec)
		result.Uploaded = append(result.Uploaded, rec)

		e.setProgress(float64(i+1) / float64(len(plan.Pending)))
	}

	if err := writeOrder(ctx, e.state, order); err != nil {
		return nil, &SaveError{Op: "write order", Err: err}
	}

	result.Order = order

	return result, nil
}

func (e *Engine) setProgress(p float64) {
	e.mu.Lock()
	e.progress = p
	e.mu.Unlock()

	e.emit(EventProgress)
}

// nextMillis returns a strictly increasing millisecond timestamp so two
// uploads of the same file name within one millisecond get distinct
// keys.
func (e *Engine) nextMillis() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ms := e.opts.Now().UnixMilli()
	if ms <= e.lastMillis {
		ms = e.lastMillis + 1
	}

	e.lastMillis = ms

	return ms
}

// synthesize rebuilds the gallery from a save result when the follow-up
// load fails. Uploaded entries have no resolved location until the next
// successful load.
func synthesize(result *SaveResult, locations map[string]string) []Entry {
	entries := make([]Entry, len(result.Order))
	for i, rec := range result.Order {
		entries[i] = Entry{ID: rec.ID, Location: locations[rec.ID], Name: rec.ID, Order: i}
	}

	return entries
}
