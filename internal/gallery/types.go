// Package gallery keeps the live gallery's working copy in step with the
// remote order list and blob store. The Engine owns a baseline snapshot
// fetched on load and a user-editable working copy; Save diffs the two and
// applies the smallest set of deletes, uploads and order writes that makes
// the remote side match.
package gallery

import (
	"strings"
)

const (
	// OrderPath is the state store path holding the ordered
	// [{id, order}] list for the live gallery.
	OrderPath = "livegallery"

	// BlobPrefix is prepended to an entry id to form its blob store key.
	BlobPrefix = "livegallery/"

	// pendingIDPrefix marks temporary ids handed out to entries that
	// have not been uploaded yet. Persisted ids never carry it.
	pendingIDPrefix = "blob-"

	// pendingScheme is the location scheme of a local preview. Any entry
	// whose location uses it is pending upload.
	pendingScheme = "blob:"
)

// Entry is one image in the gallery. For persisted images ID is the
// storage key and Location the URL resolved by the blob store. For
// pending images ID is a temporary "blob-" id and Location a "blob:"
// preview reference.
type Entry struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Name     string `json:"name"`
	Order    int    `json:"order"`
}

// Pending reports whether the entry still needs to be uploaded.
func (e Entry) Pending() bool {
	return strings.HasPrefix(e.Location, pendingScheme)
}

// OrderRecord is one element of the remote order list.
type OrderRecord struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// File is a named binary handed to AddFiles. ContentType may be empty,
// in which case it is inferred from the name and then the content.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Snapshot is the last-known-synced gallery. It only ever holds
// persisted entries and is replaced wholesale, never edited.
type Snapshot struct {
	entries []Entry
}

// NewSnapshot builds a snapshot from persisted entries, renumbering
// their order densely by position.
func NewSnapshot(entries []Entry) Snapshot {
	out := make([]Entry, len(entries))
	copy(out, entries)

	for i := range out {
		out[i].Order = i
	}

	return Snapshot{entries: out}
}

// Entries returns a copy of the snapshot's entries in order.
func (s Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)

	return out
}

// IDs returns the snapshot's ids in order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s.entries))
	for i, e := range s.entries {
		ids[i] = e.ID
	}

	return ids
}

// Len returns the number of entries.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Status is the engine's coarse lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusLoadFailed Status = "load_failed"
	StatusSaving     Status = "saving"
)

// View is an immutable copy of the engine state handed to the UI layer.
type View struct {
	Status   Status  `json:"status"`
	Snapshot []Entry `json:"snapshot"`
	Working  []Entry `json:"working"`
	CanSave  bool    `json:"can_save"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}
