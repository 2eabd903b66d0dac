package gallery

import (
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Plan is the set of remote operations needed to bring the remote side
// in line with a working copy. It is computed by Diff with no I/O; Save
// executes it.
type Plan struct {
	// Deletes holds snapshot ids no longer present in the working copy.
	Deletes []string `json:"deletes"`

	// Retained is the persisted part of the working copy, in working
	// order, numbered densely from zero.
	Retained []OrderRecord `json:"retained"`

	// Pending holds the entries to upload, in working order.
	Pending []Entry `json:"pending"`

	// ReorderNeeded is set when the retained sequence differs from the
	// snapshot by membership or order, or the counts differ.
	ReorderNeeded bool `json:"reorder_needed"`

	baseline []string
	working  []string
}

// Diff compares a working copy against its snapshot. Membership is
// decided by id set difference; there is no change log.
func Diff(snap Snapshot, working []Entry) Plan {
	baseline := snap.IDs()

	present := make(map[string]struct{}, len(working))
	labels := make([]string, 0, len(working))

	retained := make([]OrderRecord, 0, len(working))
	pending := make([]Entry, 0)

	for _, e := range working {
		present[e.ID] = struct{}{}

		if e.Pending() {
			pending = append(pending, e)
			labels = append(labels, "new: "+e.Name)

			continue
		}

		retained = append(retained, OrderRecord{ID: e.ID, Order: len(retained)})
		labels = append(labels, e.ID)
	}

	deletes := make([]string, 0)

	for _, id := range baseline {
		if _, ok := present[id]; !ok {
			deletes = append(deletes, id)
		}
	}

	return Plan{
		Deletes:       deletes,
		Retained:      retained,
		Pending:       pending,
		ReorderNeeded: !sameSequence(retained, baseline) || len(working) != len(baseline),
		baseline:      baseline,
		working:       labels,
	}
}

// Empty reports whether the plan has nothing to do. It is the negation
// of the save predicate: no pending uploads and an unchanged sequence.
func (p Plan) Empty() bool {
	return len(p.Pending) == 0 && !p.ReorderNeeded
}

// Describe renders the plan as a line diff of the snapshot ids against
// the working copy, one entry per line. Unchanged lines start with two
// spaces, removed ones with "- " and added or moved ones with "+ ".
func (p Plan) Describe() string {
	if len(p.baseline) == 0 && len(p.working) == 0 {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(joinLines(p.baseline), joinLines(p.working))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder

	for _, d := range diffs {
		prefix := "  "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffEqual:
		}

		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}

func sameSequence(records []OrderRecord, ids []string) bool {
	if len(records) != len(ids) {
		return false
	}

	for i, r := range records {
		if r.ID != ids[i] {
			return false
		}
	}

	return true
}

// persistedIDs returns the ids of the non-pending entries in order.
func persistedIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Pending() {
			ids = append(ids, e.ID)
		}
	}

	return ids
}

// canSave is the save predicate: any pending entry, a changed persisted
// sequence, or a count mismatch.
func canSave(snap Snapshot, working []Entry) bool {
	for _, e := range working {
		if e.Pending() {
			return true
		}
	}

	return !slices.Equal(persistedIDs(working), snap.IDs()) || len(working) != snap.Len()
}
