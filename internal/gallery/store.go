package gallery

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=gallery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/tidwall/gjson"
)

// StateStore is the realtime key-value store holding whole JSON values
// at a path. Get returns a nil value and no error for a path that has
// never been written. Set replaces the value in a single round trip.
type StateStore interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, value json.RawMessage) error
}

// BlobStore is the object storage holding image content by key. URL
// fails with errors.ErrBlobNotFound for a missing key. Delete of a
// missing key is not an error.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// BlobKey returns the blob store key for a persisted entry id.
func BlobKey(id string) string {
	return BlobPrefix + id
}

// DecodeOrder parses a stored order list. Anything that is not a JSON
// array decodes to an empty list, and elements without a string id are
// skipped (sparse arrays come back with nulls in them). The result is
// sorted by stored order with ties kept in array position.
func DecodeOrder(raw []byte) []OrderRecord {
	if len(raw) == 0 {
		return nil
	}

	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return nil
	}

	var out []OrderRecord

	res.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id")
		if id.Type != gjson.String || id.Str == "" {
			return true
		}

		out = append(out, OrderRecord{ID: id.Str, Order: int(v.Get("order").Int())})

		return true
	})

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})

	return out
}

// Densify renumbers records 0..n-1 in their current sequence.
func Densify(records []OrderRecord) []OrderRecord {
	out := make([]OrderRecord, len(records))
	for i, r := range records {
		out[i] = OrderRecord{ID: r.ID, Order: i}
	}

	return out
}

func readOrder(ctx context.Context, store StateStore) ([]OrderRecord, error) {
	raw, err := store.Get(ctx, OrderPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", OrderPath, err)
	}

	return DecodeOrder(raw), nil
}

func writeOrder(ctx context.Context, store StateStore, records []OrderRecord) error {
	if records == nil {
		records = []OrderRecord{}
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshalling order list: %w", err)
	}

	if err := store.Set(ctx, OrderPath, data); err != nil {
		return fmt.Errorf("writing %s: %w", OrderPath, err)
	}

	return nil
}
