package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/amaradri/gallery-admin/internal/gallery"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.gallery-admin/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket    = []byte("app")
	valuesBucket = []byte("values")
	lastSaveKey  = []byte("last_save")
)

// SaveSummary records the outcome of the most recent gallery save on
// this host.
type SaveSummary struct {
	At        time.Time `json:"at"`
	User      string    `json:"user,omitempty"`
	Deleted   int       `json:"deleted"`
	Uploaded  int       `json:"uploaded"`
	Entries   int       `json:"entries"`
	OrderHash string    `json:"order_hash"`
}

// OrderHash returns the SHA-256 hex digest of a stored order list. Two
// saves that wrote the same list produce the same hash.
func OrderHash(order []byte) string {
	h := sha256.Sum256(order)
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])

	return string(dst)
}

// Summarize builds the summary recorded for a completed save.
func Summarize(res *gallery.SaveResult, user string, at time.Time) SaveSummary {
	order, err := json.Marshal(res.Order)
	if err != nil {
		order = nil
	}

	return SaveSummary{
		At:        at.UTC(),
		User:      user,
		Deleted:   res.Deleted,
		Uploaded:  len(res.Uploaded),
		Entries:   len(res.Order),
		OrderHash: OrderHash(order),
	}
}

// State wraps a bbolt database. The values bucket holds whole JSON
// documents keyed by path and backs the gallery state store on single
// host deployments. The app bucket holds host-local metadata.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.gallery-admin/state.db, creating
// it if it does not exist.
func Load() (*State, error) {
	return LoadAt(DefaultPath())
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(valuesBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Get returns the JSON value stored at path, or nil if the path has
// never been written.
func (s *State) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out json.RawMessage

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(valuesBucket).Get([]byte(path))
		if v == nil {
			return nil
		}

		// bbolt memory is only valid inside the transaction.
		out = append(json.RawMessage(nil), v...)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return out, nil
}

// Set replaces the value at path. The value must be valid JSON.
func (s *State) Set(ctx context.Context, path string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !json.Valid(value) {
		return fmt.Errorf("writing %s: value is not valid JSON", path)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(path), value)
	})
}

// Delete removes the value at path. Deleting a missing path is a no-op.
func (s *State) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Delete([]byte(path))
	})
}

// LastSave returns the summary of the most recent recorded save, or nil
// if none has been recorded.
func (s *State) LastSave() (*SaveSummary, error) {
	var sum *SaveSummary

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastSaveKey)
		if v == nil {
			return nil
		}

		sum = &SaveSummary{}

		return json.Unmarshal(v, sum)
	})

	return sum, err
}

// RecordSave persists the summary of a completed save.
func (s *State) RecordSave(sum SaveSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sum)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(lastSaveKey, data)
	})
}

// DefaultPath returns ~/.gallery-admin/state.db.
func DefaultPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".gallery-admin", "state.db")
}
