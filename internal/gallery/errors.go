package gallery

import "fmt"

// LoadError is returned by Load when the state store or blob store
// cannot be read, or a referenced blob cannot be resolved.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load gallery: %s: %v", e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError is returned by Save when an order write or an upload fails.
// Steps that completed before the failure are not undone.
type SaveError struct {
	Op  string
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save gallery: %s: %v", e.Op, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }
