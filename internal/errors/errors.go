package errors

import "errors"

// Gallery engine errors.
var (
	ErrBusy            = errors.New("gallery is busy with another load or save")
	ErrEntryNotFound   = errors.New("gallery entry not found")
	ErrIndexOutOfRange = errors.New("gallery index out of range")
)

// Storage errors.
var (
	ErrBlobNotFound = errors.New("blob not found")
)

// Client gallery errors.
var (
	ErrGalleryExists   = errors.New("gallery with this name already exists")
	ErrGalleryNotFound = errors.New("client gallery not found")
	ErrMissingFields   = errors.New("please fill in all fields")
	ErrInvalidName     = errors.New("gallery name must contain a letter or digit")
	ErrInvalidLink     = errors.New("drive link must be an http or https URL")
	ErrInvalidStatus   = errors.New("status must be live or hidden")
)

// Access errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
)
