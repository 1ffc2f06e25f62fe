// Package apperr defines the error taxonomy shared by the store, reconciler and API.
package apperr

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrStoreUnavailable  = errors.New("record store unavailable")
	ErrFileSystem        = errors.New("file system error")
	// ErrCorrupt marks a stored value that no longer decodes into a valid record.
	ErrCorrupt = errors.New("corrupt stored record")
)
