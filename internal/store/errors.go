package store

import "errors"

// Error kinds shared by both surfaces. Handlers wrap these with context via
// fmt.Errorf("…: %w", …); the dispatcher and the HTTP layer map them to the
// client-facing envelope and status code.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrTimeout      = errors.New("timeout")
	ErrExternal     = errors.New("external service failure")
	ErrInternal     = errors.New("internal error")
)

// errSkipRecord marks a file whose envelope parsed but whose required fields
// are missing. Bulk listings log and skip these; they are never deleted.
var errSkipRecord = errors.New("record missing required fields")
