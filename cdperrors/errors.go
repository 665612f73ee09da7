// Package cdperrors defines the sentinel errors the core uses to let
// callers at the HTTP boundary map failures onto the status codes in
// the error handling design without the core knowing anything about
// HTTP.
package cdperrors

import "errors"

var (
	// ErrNotFound is returned when a requested digest or record does not exist.
	ErrNotFound = errors.New("cdpfgl: not found")

	// ErrMalformed is returned for unparseable or structurally invalid input.
	ErrMalformed = errors.New("cdpfgl: malformed input")

	// ErrIO wraps a failure talking to the underlying filesystem or database.
	ErrIO = errors.New("cdpfgl: io failure")

	// ErrBadFanout is returned when a fan-out level outside [2,5] is configured.
	ErrBadFanout = errors.New("cdpfgl: fan-out level must be between 2 and 5")

	// ErrUnsupportedBackend is returned when a requested backend kind is not compiled in.
	ErrUnsupportedBackend = errors.New("cdpfgl: unsupported backend")
)
