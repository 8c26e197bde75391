package sqlite

import "errors"

var (
	// ErrInvalidArgument is returned before any I/O for an empty key or query,
	// a negative TTL or an out-of-range similarity threshold.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoModel is returned by semantic operations on a cache built without
	// a similarity model.
	ErrNoModel = errors.New("semantic cache requires a similarity model")

	// errMalformed marks a store that failed its integrity check.
	errMalformed = errors.New("malformed cache store")
)
