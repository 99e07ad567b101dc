package domain

import "errors"

var (
	// ErrValidation marks bad input rejected before any record exists.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for unknown invoice ids.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks an unreachable or failing invoice store.
	ErrStorage = errors.New("storage error")
	// ErrQueueUnavailable marks a broker that cannot accept publishes right
	// now. Producer-side callers must treat it as recoverable.
	ErrQueueUnavailable = errors.New("queue unavailable")
)
