package broker

import "errors"

// Broker-facing error taxonomy (spec §7). Transient errors drive the
// agent's retry queue; permanent and protocol errors are surfaced verbatim.
var (
	// ErrWounded is reported when any touched shard returned wounded for
	// this ticket at any point in its lifecycle.
	ErrWounded = errors.New("wounded")
	// ErrRetry is reported when a transient shard/transport failure
	// warrants a fresh attempt with a new ticket.
	ErrRetry = errors.New("retry")
	// ErrInternal wraps an I/O or protocol failure the broker could not
	// recover from (spec §7 "internal_error").
	ErrInternal = errors.New("internal_error")
)
