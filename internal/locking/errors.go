package locking

import "errors"

// Failure taxonomy for the runtime locking shard (spec §4.1). These are
// compared with errors.Is at call sites; the broker (internal/broker) maps
// a subset of them into its own transient/permanent/protocol taxonomy
// (spec §7).
var (
	// ErrWounded is returned when the ticket named in the request has
	// already been wounded by an older, conflicting requester.
	ErrWounded = errors.New("wounded")
	// ErrPrepared is returned when an operation that only makes sense
	// pre-prepare targets an already-PREPARED ticket.
	ErrPrepared = errors.New("prepared")
	// ErrNotPrepared is returned by commit when the ticket has not yet
	// been prepared.
	ErrNotPrepared = errors.New("not_prepared")
	// ErrLockQueued is returned when a first_lock=true request is
	// enqueued behind a conflicting holder, and to any later request for a
	// key on which the caller already has one enqueued; the eventual grant
	// or wound arrives via the first request's completion callback.
	ErrLockQueued = errors.New("lock_queued")
	// ErrLockHeld is returned to a non-waiting (first_lock=false) probe
	// that finds the key currently held incompatibly by another ticket;
	// unlike ErrLockQueued, no completion callback is registered.
	ErrLockHeld = errors.New("lock_held")
	// ErrLockNotHeld is returned by prepare when the ticket has not
	// acquired a write lock on a key present in its update set.
	ErrLockNotHeld = errors.New("lock_not_held")
	// ErrStateUpdateWithReadLock is returned by prepare when an update
	// key is only held under a read lock.
	ErrStateUpdateWithReadLock = errors.New("state_update_with_read_lock")
	// ErrUnknownTicket is returned by rollback (and any operation
	// requiring ticket state) when the ticket is not registered.
	ErrUnknownTicket = errors.New("unknown_ticket")
)
