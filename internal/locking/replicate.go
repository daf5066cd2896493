package locking

// Apply decodes and executes a single replicated-log entry against the
// shard, returning the identically-shaped response the RPC path would have
// produced (spec §6 "Replication log"). The external consensus layer that
// delivers entries in order is out of scope (spec §1); this is the shard's
// entry point into that opaque replicated log, grounded on the original's
// state_machine::process_request (original_source/src/3pc/
// runtime_locking_shard/state_machine.cpp), which dispatches the same
// request/response enum used by direct RPC. Applying a request is
// deterministic and idempotent by (ticket, op): a second delivery of an
// already-applied Commit/Rollback/Prepare for the same ticket returns the
// same error it would on any other repeat call (ErrUnknownTicket,
// ErrPrepared, etc.), never silently reapplying state.
func (s *Shard) Apply(req Request) Response {
	switch req.Tag {
	case TagTryLock:
		// Replicated application never queues: the replicated stream
		// already reflects the order in which the scheduler resolved
		// conflicts, so a replicated try_lock either grants immediately
		// or is a no-op replay of a decision already reflected in shard
		// state. We surface whatever TryLock would return directly.
		res := s.TryLock(req.Ticket, req.BrokerID, req.Key, req.Mode, false, nil)
		return Response{Value: res.Value, Err: res.Err}
	case TagPrepare:
		err := s.Prepare(req.Ticket, req.BrokerID, req.Updates)
		return Response{Err: err}
	case TagCommit:
		err := s.Commit(req.Ticket)
		return Response{Err: err}
	case TagRollback:
		err := s.Rollback(req.Ticket)
		return Response{Err: err}
	case TagGetTickets:
		return Response{Tickets: s.GetTickets()}
	default:
		return Response{Err: ErrUnknownTicket}
	}
}
