// Package locking implements the runtime locking shard (spec §4.1): a
// wound-wait lock scheduler and prepared-state log owning one partition of
// keys. It is grounded on the wound-wait discipline described in
// other_examples' mvcc-tx.go and tikv prewrite.go (timestamp-ordered
// conflict resolution) and torua's shard/doc.go (a single mutex-protected
// per-shard map serving concurrent callers), adapted to the spec's
// explicit ticket/lock/queue state machine.
package locking

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
)

// queuedRequest is one FIFO entry waiting on a key's lock.
type queuedRequest struct {
	ticket   ticket.Number
	brokerID string
	mode     LockMode
	onGrant  GrantedCallback
}

// lockState is the per-key lock bookkeeping (spec §3 "locks" map).
type lockState struct {
	mode    LockMode // meaningful only when len(holders) > 0
	holders map[ticket.Number]struct{}
	queue   []*queuedRequest
}

// ticketRecord is the per-ticket bookkeeping (spec §3 "tickets" map).
type ticketRecord struct {
	state          TicketState
	brokerID       string
	wounded        bool
	heldKeys       map[string]LockMode // granted locks, by raw key bytes under string(key)
	queuedKeys     map[string]struct{} // keys where this ticket has an outstanding queued request
	pendingUpdates map[string][]byte
	updateOrder    []string // preserves insertion order of pendingUpdates for deterministic commit
}

// Shard owns one partition of keys: committed data, the lock table, and
// in-flight ticket state (spec §3 "Shard state (per shard)"). All mutating
// operations take a single mutex briefly and deliver async callbacks after
// releasing it (spec §5 "Shared-resource policy").
type Shard struct {
	mu      sync.Mutex
	data    map[string][]byte
	locks   map[string]*lockState
	tickets map[ticket.Number]*ticketRecord
	log     *log.Entry
}

// New returns an empty Shard.
func New(id string) *Shard {
	return &Shard{
		data:    make(map[string][]byte),
		locks:   make(map[string]*lockState),
		tickets: make(map[ticket.Number]*ticketRecord),
		log:     log.WithField("shard", id),
	}
}

// pendingNotify is a (callback, result) pair collected during a locked
// critical section and fired after the mutex is released.
type pendingNotify struct {
	cb     GrantedCallback
	result TryLockResult
}

// TryLock implements spec §4.1 try_lock. onGrant is stored and invoked
// later only when the request is queued with firstLock=true; it may be nil
// otherwise.
func (s *Shard) TryLock(t ticket.Number, brokerID string, key []byte, mode LockMode, firstLock bool, onGrant GrantedCallback) TryLockResult {
	s.mu.Lock()
	var notifications []pendingNotify
	result := s.tryLockLocked(t, brokerID, key, mode, firstLock, onGrant, &notifications)
	s.mu.Unlock()

	s.fire(notifications)
	return result
}

func (s *Shard) tryLockLocked(t ticket.Number, brokerID string, key []byte, mode LockMode, firstLock bool, onGrant GrantedCallback, notifications *[]pendingNotify) TryLockResult {
	rec := s.ticketOrNew(t, brokerID)
	if rec.state == Prepared {
		return TryLockResult{Err: ErrPrepared}
	}
	if rec.wounded {
		return TryLockResult{Err: ErrWounded}
	}

	ks := string(key)
	if _, already := rec.queuedKeys[ks]; already {
		// A first_lock=true request for this key is already outstanding;
		// this is a status probe, not a new request.
		return TryLockResult{Err: ErrLockQueued}
	}

	ls, ok := s.locks[ks]
	if !ok {
		ls = &lockState{holders: make(map[ticket.Number]struct{})}
		s.locks[ks] = ls
	}

	if granted, value := s.tryGrantLocked(ks, ls, t, mode, notifications); granted {
		rec.heldKeys[ks] = mode
		s.log.WithFields(log.Fields{"ticket": t, "key": fmt.Sprintf("%x", key), "mode": mode}).Debug("lock granted")
		return TryLockResult{Value: value}
	}

	if !firstLock {
		return TryLockResult{Err: ErrLockHeld}
	}

	ls.queue = append(ls.queue, &queuedRequest{ticket: t, brokerID: brokerID, mode: mode, onGrant: onGrant})
	rec.queuedKeys[ks] = struct{}{}
	s.log.WithFields(log.Fields{"ticket": t, "key": fmt.Sprintf("%x", key), "mode": mode}).Debug("lock queued")
	return TryLockResult{Err: ErrLockQueued}
}

// tryGrantLocked attempts to grant (t, mode) on ls immediately, wounding
// younger incompatible holders per spec invariant 4. It never enqueues; the
// caller enqueues on a false return. Must be called with s.mu held.
func (s *Shard) tryGrantLocked(ks string, ls *lockState, t ticket.Number, mode LockMode, notifications *[]pendingNotify) (bool, []byte) {
	if len(ls.queue) > 0 {
		// FIFO: a fresh request never jumps an already-queued waiter
		// (invariant 5), even if it could otherwise wound its way in.
		return false, nil
	}

	if len(ls.holders) == 0 {
		ls.mode = mode
		ls.holders[t] = struct{}{}
		return true, s.data[ks]
	}

	if ls.mode == Read && mode == Read {
		ls.holders[t] = struct{}{}
		return true, s.data[ks]
	}

	// Conflict: either a write is requested, or a write is held. Every
	// holder other than t itself must be strictly younger than t, and
	// none may be PREPARED (prepared holders are immune, spec §4.1).
	allWoundable := true
	for h := range ls.holders {
		if h == t {
			continue
		}
		hRec := s.tickets[h]
		if hRec == nil || hRec.state == Prepared || h <= t {
			allWoundable = false
			break
		}
	}
	if !allWoundable {
		return false, nil
	}

	for h := range ls.holders {
		if h == t {
			continue
		}
		s.woundLocked(h, notifications)
	}
	ls.holders = map[ticket.Number]struct{}{t: {}}
	ls.mode = mode
	return true, s.data[ks]
}

func (s *Shard) ticketOrNew(t ticket.Number, brokerID string) *ticketRecord {
	rec, ok := s.tickets[t]
	if !ok {
		rec = &ticketRecord{
			state:          Begun,
			brokerID:       brokerID,
			heldKeys:       make(map[string]LockMode),
			queuedKeys:     make(map[string]struct{}),
			pendingUpdates: make(map[string][]byte),
		}
		s.tickets[t] = rec
	}
	return rec
}

// woundLocked marks ticket h wounded, releases all its held locks (draining
// the affected keys' queues), discards its pending updates, and fails any
// of its outstanding queued requests. Must be called with s.mu held.
// notifications may be nil when called from a path that doesn't need to
// deliver callbacks (there are none currently, but kept for symmetry with
// release paths).
func (s *Shard) woundLocked(h ticket.Number, notifications *[]pendingNotify) {
	rec := s.tickets[h]
	if rec == nil || rec.wounded {
		return
	}
	rec.wounded = true

	for ks := range rec.heldKeys {
		s.releaseHolderLocked(ks, h, notifications)
	}
	rec.heldKeys = make(map[string]LockMode)
	rec.pendingUpdates = make(map[string][]byte)
	rec.updateOrder = nil

	for ks := range rec.queuedKeys {
		s.removeFromQueueLocked(ks, h, notifications)
	}
	rec.queuedKeys = make(map[string]struct{})

	s.log.WithField("ticket", h).Debug("ticket wounded")
}

// releaseHolderLocked removes h from the holders of key ks and advances the
// queue. Must be called with s.mu held.
func (s *Shard) releaseHolderLocked(ks string, h ticket.Number, notifications *[]pendingNotify) {
	ls, ok := s.locks[ks]
	if !ok {
		return
	}
	delete(ls.holders, h)
	s.drainQueueLocked(ks, ls, notifications)
}

// removeFromQueueLocked drops a queued (not-yet-granted) request for h on
// key ks and fails it with ErrWounded.
func (s *Shard) removeFromQueueLocked(ks string, h ticket.Number, notifications *[]pendingNotify) {
	ls, ok := s.locks[ks]
	if !ok {
		return
	}
	for i, qr := range ls.queue {
		if qr.ticket == h {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			if qr.onGrant != nil && notifications != nil {
				*notifications = append(*notifications, pendingNotify{cb: qr.onGrant, result: TryLockResult{Err: ErrWounded}})
			}
			return
		}
	}
}

// drainQueueLocked grants as many queue-head entries on ks as are
// compatible with the current holder set, in FIFO order, stopping at the
// first incompatible entry. Must be called with s.mu held.
func (s *Shard) drainQueueLocked(ks string, ls *lockState, notifications *[]pendingNotify) {
	for len(ls.queue) > 0 {
		head := ls.queue[0]
		if len(ls.holders) == 0 {
			ls.holders[head.ticket] = struct{}{}
			ls.mode = head.mode
		} else if ls.mode == Read && head.mode == Read {
			ls.holders[head.ticket] = struct{}{}
		} else {
			break
		}
		ls.queue = ls.queue[1:]

		rec := s.tickets[head.ticket]
		if rec != nil {
			rec.heldKeys[ks] = head.mode
			delete(rec.queuedKeys, ks)
		}
		if head.onGrant != nil && notifications != nil {
			*notifications = append(*notifications, pendingNotify{cb: head.onGrant, result: TryLockResult{Value: s.data[ks]}})
		}
	}
}

// fire invokes queued notifications outside the shard's mutex.
func (s *Shard) fire(notifications []pendingNotify) {
	for _, n := range notifications {
		n.cb(n.result)
	}
}

// Prepare implements spec §4.1 prepare().
func (s *Shard) Prepare(t ticket.Number, brokerID string, updates []Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tickets[t]
	if !ok {
		return ErrUnknownTicket
	}
	if rec.wounded {
		return ErrWounded
	}
	if rec.state == Prepared {
		return ErrPrepared
	}

	for _, u := range updates {
		ks := string(u.Key)
		mode, held := rec.heldKeys[ks]
		if !held {
			return ErrLockNotHeld
		}
		if mode != Write {
			return ErrStateUpdateWithReadLock
		}
	}

	rec.pendingUpdates = make(map[string][]byte, len(updates))
	rec.updateOrder = rec.updateOrder[:0]
	for _, u := range updates {
		ks := string(u.Key)
		rec.pendingUpdates[ks] = u.Value
		rec.updateOrder = append(rec.updateOrder, ks)
	}
	rec.state = Prepared
	rec.brokerID = brokerID
	s.log.WithFields(log.Fields{"ticket": t, "updates": len(updates)}).Debug("ticket prepared")
	return nil
}

// Commit implements spec §4.1 commit(). Per the operation's documented
// implementation freedom ("implementations may fold this release into
// commit provided the queue is advanced atomically"), all locks (read and
// write) held by the ticket are released here rather than deferred to
// finish/rollback; see invariant 3, which states commit "releases all
// locks held by the ticket." The ticket record itself is retained in the
// Committed state until Rollback (used as the broker's "finish"/release
// call, see internal/broker) removes it, so get_tickets() can still report
// it during recovery.
func (s *Shard) Commit(t ticket.Number) error {
	s.mu.Lock()
	var notifications []pendingNotify
	err := s.commitLocked(t, &notifications)
	s.mu.Unlock()
	s.fire(notifications)
	return err
}

func (s *Shard) commitLocked(t ticket.Number, notifications *[]pendingNotify) error {
	rec, ok := s.tickets[t]
	if !ok {
		return ErrUnknownTicket
	}
	if rec.wounded {
		return ErrWounded
	}
	if rec.state != Prepared {
		return ErrNotPrepared
	}

	for _, ks := range rec.updateOrder {
		s.data[ks] = rec.pendingUpdates[ks]
	}
	rec.pendingUpdates = make(map[string][]byte)
	rec.updateOrder = nil
	rec.state = Committed

	for ks := range rec.heldKeys {
		s.releaseHolderLocked(ks, t, notifications)
	}
	rec.heldKeys = make(map[string]LockMode)

	s.log.WithField("ticket", t).Debug("ticket committed")
	return nil
}

// Rollback implements spec §4.1 rollback(). It also serves as the shard
// side of the broker's finish() "release" call (spec §4.2): when the
// ticket is already Committed there is nothing left to discard or unwind
// (Commit already released its locks), so Rollback only removes the
// bookkeeping record; when the ticket is Begun/Prepared, pending updates
// are discarded and any remaining held/queued locks are released.
func (s *Shard) Rollback(t ticket.Number) error {
	s.mu.Lock()
	var notifications []pendingNotify
	err := s.rollbackLocked(t, &notifications)
	s.mu.Unlock()
	s.fire(notifications)
	return err
}

func (s *Shard) rollbackLocked(t ticket.Number, notifications *[]pendingNotify) error {
	rec, ok := s.tickets[t]
	if !ok {
		return ErrUnknownTicket
	}

	if rec.state != Committed {
		for ks := range rec.heldKeys {
			s.releaseHolderLocked(ks, t, notifications)
		}
		for ks := range rec.queuedKeys {
			s.removeFromQueueLocked(ks, t, notifications)
		}
	}
	delete(s.tickets, t)
	s.log.WithFields(log.Fields{"ticket": t, "state": rec.state}).Debug("ticket rolled back/finished")
	return nil
}

// GetTickets implements spec §4.1 get_tickets(), used by the broker for
// recovery (spec §4.2 recover()).
func (s *Shard) GetTickets() []TicketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TicketSnapshot, 0, len(s.tickets))
	for t, rec := range s.tickets {
		out = append(out, TicketSnapshot{Ticket: t, State: rec.state})
	}
	return out
}
