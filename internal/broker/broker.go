// Package broker implements spec §4.2: it multiplexes shard clients,
// drives two-phase commit over the subset of shards a ticket actually
// touches, and recovers in-flight tickets after a restart. Grounded on
// other_examples/tikv prewrite.go's coordinator-drives-2PC-over-regions
// shape (prewrite/commit phases fanned out per region, first error wins)
// and on original_source/src/3pc/broker/impl.cpp for the exact recovery
// decision table in Recover.
package broker

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mit-dci/opencbdc-tx-go/internal/directory"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
)

// maxTransientRetries bounds the broker's retry of a transient shard/
// transport failure before surfacing ErrRetry to the caller (spec §7
// "transient... the agent re-runs with a new ticket" applies once the
// broker itself gives up retrying in place).
const maxTransientRetries = 3

// Broker ties a Directory (key→shard routing) to a set of shard client
// handles and a ticket-number source.
type Broker struct {
	id        string
	dir       *directory.Directory
	shards    map[directory.ShardID]ShardClient
	machine   *ticket.Machine
	log       *log.Entry
	ticketsMu sync.Mutex
	tickets   map[ticket.Number]*ticketState
}

// New returns a Broker identified by id, routing over dir, with one
// ShardClient per directory partition (indexed by directory.ShardID).
func New(id string, dir *directory.Directory, shards map[directory.ShardID]ShardClient) (*Broker, error) {
	if len(shards) != dir.NumShards() {
		return nil, fmt.Errorf("broker: %d shard clients provided, directory has %d partitions", len(shards), dir.NumShards())
	}
	return &Broker{
		id:      id,
		dir:     dir,
		shards:  shards,
		machine: ticket.NewMachine(),
		log:     log.WithField("broker", id),
		tickets: make(map[ticket.Number]*ticketState),
	}, nil
}

// Begin implements spec §4.2 begin(): pulls a fresh ticket number and
// registers its bookkeeping.
func (b *Broker) Begin() ticket.Number {
	t := b.machine.Next()
	b.ticketsMu.Lock()
	b.tickets[t] = newTicketState()
	b.ticketsMu.Unlock()
	return t
}

func (b *Broker) stateFor(t ticket.Number) (*ticketState, error) {
	b.ticketsMu.Lock()
	defer b.ticketsMu.Unlock()
	ts, ok := b.tickets[t]
	if !ok {
		return nil, fmt.Errorf("broker: unknown ticket %d", t)
	}
	return ts, nil
}

// TryLock implements spec §4.2 try_lock(): routes via the directory to
// the owning shard and records the shard as touched by t.
func (b *Broker) TryLock(t ticket.Number, key []byte, mode locking.LockMode, firstLock bool, onGrant locking.GrantedCallback) locking.TryLockResult {
	ts, err := b.stateFor(t)
	if err != nil {
		return locking.TryLockResult{Err: err}
	}

	id := b.dir.ShardFor(key)
	sc, ok := b.shards[id]
	if !ok {
		return locking.TryLockResult{Err: fmt.Errorf("broker: no client for shard %d", id)}
	}

	ts.touch(id)
	res := sc.TryLock(t, b.id, key, mode, firstLock, onGrant)
	if errors.Is(res.Err, locking.ErrWounded) {
		b.log.WithField("ticket", t).Debug("try_lock reports wounded")
	}
	return res
}

// Commit implements spec §4.2 commit(): partitions updates by owning
// shard, then issues prepare to every shard the ticket touched — with an
// empty update slice for shards that hold only read locks and never
// appear in the write set (Open Question decision #1, see DESIGN.md: the
// spec's stated default is that prepare is always sent to every touched
// shard, not skipped for read-only ones). On any prepare failure the
// ticket is aborted: rollback is issued to every touched shard and the
// first error is reported.
func (b *Broker) Commit(t ticket.Number, updates []locking.Update) error {
	ts, err := b.stateFor(t)
	if err != nil {
		return err
	}

	byShard := make(map[directory.ShardID][]locking.Update)
	for _, u := range updates {
		id := b.dir.ShardFor(u.Key)
		byShard[id] = append(byShard[id], u)
	}
	for _, id := range ts.touchedShards() {
		if _, ok := byShard[id]; !ok {
			byShard[id] = nil
		}
	}

	var prepareErr error
	var preparedShards []directory.ShardID
	for id, shardUpdates := range byShard {
		sc, ok := b.shards[id]
		if !ok {
			prepareErr = fmt.Errorf("broker: no client for shard %d", id)
			break
		}
		if perr := b.withRetries(func() error { return sc.Prepare(t, b.id, shardUpdates) }); perr != nil {
			prepareErr = classify(perr)
			break
		}
		preparedShards = append(preparedShards, id)
	}

	if prepareErr != nil {
		b.abortEverywhere(t, ts)
		return prepareErr
	}

	for _, id := range preparedShards {
		sc := b.shards[id]
		if cerr := b.withRetries(func() error { return sc.Commit(t) }); cerr != nil {
			b.log.WithFields(log.Fields{"ticket": t, "shard": id, "err": cerr}).Error("commit failed after successful prepare")
			b.abortEverywhere(t, ts)
			return classify(cerr)
		}
	}

	b.log.WithField("ticket", t).Debug("ticket committed across all touched shards")
	return nil
}

// Finish implements spec §4.2 finish(): releases every touched shard's
// remaining state for t (locking.Shard.Rollback doubles as this release
// call, see its doc comment) and drops the ticket's broker-side
// bookkeeping. Best-effort: persistent failures are logged, not returned,
// per spec §7 "rollback itself is best-effort".
func (b *Broker) Finish(t ticket.Number) {
	ts, err := b.stateFor(t)
	if err != nil {
		return
	}
	for _, id := range ts.touchedShards() {
		sc, ok := b.shards[id]
		if !ok {
			continue
		}
		if err := sc.Rollback(t); err != nil && !errors.Is(err, locking.ErrUnknownTicket) {
			b.log.WithFields(log.Fields{"ticket": t, "shard": id, "err": err}).Error("finish: rollback failed")
		}
	}
	b.ticketsMu.Lock()
	delete(b.tickets, t)
	b.ticketsMu.Unlock()
}

// abortEverywhere issues rollback to every shard the ticket touched; used
// on a failed prepare or a wounded notification.
func (b *Broker) abortEverywhere(t ticket.Number, ts *ticketState) {
	for _, id := range ts.touchedShards() {
		sc, ok := b.shards[id]
		if !ok {
			continue
		}
		if err := sc.Rollback(t); err != nil && !errors.Is(err, locking.ErrUnknownTicket) {
			b.log.WithFields(log.Fields{"ticket": t, "shard": id, "err": err}).Error("abort: rollback failed")
		}
	}
}

// withRetries retries fn while it returns a transient error, per spec §7
// "transient shard errors are retried". locking's own sentinel errors are
// never transient (they are protocol/permanent outcomes, spec §7); only a
// future transport-level ShardClient would return something classified
// transient here.
func (b *Broker) withRetries(fn func() error) error {
	var err error
	for i := 0; i < maxTransientRetries; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrRetry) {
			return err
		}
	}
	return err
}

// classify maps a shard-reported error onto the broker's own taxonomy
// (spec §7): wounded propagates as ErrWounded, everything else passes
// through unchanged (protocol errors from locking are already
// caller-meaningful sentinels).
func classify(err error) error {
	if errors.Is(err, locking.ErrWounded) {
		return ErrWounded
	}
	return err
}
