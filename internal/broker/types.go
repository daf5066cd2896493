package broker

import (
	"sync"

	"github.com/mit-dci/opencbdc-tx-go/internal/directory"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
)

// ShardClient is the surface a broker needs from one shard partition.
// *locking.Shard satisfies this directly for in-process wiring; a future
// RPC-backed client (spec §6 "Shard RPC") implements the same interface
// over the wire codec in internal/locking/wire.go. Grounded on spec §9's
// "shared-pointer graphs (broker↔shard clients↔directory) — replace with
// explicit ownership": the broker owns a map of these handles rather than
// a graph of shared pointers into shard objects.
type ShardClient interface {
	TryLock(t ticket.Number, brokerID string, key []byte, mode locking.LockMode, firstLock bool, onGrant locking.GrantedCallback) locking.TryLockResult
	Prepare(t ticket.Number, brokerID string, updates []locking.Update) error
	Commit(t ticket.Number) error
	Rollback(t ticket.Number) error
	GetTickets() []locking.TicketSnapshot
}

// ticketState is the broker's per-ticket bookkeeping: which shards have
// been touched by a try_lock so far (spec §4.2 "tracks per-ticket
// per-shard set of (key, mode)... marks the shard touched"). Protected by
// its own mutex, per spec §5 "broker's per-ticket state is per-ticket
// mutex-protected" — not the broker-wide lock, so concurrent tickets never
// contend with each other.
type ticketState struct {
	mu      sync.Mutex
	touched map[directory.ShardID]struct{}
}

func newTicketState() *ticketState {
	return &ticketState{touched: make(map[directory.ShardID]struct{})}
}

func (ts *ticketState) touch(id directory.ShardID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.touched[id] = struct{}{}
}

func (ts *ticketState) touchedShards() []directory.ShardID {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]directory.ShardID, 0, len(ts.touched))
	for id := range ts.touched {
		out = append(out, id)
	}
	return out
}
