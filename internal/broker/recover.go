package broker

import (
	log "github.com/sirupsen/logrus"

	"github.com/mit-dci/opencbdc-tx-go/internal/directory"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
)

// Recover implements spec §4.2 recover(): called at startup, it queries
// get_tickets from every shard, assembles a per-ticket view across
// shards, and takes exactly one deterministic action per ticket:
//
//   - any shard COMMITTED and any other PREPARED → re-issue commit to the
//     PREPARED shards (the broker already decided to commit; the log is
//     the durable witness for that decision).
//   - at least one shard PREPARED and none COMMITTED → commit everywhere
//     that is PREPARED (presumed-commit).
//   - only BEGUN states, no PREPARED anywhere → rollback on every shard
//     holding the ticket.
//
// Grounded on original_source/src/3pc/broker/impl.cpp's recovery loop,
// which runs this same three-way decision table per unresolved ticket
// until every ticket reaches a terminal state (idempotent repeat).
func (b *Broker) Recover() error {
	perTicket := make(map[ticket.Number]map[directory.ShardID]locking.TicketState)

	for id, sc := range b.shards {
		snaps := sc.GetTickets()
		for _, snap := range snaps {
			m, ok := perTicket[snap.Ticket]
			if !ok {
				m = make(map[directory.ShardID]locking.TicketState)
				perTicket[snap.Ticket] = m
			}
			m[id] = snap.State
		}
	}

	for t, shardStates := range perTicket {
		b.recoverOne(t, shardStates)
	}
	return nil
}

func (b *Broker) recoverOne(t ticket.Number, shardStates map[directory.ShardID]locking.TicketState) {
	var anyCommitted, anyPrepared bool
	var preparedShards []directory.ShardID
	for id, st := range shardStates {
		switch st {
		case locking.Committed:
			anyCommitted = true
		case locking.Prepared:
			anyPrepared = true
			preparedShards = append(preparedShards, id)
		}
	}

	switch {
	case anyCommitted && anyPrepared:
		for _, id := range preparedShards {
			if err := b.shards[id].Commit(t); err != nil {
				b.log.WithFields(log.Fields{"ticket": t, "shard": id, "err": err}).Error("recover: commit of prepared shard failed")
			}
		}
	case anyPrepared:
		for _, id := range preparedShards {
			if err := b.shards[id].Commit(t); err != nil {
				b.log.WithFields(log.Fields{"ticket": t, "shard": id, "err": err}).Error("recover: presumed-commit failed")
			}
		}
	default:
		for id := range shardStates {
			if err := b.shards[id].Rollback(t); err != nil {
				b.log.WithFields(log.Fields{"ticket": t, "shard": id, "err": err}).Error("recover: rollback failed")
			}
		}
	}

	b.ticketsMu.Lock()
	delete(b.tickets, t)
	b.ticketsMu.Unlock()

	b.log.WithField("ticket", t).Debug("ticket recovered")
}
