package locking

import "github.com/mit-dci/opencbdc-tx-go/internal/ticket"

// LockMode is the granularity of access requested on a key (spec §3).
type LockMode int

const (
	// Read is a shared lock: any number of tickets may hold it at once.
	Read LockMode = iota
	// Write is an exclusive lock: at most one ticket may hold it.
	Write
)

func (m LockMode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// TicketState is a shard-local ticket lifecycle state (spec §3).
type TicketState int

const (
	// Begun is the state of a newly-registered ticket.
	Begun TicketState = iota
	// Prepared is the state after a successful prepare(): updates are
	// staged and the ticket is immune to wounding.
	Prepared
	// Committed is the terminal successful state: updates are applied.
	Committed
)

func (s TicketState) String() string {
	switch s {
	case Begun:
		return "begun"
	case Prepared:
		return "prepared"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

// Update is a single key/value write staged by prepare() (spec §3 "state
// update").
type Update struct {
	Key   []byte
	Value []byte
}

// TryLockResult is the outcome of a try_lock call: either a committed
// value (grant) or an error from the taxonomy in errors.go.
type TryLockResult struct {
	Value []byte
	Err   error
}

// GrantedCallback is invoked exactly once for a queued (first_lock=true)
// request, either with the eventual grant or with ErrWounded if the
// requester is wounded while still waiting.
type GrantedCallback func(TryLockResult)

// TicketSnapshot is one entry of get_tickets()'s result (spec §4.1).
type TicketSnapshot struct {
	Ticket ticket.Number
	State  TicketState
}
