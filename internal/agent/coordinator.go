package agent

import (
	"container/heap"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mit-dci/opencbdc-tx-go/internal/broker"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/runner"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
	"github.com/mit-dci/opencbdc-tx-go/internal/util/pool"
)

// isRetryable reports whether err is a transient outcome (spec §7
// "transient: wounded, retry — the agent re-runs with a new ticket"):
// wounded can surface either from the runner itself (locking.ErrWounded,
// a lock lost mid-execution before the broker's commit phase even began)
// or from the broker's own commit/2PC path (broker.ErrWounded/ErrRetry).
func isRetryable(err error) bool {
	return errors.Is(err, locking.ErrWounded) || errors.Is(err, broker.ErrWounded) || errors.Is(err, broker.ErrRetry)
}

// retryEntry is one pending retry, keyed by the ticket number of the
// attempt that was just wounded: the oldest wounded attempt is retried
// first (spec §4.5 point 3, §9 "Retry queue — priority queue keyed by
// ticket number ascending... matching wound-wait fairness", and §8
// property 2, starvation freedom).
type retryEntry struct {
	priority ticket.Number
	req      Request
	result   chan attemptResult
}

type attemptResult struct {
	out runner.Outcome
	tk  ticket.Number
	err error
}

// retryHeap is a container/heap min-heap ordered by priority ascending.
type retryHeap []*retryEntry

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(*retryEntry)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Coordinator runs Requests to a final (non-retryable) outcome, fanning
// retries of wounded/transient attempts out over a shared thread pool
// (spec §5 "EVM execution runs on a shared thread pool") while serving
// the oldest-ticket-first retry queue described in spec §4.5/§9.
type Coordinator struct {
	agent *Agent
	pool  *pool.Pool
	log   *log.Entry

	mu     sync.Mutex
	cond   *sync.Cond
	queue  retryHeap
	closed bool
}

// NewCoordinator returns a Coordinator driving a through p. Callers share
// one Coordinator (and one underlying Pool) across all agents wanting
// wound-wait-fair retry ordering against each other.
func NewCoordinator(a *Agent, p *pool.Pool) *Coordinator {
	c := &Coordinator{agent: a, pool: p, log: log.WithField("component", "agent-coordinator")}
	c.cond = sync.NewCond(&c.mu)
	go c.drain()
	return c
}

// Exec runs req to completion, transparently re-attempting on a fresh
// ticket across any number of wounds (spec §4.5 point 4: "re-entering
// exec() after a wound uses a new ticket but preserves the original
// request"). It returns only once a non-retryable outcome (success,
// permanent error, or protocol error) is reached.
func (c *Coordinator) Exec(req Request) (runner.Outcome, error) {
	out, tk, err := c.agent.attempt(req)
	for err != nil && isRetryable(err) {
		c.log.WithField("ticket", tk).Debug("queuing wounded attempt for retry")
		out, tk, err = c.retryThrough(tk, req)
	}
	return out, err
}

// retryThrough enqueues one retry of req, prioritized by the wounded
// ticket priority, and blocks until the drain loop has run it.
func (c *Coordinator) retryThrough(priority ticket.Number, req Request) (runner.Outcome, ticket.Number, error) {
	entry := &retryEntry{priority: priority, req: req, result: make(chan attemptResult, 1)}
	c.mu.Lock()
	heap.Push(&c.queue, entry)
	c.cond.Signal()
	c.mu.Unlock()

	res := <-entry.result
	return res.out, res.tk, res.err
}

// drain pops the oldest-priority pending retry and submits it to the
// shared pool, looping until Close is called and the queue drains.
func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closed {
			c.mu.Unlock()
			return
		}
		entry := heap.Pop(&c.queue).(*retryEntry)
		c.mu.Unlock()

		e := entry
		c.pool.Submit(func() {
			out, tk, err := c.agent.attempt(e.req)
			e.result <- attemptResult{out: out, tk: tk, err: err}
		})
	}
}

// Close stops the drain loop once the queue is empty. Pending Exec calls
// must have already completed; Close is for graceful shutdown of a
// long-running Coordinator, not for cancelling in-flight retries.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}
