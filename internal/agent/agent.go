// Package agent implements spec §4.5: the per-ticket coordinator that
// owns one execution attempt from ticket acquisition through the EVM
// runner's result, driving the broker's commit/finish and requeuing
// wounded/transient outcomes for retry with a fresh ticket. Grounded on
// original_source/src/3pc/agent/impl.cpp's exec()/try_lock_callback()/
// result_callback() state machine, re-architected per spec §9's "cyclic
// references... re-architect as message passing" note: rather than the
// original's agent/broker/host callback-cycle, this package drives the
// broker and runner synchronously (the runner's own synchronous bridge
// over async locking already absorbs the async boundary, see
// internal/evm/host's acquire), and Coordinator models the retry queue as
// a single drain goroutine over a channel-returning heap rather than a
// chain of captured closures.
package agent

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/mit-dci/opencbdc-tx-go/internal/broker"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/runner"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
)

// Request is one caller-supplied (function_key, parameters, dry_run)
// tuple (spec §4.5 "Given (function_key, params, dry_run) and a runner
// factory").
type Request struct {
	FunctionKey []byte
	Selector    runner.Selector
	Params      []byte
	DryRun      bool
}

// initialLockMode is the lock mode requested on FunctionKey before the
// runner is constructed: write for every EVM selector, a "prospective
// self-upgrade" against the function key since execution may go on to
// mutate account state reachable from it (spec §4.5 point 1). A dry run
// never requests a write lock (spec §4.3 "Dry-run mode never requests
// write locks").
func (r Request) initialLockMode() locking.LockMode {
	if r.DryRun {
		return locking.Read
	}
	return locking.Write
}

// Agent drives one execution attempt end to end against a broker: begin,
// the initial function_key lock, the runner call, and commit/finish
// (spec §4.5 points 1-3).
type Agent struct {
	broker  *broker.Broker
	chainID uint64
	cfg     host.Config
	log     *log.Entry
}

// New returns an Agent routing through b, using chainID for the EVM
// host's CHAINID opcode and cfg for its block-context constants.
func New(b *broker.Broker, chainID uint64, cfg host.Config) *Agent {
	return &Agent{broker: b, chainID: chainID, cfg: cfg, log: log.WithField("component", "agent")}
}

// attempt runs req to completion on one fresh ticket, reporting that
// ticket's number alongside the outcome so a caller requeuing a
// wounded/retry result can order its retry fairly against other
// concurrent attempts (spec §4.5 point 3, §9 "Retry queue... ticket
// number ascending").
func (a *Agent) attempt(req Request) (runner.Outcome, ticket.Number, error) {
	tk := a.broker.Begin()
	l := a.log.WithField("ticket", tk)

	if err := acquireBlocking(a.broker, tk, req.FunctionKey, req.initialLockMode()); err != nil {
		l.WithField("err", err).Debug("initial function-key lock failed")
		a.broker.Finish(tk)
		return runner.Outcome{}, tk, err
	}

	out, err := runner.Run(a.broker, tk, req.Selector, req.Params, a.chainID, a.cfg)
	if err != nil {
		l.WithField("err", err).Debug("runner returned an error")
		a.broker.Finish(tk)
		return runner.Outcome{}, tk, err
	}

	if len(out.Updates) == 0 {
		// A pure read: nothing to commit, just release the locks taken.
		a.broker.Finish(tk)
		return out, tk, nil
	}

	if cerr := a.broker.Commit(tk, out.Updates); cerr != nil {
		l.WithField("err", cerr).Debug("commit failed")
		a.broker.Finish(tk)
		return runner.Outcome{}, tk, cerr
	}
	a.broker.Finish(tk)
	l.Debug("ticket committed")
	return out, tk, nil
}

// acquireBlocking is the same synchronous bridge internal/evm/host.acquire
// uses over the broker's async try_lock: a queued (first_lock=true)
// request blocks on a one-shot channel until granted or wounded.
func acquireBlocking(b *broker.Broker, t ticket.Number, key []byte, mode locking.LockMode) error {
	done := make(chan locking.TryLockResult, 1)
	res := b.TryLock(t, key, mode, true, func(r locking.TryLockResult) { done <- r })
	if res.Err == nil {
		return nil
	}
	if errors.Is(res.Err, locking.ErrLockQueued) {
		r := <-done
		return r.Err
	}
	return res.Err
}
