package agent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mit-dci/opencbdc-tx-go/internal/broker"
	"github.com/mit-dci/opencbdc-tx-go/internal/directory"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/runner"
	"github.com/mit-dci/opencbdc-tx-go/internal/evmtx"
	"github.com/mit-dci/opencbdc-tx-go/internal/locking"
	"github.com/mit-dci/opencbdc-tx-go/internal/util/pool"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	dir, err := directory.New([]string{"shard-0"})
	require.NoError(t, err)
	sh := locking.New("shard-0")
	b, err := broker.New("broker-1", dir, map[directory.ShardID]broker.ShardClient{0: sh})
	require.NoError(t, err)
	return b
}

// TestCoordinatorResolvesAllConcurrentContendersOnSameKey is a
// starvation-freedom check (spec §8 property 2): many concurrent
// attempts racing for the same write lock on one function key must all
// eventually complete, with none of them stuck forever behind repeated
// wounding.
func TestCoordinatorResolvesAllConcurrentContendersOnSameKey(t *testing.T) {
	b := newTestBroker(t)
	a := New(b, evmtx.DefaultChainID, host.DefaultConfig())
	p := pool.New(4)
	c := NewCoordinator(a, p)
	defer c.Close()
	defer p.StopWait()

	functionKey := []byte("contended-function-key")
	addr := [20]byte{0xaa}

	req := Request{FunctionKey: functionKey, Selector: runner.ReadAccount, Params: addr[:], DryRun: false}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Exec(req)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "contender %d should eventually complete", i)
	}
}

// TestExecSucceedsWithNoContention covers the non-contended happy path:
// a single request acquires its function-key lock immediately and
// returns without ever touching the retry queue.
func TestExecSucceedsWithNoContention(t *testing.T) {
	b := newTestBroker(t)
	a := New(b, evmtx.DefaultChainID, host.DefaultConfig())
	p := pool.New(2)
	c := NewCoordinator(a, p)
	defer c.Close()
	defer p.StopWait()

	addr := [20]byte{0x01}
	req := Request{FunctionKey: []byte("solo-key"), Selector: runner.ReadAccount, Params: addr[:], DryRun: false}

	out, err := c.Exec(req)
	require.NoError(t, err)
	require.Empty(t, out.Value)
}
