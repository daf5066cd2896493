package locking

import (
	"errors"
	"testing"

	"github.com/mit-dci/opencbdc-tx-go/internal/ticket"
	"github.com/stretchr/testify/require"
)

func TestTryLockGrantsImmediatelyWhenFree(t *testing.T) {
	s := New("t0")
	res := s.TryLock(1, "b0", []byte("k"), Write, true, nil)
	require.NoError(t, res.Err)
	require.Empty(t, res.Value)
}

func TestReadersShareLock(t *testing.T) {
	s := New("t0")
	key := []byte("k")
	require.NoError(t, s.TryLock(1, "b0", key, Read, true, nil).Err)
	require.NoError(t, s.TryLock(2, "b0", key, Read, true, nil).Err)
}

// TestWoundWaitS5 implements spec §8 scenario S5: T2 (younger) acquires a
// write lock first; T1 (older) then requests the same key and wounds T2.
func TestWoundWaitS5(t *testing.T) {
	s := New("shard-s5")
	key := []byte("K")

	t1 := ticket.Number(1)
	t2 := ticket.Number(2)

	require.NoError(t, s.TryLock(t2, "b0", key, Write, true, nil).Err)

	var t1Granted bool
	res := s.TryLock(t1, "b0", key, Write, true, func(r TryLockResult) {
		t1Granted = r.Err == nil
	})
	// T1 is older than T2, so T1 wounds T2 and grants immediately rather
	// than queuing.
	require.NoError(t, res.Err)

	// T2 is now wounded: its prepare must fail.
	err := s.Prepare(t2, "b0", []Update{{Key: key, Value: []byte("v2")}})
	require.ErrorIs(t, err, ErrWounded)

	require.NoError(t, s.Rollback(t2))

	require.NoError(t, s.Prepare(t1, "b0", []Update{{Key: key, Value: []byte("v1")}}))
	require.NoError(t, s.Commit(t1))
	require.False(t, t1Granted, "t1's grant was synchronous, not delivered via callback")
}

func TestYoungerRequesterQueuesBehindOlderHolder(t *testing.T) {
	s := New("shard")
	key := []byte("K")
	older := ticket.Number(1)
	younger := ticket.Number(2)

	require.NoError(t, s.TryLock(older, "b0", key, Write, true, nil).Err)

	var grantedValue []byte
	var grantErr error
	granted := false
	res := s.TryLock(younger, "b0", key, Write, true, func(r TryLockResult) {
		granted = true
		grantedValue = r.Value
		grantErr = r.Err
	})
	require.ErrorIs(t, res.Err, ErrLockQueued)
	require.False(t, granted)

	require.NoError(t, s.Prepare(older, "b0", []Update{{Key: key, Value: []byte("committed-value")}}))
	require.NoError(t, s.Commit(older))

	require.True(t, granted, "queued request must be granted once the older ticket releases")
	require.NoError(t, grantErr)
	require.Equal(t, []byte("committed-value"), grantedValue)
}

func TestNonWaitingProbeReturnsLockHeld(t *testing.T) {
	s := New("shard")
	key := []byte("K")
	older := ticket.Number(1)
	younger := ticket.Number(2)

	require.NoError(t, s.TryLock(older, "b0", key, Write, true, nil).Err)

	res := s.TryLock(younger, "b0", key, Write, false, nil)
	require.ErrorIs(t, res.Err, ErrLockHeld)
}

func TestPreparedHolderIsImmuneToWounding(t *testing.T) {
	s := New("shard")
	key := []byte("K")
	younger := ticket.Number(2)
	olderWriter := ticket.Number(1)

	require.NoError(t, s.TryLock(younger, "b0", key, Write, true, nil).Err)
	require.NoError(t, s.Prepare(younger, "b0", []Update{{Key: key, Value: []byte("v")}}))

	var granted bool
	res := s.TryLock(olderWriter, "b0", key, Write, true, func(r TryLockResult) { granted = true })
	require.ErrorIs(t, res.Err, ErrLockQueued)
	require.False(t, granted, "a prepared holder must not be wounded, even by an older requester's conflicting request")
}

func TestPrepareRejectsMissingOrReadOnlyLock(t *testing.T) {
	s := New("shard")
	writeKey := []byte("w")
	readKey := []byte("r")
	untouched := []byte("u")
	tk := ticket.Number(1)

	require.NoError(t, s.TryLock(tk, "b0", writeKey, Write, true, nil).Err)
	require.NoError(t, s.TryLock(tk, "b0", readKey, Read, true, nil).Err)

	err := s.Prepare(tk, "b0", []Update{{Key: untouched, Value: []byte("x")}})
	require.ErrorIs(t, err, ErrLockNotHeld)

	err = s.Prepare(tk, "b0", []Update{{Key: readKey, Value: []byte("x")}})
	require.ErrorIs(t, err, ErrStateUpdateWithReadLock)

	require.NoError(t, s.Prepare(tk, "b0", []Update{{Key: writeKey, Value: []byte("x")}}))
}

func TestCommitRequiresPrepared(t *testing.T) {
	s := New("shard")
	key := []byte("k")
	tk := ticket.Number(1)
	require.NoError(t, s.TryLock(tk, "b0", key, Write, true, nil).Err)
	err := s.Commit(tk)
	require.ErrorIs(t, err, ErrNotPrepared)
}

func TestRollbackUnknownTicket(t *testing.T) {
	s := New("shard")
	err := s.Rollback(999)
	require.ErrorIs(t, err, ErrUnknownTicket)
}

func TestGetTicketsReportsCurrentStates(t *testing.T) {
	s := New("shard")
	require.NoError(t, s.TryLock(1, "b0", []byte("a"), Write, true, nil).Err)
	require.NoError(t, s.Prepare(1, "b0", []Update{{Key: []byte("a"), Value: []byte("v")}}))

	snaps := s.GetTickets()
	require.Len(t, snaps, 1)
	require.Equal(t, ticket.Number(1), snaps[0].Ticket)
	require.Equal(t, Prepared, snaps[0].State)
}

func TestUpgradeReadToWriteWoundsYoungerReaders(t *testing.T) {
	s := New("shard")
	key := []byte("k")
	owner := ticket.Number(1)
	youngReader := ticket.Number(5)

	require.NoError(t, s.TryLock(owner, "b0", key, Read, true, nil).Err)
	require.NoError(t, s.TryLock(youngReader, "b0", key, Read, true, nil).Err)

	res := s.TryLock(owner, "b0", key, Write, true, nil)
	require.NoError(t, res.Err, "sole-or-oldest reader may upgrade to write, wounding younger readers")

	err := s.Prepare(youngReader, "b0", nil)
	require.True(t, errors.Is(err, ErrWounded) || errors.Is(err, ErrUnknownTicket))
}

func TestWireRoundTripTryLockRequest(t *testing.T) {
	req := Request{Tag: TagTryLock, Ticket: 42, BrokerID: "broker-1", Key: []byte{1, 2, 3}, Mode: Write, FirstLock: true}
	encoded := EncodeRequest(req)
	decoded, err := DecodeRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestWireRoundTripPrepareRequest(t *testing.T) {
	req := Request{
		Tag:      TagPrepare,
		Ticket:   7,
		BrokerID: "broker-2",
		Updates:  []Update{{Key: []byte("k1"), Value: []byte("v1")}, {Key: []byte("k2"), Value: nil}},
	}
	encoded := EncodeRequest(req)
	decoded, err := DecodeRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req.Ticket, decoded.Ticket)
	require.Equal(t, req.BrokerID, decoded.BrokerID)
	require.Equal(t, req.Updates, decoded.Updates)
}

func TestWireRoundTripResponses(t *testing.T) {
	resp := Response{Value: []byte("hello")}
	encoded := EncodeResponse(TagTryLock, resp)
	decoded, err := DecodeResponse(TagTryLock, encoded)
	require.NoError(t, err)
	require.Equal(t, resp.Value, decoded.Value)
	require.NoError(t, decoded.Err)

	errResp := Response{Err: ErrWounded}
	encoded = EncodeResponse(TagCommit, errResp)
	decoded, err = DecodeResponse(TagCommit, encoded)
	require.NoError(t, err)
	require.ErrorIs(t, decoded.Err, ErrWounded)
}

func TestApplyIsIdempotentOnRepeatCommit(t *testing.T) {
	s := New("shard")
	key := []byte("k")
	require.Equal(t, Response{}, s.Apply(Request{Tag: TagTryLock, Ticket: 1, Key: key, Mode: Write, FirstLock: true}))
	require.NoError(t, s.Apply(Request{Tag: TagPrepare, Ticket: 1, Updates: []Update{{Key: key, Value: []byte("v")}}}).Err)
	require.NoError(t, s.Apply(Request{Tag: TagCommit, Ticket: 1}).Err)

	// Re-delivery of the same committed entry must not panic and must
	// report a stable, well-defined error rather than reapplying state.
	resp := s.Apply(Request{Tag: TagCommit, Ticket: 1})
	require.ErrorIs(t, resp.Err, ErrNotPrepared)
}
