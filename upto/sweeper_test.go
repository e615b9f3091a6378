package upto

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402proto/facilitator/types"
)

type fakeSettler struct {
	calls   []types.PaymentRequirements
	succeed bool
	reason  string
}

func (f *fakeSettler) Settle(_ context.Context, _ types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	f.calls = append(f.calls, requirements)
	if !f.succeed {
		return &types.SettleResponse{Success: false, ErrorReason: f.reason}, nil
	}
	return &types.SettleResponse{Success: true, Transaction: "0xswept", Network: requirements.Network}, nil
}

func newClock(t int64) func() int64 {
	now := t
	return func() int64 { return now }
}

func TestSweeperIdleTimeoutSettlesAndKeepsOpen(t *testing.T) {
	store := NewStore()
	s := NewSession("s1", big.NewInt(1000), 0, 0, zeroPayload(), zeroRequirements())
	require.True(t, s.TryReserve(big.NewInt(500), 0))
	store.GetOrCreate("s1", func() *Session { return s })

	settler := &fakeSettler{succeed: true}
	cfg := DefaultConfig()
	cfg.IdleTimeoutMs = 1000
	clock := newClock(2000)
	sw := NewSweeper(store, settler, cfg, clock)

	sw.Tick(context.Background())

	assert.Len(t, settler.calls, 1)
	assert.Equal(t, "500", settler.calls[0].Amount)
	_, ok := store.Get("s1")
	assert.True(t, ok, "non-terminal idle_timeout settlement must keep the session tracked")
}

func TestSweeperCapThresholdSettlesButKeepsOpen(t *testing.T) {
	store := NewStore()
	s := NewSession("s1", big.NewInt(1000), 0, 0, zeroPayload(), zeroRequirements())
	require.True(t, s.TryReserve(big.NewInt(950), 0))
	store.GetOrCreate("s1", func() *Session { return s })

	settler := &fakeSettler{succeed: true}
	cfg := DefaultConfig()
	cfg.IdleTimeoutMs = 10_000_000
	clock := newClock(100)
	sw := NewSweeper(store, settler, cfg, clock)

	sw.Tick(context.Background())

	assert.Len(t, settler.calls, 1)
	got, ok := store.Get("s1")
	require.True(t, ok, "non-terminal settlement must keep the session tracked")
	snap := got.Snapshot()
	assert.Equal(t, StatusOpen, snap.Status)
	assert.Equal(t, big.NewInt(950), snap.SettledTotal)
	assert.Equal(t, big.NewInt(0), snap.PendingSpent)
}

func TestSweeperDeadlineBufferTakesPriorityOverCapThreshold(t *testing.T) {
	store := NewStore()
	s := NewSession("s1", big.NewInt(1000), 100, 0, zeroPayload(), zeroRequirements())
	require.True(t, s.TryReserve(big.NewInt(950), 0))
	store.GetOrCreate("s1", func() *Session { return s })

	settler := &fakeSettler{succeed: true}
	cfg := DefaultConfig()
	cfg.IdleTimeoutMs = 10_000_000
	cfg.DeadlineBufferMs = 50_000
	clock := newClock(100_000) // deadline (100s) already within the 50s buffer
	sw := NewSweeper(store, settler, cfg, clock)

	sw.Tick(context.Background())

	_, ok := store.Get("s1")
	assert.False(t, ok, "deadline_buffer trigger is terminal")
}

func TestSweeperFailedSettlementRetainsSessionForRetry(t *testing.T) {
	store := NewStore()
	s := NewSession("s1", big.NewInt(1000), 0, 0, zeroPayload(), zeroRequirements())
	require.True(t, s.TryReserve(big.NewInt(500), 0))
	store.GetOrCreate("s1", func() *Session { return s })

	settler := &fakeSettler{succeed: false, reason: "rpc_error"}
	cfg := DefaultConfig()
	cfg.IdleTimeoutMs = 1000
	clock := newClock(2000)
	sw := NewSweeper(store, settler, cfg, clock)

	sw.Tick(context.Background())

	got, ok := store.Get("s1")
	require.True(t, ok, "a failed settlement must not destroy the session")
	snap := got.Snapshot()
	assert.Equal(t, StatusOpen, snap.Status)
	assert.Equal(t, big.NewInt(500), snap.PendingSpent)
	require.NotNil(t, snap.LastSettlement)
	assert.False(t, snap.LastSettlement.Success)
}

func TestSweeperAutoClosesExpiredIdleSessionWithNoPendingSpend(t *testing.T) {
	store := NewStore()
	s := NewSession("s1", big.NewInt(1000), 50, 0, zeroPayload(), zeroRequirements())
	store.GetOrCreate("s1", func() *Session { return s })

	settler := &fakeSettler{succeed: true}
	cfg := DefaultConfig()
	clock := newClock(60_000)
	sw := NewSweeper(store, settler, cfg, clock)

	sw.Tick(context.Background())

	assert.Empty(t, settler.calls, "a session with nothing pending must not trigger a chain call")
	got, ok := store.Get("s1")
	require.True(t, ok, "a session closed without a settlement stays tracked until a later tick")
	assert.Equal(t, StatusClosed, got.Snapshot().Status)
}

func TestSweeperSkipsSessionsCurrentlySettling(t *testing.T) {
	store := NewStore()
	s := NewSession("s1", big.NewInt(1000), 0, 0, zeroPayload(), zeroRequirements())
	require.True(t, s.TryReserve(big.NewInt(500), 0))
	_, ok := s.BeginSettling()
	require.True(t, ok)
	store.GetOrCreate("s1", func() *Session { return s })

	settler := &fakeSettler{succeed: true}
	cfg := DefaultConfig()
	cfg.IdleTimeoutMs = 1
	clock := newClock(1000)
	sw := NewSweeper(store, settler, cfg, clock)

	sw.Tick(context.Background())

	assert.Empty(t, settler.calls, "sweeper must not race an in-flight settlement for the same session")
}
