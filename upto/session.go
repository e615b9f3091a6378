// Package upto implements the Upto payment family's session state machine
// and sweeper: spec.md §4.3, the second of the three hard-core
// subsystems. A session tracks one signed permit's cap and accumulates
// spend across many requests until the sweeper (or an explicit close)
// coalesces the pending amount into a single on-chain settlement.
package upto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/x402proto/facilitator/types"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusSettling Status = "settling"
	StatusClosed   Status = "closed"
)

// SettlementRecord captures the outcome of the most recent settlement
// attempt for a session, successful or not.
type SettlementRecord struct {
	AtMs    int64
	Reason  string
	Receipt string // transaction hash on success, empty on failure
	Success bool
}

// PermitFields are the permit attributes that determine a session's
// identity. Two permits with identical fields collapse to the same
// session id (spec.md §3 invariant).
type PermitFields struct {
	Network   string `json:"network"`
	Asset     string `json:"asset"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Cap       string `json:"cap"`
	Nonce     string `json:"nonce"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"`
}

// GenerateSessionID hashes the permit fields into a stable session id.
// Including Spender (the facilitator's own address) in the preimage keeps
// two independent facilitators that happen to verify the same owner/asset
// permit from colliding on the same session id (spec.md §9).
func GenerateSessionID(p PermitFields) string {
	data, err := json.Marshal(p)
	if err != nil {
		panic("upto: permit fields must be JSON-marshalable: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Session is the in-memory accounting record for one Upto permit. All
// fields are guarded by mu; callers must go through the methods below
// rather than mutating fields directly, since every mutation must
// preserve "settledTotal + pendingSpent <= cap".
type Session struct {
	mu sync.Mutex

	id                  string
	cap                 *big.Int
	deadline            uint64
	pendingSpent        *big.Int
	settledTotal        *big.Int
	lastActivityMs      int64
	status              Status
	paymentPayload      types.PaymentPayload
	paymentRequirements types.PaymentRequirements
	lastSettlement      *SettlementRecord
}

// NewSession creates an open session for a freshly verified Upto permit.
func NewSession(id string, cap *big.Int, deadline uint64, nowMs int64, payload types.PaymentPayload, requirements types.PaymentRequirements) *Session {
	return &Session{
		id:                  id,
		cap:                 new(big.Int).Set(cap),
		deadline:            deadline,
		pendingSpent:        big.NewInt(0),
		settledTotal:        big.NewInt(0),
		lastActivityMs:      nowMs,
		status:              StatusOpen,
		paymentPayload:      payload,
		paymentRequirements: requirements,
	}
}

// ID returns the session's identity.
func (s *Session) ID() string { return s.id }

// Snapshot is a point-in-time, lock-free copy of a session's accounting
// fields, safe to read and pass around after it is taken.
type Snapshot struct {
	ID             string
	Cap            *big.Int
	Deadline       uint64
	PendingSpent   *big.Int
	SettledTotal   *big.Int
	LastActivityMs int64
	Status         Status
	Requirements   types.PaymentRequirements
	Payload        types.PaymentPayload
	LastSettlement *SettlementRecord
}

// Snapshot takes a consistent point-in-time copy under the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:             s.id,
		Cap:            new(big.Int).Set(s.cap),
		Deadline:       s.deadline,
		PendingSpent:   new(big.Int).Set(s.pendingSpent),
		SettledTotal:   new(big.Int).Set(s.settledTotal),
		LastActivityMs: s.lastActivityMs,
		Status:         s.status,
		Requirements:   s.paymentRequirements,
		Payload:        s.paymentPayload,
		LastSettlement: s.lastSettlement,
	}
}

// TryReserve atomically checks "settledTotal + pendingSpent + amount <=
// cap" and, if it holds, increments pendingSpent and refreshes
// lastActivityMs. This is the only path by which pendingSpent grows, so
// the cap invariant cannot be violated regardless of what the sweeper is
// doing to the same session concurrently.
func (s *Session) TryReserve(amount *big.Int, nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusClosed {
		return false
	}

	outstanding := new(big.Int).Add(s.settledTotal, s.pendingSpent)
	projected := new(big.Int).Add(outstanding, amount)
	if projected.Cmp(s.cap) > 0 {
		return false
	}

	s.pendingSpent.Add(s.pendingSpent, amount)
	s.lastActivityMs = nowMs
	return true
}

// BeginSettling performs the open -> settling CAS transition. It returns
// the pending batch amount to settle and true on success; false if the
// session was not open (already settling, or closed) — callers must not
// retry a settlement attempt on a false result, since another task owns
// the transition.
func (s *Session) BeginSettling() (batch *big.Int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusOpen {
		return nil, false
	}
	s.status = StatusSettling
	return new(big.Int).Set(s.pendingSpent), true
}

// CompleteSettlement records a successful settlement of `batch` and
// advances status back to open, or to closed if terminal is set (used
// when the sweeper trigger that caused this settlement is terminal, e.g.
// deadline_buffer or auto_close).
func (s *Session) CompleteSettlement(batch *big.Int, nowMs int64, reason, receipt string, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settledTotal.Add(s.settledTotal, batch)
	s.pendingSpent.Sub(s.pendingSpent, batch)
	if s.pendingSpent.Sign() < 0 {
		s.pendingSpent.SetInt64(0)
	}
	s.lastSettlement = &SettlementRecord{AtMs: nowMs, Reason: reason, Receipt: receipt, Success: true}
	if terminal {
		s.status = StatusClosed
	} else {
		s.status = StatusOpen
	}
}

// FailSettlement records a failed settlement attempt. Pending spend is
// retained for a future retry unless terminal is set, in which case the
// session is closed with the failure recorded and the batch is dropped.
func (s *Session) FailSettlement(nowMs int64, reason string, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSettlement = &SettlementRecord{AtMs: nowMs, Reason: reason, Success: false}
	if terminal {
		s.status = StatusClosed
	} else {
		s.status = StatusOpen
	}
}

// MarkClosed closes a session with no pending batch to settle (used by
// the sweeper's unconditional close rules when pendingSpent is zero).
func (s *Session) MarkClosed(nowMs int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSettlement = &SettlementRecord{AtMs: nowMs, Reason: reason, Success: true}
	s.status = StatusClosed
}
