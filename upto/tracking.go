package upto

import (
	"context"
	"math/big"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

// PermitExtractor pulls the chain-specific permit fields that key and
// size a session out of an already-verified payload/requirements pair.
// Each Upto mechanism (e.g. mechanisms/evm/upto) supplies its own.
type PermitExtractor func(payload types.PaymentPayload, requirements types.PaymentRequirements) (PermitFields, error)

// TrackingFacilitator wraps a chain-specific Upto core.SchemeFacilitator
// with the session-tracking step spec.md §3 places between verify and
// settle ("dispatch engine verifies -> handler runs -> upto tracking
// records pending -> middleware ... defers (Upto with sweeper)"):
// Verify delegates to inner for permit/signature validation, then
// reserves requirements.Amount against the session's cap, rejecting with
// cap_exhausted when the reservation would overrun it. Settle passes
// straight through to inner: only the Sweeper ever calls Settle for an
// Upto session, never a per-request caller, so no tracking belongs there.
type TrackingFacilitator struct {
	inner   core.SchemeFacilitator
	store   *Store
	extract PermitExtractor
	nowMs   func() int64
}

// NewTrackingFacilitator wraps inner with session tracking against
// store, using extract to derive PermitFields from each payload and
// nowMs for session timestamps (time.Now().UnixMilli in production,
// a fake clock in tests).
func NewTrackingFacilitator(inner core.SchemeFacilitator, store *Store, extract PermitExtractor, nowMs func() int64) *TrackingFacilitator {
	return &TrackingFacilitator{inner: inner, store: store, extract: extract, nowMs: nowMs}
}

func (t *TrackingFacilitator) Scheme() string     { return t.inner.Scheme() }
func (t *TrackingFacilitator) CaipFamily() string { return t.inner.CaipFamily() }

func (t *TrackingFacilitator) GetExtra(network core.Network) map[string]interface{} {
	return t.inner.GetExtra(network)
}

func (t *TrackingFacilitator) GetSigners(network core.Network) []string {
	return t.inner.GetSigners(network)
}

// Verify validates the permit via inner, then reserves this request's
// amount against the session's remaining cap headroom, creating the
// session on its first verified request.
func (t *TrackingFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	resp, err := t.inner.Verify(ctx, payload, requirements)
	if err != nil || resp == nil || !resp.IsValid {
		return resp, err
	}

	network := core.Network(requirements.Network)

	fields, err := t.extract(payload, requirements)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, resp.Payer, network, err)
	}

	cap, ok := new(big.Int).SetString(fields.Cap, 10)
	if !ok {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, resp.Payer, network, nil)
	}
	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, resp.Payer, network, nil)
	}

	id := GenerateSessionID(fields)
	now := t.nowMs()
	session := t.store.GetOrCreate(id, func() *Session {
		return NewSession(id, cap, fields.Deadline, now, payload, requirements)
	})

	if !session.TryReserve(amount, now) {
		return &types.VerifyResponse{IsValid: false, InvalidReason: core.ReasonCapExhausted, Payer: resp.Payer}, nil
	}

	return resp, nil
}

// Settle passes straight through to the wrapped chain scheme: by the
// time anything calls Settle for an Upto session, it is the Sweeper
// driving a batch settlement of accumulated pendingSpent, not a
// per-request caller.
func (t *TrackingFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	return t.inner.Settle(ctx, payload, requirements)
}
