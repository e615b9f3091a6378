package upto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

type fakeInnerFacilitator struct {
	valid    bool
	payer    string
	settled  int
}

func (f *fakeInnerFacilitator) Scheme() string     { return "upto" }
func (f *fakeInnerFacilitator) CaipFamily() string { return "eip155:*" }
func (f *fakeInnerFacilitator) GetExtra(core.Network) map[string]interface{} { return nil }
func (f *fakeInnerFacilitator) GetSigners(core.Network) []string             { return []string{"0xfac"} }

func (f *fakeInnerFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	if !f.valid {
		return &types.VerifyResponse{IsValid: false, InvalidReason: core.ReasonInvalidPermitSignature}, nil
	}
	return &types.VerifyResponse{IsValid: true, Payer: f.payer}, nil
}

func (f *fakeInnerFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	f.settled++
	return &types.SettleResponse{Success: true, Transaction: "0xtx", Network: requirements.Network, Payer: f.payer}, nil
}

func testPermitPayload() types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: 1,
		Payload: map[string]interface{}{
			"signature": "0xsig",
			"authorization": map[string]interface{}{
				"owner":    "0xowner",
				"spender":  "0xfac",
				"value":    "1000",
				"nonce":    "1",
				"deadline": "9999999999",
			},
		},
	}
}

func extractTestFields(payload types.PaymentPayload, requirements types.PaymentRequirements) (PermitFields, error) {
	auth := payload.Payload["authorization"].(map[string]interface{})
	return PermitFields{
		Network:  requirements.Network,
		Asset:    requirements.Asset,
		Owner:    auth["owner"].(string),
		Spender:  auth["spender"].(string),
		Cap:      auth["value"].(string),
		Nonce:    auth["nonce"].(string),
		Deadline: 9999999999,
	}, nil
}

func testUptoRequirements(amount string) types.PaymentRequirements {
	return types.PaymentRequirements{Scheme: "upto", Network: "eip155:8453", Asset: "0xusdc", Amount: amount, PayTo: "0xmerchant"}
}

func TestTrackingFacilitatorReservesAcrossRequests(t *testing.T) {
	inner := &fakeInnerFacilitator{valid: true, payer: "0xowner"}
	store := NewStore()
	now := int64(0)
	clock := func() int64 { return now }
	tf := NewTrackingFacilitator(inner, store, extractTestFields, clock)

	payload := testPermitPayload()

	resp, err := tf.Verify(context.Background(), payload, testUptoRequirements("400"))
	require.NoError(t, err)
	assert.True(t, resp.IsValid)

	resp, err = tf.Verify(context.Background(), payload, testUptoRequirements("400"))
	require.NoError(t, err)
	assert.True(t, resp.IsValid)

	assert.Equal(t, 1, store.Len())
}

func TestTrackingFacilitatorRejectsCapExhausted(t *testing.T) {
	inner := &fakeInnerFacilitator{valid: true, payer: "0xowner"}
	store := NewStore()
	tf := NewTrackingFacilitator(inner, store, extractTestFields, func() int64 { return 0 })

	payload := testPermitPayload()

	_, err := tf.Verify(context.Background(), payload, testUptoRequirements("900"))
	require.NoError(t, err)

	resp, err := tf.Verify(context.Background(), payload, testUptoRequirements("200"))
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, core.ReasonCapExhausted, resp.InvalidReason)
}

func TestTrackingFacilitatorPropagatesInnerVerifyFailure(t *testing.T) {
	inner := &fakeInnerFacilitator{valid: false}
	store := NewStore()
	tf := NewTrackingFacilitator(inner, store, extractTestFields, func() int64 { return 0 })

	resp, err := tf.Verify(context.Background(), testPermitPayload(), testUptoRequirements("100"))
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, 0, store.Len(), "a rejected permit must not create a session")
}

func TestTrackingFacilitatorSettlePassesThroughToInner(t *testing.T) {
	inner := &fakeInnerFacilitator{valid: true, payer: "0xowner"}
	store := NewStore()
	tf := NewTrackingFacilitator(inner, store, extractTestFields, func() int64 { return 0 })

	resp, err := tf.Settle(context.Background(), testPermitPayload(), testUptoRequirements("1200"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, inner.settled)
}
