package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402proto/facilitator/types"
)

type mockClientScheme struct {
	scheme string
}

func (m *mockClientScheme) Scheme() string { return m.scheme }

func (m *mockClientScheme) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	return types.PaymentPayload{
		X402Version: 1,
		Payload:     map[string]interface{}{"signed": true},
	}, nil
}

func TestClientSelectsFirstSupportedByDefault(t *testing.T) {
	c := NewClient()
	c.Register("eip155:8453", &mockClientScheme{scheme: "exact"})

	accepts := []types.PaymentRequirements{
		{Scheme: "upto", Network: "eip155:8453"},
		{Scheme: "exact", Network: "eip155:8453"},
	}
	selected, err := c.SelectPaymentRequirements(accepts)
	require.NoError(t, err)
	assert.Equal(t, "exact", selected.Scheme)
}

func TestClientSelectPaymentRequirementsNoSupportedScheme(t *testing.T) {
	c := NewClient()
	_, err := c.SelectPaymentRequirements([]types.PaymentRequirements{{Scheme: "exact", Network: "eip155:8453"}})
	require.Error(t, err)
}

func TestClientCreatePaymentPayloadStampsAccepted(t *testing.T) {
	c := NewClient()
	c.Register("eip155:*", &mockClientScheme{scheme: "exact"})

	req := types.PaymentRequirements{Scheme: "exact", Network: "eip155:8453", Amount: "1000"}
	payload, err := c.CreatePaymentPayload(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, req, payload.Accepted)
}

func TestClientPolicyCanFilterOutAllCandidates(t *testing.T) {
	c := NewClient(WithPolicy(func(candidates []types.PaymentRequirements) []types.PaymentRequirements {
		return nil
	}))
	c.Register("eip155:8453", &mockClientScheme{scheme: "exact"})

	_, err := c.SelectPaymentRequirements([]types.PaymentRequirements{{Scheme: "exact", Network: "eip155:8453"}})
	require.Error(t, err)
}
