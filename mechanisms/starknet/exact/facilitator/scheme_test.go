package facilitator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	starknet "github.com/x402proto/facilitator/mechanisms/starknet"
	"github.com/x402proto/facilitator/types"
)

type fakeProvider struct {
	valid       bool
	verifyErr   error
	txHash      string
	submitErr   error
	confirmErr  error
	lastAddress string
}

func (p *fakeProvider) VerifyTypedDataSignature(ctx context.Context, address string, typedData map[string]interface{}, signature []string) (bool, error) {
	p.lastAddress = address
	if p.verifyErr != nil {
		return false, p.verifyErr
	}
	return p.valid, nil
}

func (p *fakeProvider) SubmitPaymasterTransaction(ctx context.Context, network, address string, typedData map[string]interface{}, signature []string) (string, error) {
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return p.txHash, nil
}

func (p *fakeProvider) WaitForTransaction(ctx context.Context, network, txHash string) error {
	return p.confirmErr
}

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            starknet.SchemeExact,
		Network:           starknet.SepoliaCAIP2,
		Asset:             starknet.USDCSepoliaAddress,
		Amount:            "100000",
		PayTo:             "0xrecipient",
		MaxTimeoutSeconds: 3600,
	}
}

func testPayload(requirements types.PaymentRequirements, amount string) types.PaymentPayload {
	typedData := starknet.BuildTransferTypedData("0x534e5f5345504f4c4941", requirements.Asset, requirements.PayTo, amount, 9999999999, "0xnonce")
	p := &starknet.ExactPayload{TypedData: typedData, Signature: []string{"0x1", "0x2"}, Address: "0xpayer"}
	return types.PaymentPayload{X402Version: 2, Accepted: requirements, Payload: p.ToMap()}
}

func testConfigs() map[string]starknet.PaymasterConfig {
	return map[string]starknet.PaymasterConfig{
		starknet.SepoliaCAIP2: {
			Network:         starknet.SepoliaCAIP2,
			SponsorAddress:  "0xsponsor",
			PaymasterURL:    "https://paymaster.example/sepolia",
			PaymasterAPIKey: "test-key",
		},
	}
}

func TestStarknetFacilitatorVerifyAndSettleHappyPath(t *testing.T) {
	requirements := testRequirements()
	payload := testPayload(requirements, "100000")

	provider := &fakeProvider{valid: true, txHash: "0xtxhash"}
	scheme := New(provider, testConfigs())

	resp, err := scheme.Verify(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xpayer", resp.Payer)

	settleResp, err := scheme.Settle(context.Background(), payload, requirements)
	require.NoError(t, err)
	assert.True(t, settleResp.Success)
	assert.Equal(t, "0xtxhash", settleResp.Transaction)
	// Legacy form echoed back to the client.
	assert.Equal(t, "starknet:SN_SEPOLIA", settleResp.Network)
}

func TestStarknetFacilitatorVerifyRejectsInvalidSignature(t *testing.T) {
	requirements := testRequirements()
	payload := testPayload(requirements, "100000")

	provider := &fakeProvider{valid: false}
	scheme := New(provider, testConfigs())

	_, err := scheme.Verify(context.Background(), payload, requirements)
	require.Error(t, err)
}

func TestStarknetFacilitatorVerifyRejectsInsufficientAmount(t *testing.T) {
	requirements := testRequirements()
	payload := testPayload(requirements, "50000")

	provider := &fakeProvider{valid: true}
	scheme := New(provider, testConfigs())

	_, err := scheme.Verify(context.Background(), payload, requirements)
	require.Error(t, err)
}

func TestStarknetFacilitatorVerifyRejectsRecipientMismatch(t *testing.T) {
	requirements := testRequirements()
	tampered := testRequirements()
	tampered.PayTo = "0xattacker"
	payload := testPayload(tampered, "100000")

	provider := &fakeProvider{valid: true}
	scheme := New(provider, testConfigs())

	_, err := scheme.Verify(context.Background(), payload, requirements)
	require.Error(t, err)
}

func TestStarknetFacilitatorSettleFailsConfirmation(t *testing.T) {
	requirements := testRequirements()
	payload := testPayload(requirements, "100000")

	provider := &fakeProvider{valid: true, txHash: "0xtxhash", confirmErr: assert.AnError}
	scheme := New(provider, testConfigs())

	_, err := scheme.Settle(context.Background(), payload, requirements)
	require.Error(t, err)
}
