package facilitator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402proto/facilitator/core"
	evm "github.com/x402proto/facilitator/mechanisms/evm"
	"github.com/x402proto/facilitator/types"
)

type fakeSigner struct {
	addresses []string
	allowance *big.Int
	txHash    string
	txStatus  uint64
	permitted bool
}

func (f *fakeSigner) GetAddresses() []string { return f.addresses }

func (f *fakeSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	switch functionName {
	case evm.FunctionAllowance:
		if f.permitted {
			return f.allowance, nil
		}
		return big.NewInt(0), nil
	case evm.FunctionNonces:
		return big.NewInt(0), nil
	}
	return nil, nil
}

func (f *fakeSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	if functionName == evm.FunctionPermit {
		f.permitted = true
		return "0xpermittx", nil
	}
	return f.txHash, nil
}

func (f *fakeSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return &evm.TransactionReceipt{Status: f.txStatus, TxHash: txHash}, nil
}

func (f *fakeSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeSigner) GetCode(ctx context.Context, address string) ([]byte, error) { return nil, nil }

const testNetwork = "eip155:84532"
const facilitatorAddr = "0x000000000000000000000000000000000000fa"

func signedPermitPayloadWithDeadline(t *testing.T, cap string, deadline *big.Int) (*evm.PermitPayload, string) {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(privKey.PublicKey)

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset

	authorization := evm.PermitAuthorization{
		Owner: owner.Hex(), Spender: facilitatorAddr, Value: cap,
		Nonce: "0", Deadline: deadline.String(),
	}
	digest, err := evm.HashPermit(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, privKey)
	require.NoError(t, err)
	sig[64] += 27

	return &evm.PermitPayload{Signature: evm.BytesToHex(sig), Authorization: authorization}, owner.Hex()
}

func signedPermitPayload(t *testing.T, cap string) (*evm.PermitPayload, string) {
	t.Helper()
	return signedPermitPayloadWithDeadline(t, cap, big.NewInt(time.Now().Add(time.Hour).Unix()))
}

func buildPaymentPayload(permitPayload *evm.PermitPayload) types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: 1,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeUpto, Network: testNetwork},
		Payload:     permitPayload.ToMap(),
	}
}

func testRequirements(amount string) types.PaymentRequirements {
	asset := evm.NetworkConfigs[testNetwork].DefaultAsset
	return types.PaymentRequirements{
		Scheme: evm.SchemeUpto, Network: testNetwork,
		Asset: asset.Address, Amount: amount,
		Extra: map[string]interface{}{"name": asset.Name, "version": asset.Version},
	}
}

func verifyReason(t *testing.T, err error) string {
	t.Helper()
	var ve *core.VerifyError
	require.True(t, errors.As(err, &ve), "expected a *core.VerifyError, got %T", err)
	return ve.Reason
}

func TestUptoFacilitatorVerifyAcceptsValidPermit(t *testing.T) {
	permitPayload, owner := signedPermitPayload(t, "5000000")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	resp, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, owner, resp.Payer)
}

func TestUptoFacilitatorVerifyRejectsWrongSpender(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "5000000")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")

	signer := &fakeSigner{addresses: []string{"0x000000000000000000000000000000000000bb"}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
}

func TestUptoFacilitatorVerifyRejectsCapTooLow(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "500")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
	assert.Equal(t, core.ReasonCapTooLow, verifyReason(t, err))
}

func TestUptoFacilitatorVerifyTreatsEmptyValueAsCapTooLow(t *testing.T) {
	// cap_too_low must be reached before the signature is ever checked,
	// so an empty value with a placeholder signature is enough here.
	permitPayload := &evm.PermitPayload{
		Signature: "0x" + string(make([]byte, 130)),
		Authorization: evm.PermitAuthorization{
			Owner: "0x000000000000000000000000000000000000aa", Spender: facilitatorAddr,
			Value: "", Nonce: "0", Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()).String(),
		},
	}
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
	assert.Equal(t, core.ReasonCapTooLow, verifyReason(t, err))
}

func TestUptoFacilitatorVerifyRejectsCapBelowRequiredMax(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "2000000")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")
	requirements.Extra["maxAmountRequired"] = "5000000"

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
	assert.Equal(t, core.ReasonCapBelowRequiredMax, verifyReason(t, err))
}

func TestUptoFacilitatorVerifyRejectsMissingEIP712Domain(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "5000000")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")
	requirements.Extra = nil

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
	assert.Equal(t, core.ReasonMissingEIP712Domain, verifyReason(t, err))
}

func TestUptoFacilitatorVerifyRejectsExpiredDeadline(t *testing.T) {
	deadline := big.NewInt(time.Now().Add(5 * time.Second).Unix())
	permitPayload, _ := signedPermitPayloadWithDeadline(t, "5000000", deadline)
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
	assert.Equal(t, core.ReasonAuthorizationExpired, verifyReason(t, err))
}

func TestUptoFacilitatorVerifyRejectsMissingAuthorizationField(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "5000000")
	permitPayload.Authorization.Nonce = ""
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")

	signer := &fakeSigner{addresses: []string{facilitatorAddr}}
	scheme := New(signer)

	_, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
	assert.Equal(t, core.ReasonInvalidUptoEvmPayload, verifyReason(t, err))
}

func TestUptoFacilitatorSettleSubmitsPermitWhenAllowanceMissing(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "5000000")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")
	requirements.PayTo = "0x000000000000000000000000000000000000cc"

	signer := &fakeSigner{
		addresses: []string{facilitatorAddr},
		allowance: big.NewInt(5000000),
		txHash:    "0xsettletx",
		txStatus:  evm.TxStatusSuccess,
	}
	scheme := New(signer)

	resp, err := scheme.Settle(context.Background(), paymentPayload, requirements)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, signer.permitted, "settle should have submitted the permit before drawing funds")
	assert.Equal(t, "0xsettletx", resp.Transaction)
}

func TestUptoFacilitatorSettleSkipsPermitWhenAllowanceAlreadySufficient(t *testing.T) {
	permitPayload, _ := signedPermitPayload(t, "5000000")
	paymentPayload := buildPaymentPayload(permitPayload)
	requirements := testRequirements("1000000")
	requirements.PayTo = "0x000000000000000000000000000000000000cc"

	signer := &fakeSigner{
		addresses: []string{facilitatorAddr},
		allowance: big.NewInt(5000000),
		permitted: true,
		txHash:    "0xsettletx",
		txStatus:  evm.TxStatusSuccess,
	}
	scheme := New(signer)

	resp, err := scheme.Settle(context.Background(), paymentPayload, requirements)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}
