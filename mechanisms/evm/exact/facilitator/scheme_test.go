package facilitator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evm "github.com/x402proto/facilitator/mechanisms/evm"
	"github.com/x402proto/facilitator/types"
)

// fakeSigner is a FacilitatorSigner test double driven by a handful of
// canned return values, grounded on core's mockFacilitator pattern.
type fakeSigner struct {
	addresses   []string
	nonceUsed   bool
	balance     *big.Int
	txHash      string
	txStatus    uint64
	writeErr    error
	allowance   *big.Int
}

func (f *fakeSigner) GetAddresses() []string { return f.addresses }

func (f *fakeSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	switch functionName {
	case evm.FunctionAuthorizationState:
		return f.nonceUsed, nil
	case evm.FunctionAllowance:
		if f.allowance != nil {
			return f.allowance, nil
		}
		return big.NewInt(0), nil
	case evm.FunctionNonces:
		return big.NewInt(0), nil
	}
	return nil, nil
}

func (f *fakeSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	return f.txHash, nil
}

func (f *fakeSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return &evm.TransactionReceipt{Status: f.txStatus, TxHash: txHash}, nil
}

func (f *fakeSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeSigner) GetCode(ctx context.Context, address string) ([]byte, error) { return nil, nil }

const testNetwork = "eip155:84532"

func testRequirements(payTo string, amount *big.Int) types.PaymentRequirements {
	asset := evm.NetworkConfigs[testNetwork].DefaultAsset
	return types.PaymentRequirements{
		Scheme: evm.SchemeExact, Network: testNetwork,
		Asset: asset.Address, Amount: amount.String(), PayTo: payTo,
	}
}

func TestExactFacilitatorVerifyAndSettleHappyPath(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(privKey.PublicKey)
	payTo := "0x000000000000000000000000000000000000aa"

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset
	nonce, err := evm.CreateNonce()
	require.NoError(t, err)
	validAfter, validBefore := evm.CreateValidityWindow(3600 * time.Second)

	authorization := evm.ExactAuthorization{
		From: from.Hex(), To: payTo, Value: "1000000",
		ValidAfter: validAfter.String(), ValidBefore: validBefore.String(), Nonce: nonce,
	}

	digest, err := evm.HashExactAuthorization(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, privKey)
	require.NoError(t, err)
	sig[64] += 27

	payload := &evm.ExactPayload{Signature: evm.BytesToHex(sig), Authorization: authorization}
	paymentPayload := types.PaymentPayload{
		X402Version: 1,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeExact, Network: testNetwork},
		Payload:     payload.ToMap(),
	}
	requirements := testRequirements(payTo, big.NewInt(1000000))

	signer := &fakeSigner{
		addresses: []string{"0xfacilitator"},
		nonceUsed: false,
		balance:   big.NewInt(2000000),
		txHash:    "0xtxhash",
		txStatus:  evm.TxStatusSuccess,
	}
	scheme := New(signer)

	verifyResp, err := scheme.Verify(context.Background(), paymentPayload, requirements)
	require.NoError(t, err)
	assert.True(t, verifyResp.IsValid)
	assert.Equal(t, from.Hex(), verifyResp.Payer)

	settleResp, err := scheme.Settle(context.Background(), paymentPayload, requirements)
	require.NoError(t, err)
	assert.True(t, settleResp.Success)
	assert.Equal(t, "0xtxhash", settleResp.Transaction)
}

func TestExactFacilitatorVerifyRejectsTamperedSignature(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(privKey.PublicKey)
	payTo := "0x000000000000000000000000000000000000aa"

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset
	nonce, err := evm.CreateNonce()
	require.NoError(t, err)
	validAfter, validBefore := evm.CreateValidityWindow(3600 * time.Second)

	authorization := evm.ExactAuthorization{
		From: from.Hex(), To: payTo, Value: "1000000",
		ValidAfter: validAfter.String(), ValidBefore: validBefore.String(), Nonce: nonce,
	}
	digest, err := evm.HashExactAuthorization(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, privKey)
	require.NoError(t, err)
	sig[64] += 27
	sig[0] ^= 0xff // tamper

	payload := &evm.ExactPayload{Signature: evm.BytesToHex(sig), Authorization: authorization}
	paymentPayload := types.PaymentPayload{
		X402Version: 1,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeExact, Network: testNetwork},
		Payload:     payload.ToMap(),
	}
	requirements := testRequirements(payTo, big.NewInt(1000000))
	signer := &fakeSigner{addresses: []string{"0xfacilitator"}, balance: big.NewInt(2000000), txStatus: evm.TxStatusSuccess}
	scheme := New(signer)

	_, err = scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
}

func TestExactFacilitatorVerifyRejectsUsedNonce(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(privKey.PublicKey)
	payTo := "0x000000000000000000000000000000000000aa"

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset
	nonce, err := evm.CreateNonce()
	require.NoError(t, err)
	validAfter, validBefore := evm.CreateValidityWindow(3600 * time.Second)

	authorization := evm.ExactAuthorization{
		From: from.Hex(), To: payTo, Value: "1000000",
		ValidAfter: validAfter.String(), ValidBefore: validBefore.String(), Nonce: nonce,
	}
	digest, err := evm.HashExactAuthorization(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, privKey)
	require.NoError(t, err)
	sig[64] += 27

	payload := &evm.ExactPayload{Signature: evm.BytesToHex(sig), Authorization: authorization}
	paymentPayload := types.PaymentPayload{
		X402Version: 1,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeExact, Network: testNetwork},
		Payload:     payload.ToMap(),
	}
	requirements := testRequirements(payTo, big.NewInt(1000000))
	signer := &fakeSigner{addresses: []string{"0xfacilitator"}, nonceUsed: true, balance: big.NewInt(2000000)}
	scheme := New(signer)

	_, err = scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
}

func TestExactFacilitatorVerifyRejectsInsufficientBalance(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(privKey.PublicKey)
	payTo := "0x000000000000000000000000000000000000aa"

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset
	nonce, err := evm.CreateNonce()
	require.NoError(t, err)
	validAfter, validBefore := evm.CreateValidityWindow(3600 * time.Second)

	authorization := evm.ExactAuthorization{
		From: from.Hex(), To: payTo, Value: "1000000",
		ValidAfter: validAfter.String(), ValidBefore: validBefore.String(), Nonce: nonce,
	}
	digest, err := evm.HashExactAuthorization(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, privKey)
	require.NoError(t, err)
	sig[64] += 27

	payload := &evm.ExactPayload{Signature: evm.BytesToHex(sig), Authorization: authorization}
	paymentPayload := types.PaymentPayload{
		X402Version: 1,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeExact, Network: testNetwork},
		Payload:     payload.ToMap(),
	}
	requirements := testRequirements(payTo, big.NewInt(1000000))
	signer := &fakeSigner{addresses: []string{"0xfacilitator"}, balance: big.NewInt(100)}
	scheme := New(signer)

	_, err = scheme.Verify(context.Background(), paymentPayload, requirements)
	require.Error(t, err)
}
