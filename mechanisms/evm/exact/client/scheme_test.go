package client

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evm "github.com/x402proto/facilitator/mechanisms/evm"
	"github.com/x402proto/facilitator/types"
)

// fakeClientSigner signs with an in-memory key, computing the same
// EIP-712 digest a real signer would via evm.HashTypedData.
type fakeClientSigner struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

func newFakeClientSigner(t *testing.T) *fakeClientSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeClientSigner{privKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (f *fakeClientSigner) Address() string { return f.address.Hex() }

func (f *fakeClientSigner) SignTypedData(ctx context.Context, domain evm.TypedDataDomain, fieldTypes map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error) {
	digest, err := evm.HashTypedData(domain, fieldTypes, primaryType, message)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, f.privKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (f *fakeClientSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	return big.NewInt(0), nil
}

const testNetwork = "eip155:84532"

func TestExactClientCreatePaymentPayloadSignsAVerifiableAuthorization(t *testing.T) {
	signer := newFakeClientSigner(t)
	scheme := New(signer)

	requirements := types.PaymentRequirements{
		Scheme: evm.SchemeExact, Network: testNetwork,
		Asset: evm.NetworkConfigs[testNetwork].DefaultAsset.Address,
		Amount: "1000000", PayTo: "0x000000000000000000000000000000000000aa",
	}

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)
	assert.Equal(t, 1, payload.X402Version)

	authRaw, ok := payload.Payload["authorization"].(map[string]interface{})
	require.True(t, ok)
	sigHex, ok := payload.Payload["signature"].(string)
	require.True(t, ok)
	require.NotEmpty(t, sigHex)

	authorization := evm.ExactAuthorization{
		From:        authRaw["from"].(string),
		To:          authRaw["to"].(string),
		Value:       authRaw["value"].(string),
		ValidAfter:  authRaw["validAfter"].(string),
		ValidBefore: authRaw["validBefore"].(string),
		Nonce:       authRaw["nonce"].(string),
	}
	assert.Equal(t, signer.Address(), authorization.From)
	assert.Equal(t, "1000000", authorization.Value)

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset
	digest, err := evm.HashExactAuthorization(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)

	sigBytes, err := evm.HexToBytes(sigHex)
	require.NoError(t, err)
	valid, err := evm.VerifyEOASignature(digest, sigBytes, signer.address)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestExactClientCreatePaymentPayloadRejectsBadAmount(t *testing.T) {
	signer := newFakeClientSigner(t)
	scheme := New(signer)

	requirements := types.PaymentRequirements{
		Scheme: evm.SchemeExact, Network: testNetwork,
		Asset: evm.NetworkConfigs[testNetwork].DefaultAsset.Address,
		Amount: "not-a-number", PayTo: "0x000000000000000000000000000000000000aa",
	}

	_, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.Error(t, err)
}
