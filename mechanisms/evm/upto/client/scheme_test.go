package client

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evm "github.com/x402proto/facilitator/mechanisms/evm"
	"github.com/x402proto/facilitator/types"
)

type fakeClientSigner struct {
	privKey *ecdsa.PrivateKey
	address common.Address
	nonce   *big.Int
}

func newFakeClientSigner(t *testing.T) *fakeClientSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeClientSigner{privKey: key, address: crypto.PubkeyToAddress(key.PublicKey), nonce: big.NewInt(0)}
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
	return f.nonce, nil
}

const testNetwork = "eip155:84532"

func TestUptoClientCreatePaymentPayloadSignsAVerifiablePermit(t *testing.T) {
	signer := newFakeClientSigner(t)
	scheme := New(signer, big.NewInt(5000000), time.Hour)

	facilitatorAddr := "0x000000000000000000000000000000000000fa"
	requirements := types.PaymentRequirements{
		Scheme: evm.SchemeUpto, Network: testNetwork,
		Asset: evm.NetworkConfigs[testNetwork].DefaultAsset.Address,
		Amount: "1000000",
		Extra:  map[string]interface{}{"facilitatorAddress": facilitatorAddr},
	}

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)

	authRaw := payload.Payload["authorization"].(map[string]interface{})
	sigHex := payload.Payload["signature"].(string)
	require.NotEmpty(t, sigHex)

	authorization := evm.PermitAuthorization{
		Owner: authRaw["owner"].(string), Spender: authRaw["spender"].(string),
		Value: authRaw["value"].(string), Nonce: authRaw["nonce"].(string), Deadline: authRaw["deadline"].(string),
	}
	assert.Equal(t, signer.Address(), authorization.Owner)
	assert.Equal(t, "5000000", authorization.Value)
	assert.Equal(t, common.HexToAddress(facilitatorAddr).Hex(), common.HexToAddress(authorization.Spender).Hex())

	config := evm.NetworkConfigs[testNetwork]
	asset := config.DefaultAsset
	digest, err := evm.HashPermit(authorization, config.ChainID, asset.Address, asset.Name, asset.Version)
	require.NoError(t, err)
	sigBytes, err := evm.HexToBytes(sigHex)
	require.NoError(t, err)
	valid, err := evm.VerifyEOASignature(digest, sigBytes, signer.address)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestUptoClientCreatePaymentPayloadRequiresFacilitatorAddress(t *testing.T) {
	signer := newFakeClientSigner(t)
	scheme := New(signer, big.NewInt(5000000), time.Hour)

	requirements := types.PaymentRequirements{
		Scheme: evm.SchemeUpto, Network: testNetwork,
		Asset: evm.NetworkConfigs[testNetwork].DefaultAsset.Address,
		Amount: "1000000",
	}

	_, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.Error(t, err)
}

func TestUptoClientCreatePaymentPayloadUsesRequiredMaxWhenHigherThanCap(t *testing.T) {
	signer := newFakeClientSigner(t)
	scheme := New(signer, big.NewInt(100), time.Hour)

	requirements := types.PaymentRequirements{
		Scheme: evm.SchemeUpto, Network: testNetwork,
		Asset: evm.NetworkConfigs[testNetwork].DefaultAsset.Address,
		Amount: "9000000",
		Extra:  map[string]interface{}{"facilitatorAddress": "0x000000000000000000000000000000000000fa"},
	}

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	require.NoError(t, err)
	authRaw := payload.Payload["authorization"].(map[string]interface{})
	assert.Equal(t, "9000000", authRaw["value"].(string))
}
