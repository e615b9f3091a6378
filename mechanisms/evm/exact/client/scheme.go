// Package client implements the Exact scheme's client side for EIP-155
// networks: it signs an EIP-3009 transferWithAuthorization message.
package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	evm "github.com/x402proto/facilitator/mechanisms/evm"
	"github.com/x402proto/facilitator/types"
)

// Scheme implements core.SchemeClient for EVM Exact payments.
type Scheme struct {
	signer evm.ClientSigner
}

// New builds an Exact-EVM client scheme signing with signer.
func New(signer evm.ClientSigner) *Scheme {
	return &Scheme{signer: signer}
}

func (c *Scheme) Scheme() string { return evm.SchemeExact }

// CreatePaymentPayload signs a fresh EIP-3009 authorization for requirements.
func (c *Scheme) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}
	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}
	validAfter, validBefore := evm.CreateValidityWindow(time.Duration(evm.DefaultValidityPeriod) * time.Second)

	tokenName, tokenVersion := assetInfo.Name, assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = version
		}
	}

	authorization := evm.ExactAuthorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	domain := evm.TypedDataDomain{Name: tokenName, Version: tokenVersion, ChainID: config.ChainID, VerifyingContract: assetInfo.Address}
	signature, err := c.signAuthorization(ctx, domain, authorization)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactPayload{Signature: evm.BytesToHex(signature), Authorization: authorization}
	return types.PaymentPayload{
		X402Version: 1,
		Payload:     evmPayload.ToMap(),
	}, nil
}

func (c *Scheme) signAuthorization(ctx context.Context, domain evm.TypedDataDomain, authorization evm.ExactAuthorization) ([]byte, error) {
	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	fieldTypes := map[string][]evm.TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
	message := map[string]interface{}{
		"from": authorization.From, "to": authorization.To, "value": value,
		"validAfter": validAfter, "validBefore": validBefore, "nonce": nonceBytes,
	}
	return c.signer.SignTypedData(ctx, domain, fieldTypes, "TransferWithAuthorization", message)
}
