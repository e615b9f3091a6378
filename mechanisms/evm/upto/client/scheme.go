// Package client implements the Upto scheme's client side for EIP-155
// networks: it signs an EIP-2612 Permit naming the facilitator as
// spender, capped at the amount the caller is willing to authorize.
package client

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	evm "github.com/x402proto/facilitator/mechanisms/evm"
	"github.com/x402proto/facilitator/types"
)

// Scheme implements core.SchemeClient for EVM Upto payments.
type Scheme struct {
	signer       evm.ClientSigner
	cap          *big.Int
	validityTime time.Duration
}

// New builds an Upto-EVM client scheme signing with signer. cap bounds
// the total the caller authorizes across the whole session; validity
// bounds how long the permit remains usable.
func New(signer evm.ClientSigner, cap *big.Int, validity time.Duration) *Scheme {
	return &Scheme{signer: signer, cap: cap, validityTime: validity}
}

func (c *Scheme) Scheme() string { return evm.SchemeUpto }

// CreatePaymentPayload signs a fresh Permit authorizing the facilitator
// up to c.cap. When c.cap is nil or below requirements.Amount, the permit
// is signed for requirements.Amount instead.
func (c *Scheme) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	requiredMax, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}
	cap := c.cap
	if cap == nil || cap.Cmp(requiredMax) < 0 {
		cap = requiredMax
	}

	nonce, err := c.readNonce(ctx, assetInfo.Address)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to read permit nonce: %w", err)
	}
	deadline := strconv.FormatInt(time.Now().Add(c.validityTime).Unix(), 10)

	facilitatorAddr, ok := requirements.Extra["facilitatorAddress"].(string)
	if !ok || facilitatorAddr == "" {
		return types.PaymentPayload{}, fmt.Errorf("requirements.extra.facilitatorAddress is required for upto")
	}

	authorization := evm.PermitAuthorization{
		Owner: c.signer.Address(), Spender: facilitatorAddr,
		Value: cap.String(), Nonce: nonce, Deadline: deadline,
	}

	tokenName, tokenVersion := assetInfo.Name, assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = version
		}
	}

	domain := evm.TypedDataDomain{Name: tokenName, Version: tokenVersion, ChainID: config.ChainID, VerifyingContract: assetInfo.Address}
	signature, err := c.signPermit(ctx, domain, authorization)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign permit: %w", err)
	}

	permitPayload := &evm.PermitPayload{Signature: evm.BytesToHex(signature), Authorization: authorization}
	return types.PaymentPayload{X402Version: 1, Payload: permitPayload.ToMap()}, nil
}

func (c *Scheme) readNonce(ctx context.Context, tokenAddress string) (string, error) {
	result, err := c.signer.ReadContract(ctx, tokenAddress, evm.NoncesABI, evm.FunctionNonces, common.HexToAddress(c.signer.Address()))
	if err != nil {
		return "", err
	}
	nonce, ok := result.(*big.Int)
	if !ok {
		return "", fmt.Errorf("unexpected nonces result type")
	}
	return nonce.String(), nil
}

func (c *Scheme) signPermit(ctx context.Context, domain evm.TypedDataDomain, authorization evm.PermitAuthorization) ([]byte, error) {
	value, _ := new(big.Int).SetString(authorization.Value, 10)
	nonce, _ := new(big.Int).SetString(authorization.Nonce, 10)
	deadline, _ := new(big.Int).SetString(authorization.Deadline, 10)

	fieldTypes := map[string][]evm.TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
	message := map[string]interface{}{
		"owner": authorization.Owner, "spender": authorization.Spender,
		"value": value, "nonce": nonce, "deadline": deadline,
	}
	return c.signer.SignTypedData(ctx, domain, fieldTypes, "Permit", message)
}
