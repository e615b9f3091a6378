// Package facilitator implements the Exact scheme's facilitator side for
// EIP-155 networks: an EIP-3009 transferWithAuthorization verified and
// settled in a single on-chain call.
package facilitator

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	evm "github.com/x402proto/facilitator/mechanisms/evm"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

// Scheme implements core.SchemeFacilitator for EVM Exact payments.
type Scheme struct {
	signer evm.FacilitatorSigner
}

// New builds an Exact-EVM facilitator scheme against signer.
func New(signer evm.FacilitatorSigner) *Scheme {
	return &Scheme{signer: signer}
}

func (s *Scheme) Scheme() string     { return evm.SchemeExact }
func (s *Scheme) CaipFamily() string { return "eip155:*" }

func (s *Scheme) GetExtra(core.Network) map[string]interface{} { return nil }

func (s *Scheme) GetSigners(core.Network) []string { return s.signer.GetAddresses() }

func (s *Scheme) parsePayload(payload types.PaymentPayload) (*evm.ExactPayload, error) {
	raw := payload.Payload
	if raw == nil {
		return nil, errors.New("payload is not an object")
	}
	out := &evm.ExactPayload{}
	if sig, ok := raw["signature"].(string); ok {
		out.Signature = sig
	}
	auth, ok := raw["authorization"].(map[string]interface{})
	if !ok {
		return nil, errors.New("missing authorization")
	}
	str := func(key string) string {
		v, _ := auth[key].(string)
		return v
	}
	out.Authorization = evm.ExactAuthorization{
		From: str("from"), To: str("to"), Value: str("value"),
		ValidAfter: str("validAfter"), ValidBefore: str("validBefore"), Nonce: str("nonce"),
	}
	return out, nil
}

// Verify implements the Exact-EVM verify preconditions: scheme/network
// match, payload well-formedness, recipient and amount, unused nonce,
// sufficient balance, and a valid EIP-712 signature.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	network := core.Network(requirements.Network)

	if payload.Accepted.Scheme != evm.SchemeExact {
		return nil, core.NewVerifyError(core.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, core.NewVerifyError(core.ReasonNetworkMismatch, "", network, nil)
	}

	evmPayload, err := s.parsePayload(payload)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, err)
	}
	if evmPayload.Signature == "" {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, errors.New("missing signature"))
	}

	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidChainID, "", network, err)
	}
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, "", network, err)
	}

	if !strings.EqualFold(evmPayload.Authorization.To, requirements.PayTo) {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, evmPayload.Authorization.From, network, errors.New("recipient mismatch"))
	}

	authValue, ok := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	if !ok {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, errors.New("invalid authorization value"))
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, "", network, errors.New("invalid required amount"))
	}
	if authValue.Cmp(requiredValue) < 0 {
		return nil, core.NewVerifyError(core.ReasonInsufficientFunds, evmPayload.Authorization.From, network, nil)
	}

	nonceUsed, err := s.checkNonceUsed(ctx, evmPayload.Authorization.From, evmPayload.Authorization.Nonce, assetInfo.Address)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidTransactionState, evmPayload.Authorization.From, network, err)
	}
	if nonceUsed {
		return nil, core.NewVerifyError(core.ReasonNonceAlreadyUsed, evmPayload.Authorization.From, network, nil)
	}

	balance, err := s.signer.GetBalance(ctx, evmPayload.Authorization.From, assetInfo.Address)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidTransactionState, evmPayload.Authorization.From, network, err)
	}
	if balance.Cmp(authValue) < 0 {
		return nil, core.NewVerifyError(core.ReasonInsufficientFunds, evmPayload.Authorization.From, network, nil)
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

	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, evmPayload.Authorization.From, network, err)
	}

	digest, err := evm.HashExactAuthorization(evmPayload.Authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidTransactionState, evmPayload.Authorization.From, network, err)
	}
	valid, err := evm.VerifyEOASignature(digest, signatureBytes, common.HexToAddress(evmPayload.Authorization.From))
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidSignature, evmPayload.Authorization.From, network, err)
	}
	if !valid {
		return nil, core.NewVerifyError(core.ReasonInvalidSignature, evmPayload.Authorization.From, network, nil)
	}

	return &types.VerifyResponse{IsValid: true, Payer: evmPayload.Authorization.From}, nil
}

// Settle re-verifies and submits transferWithAuthorization on-chain.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	network := core.Network(payload.Accepted.Network)

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		var ve *core.VerifyError
		if errors.As(err, &ve) {
			return nil, core.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, core.NewSettleError(core.ReasonInvalidTransactionState, "", network, "", err)
	}

	evmPayload, err := s.parsePayload(payload)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPayload, verifyResp.Payer, network, "", err)
	}
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPaymentReqs, verifyResp.Payer, network, "", err)
	}
	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil || len(signatureBytes) != 65 {
		return nil, core.NewSettleError(core.ReasonUnsupportedSignatureType, verifyResp.Payer, network, "", err)
	}

	value, _ := new(big.Int).SetString(evmPayload.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(evmPayload.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(evmPayload.Authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(evmPayload.Authorization.Nonce)

	r := signatureBytes[0:32]
	sVal := signatureBytes[32:64]
	v := signatureBytes[64]

	txHash, err := s.signer.WriteContract(
		ctx,
		assetInfo.Address,
		evm.TransferWithAuthorizationABI,
		evm.FunctionTransferWithAuthorization,
		common.HexToAddress(evmPayload.Authorization.From),
		common.HexToAddress(evmPayload.Authorization.To),
		value, validAfter, validBefore,
		[32]byte(nonceBytes), v, [32]byte(r), [32]byte(sVal),
	)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonTransactionFailed, verifyResp.Payer, network, "", err)
	}

	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidTransactionState, verifyResp.Payer, network, txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, core.NewSettleError(core.ReasonTransactionFailed, verifyResp.Payer, network, txHash, nil)
	}

	return &types.SettleResponse{Success: true, Transaction: txHash, Network: string(network), Payer: verifyResp.Payer}, nil
}

func (s *Scheme) checkNonceUsed(ctx context.Context, from, nonce, tokenAddress string) (bool, error) {
	nonceBytes, err := evm.HexToBytes(nonce)
	if err != nil {
		return false, err
	}
	result, err := s.signer.ReadContract(ctx, tokenAddress, evm.AuthorizationStateABI, evm.FunctionAuthorizationState, common.HexToAddress(from), [32]byte(nonceBytes))
	if err != nil {
		return false, err
	}
	used, ok := result.(bool)
	if !ok {
		return false, errors.New("unexpected result type from authorizationState")
	}
	return used, nil
}
