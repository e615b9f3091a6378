// Package facilitator implements the Exact scheme's facilitator side for
// Starknet networks: it verifies a SNIP-12 typed-data signature and
// settles by submitting the signed transfer through a sponsor paymaster.
package facilitator

import (
	"context"
	"errors"
	"strconv"

	starknet "github.com/x402proto/facilitator/mechanisms/starknet"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

// Scheme implements core.SchemeFacilitator for Starknet Exact payments.
type Scheme struct {
	provider starknet.Provider
	configs  map[string]starknet.PaymasterConfig
}

// New builds an Exact-Starknet facilitator scheme against provider, with
// one PaymasterConfig per canonical CAIP-2 network it serves.
func New(provider starknet.Provider, configs map[string]starknet.PaymasterConfig) *Scheme {
	return &Scheme{provider: provider, configs: configs}
}

func (s *Scheme) Scheme() string     { return starknet.SchemeExact }
func (s *Scheme) CaipFamily() string { return "starknet:*" }

// GetExtra surfaces the sponsor address and paymaster endpoint for
// network so clients know who is footing gas.
func (s *Scheme) GetExtra(network core.Network) map[string]interface{} {
	config, ok := s.configs[string(core.CanonicalizeNetwork(network))]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"sponsor":          config.SponsorAddress,
		"paymasterEndpoint": config.PaymasterURL,
	}
}

func (s *Scheme) GetSigners(network core.Network) []string {
	config, ok := s.configs[string(core.CanonicalizeNetwork(network))]
	if !ok || config.SponsorAddress == "" {
		return nil
	}
	return []string{config.SponsorAddress}
}

// Verify checks scheme/network match, parses the typed-data payload, and
// confirms the account's signature authorizes it.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	network := core.Network(requirements.Network)

	if payload.Accepted.Scheme != starknet.SchemeExact || requirements.Scheme != starknet.SchemeExact {
		return nil, core.NewVerifyError(core.ReasonUnsupportedScheme, "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, core.NewVerifyError(core.ReasonNetworkMismatch, "", network, nil)
	}

	starknetPayload, err := starknet.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, "", network, err)
	}

	message, ok := starknetPayload.TypedData["message"].(map[string]interface{})
	if !ok {
		return nil, core.NewVerifyError(core.ReasonInvalidPayload, starknetPayload.Address, network, errors.New("typedData missing message"))
	}
	if token, _ := message["token"].(string); token != requirements.Asset {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, starknetPayload.Address, network, errors.New("asset mismatch"))
	}
	if recipient, _ := message["recipient"].(string); recipient != requirements.PayTo {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, starknetPayload.Address, network, errors.New("recipient mismatch"))
	}
	amountStr, _ := message["amount"].(string)
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, starknetPayload.Address, network, errors.New("invalid amount"))
	}
	requiredAmount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil || amount < requiredAmount {
		return nil, core.NewVerifyError(core.ReasonInsufficientFunds, starknetPayload.Address, network, nil)
	}

	valid, err := s.provider.VerifyTypedDataSignature(ctx, starknetPayload.Address, starknetPayload.TypedData, starknetPayload.Signature)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidSignature, starknetPayload.Address, network, err)
	}
	if !valid {
		return nil, core.NewVerifyError(core.ReasonInvalidSignature, starknetPayload.Address, network, nil)
	}

	return &types.VerifyResponse{IsValid: true, Payer: starknetPayload.Address}, nil
}

// Settle re-verifies, then submits the signed transfer through the
// network's paymaster and waits for confirmation. The response's
// network field is rewritten to the legacy CAIP form, matching what
// clients that pre-date the canonical identifiers expect to see echoed
// back.
func (s *Scheme) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	network := core.Network(requirements.Network)

	verifyResp, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		var ve *core.VerifyError
		if errors.As(err, &ve) {
			return nil, core.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, core.NewSettleError(core.ReasonUnsupportedScheme, "", network, "", err)
	}

	starknetPayload, err := starknet.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPayload, verifyResp.Payer, network, "", err)
	}

	canonical := core.CanonicalizeNetwork(network)
	if _, ok := s.configs[string(canonical)]; !ok {
		return nil, core.NewSettleError(core.ReasonNetworkMismatch, verifyResp.Payer, network, "", nil)
	}

	txHash, err := s.provider.SubmitPaymasterTransaction(ctx, string(canonical), starknetPayload.Address, starknetPayload.TypedData, starknetPayload.Signature)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonTransactionFailed, verifyResp.Payer, network, "", err)
	}

	if err := s.provider.WaitForTransaction(ctx, string(canonical), txHash); err != nil {
		return nil, core.NewSettleError(core.ReasonConfirmationFailed, verifyResp.Payer, network, txHash, err)
	}

	return &types.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     string(core.LegacyStarknetNetwork(network)),
		Payer:       verifyResp.Payer,
	}, nil
}
