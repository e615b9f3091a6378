// Package facilitator implements the Upto scheme's facilitator side for
// EIP-155 networks: an EIP-2612 Permit grants the facilitator an
// allowance, which per-request settlements draw down via transferFrom.
package facilitator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	evm "github.com/x402proto/facilitator/mechanisms/evm"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

// deadlineBufferSeconds is the minimum slack a permit's deadline must
// have over wall-clock time to still be accepted (spec.md §4.2 #8).
const deadlineBufferSeconds = 6

// Scheme implements core.SchemeFacilitator for EVM Upto payments. Verify
// validates the permit without touching chain state; Settle submits the
// permit when the allowance is short and draws the requested amount from
// that allowance via transferFrom. Session
// accounting itself lives in the upto package — this scheme is what the
// sweeper and the dispatch engine call into.
type Scheme struct {
	signer evm.FacilitatorSigner
}

// New builds an Upto-EVM facilitator scheme against signer.
func New(signer evm.FacilitatorSigner) *Scheme {
	return &Scheme{signer: signer}
}

func (s *Scheme) Scheme() string     { return evm.SchemeUpto }
func (s *Scheme) CaipFamily() string { return "eip155:*" }

func (s *Scheme) GetExtra(core.Network) map[string]interface{} { return nil }
func (s *Scheme) GetSigners(core.Network) []string              { return s.signer.GetAddresses() }

func (s *Scheme) parsePayload(payload types.PaymentPayload) (*evm.PermitPayload, error) {
	raw := payload.Payload
	if raw == nil {
		return nil, errors.New("payload is not an object")
	}
	out := &evm.PermitPayload{}
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
	out.Authorization = evm.PermitAuthorization{
		Owner: str("owner"), Spender: str("spender"), Value: str("value"),
		Nonce: str("nonce"), Deadline: str("deadline"),
	}
	return out, nil
}

// parseBigOrZero parses s as a base-10 integer, treating an empty or
// malformed string as 0 per spec.md §4.2's parsing rule rather than
// failing the request outright.
func parseBigOrZero(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}

// parseExtraAmount reads a maxAmountRequired/maxAmount style value out of
// a requirements.Extra map, which may arrive as a decimal string or a
// JSON number.
func parseExtraAmount(v interface{}) (*big.Int, bool) {
	switch t := v.(type) {
	case string:
		return new(big.Int).SetString(t, 10)
	case float64:
		return new(big.Int).SetInt64(int64(t)), true
	default:
		return nil, false
	}
}

// Verify validates a Permit authorization following spec.md §4.2's ten
// ordered preconditions: scheme/network match, well-formed payload, an
// EIP-712 domain, the facilitator named as spender, a cap that covers
// both the requirements' amount and any declared max, an unexpired
// deadline, a resolvable chain id, and a recovering EIP-712 signature.
func (s *Scheme) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	network := core.Network(requirements.Network)

	// 1. unsupported_scheme
	if payload.Accepted.Scheme != evm.SchemeUpto {
		return nil, core.NewVerifyError(core.ReasonUnsupportedScheme, "", network, nil)
	}

	// 2. invalid_upto_evm_payload
	permitPayload, err := s.parsePayload(payload)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidUptoEvmPayload, "", network, err)
	}
	auth := permitPayload.Authorization
	if permitPayload.Signature == "" || auth.Owner == "" || auth.Spender == "" || auth.Nonce == "" || auth.Deadline == "" {
		return nil, core.NewVerifyError(core.ReasonInvalidUptoEvmPayload, auth.Owner, network, errors.New("missing authorization fields"))
	}

	// 3. network_mismatch
	if payload.Accepted.Network != requirements.Network {
		return nil, core.NewVerifyError(core.ReasonNetworkMismatch, "", network, nil)
	}

	// 4. missing_eip712_domain
	var tokenName, tokenVersion string
	if requirements.Extra != nil {
		tokenName, _ = requirements.Extra["name"].(string)
		tokenVersion, _ = requirements.Extra["version"].(string)
	}
	if tokenName == "" || tokenVersion == "" {
		return nil, core.NewVerifyError(core.ReasonMissingEIP712Domain, auth.Owner, network, nil)
	}

	// 5. spender_not_facilitator
	matchesSpender := false
	for _, addr := range s.signer.GetAddresses() {
		if strings.EqualFold(addr, auth.Spender) {
			matchesSpender = true
			break
		}
	}
	if !matchesSpender {
		return nil, core.NewVerifyError(core.ReasonSpenderNotFacilitator, auth.Owner, network, nil)
	}

	requiredMax, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, "", network, errors.New("invalid required amount"))
	}

	// 6. cap_too_low — an empty or malformed value parses as 0, which
	// this comparison catches.
	cap := parseBigOrZero(auth.Value)
	if cap.Cmp(requiredMax) < 0 {
		return nil, core.NewVerifyError(core.ReasonCapTooLow, auth.Owner, network, nil)
	}

	// 7. cap_below_required_max
	if requirements.Extra != nil {
		maxField, declared := requirements.Extra["maxAmountRequired"]
		if !declared {
			maxField, declared = requirements.Extra["maxAmount"]
		}
		if declared {
			requiredDeclaredMax, parsed := parseExtraAmount(maxField)
			if !parsed {
				return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, auth.Owner, network, errors.New("invalid maxAmountRequired"))
			}
			if cap.Cmp(requiredDeclaredMax) < 0 {
				return nil, core.NewVerifyError(core.ReasonCapBelowRequiredMax, auth.Owner, network, nil)
			}
		}
	}

	// 8. authorization_expired — deadline must be at least 6s out.
	deadline := parseBigOrZero(auth.Deadline)
	now := big.NewInt(time.Now().Unix())
	if deadline.Cmp(new(big.Int).Add(now, big.NewInt(deadlineBufferSeconds))) < 0 {
		return nil, core.NewVerifyError(core.ReasonAuthorizationExpired, auth.Owner, network, nil)
	}

	// 9. invalid_chain_id
	config, err := evm.GetNetworkConfig(requirements.Network)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidChainID, auth.Owner, network, err)
	}
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPaymentReqs, auth.Owner, network, err)
	}

	// 10. invalid_permit_signature
	signatureBytes, err := evm.HexToBytes(permitPayload.Signature)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPermitSignature, auth.Owner, network, err)
	}
	digest, err := evm.HashPermit(auth, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidTransactionState, auth.Owner, network, err)
	}
	valid, err := evm.VerifyEOASignature(digest, signatureBytes, common.HexToAddress(auth.Owner))
	if err != nil {
		return nil, core.NewVerifyError(core.ReasonInvalidPermitSignature, auth.Owner, network, err)
	}
	if !valid {
		return nil, core.NewVerifyError(core.ReasonInvalidPermitSignature, auth.Owner, network, nil)
	}

	return &types.VerifyResponse{IsValid: true, Payer: auth.Owner}, nil
}

// Settle draws requirements.Amount from the session owner's allowance via
// transferFrom, first submitting the permit if the session has not yet
// granted allowance (allowance below the requested amount) and falling
// back to a direct allowance check when the permit has already landed.
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

	permitPayload, err := s.parsePayload(payload)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPayload, verifyResp.Payer, network, "", err)
	}
	assetInfo, err := evm.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidPaymentReqs, verifyResp.Payer, network, "", err)
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, core.NewSettleError(core.ReasonInvalidPaymentReqs, verifyResp.Payer, network, "", errors.New("invalid settlement amount"))
	}

	owner := common.HexToAddress(permitPayload.Authorization.Owner)
	spender := common.HexToAddress(permitPayload.Authorization.Spender)

	allowance, err := s.readAllowance(ctx, assetInfo.Address, owner, spender)
	if err != nil {
		return nil, core.NewSettleError(core.ReasonInvalidTransactionState, verifyResp.Payer, network, "", err)
	}

	if allowance.Cmp(amount) < 0 {
		if err := s.submitPermit(ctx, assetInfo.Address, permitPayload); err != nil {
			return nil, core.NewSettleError(core.ReasonPermitFailed, verifyResp.Payer, network, "", err)
		}
		allowance, err = s.readAllowance(ctx, assetInfo.Address, owner, spender)
		if err != nil {
			return nil, core.NewSettleError(core.ReasonInvalidTransactionState, verifyResp.Payer, network, "", err)
		}
		if allowance.Cmp(amount) < 0 {
			return nil, core.NewSettleError(core.ReasonInsufficientAllowance, verifyResp.Payer, network, "", nil)
		}
	}

	txHash, err := s.signer.WriteContract(
		ctx, assetInfo.Address, evm.TransferFromABI, evm.FunctionTransferFrom,
		owner, common.HexToAddress(requirements.PayTo), amount,
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

func (s *Scheme) readAllowance(ctx context.Context, token string, owner, spender common.Address) (*big.Int, error) {
	result, err := s.signer.ReadContract(ctx, token, evm.AllowanceABI, evm.FunctionAllowance, owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, ok := result.(*big.Int)
	if !ok {
		return nil, errors.New("unexpected allowance result type")
	}
	return allowance, nil
}

func (s *Scheme) submitPermit(ctx context.Context, token string, permitPayload *evm.PermitPayload) error {
	signatureBytes, err := evm.HexToBytes(permitPayload.Signature)
	if err != nil || len(signatureBytes) != 65 {
		return errors.New("malformed permit signature")
	}
	value, _ := new(big.Int).SetString(permitPayload.Authorization.Value, 10)
	deadline, _ := new(big.Int).SetString(permitPayload.Authorization.Deadline, 10)
	r := signatureBytes[0:32]
	sVal := signatureBytes[32:64]
	v := signatureBytes[64]

	_, err = s.signer.WriteContract(
		ctx, token, evm.PermitABI, evm.FunctionPermit,
		common.HexToAddress(permitPayload.Authorization.Owner),
		common.HexToAddress(permitPayload.Authorization.Spender),
		value, deadline, v, [32]byte(r), [32]byte(sVal),
	)
	return err
}
