// Package evm holds the EIP-155 mechanism shared by the Exact and Upto
// scheme implementations: typed-data hashing, signer interfaces, network
// and asset configuration, and the ABI fragments both schemes submit
// against. Scheme-specific verify/settle logic lives under
// mechanisms/evm/{exact,upto}.
package evm

import (
	"context"
	"math/big"
)

// Scheme identifiers used in PaymentRequirements.Scheme / PaymentPayload.
const (
	SchemeExact = "exact"
	SchemeUpto  = "upto"
)

// ExactAuthorization is the EIP-3009 TransferWithAuthorization message
// signed by the payer for a single-shot Exact payment.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload is the wire payload carried in PaymentPayload.Payload for
// the Exact scheme.
type ExactPayload struct {
	Signature     string             `json:"signature,omitempty"`
	Authorization ExactAuthorization `json:"authorization"`
}

// ToMap renders an ExactPayload for PaymentPayload.Payload.
func (p *ExactPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
	if p.Signature != "" {
		m["signature"] = p.Signature
	}
	return m
}

// PermitAuthorization is the EIP-2612 Permit message signed by the owner
// for an Upto session: it makes the facilitator the spender, capped at
// Value, until Deadline.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"` // the session cap
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// PermitPayload is the wire payload carried in PaymentPayload.Payload for
// the Upto scheme.
type PermitPayload struct {
	Signature     string               `json:"signature,omitempty"`
	Authorization PermitAuthorization  `json:"authorization"`
}

// ToMap renders a PermitPayload for PaymentPayload.Payload.
func (p *PermitPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"authorization": map[string]interface{}{
			"owner":    p.Authorization.Owner,
			"spender":  p.Authorization.Spender,
			"value":    p.Authorization.Value,
			"nonce":    p.Authorization.Nonce,
			"deadline": p.Authorization.Deadline,
		},
	}
	if p.Signature != "" {
		m["signature"] = p.Signature
	}
	return m
}

// ContractReader is the subset of signer behavior needed to read
// contract state without submitting transactions.
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// ClientSigner is implemented by client-side EVM signers: it produces
// the signatures CreatePaymentPayload embeds in a payload.
type ClientSigner interface {
	Address() string
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// FacilitatorSigner is implemented by facilitator-side EVM signers: it
// reads chain state during verification and submits transactions during
// settlement.
type FacilitatorSigner interface {
	GetAddresses() []string
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField names one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// TransactionReceipt is the subset of an on-chain receipt the schemes need.
type TransactionReceipt struct {
	Status      uint64
	BlockNumber uint64
	TxHash      string
}

// AssetInfo describes an ERC-20 token usable as a payment asset.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig is the per-network chain id and known assets.
type NetworkConfig struct {
	ChainID         *big.Int
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}
