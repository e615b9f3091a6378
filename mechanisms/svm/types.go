// Package svm holds the Solana mechanism shared by the Exact scheme's
// client and facilitator implementations: payload shape, signer
// interfaces, and network/asset configuration. Scheme-specific
// verify/settle logic lives under mechanisms/svm/exact.
package svm

import (
	"context"
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// SchemeExact is the scheme identifier for Solana exact payments.
const SchemeExact = "exact"

// ExactPayload is the wire payload carried in PaymentPayload.Payload: a
// fully or partially signed, base64-encoded Solana transaction.
type ExactPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap renders an ExactPayload for PaymentPayload.Payload.
func (p *ExactPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{"transaction": p.Transaction}
}

// PayloadFromMap rebuilds an ExactPayload from PaymentPayload.Payload.
func PayloadFromMap(data map[string]interface{}) (*ExactPayload, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload data: %w", err)
	}
	var payload ExactPayload
	if err := json.Unmarshal(jsonBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.Transaction == "" {
		return nil, fmt.Errorf("missing transaction field in payload")
	}
	return &payload, nil
}

// ClientSigner is implemented by client-side Solana signers: it
// partially signs the transaction CreatePaymentPayload builds, leaving
// the fee-payer signature slot for the facilitator.
type ClientSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSigner is implemented by facilitator-side Solana signers.
// Multiple fee-payer addresses may be available per network for load
// balancing and key rotation; GetAddresses lets a scheme pick one to
// quote in GetExtra and verify the client countersigned against it.
type FacilitatorSigner interface {
	GetAddresses(ctx context.Context, network string) []solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}

// AssetInfo describes an SPL token usable as a payment asset.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig is the per-network RPC endpoint and default asset.
type NetworkConfig struct {
	Name         string
	CAIP2        string
	RPCURL       string
	DefaultAsset AssetInfo
}

// ClientConfig optionally overrides a client scheme's RPC endpoint.
type ClientConfig struct {
	RPCURL string
}
