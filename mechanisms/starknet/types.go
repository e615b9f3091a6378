// Package starknet holds the Starknet mechanism shared by the Exact
// scheme's client and facilitator implementations: payload shape, signer
// abstractions, and paymaster network configuration. No example repo in
// the retrieved pack implements Starknet support; this package is built
// from the scheme shape the EVM and SVM mechanisms establish, targeted
// at Starknet's SNIP-12 typed data and paymaster settlement model.
package starknet

import (
	"context"
	"encoding/json"
	"fmt"
)

// SchemeExact is the scheme identifier for Starknet exact payments.
const SchemeExact = "exact"

// ExactPayload is the wire payload carried in PaymentPayload.Payload: a
// SNIP-12 typed-data message, its signature (an array of felt strings),
// and the signing account's address.
type ExactPayload struct {
	TypedData map[string]interface{} `json:"typedData"`
	Signature []string               `json:"signature"`
	Address   string                 `json:"address"`
}

// ToMap renders an ExactPayload for PaymentPayload.Payload.
func (p *ExactPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"typedData": p.TypedData,
		"signature": p.Signature,
		"address":   p.Address,
	}
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
	if payload.TypedData == nil {
		return nil, fmt.Errorf("missing typedData field in payload")
	}
	if len(payload.Signature) == 0 {
		return nil, fmt.Errorf("missing signature field in payload")
	}
	if payload.Address == "" {
		return nil, fmt.Errorf("missing address field in payload")
	}
	return &payload, nil
}

// ClientSigner is implemented by client-side Starknet account signers.
type ClientSigner interface {
	// Address is the signing account's Starknet address, 0x-prefixed hex.
	Address() string
	// SignTypedData signs a SNIP-12 typed-data message, returning the
	// signature as an array of felt strings (r, s for a standard account).
	SignTypedData(ctx context.Context, typedData map[string]interface{}) ([]string, error)
}

// Provider is implemented by a Starknet RPC/paymaster-connected backend
// used by the facilitator: it verifies an account's typed-data signature
// and submits the sponsored transaction through the paymaster.
type Provider interface {
	// VerifyTypedDataSignature checks that signature authorizes typedData
	// for the account at address.
	VerifyTypedDataSignature(ctx context.Context, address string, typedData map[string]interface{}, signature []string) (bool, error)

	// SubmitPaymasterTransaction submits typedData+signature for account
	// through the paymaster endpoint for network, returning a transaction
	// hash once accepted.
	SubmitPaymasterTransaction(ctx context.Context, network string, address string, typedData map[string]interface{}, signature []string) (string, error)

	// WaitForTransaction blocks until txHash is confirmed on network or
	// ctx is done.
	WaitForTransaction(ctx context.Context, network string, txHash string) error
}

// PaymasterConfig names the sponsor and paymaster endpoint for one
// Starknet network.
type PaymasterConfig struct {
	Network          string
	SponsorAddress   string
	PaymasterURL     string
	PaymasterAPIKey  string
}

// AssetInfo describes an ERC-20-on-Starknet token usable as a payment
// asset.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}
