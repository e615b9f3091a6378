// Package client implements the Exact scheme's client side for Starknet
// networks: it builds a SNIP-12 typed-data transfer message and has the
// account signer produce a signature over it.
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	starknet "github.com/x402proto/facilitator/mechanisms/starknet"
	"github.com/x402proto/facilitator/types"
)

// Scheme implements core.SchemeClient for Starknet Exact payments.
type Scheme struct {
	signer starknet.ClientSigner
}

// New builds an Exact-Starknet client scheme signing with signer.
func New(signer starknet.ClientSigner) *Scheme {
	return &Scheme{signer: signer}
}

func (c *Scheme) Scheme() string { return starknet.SchemeExact }

// CreatePaymentPayload builds a transfer typed-data message for
// requirements and signs it with the account signer.
func (c *Scheme) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	if !starknet.IsValidNetwork(requirements.Network) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	_, chainRef, ok := splitNetwork(requirements.Network)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("malformed network: %s", requirements.Network)
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 3600
	}
	expiry := time.Now().Add(time.Duration(timeout) * time.Second).Unix()

	nonce, err := createNonce()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to create nonce: %w", err)
	}

	typedData := starknet.BuildTransferTypedData(chainRef, requirements.Asset, requirements.PayTo, requirements.Amount, expiry, nonce)

	signature, err := c.signer.SignTypedData(ctx, typedData)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign typed data: %w", err)
	}

	payload := &starknet.ExactPayload{
		TypedData: typedData,
		Signature: signature,
		Address:   c.signer.Address(),
	}

	return types.PaymentPayload{
		X402Version: 2,
		Payload:     payload.ToMap(),
	}, nil
}

func splitNetwork(network string) (namespace, reference string, ok bool) {
	for i := 0; i < len(network); i++ {
		if network[i] == ':' {
			return network[:i], network[i+1:], true
		}
	}
	return "", "", false
}

func createNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}
