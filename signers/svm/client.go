// Package svm provides concrete Solana signer implementations backed by
// gagliardetto/solana-go: an Ed25519 key pair for the client side, and
// an RPC-connected, multi-key fee-payer pool for the facilitator side.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/x402proto/facilitator/mechanisms/svm"
)

// ClientSigner implements svm.ClientSigner using a single Ed25519
// private key.
type ClientSigner struct {
	privateKey solana.PrivateKey
}

// NewClientSignerFromPrivateKey builds a ClientSigner from a
// base58-encoded Solana private key.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (x402svm.ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ClientSigner{privateKey: privateKey}, nil
}

func (s *ClientSigner) Address() solana.PublicKey { return s.privateKey.PublicKey() }

// SignTransaction partially signs tx, placing the signature at the
// account index matching this signer's public key.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	signature, err := s.privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature
	return nil
}
