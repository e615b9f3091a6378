package svm

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402svm "github.com/x402proto/facilitator/mechanisms/svm"
)

// FacilitatorSigner implements x402svm.FacilitatorSigner with a pool of
// fee-payer keys, one RPC client per network accessed. Holding more than
// one key lets the facilitator spread fee-payer load and rotate keys
// without downtime; GetAddresses reports the whole pool and the scheme
// picks one to quote, SignTransaction looks up the matching key.
type FacilitatorSigner struct {
	keys       map[solana.PublicKey]solana.PrivateKey
	addresses  []solana.PublicKey
	rpcURL     string
	rpcClients map[string]*rpc.Client
}

// NewFacilitatorSigner builds a FacilitatorSigner from one or more
// base58-encoded Solana private keys. rpcURL overrides the per-network
// default RPC endpoint when non-empty.
func NewFacilitatorSigner(privateKeysBase58 []string, rpcURL string) (*FacilitatorSigner, error) {
	if len(privateKeysBase58) == 0 {
		return nil, fmt.Errorf("at least one fee-payer private key is required")
	}
	keys := make(map[solana.PublicKey]solana.PrivateKey, len(privateKeysBase58))
	addresses := make([]solana.PublicKey, 0, len(privateKeysBase58))
	for _, raw := range privateKeysBase58 {
		privateKey, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid fee-payer private key: %w", err)
		}
		pub := privateKey.PublicKey()
		if _, exists := keys[pub]; exists {
			continue
		}
		keys[pub] = privateKey
		addresses = append(addresses, pub)
	}
	return &FacilitatorSigner{
		keys:       keys,
		addresses:  addresses,
		rpcURL:     rpcURL,
		rpcClients: make(map[string]*rpc.Client),
	}, nil
}

// GetAddresses returns the facilitator's fee-payer pool, in randomized
// order so repeated calls spread load across keys.
func (s *FacilitatorSigner) GetAddresses(ctx context.Context, network string) []solana.PublicKey {
	shuffled := make([]solana.PublicKey, len(s.addresses))
	copy(shuffled, s.addresses)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled
}

func (s *FacilitatorSigner) getRPC(network string) (*rpc.Client, error) {
	if client, ok := s.rpcClients[network]; ok {
		return client, nil
	}
	url := s.rpcURL
	if url == "" {
		config, err := x402svm.GetNetworkConfig(network)
		if err != nil {
			return nil, err
		}
		url = config.RPCURL
	}
	client := rpc.New(url)
	s.rpcClients[network] = client
	return client, nil
}

func (s *FacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	privateKey, ok := s.keys[feePayer]
	if !ok {
		return fmt.Errorf("no signer for fee payer %s", feePayer)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(feePayer)
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

func (s *FacilitatorSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	rpcClient, err := s.getRPC(network)
	if err != nil {
		return err
	}

	opts := rpc.SimulateTransactionOpts{
		SigVerify:              true,
		ReplaceRecentBlockhash: false,
		Commitment:             x402svm.DefaultCommitment,
	}
	simResult, err := rpcClient.SimulateTransactionWithOpts(ctx, tx, &opts)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	if simResult != nil && simResult.Value != nil && simResult.Value.Err != nil {
		return fmt.Errorf("simulation failed: transaction would fail on-chain")
	}
	return nil
}

func (s *FacilitatorSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	rpcClient, err := s.getRPC(network)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: x402svm.DefaultCommitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

func (s *FacilitatorSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	rpcClient, err := s.getRPC(network)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < x402svm.MaxConfirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		statuses, err := rpcClient.GetSignatureStatuses(ctx, true, signature)
		if err == nil && statuses != nil && statuses.Value != nil && len(statuses.Value) > 0 {
			status := statuses.Value[0]
			if status != nil {
				if status.Err != nil {
					return fmt.Errorf("transaction failed on-chain")
				}
				if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
					status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(x402svm.ConfirmRetryDelay):
		}
	}

	return fmt.Errorf("transaction confirmation timed out after %d attempts", x402svm.MaxConfirmAttempts)
}
