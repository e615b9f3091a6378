package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/x402proto/facilitator/mechanisms/evm"
)

// FacilitatorSigner implements x402evm.FacilitatorSigner over a pool of
// ECDSA keys, round-robined across settlement calls for load balancing
// and key rotation.
type FacilitatorSigner struct {
	ethClient *ethclient.Client
	keys      []*ecdsa.PrivateKey
	addresses []common.Address
	next      uint64
}

// NewFacilitatorSigner connects to rpcURL and loads one or more
// hex-encoded private keys for settlement.
func NewFacilitatorSigner(rpcURL string, privateKeyHexes ...string) (*FacilitatorSigner, error) {
	if len(privateKeyHexes) == 0 {
		return nil, fmt.Errorf("at least one private key is required")
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	s := &FacilitatorSigner{ethClient: client}
	for _, hexKey := range privateKeyHexes {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		s.keys = append(s.keys, key)
		s.addresses = append(s.addresses, crypto.PubkeyToAddress(key.PublicKey))
	}
	return s, nil
}

// GetAddresses returns every address this signer can settle from.
func (s *FacilitatorSigner) GetAddresses() []string {
	out := make([]string, len(s.addresses))
	for i, addr := range s.addresses {
		out[i] = addr.Hex()
	}
	return out
}

func (s *FacilitatorSigner) nextKey() (*ecdsa.PrivateKey, common.Address) {
	i := atomic.AddUint64(&s.next, 1) % uint64(len(s.keys))
	return s.keys[i], s.addresses[i]
}

// ReadContract packs and calls a read-only contract method.
func (s *FacilitatorSigner) ReadContract(ctx context.Context, contractAddress string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}
	to := common.HexToAddress(contractAddress)
	resultBytes, err := s.ethClient.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(unpacked) == 1 {
		return unpacked[0], nil
	}
	return unpacked, nil
}

// WriteContract packs, signs, and submits a contract transaction using
// the next key in rotation, returning the transaction hash.
func (s *FacilitatorSigner) WriteContract(ctx context.Context, contractAddress string, abiJSON []byte, functionName string, args ...interface{}) (string, error) {
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}
	return s.submit(ctx, contractAddress, data)
}

func (s *FacilitatorSigner) submit(ctx context.Context, to string, data []byte) (string, error) {
	key, from := s.nextKey()
	toAddr := common.HexToAddress(to)

	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := s.ethClient.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gasLimit, err := s.ethClient.EstimateGas(ctx, geth.CallMsg{From: from, To: &toAddr, Data: data})
	if err != nil {
		gasLimit = 300_000
	} else {
		gasLimit = gasLimit * 12 / 10
	}

	tx := types.NewTransaction(nonce, toAddr, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until txHash is mined or ctx is done.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
			if err != nil {
				if err == geth.NotFound {
					continue
				}
				return nil, err
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
	}
}

// GetBalance returns an address's ERC-20 balance of tokenAddress.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	balanceABI := []byte(`[{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
	result, err := s.ReadContract(ctx, tokenAddress, balanceABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type")
	}
	return balance, nil
}

// GetCode returns the bytecode deployed at address, empty for an EOA.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.ethClient.CodeAt(ctx, common.HexToAddress(address), nil)
}
