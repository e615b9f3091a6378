package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// GetNetworkConfig returns the chain id and default asset for a CAIP-2
// eip155 network identifier.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("unsupported network: %s", network)
}

// GetAssetInfo resolves a requirements.Asset (an address) against a
// network's configuration, falling back to the network's default asset
// when the address matches it and to a conservative 18-decimal unknown
// token otherwise.
func GetAssetInfo(network string, assetAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if NormalizeAddress(assetAddress) == NormalizeAddress(config.DefaultAsset.Address) {
		return &config.DefaultAsset, nil
	}
	return &AssetInfo{Address: NormalizeAddress(assetAddress), Name: "Unknown Token", Version: "1", Decimals: 18}, nil
}

// CreateNonce generates a random 32-byte EIP-3009 nonce.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce), nil
}

// NormalizeAddress lowercases and 0x-prefixes an address for comparison.
func NormalizeAddress(address string) string {
	return "0x" + strings.TrimPrefix(strings.ToLower(address), "0x")
}

// IsValidAddress reports whether address is 20 bytes of hex.
func IsValidAddress(address string) bool {
	addr := strings.TrimPrefix(address, "0x")
	if len(addr) != 40 {
		return false
	}
	_, err := hex.DecodeString(addr)
	return err == nil
}

// CreateValidityWindow returns an Exact authorization's [validAfter,
// validBefore) window, backdated 30s for clock skew.
func CreateValidityWindow(duration time.Duration) (validAfter, validBefore *big.Int) {
	now := time.Now().Unix()
	return big.NewInt(now - 30), big.NewInt(now + int64(duration.Seconds()))
}

// HexToBytes decodes a 0x-prefixed or bare hex string.
func HexToBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
