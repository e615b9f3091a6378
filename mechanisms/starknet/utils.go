package starknet

import (
	"fmt"
	"regexp"
)

var starknetAddressRegex = regexp.MustCompile(`^0x0[0-9a-fA-F]{1,63}$`)

// IsValidNetwork reports whether network is a known canonical CAIP-2
// Starknet network identifier.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the default asset for a canonical CAIP-2
// Starknet network identifier.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported Starknet network: %s", network)
	}
	return &config, nil
}

// GetAssetInfo resolves a requirements.Asset (an ERC-20 contract address)
// against a network's configuration.
func GetAssetInfo(network string, assetAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if !ValidateStarknetAddress(assetAddress) {
		return &config.DefaultAsset, nil
	}
	if assetAddress == config.DefaultAsset.Address {
		return &config.DefaultAsset, nil
	}
	return &AssetInfo{Address: assetAddress, Symbol: "UNKNOWN", Decimals: DefaultDecimals}, nil
}

// ValidateStarknetAddress checks if a string is a plausible 0x-prefixed
// Starknet felt address.
func ValidateStarknetAddress(address string) bool {
	return starknetAddressRegex.MatchString(address)
}

// BuildTransferTypedData constructs the SNIP-12 typed-data message for a
// sponsored token transfer: a "StarknetDomain" plus a "Transfer" struct
// naming the token, recipient, amount, and expiry.
func BuildTransferTypedData(chainID, token, recipient, amount string, expiry int64, nonce string) map[string]interface{} {
	return map[string]interface{}{
		"types": map[string]interface{}{
			"StarknetDomain": []map[string]string{
				{"name": "name", "type": "shortstring"},
				{"name": "version", "type": "shortstring"},
				{"name": "chainId", "type": "shortstring"},
				{"name": "revision", "type": "shortstring"},
			},
			"Transfer": []map[string]string{
				{"name": "token", "type": "ContractAddress"},
				{"name": "recipient", "type": "ContractAddress"},
				{"name": "amount", "type": "u256"},
				{"name": "expiry", "type": "u128"},
				{"name": "nonce", "type": "felt"},
			},
		},
		"primaryType": "Transfer",
		"domain": map[string]interface{}{
			"name":     "t402",
			"version":  "1",
			"chainId":  chainID,
			"revision": DomainRevision,
		},
		"message": map[string]interface{}{
			"token":     token,
			"recipient": recipient,
			"amount":    amount,
			"expiry":    expiry,
			"nonce":     nonce,
		},
	}
}
