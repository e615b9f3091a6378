package starknet

const (
	DefaultDecimals = 6

	// Canonical CAIP-2 identifiers (see core.CanonicalizeNetwork for the
	// legacy SN_MAIN/SN_SEPOLIA <-> canonical conversion).
	MainnetCAIP2 = "starknet:0x534e5f4d41494e"
	SepoliaCAIP2 = "starknet:0x534e5f5345504f4c4941"

	USDCMainnetAddress = "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a"
	USDCSepoliaAddress = "0x02f0c02f5fb0b9e7e0b4acbd0de1bd6f01d5e3afb32cdc9396fbe08c7f3cd7aa"

	// DomainRevision is the SNIP-12 domain revision this facilitator signs
	// against.
	DomainRevision = "1"
)

// NetworkConfig is the per-network paymaster endpoint and default asset.
type NetworkConfig struct {
	Name         string
	CAIP2        string
	DefaultAsset AssetInfo
}

// NetworkConfigs maps canonical CAIP-2 Starknet network identifiers to
// their default asset.
var NetworkConfigs = map[string]NetworkConfig{
	MainnetCAIP2: {
		Name: "Starknet Mainnet", CAIP2: MainnetCAIP2,
		DefaultAsset: AssetInfo{Address: USDCMainnetAddress, Symbol: "USDC", Decimals: DefaultDecimals},
	},
	SepoliaCAIP2: {
		Name: "Starknet Sepolia", CAIP2: SepoliaCAIP2,
		DefaultAsset: AssetInfo{Address: USDCSepoliaAddress, Symbol: "USDC", Decimals: DefaultDecimals},
	},
}
