package svm

import (
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultCommitment is the confirmation level used for simulation,
// submission, and status polling.
const DefaultCommitment = rpc.CommitmentConfirmed

const (
	DefaultDecimals = 6

	// DefaultComputeUnitPriceMicrolamports is the priority fee the
	// client attaches by default.
	DefaultComputeUnitPriceMicrolamports = 1

	// MaxComputeUnitPriceMicrolamports bounds the priority fee the
	// facilitator will accept (5 lamports/CU).
	MaxComputeUnitPriceMicrolamports = 5_000_000

	DefaultComputeUnitLimit uint32 = 8000

	MaxConfirmAttempts = 30
	ConfirmRetryDelay  = 1 * time.Second

	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"

	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// NetworkConfigs maps CAIP-2 Solana network identifiers to RPC endpoint
// and default asset.
var NetworkConfigs = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {
		Name: "Solana Mainnet", CAIP2: SolanaMainnetCAIP2,
		RPCURL:       "https://api.mainnet-beta.solana.com",
		DefaultAsset: AssetInfo{Address: USDCMainnetAddress, Symbol: "USDC", Decimals: DefaultDecimals},
	},
	SolanaDevnetCAIP2: {
		Name: "Solana Devnet", CAIP2: SolanaDevnetCAIP2,
		RPCURL:       "https://api.devnet.solana.com",
		DefaultAsset: AssetInfo{Address: USDCDevnetAddress, Symbol: "USDC", Decimals: DefaultDecimals},
	},
}
