package evm

import "math/big"

const (
	DefaultDecimals = 6

	FunctionTransferWithAuthorization = "transferWithAuthorization"
	FunctionAuthorizationState        = "authorizationState"
	FunctionPermit                    = "permit"
	FunctionTransferFrom              = "transferFrom"
	FunctionAllowance                 = "allowance"
	FunctionNonces                    = "nonces"

	TxStatusSuccess uint64 = 1

	DefaultValidityPeriod = 3600 // seconds, Exact authorization window
)

var (
	ChainIDMainnet     = big.NewInt(1)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// NetworkConfigs maps CAIP-2 EIP-155 network identifiers to the chain
	// id and USDC asset info the facilitator accepts by default.
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1": {
			ChainID: ChainIDMainnet,
			DefaultAsset: AssetInfo{
				Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Name:    "USD Coin", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:8453": {
			ChainID: ChainIDBase,
			DefaultAsset: AssetInfo{
				Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Name:    "USD Coin", Version: "2", Decimals: DefaultDecimals,
			},
		},
		"eip155:84532": {
			ChainID: ChainIDBaseSepolia,
			DefaultAsset: AssetInfo{
				Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				Name:    "USDC", Version: "2", Decimals: DefaultDecimals,
			},
		},
	}

	// TransferWithAuthorizationABI matches EIP-3009, the Exact scheme's
	// settlement call.
	TransferWithAuthorizationABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// AuthorizationStateABI matches EIP-3009's nonce-used lookup.
	AuthorizationStateABI = []byte(`[
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// PermitABI matches EIP-2612's permit, used to register the
	// facilitator as an Upto session's allowance spender.
	PermitABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "deadline", "type": "uint256"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "permit",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// TransferFromABI is the ERC-20 call the Upto scheme settles each
	// batch with once the permit has granted allowance.
	TransferFromABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"}
			],
			"name": "transferFrom",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// AllowanceABI lets the facilitator check remaining allowance before
	// falling back to a fresh permit call.
	AllowanceABI = []byte(`[
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// NoncesABI reads an owner's current EIP-2612 permit nonce.
	NoncesABI = []byte(`[
		{
			"inputs": [{"name": "owner", "type": "address"}],
			"name": "nonces",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
