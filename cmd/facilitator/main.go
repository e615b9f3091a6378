// Command facilitator runs the t402 payment facilitator HTTP service:
// it wires signers for every configured chain family into the
// dispatch engine, starts the Upto sweeper, and serves spec.md §6's
// external HTTP interface.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/x402proto/facilitator/core"
	ginserver "github.com/x402proto/facilitator/httpserver/gin"
	"github.com/x402proto/facilitator/internal/cache"
	"github.com/x402proto/facilitator/internal/config"
	"github.com/x402proto/facilitator/types"

	evm "github.com/x402proto/facilitator/mechanisms/evm"
	evmexact "github.com/x402proto/facilitator/mechanisms/evm/exact/facilitator"
	evmupto "github.com/x402proto/facilitator/mechanisms/evm/upto/facilitator"
	svm "github.com/x402proto/facilitator/mechanisms/svm"
	svmexact "github.com/x402proto/facilitator/mechanisms/svm/exact/facilitator"
	starknet "github.com/x402proto/facilitator/mechanisms/starknet"
	starknetexact "github.com/x402proto/facilitator/mechanisms/starknet/exact/facilitator"

	evmsigner "github.com/x402proto/facilitator/signers/evm"
	svmsigner "github.com/x402proto/facilitator/signers/svm"
	starknetsigner "github.com/x402proto/facilitator/signers/starknet"

	"github.com/x402proto/facilitator/upto"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting t402 facilitator service")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Port: %d", cfg.Port)

	var redisClient *cache.Client
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		log.Printf("Continuing without Redis (rate limiting fails open)")
		redisClient = nil
	} else {
		log.Printf("Redis connected: %s", cfg.RedisURL)
	}

	facilitator := core.NewFacilitator()
	store := upto.NewStore()

	configured := registerEvm(facilitator, store, cfg)
	configured = append(configured, registerSvm(facilitator, cfg)...)
	configured = append(configured, registerStarknet(facilitator, cfg)...)

	if len(configured) == 0 {
		log.Fatalf("no networks configured - at least one chain's private key/endpoint is required")
	}
	log.Printf("Configured networks: %v", configured)

	facilitator.OnAfterVerify(func(ctx core.VerifyContext, resp *types.VerifyResponse, err error) error {
		if err != nil {
			log.Printf("verify error: %v", err)
			return nil
		}
		if resp != nil {
			log.Printf("verify: scheme=%s network=%s valid=%v payer=%s", ctx.Requirements.Scheme, ctx.Requirements.Network, resp.IsValid, resp.Payer)
		}
		return nil
	})
	facilitator.OnAfterSettle(func(ctx core.SettleContext, resp *types.SettleResponse, err error) error {
		if err != nil {
			log.Printf("settle error: %v", err)
			return nil
		}
		if resp != nil {
			log.Printf("settle: scheme=%s network=%s success=%v tx=%s", ctx.Requirements.Scheme, ctx.Requirements.Network, resp.Success, resp.Transaction)
		}
		return nil
	})

	server := ginserver.New(facilitator, redisClient, cfg)

	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	sweeper := upto.NewSweeper(store, facilitator, upto.DefaultConfig(), nowMs).WithMetrics(server.Metrics())
	go sweeper.Run(sweeperCtx)

	server.Start()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// registerEvm wires the Exact and Upto EVM schemes against every
// configured eip155 network, sharing one facilitator key pool and
// wrapping the Upto scheme in session tracking.
func registerEvm(f *core.Facilitator, store *upto.Store, cfg *config.Config) []string {
	if len(cfg.EvmPrivateKeys) == 0 {
		log.Printf("Warning: EVM_PRIVATE_KEY not set, EVM chains disabled")
		return nil
	}

	type networkInfo struct {
		network core.Network
		rpc     string
		name    string
	}
	networks := []networkInfo{
		{core.Network("eip155:1"), cfg.EthRPC, "Ethereum"},
		{core.Network("eip155:42161"), cfg.ArbitrumRPC, "Arbitrum"},
		{core.Network("eip155:8453"), cfg.BaseRPC, "Base"},
		{core.Network("eip155:10"), cfg.OptimismRPC, "Optimism"},
	}

	defaultRPC := cfg.BaseRPC
	if defaultRPC == "" {
		defaultRPC = cfg.EthRPC
	}
	if defaultRPC == "" {
		defaultRPC = cfg.ArbitrumRPC
	}
	if defaultRPC == "" {
		defaultRPC = cfg.OptimismRPC
	}
	if defaultRPC == "" {
		log.Printf("Warning: no RPC endpoint configured for EVM chains")
		return nil
	}

	signer, err := evmsigner.NewFacilitatorSigner(defaultRPC, cfg.EvmPrivateKeys...)
	if err != nil {
		log.Fatalf("failed to create EVM signer: %v", err)
	}

	var configuredNetworks []core.Network
	var names []string
	for _, n := range networks {
		if n.rpc != "" {
			configuredNetworks = append(configuredNetworks, n.network)
			names = append(names, n.name)
		}
	}
	if len(configuredNetworks) == 0 {
		return nil
	}

	exactScheme := evmexact.New(signer)
	f.Register(configuredNetworks, exactScheme)

	uptoInner := evmupto.New(signer)
	tracking := upto.NewTrackingFacilitator(uptoInner, store, evm.PermitFieldsFromPayload, nowMs)
	f.Register(configuredNetworks, tracking)

	log.Printf("EVM facilitator addresses: %v", signer.GetAddresses())
	return names
}

// registerSvm wires the Exact SVM scheme against whichever Solana
// clusters have an RPC endpoint and a fee-payer key pool configured.
func registerSvm(f *core.Facilitator, cfg *config.Config) []string {
	if len(cfg.SvmPrivateKeys) == 0 {
		log.Printf("Warning: SVM_PRIVATE_KEY not set, Solana disabled")
		return nil
	}

	rpcURL := cfg.SvmRPC
	if rpcURL == "" {
		rpcURL = cfg.SvmDevnetRPC
	}
	if rpcURL == "" {
		log.Printf("Warning: no RPC endpoint configured for Solana")
		return nil
	}

	signer, err := svmsigner.NewFacilitatorSigner(cfg.SvmPrivateKeys, rpcURL)
	if err != nil {
		log.Fatalf("failed to create Solana signer: %v", err)
	}

	var networks []core.Network
	var names []string
	if cfg.SvmRPC != "" {
		networks = append(networks, core.Network(svm.SolanaMainnetCAIP2))
		names = append(names, "Solana Mainnet")
	}
	if cfg.SvmDevnetRPC != "" {
		networks = append(networks, core.Network(svm.SolanaDevnetCAIP2))
		names = append(names, "Solana Devnet")
	}
	if len(networks) == 0 {
		return nil
	}

	f.Register(networks, svmexact.New(signer))
	log.Printf("Solana facilitator addresses configured: %d key(s)", len(cfg.SvmPrivateKeys))
	return names
}

// registerStarknet wires the Exact Starknet scheme for every network
// with a paymaster endpoint configured.
func registerStarknet(f *core.Facilitator, cfg *config.Config) []string {
	if len(cfg.StarknetNetworks) == 0 {
		log.Printf("Warning: STARKNET_NETWORKS not set, Starknet disabled")
		return nil
	}

	configs := make(map[string]starknet.PaymasterConfig, len(cfg.StarknetNetworks))
	var networks []core.Network
	var names []string
	for _, network := range cfg.StarknetNetworks {
		endpoint := cfg.StarknetPaymasterEndpoint[network]
		if endpoint == "" {
			log.Printf("Warning: no paymaster endpoint for %s, skipping", network)
			continue
		}
		configs[network] = starknet.PaymasterConfig{
			Network:         network,
			SponsorAddress:  cfg.StarknetSponsorAddress,
			PaymasterURL:    endpoint,
			PaymasterAPIKey: cfg.StarknetPaymasterAPIKey,
		}
		networks = append(networks, core.Network(network))
		names = append(names, network)
	}
	if len(networks) == 0 {
		return nil
	}

	provider := starknetsigner.NewPaymasterProvider(configs, http.DefaultClient)
	f.Register(networks, starknetexact.New(provider, configs))
	return names
}
