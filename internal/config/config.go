// Package config loads the facilitator service's runtime configuration
// from the environment (with .env support via godotenv for local
// development).
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the facilitator
// service needs to wire its schemes, signers, and HTTP server.
type Config struct {
	Environment string
	Port        int
	RedisURL    string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	// EVM
	EvmPrivateKeys []string
	EthRPC         string
	ArbitrumRPC    string
	BaseRPC        string
	OptimismRPC    string

	// SVM
	SvmPrivateKeys []string
	SvmRPC         string
	SvmDevnetRPC   string

	// Starknet: one paymaster endpoint per CAIP-2 network, keyed the same
	// way as StarknetNetworks.
	StarknetNetworks          []string
	StarknetSponsorAddress    string
	StarknetPaymasterEndpoint map[string]string
	StarknetPaymasterAPIKey   string

	FacilitatorURL string
}

// Load reads configuration from the environment, loading a .env file
// first if one is present in the working directory.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		Port:           getEnvInt("PORT", 8080),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379"),
		FacilitatorURL: getEnv("FACILITATOR_URL", ""),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 1000),
		RateLimitWindow:   time.Duration(getEnvInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		EvmPrivateKeys: getEnvList("EVM_PRIVATE_KEY"),
		EthRPC:         getEnv("ETH_RPC", ""),
		ArbitrumRPC:    getEnv("ARBITRUM_RPC", ""),
		BaseRPC:        getEnv("BASE_RPC", ""),
		OptimismRPC:    getEnv("OPTIMISM_RPC", ""),

		SvmPrivateKeys: getEnvList("SVM_PRIVATE_KEY"),
		SvmRPC:         getEnv("SVM_RPC", ""),
		SvmDevnetRPC:   getEnv("SVM_DEVNET_RPC", ""),

		StarknetNetworks:       getEnvList("STARKNET_NETWORKS"),
		StarknetSponsorAddress: getEnv("STARKNET_SPONSOR_ADDRESS", ""),
		StarknetPaymasterAPIKey: getEnv("STARKNET_PAYMASTER_API_KEY", ""),
	}

	cfg.StarknetPaymasterEndpoint = make(map[string]string, len(cfg.StarknetNetworks))
	for _, network := range cfg.StarknetNetworks {
		envKey := "STARKNET_PAYMASTER_ENDPOINT_" + sanitizeEnvSuffix(network)
		if endpoint := os.Getenv(envKey); endpoint != "" {
			cfg.StarknetPaymasterEndpoint[network] = endpoint
		}
	}

	return cfg
}

// IsProduction reports whether the service is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvList splits a comma-separated environment variable into a
// trimmed, non-empty slice of values.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sanitizeEnvSuffix turns a CAIP-2 network id like "starknet:SN_SEPOLIA"
// into an environment-variable-safe suffix like "STARKNET_SN_SEPOLIA".
func sanitizeEnvSuffix(network string) string {
	replacer := strings.NewReplacer(":", "_", "-", "_")
	return strings.ToUpper(replacer.Replace(network))
}
