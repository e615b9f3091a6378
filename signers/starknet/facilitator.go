package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	x402starknet "github.com/x402proto/facilitator/mechanisms/starknet"
)

// PaymasterProvider implements x402starknet.Provider against a
// signature-verification endpoint and an AVNU-style paymaster execute
// endpoint, one of each per network, both reached over plain HTTP+JSON.
type PaymasterProvider struct {
	configs    map[string]x402starknet.PaymasterConfig
	httpClient *http.Client
	pollDelay  time.Duration
	maxPolls   int
}

// NewPaymasterProvider builds a PaymasterProvider with one
// PaymasterConfig per canonical CAIP-2 Starknet network it serves.
func NewPaymasterProvider(configs map[string]x402starknet.PaymasterConfig, httpClient *http.Client) *PaymasterProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PaymasterProvider{
		configs:    configs,
		httpClient: httpClient,
		pollDelay:  2 * time.Second,
		maxPolls:   30,
	}
}

type verifyRequest struct {
	Address   string                 `json:"address"`
	TypedData map[string]interface{} `json:"typedData"`
	Signature []string               `json:"signature"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (p *PaymasterProvider) VerifyTypedDataSignature(ctx context.Context, address string, typedData map[string]interface{}, signature []string) (bool, error) {
	// Verification is network-agnostic (the account's public key is the
	// same across networks); use any configured paymaster's API key to
	// authenticate the verify call.
	var apiKey string
	for _, c := range p.configs {
		apiKey = c.PaymasterAPIKey
		break
	}

	body, err := json.Marshal(verifyRequest{Address: address, TypedData: typedData, Signature: signature})
	if err != nil {
		return false, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	endpoint := verifyEndpoint(p.configs)
	if endpoint == "" {
		return false, fmt.Errorf("no paymaster endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/verify", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if decoded.Error != "" {
		return false, fmt.Errorf("verify service error: %s", decoded.Error)
	}
	return decoded.Valid, nil
}

type submitRequest struct {
	Sponsor   string                 `json:"sponsor"`
	Address   string                 `json:"address"`
	TypedData map[string]interface{} `json:"typedData"`
	Signature []string               `json:"signature"`
}

type submitResponse struct {
	TransactionHash string `json:"transactionHash"`
	Error           string `json:"error,omitempty"`
}

func (p *PaymasterProvider) SubmitPaymasterTransaction(ctx context.Context, network string, address string, typedData map[string]interface{}, signature []string) (string, error) {
	config, ok := p.configs[network]
	if !ok {
		return "", fmt.Errorf("no paymaster configured for network %s", network)
	}

	body, err := json.Marshal(submitRequest{Sponsor: config.SponsorAddress, Address: address, TypedData: typedData, Signature: signature})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.PaymasterURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.PaymasterAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+config.PaymasterAPIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("paymaster error: %s", decoded.Error)
	}
	if decoded.TransactionHash == "" {
		return "", fmt.Errorf("paymaster returned no transaction hash")
	}
	return decoded.TransactionHash, nil
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WaitForTransaction polls the paymaster's status endpoint until txHash
// reaches a terminal "accepted" status, fails, or ctx is done.
func (p *PaymasterProvider) WaitForTransaction(ctx context.Context, network string, txHash string) error {
	config, ok := p.configs[network]
	if !ok {
		return fmt.Errorf("no paymaster configured for network %s", network)
	}

	for attempt := 0; attempt < p.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.PaymasterURL+"/status/"+txHash, nil)
		if err != nil {
			return fmt.Errorf("failed to build status request: %w", err)
		}
		if config.PaymasterAPIKey != "" {
			req.Header.Set("Authorization", "Bearer "+config.PaymasterAPIKey)
		}

		resp, err := p.httpClient.Do(req)
		if err == nil {
			var decoded statusResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)
			resp.Body.Close()
			if decodeErr == nil {
				switch decoded.Status {
				case "accepted", "confirmed":
					return nil
				case "rejected", "failed":
					return fmt.Errorf("transaction failed on-chain: %s", decoded.Error)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollDelay):
		}
	}

	return fmt.Errorf("transaction confirmation timed out after %d attempts", p.maxPolls)
}

func verifyEndpoint(configs map[string]x402starknet.PaymasterConfig) string {
	for _, c := range configs {
		if c.PaymasterURL != "" {
			return c.PaymasterURL
		}
	}
	return ""
}
