// Command exampleclient demonstrates paying for a 402 response: it
// wraps a plain *http.Client with httpclient so an Exact-EVM payment
// is synthesized and retried automatically against a protected
// resource server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/x402proto/facilitator/core"
	evmclient "github.com/x402proto/facilitator/mechanisms/evm/exact/client"
	evmsigner "github.com/x402proto/facilitator/signers/evm"

	"github.com/x402proto/facilitator/httpclient"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment variables")
	}

	privateKey := os.Getenv("EVM_PRIVATE_KEY")
	if privateKey == "" {
		fmt.Println("EVM_PRIVATE_KEY environment variable is required")
		os.Exit(1)
	}

	url := os.Getenv("SERVER_URL")
	if url == "" {
		url = "http://localhost:4021/weather"
	}

	signer, err := evmsigner.NewClientSignerFromPrivateKey(privateKey)
	if err != nil {
		fmt.Printf("failed to create signer: %v\n", err)
		os.Exit(1)
	}

	paymentClient := core.NewClient()
	paymentClient.Register(core.Network("eip155:84532"), evmclient.New(signer))

	wrapped := httpclient.New(paymentClient).WrapHTTPClient(&http.Client{Timeout: 30 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf("failed to create request: %v\n", err)
		os.Exit(1)
	}

	resp, err := wrapped.Do(req)
	if err != nil {
		fmt.Printf("request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Printf("failed to decode response: %v\n", err)
		os.Exit(1)
	}

	pretty, _ := json.MarshalIndent(body, "  ", "  ")
	fmt.Printf("response:\n  %s\n", pretty)

	if paymentHeader := resp.Header.Get("X-PAYMENT-RESPONSE"); paymentHeader != "" {
		fmt.Printf("payment settled: %s\n", paymentHeader)
	}
}
