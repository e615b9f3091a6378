// Package starknet provides Starknet signer and paymaster-provider
// implementations. No Starknet SDK appears anywhere in the retrieved
// example pack, so both types here talk to an external signing/paymaster
// service over plain HTTP+JSON rather than computing STARK-curve
// signatures or Starknet RPC calls in-process; see DESIGN.md for why
// this is standard-library-only rather than grounded on a third-party
// client.
package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ClientSigner signs typed-data messages by delegating to a remote
// account-signing service (e.g. a local wallet daemon or a hosted key
// management API) reachable at Endpoint.
type ClientSigner struct {
	address    string
	endpoint   string
	httpClient *http.Client
}

// NewClientSigner builds a ClientSigner for the account at address,
// delegating signing requests to endpoint.
func NewClientSigner(address, endpoint string, httpClient *http.Client) *ClientSigner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientSigner{address: address, endpoint: endpoint, httpClient: httpClient}
}

func (s *ClientSigner) Address() string { return s.address }

type signTypedDataRequest struct {
	Address   string                 `json:"address"`
	TypedData map[string]interface{} `json:"typedData"`
}

type signTypedDataResponse struct {
	Signature []string `json:"signature"`
	Error     string   `json:"error,omitempty"`
}

// SignTypedData POSTs the typed-data message to the signing service and
// returns the felt-array signature it responds with.
func (s *ClientSigner) SignTypedData(ctx context.Context, typedData map[string]interface{}) ([]string, error) {
	body, err := json.Marshal(signTypedDataRequest{Address: s.address, TypedData: typedData})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded signTypedDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode sign response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("signing service error: %s", decoded.Error)
	}
	if len(decoded.Signature) == 0 {
		return nil, fmt.Errorf("signing service returned no signature")
	}
	return decoded.Signature, nil
}
