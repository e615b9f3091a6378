// Package httpclient wraps an *http.Client so a 402 Payment Required
// response is paid and the request retried automatically, the way
// net/http's own RoundTripper composition is meant to be used.
package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/x402proto/facilitator/core"
	"github.com/x402proto/facilitator/types"
)

const (
	headerPaymentRequired = "PAYMENT-REQUIRED"
	headerPayment         = "X-PAYMENT"
	headerPaymentResponse = "X-PAYMENT-RESPONSE"
)

// maxRetries bounds the number of payment attempts per logical request:
// one initial paid retry, plus one permit-refresh retry if the
// facilitator reports the session needs a fresh authorization.
const maxRetries = 2

// Client wraps a core.Client (the payload signer/selector) to pay for
// 402 responses transparently.
type Client struct {
	core *core.Client
}

// New builds an httpclient.Client signing payments with core.
func New(core *core.Client) *Client {
	return &Client{core: core}
}

// WrapHTTPClient returns a shallow copy of hc whose Transport pays for
// 402 responses using c before handing the response back to the caller.
func (c *Client) WrapHTTPClient(hc *http.Client) *http.Client {
	transport := hc.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	wrapped := *hc
	wrapped.Transport = &PaymentRoundTripper{
		Transport:  transport,
		client:     c,
		retryCount: &sync.Map{},
	}
	return &wrapped
}

// Get performs a GET request, paying for any 402 response.
func (c *Client) Get(ctx context.Context, hc *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(hc, req)
}

// Do performs req through hc's transport wrapped with payment handling.
func (c *Client) Do(hc *http.Client, req *http.Request) (*http.Response, error) {
	client := c.WrapHTTPClient(hc)
	return client.Do(req)
}

// PaymentRoundTripper intercepts 402 responses, signs a payment, and
// replays the request once (twice if the facilitator asks for a fresh
// permit). Retry bookkeeping is keyed by request pointer, since one
// logical call may pass through RoundTrip more than once.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	client     *Client
	retryCount *sync.Map
}

func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	requestID := fmt.Sprintf("%p", req)
	defer t.retryCount.Delete(requestID)

	current := req
	var required *types.PaymentRequired
	for attempt := 0; attempt < maxRetries; attempt++ {
		t.retryCount.Store(requestID, attempt+1)

		// A refresh 402 may carry only a settle response; the requirements
		// of the previous 402 are reused then.
		next, err := extractPaymentRequired(resp)
		if err == nil {
			required = next
		} else if required == nil {
			return resp, nil
		}
		resp.Body.Close()

		requirements, err := t.client.core.SelectPaymentRequirements(required.Accepts)
		if err != nil {
			return nil, fmt.Errorf("cannot fulfill payment requirements: %w", err)
		}

		payload, err := t.client.core.CreatePaymentPayload(req.Context(), requirements, required.Resource)
		if err != nil {
			return nil, fmt.Errorf("failed to create payment payload: %w", err)
		}
		if strings.HasPrefix(requirements.Network, "starknet") {
			if _, ok := payload.Payload["typedData"]; !ok {
				return nil, fmt.Errorf("starknet payload missing typedData")
			}
		}

		paymentReq, err := clonedRequestWithPayment(current, payload)
		if err != nil {
			return nil, err
		}

		newResp, err := t.Transport.RoundTrip(paymentReq)
		if err != nil {
			return nil, err
		}
		if newResp.StatusCode != http.StatusPaymentRequired {
			return newResp, nil
		}

		settleErr, decodeErr := extractPaymentResponse(newResp)
		if decodeErr != nil || settleErr == nil {
			return newResp, nil
		}
		if settleErr.ErrorReason != core.ReasonCapExhausted && settleErr.ErrorReason != core.ReasonSessionClosed {
			return newResp, nil
		}

		current = paymentReq
		resp = newResp
	}
	return resp, nil
}

// clonedRequestWithPayment clones req and attaches an X-PAYMENT header
// carrying the base64-encoded signed payload, rewinding the body if the
// original request carried one.
func clonedRequestWithPayment(req *http.Request, payload types.PaymentPayload) (*http.Request, error) {
	encoded, err := encodePaymentPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment payload: %w", err)
	}

	clone := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		clone.Body = body
	}
	clone.Header.Set(headerPayment, encoded)
	return clone, nil
}

func encodePaymentPayload(payload types.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// extractPaymentRequired reads the PaymentRequired descriptor from a 402
// response, preferring the PAYMENT-REQUIRED header and falling back to
// the JSON body.
func extractPaymentRequired(resp *http.Response) (*types.PaymentRequired, error) {
	if header := resp.Header.Get(headerPaymentRequired); header != "" {
		data, err := base64.StdEncoding.DecodeString(header)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 in %s header: %w", headerPaymentRequired, err)
		}
		return types.ToPaymentRequired(data)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if len(body) == 0 {
		return nil, fmt.Errorf("402 response carried no payment requirements")
	}
	return types.ToPaymentRequired(body)
}

// extractPaymentResponse reads the settlement outcome from a retried
// 402, used to decide whether a permit refresh is worth a second try.
func extractPaymentResponse(resp *http.Response) (*types.SettleResponse, error) {
	header := resp.Header.Get(headerPaymentResponse)
	if header == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	var settle types.SettleResponse
	if err := json.Unmarshal(data, &settle); err != nil {
		return nil, err
	}
	return &settle, nil
}
