package gin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402proto/facilitator/types"
)

const (
	headerPaymentRequired = "PAYMENT-REQUIRED"
	headerPayment         = "X-PAYMENT"
	headerPaymentResponse = "X-PAYMENT-RESPONSE"
)

// FacilitatorClient is the resource server's view of a facilitator
// service reached over HTTP: verify a payload and settle it. The
// facilitator may run in a different process
// entirely, so this talks /verify and /settle rather than calling
// core.Facilitator directly.
type FacilitatorClient struct {
	url        string
	httpClient *http.Client
}

// NewFacilitatorClient builds a client against a facilitator service's
// base URL (e.g. cfg.FacilitatorURL). A nil httpClient defaults to a
// 30 second timeout.
func NewFacilitatorClient(url string, httpClient *http.Client) *FacilitatorClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &FacilitatorClient{url: strings.TrimSuffix(url, "/"), httpClient: httpClient}
}

func (c *FacilitatorClient) post(path string, body interface{}) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Post(c.url+path, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Verify calls POST /verify against the facilitator.
func (c *FacilitatorClient) Verify(payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	raw, err := c.post("/verify", verifyRequest{PaymentPayload: payload, PaymentRequirements: requirements})
	if err != nil {
		return nil, err
	}
	var out types.VerifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &out, nil
}

// Settle calls POST /settle against the facilitator.
func (c *FacilitatorClient) Settle(payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	raw, err := c.post("/settle", settleRequest{PaymentPayload: payload, PaymentRequirements: requirements})
	if err != nil {
		return nil, err
	}
	var out types.SettleResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode settle response: %w", err)
	}
	return &out, nil
}

// RouteTable maps "METHOD PATH" keys, with gin's ":param" syntax
// normalized to "[param]" per spec.md §6, to the PaymentRequirements a
// route accepts. Registering a duplicate key is an error by design:
// a route advertising two different prices is very likely a mistake,
// not an intentional fallback.
type RouteTable struct {
	entries map[string][]types.PaymentRequirements
}

// NewRouteTable returns an empty table.
func NewRouteTable() *RouteTable {
	return &RouteTable{entries: make(map[string][]types.PaymentRequirements)}
}

// Register adds one or more accepted PaymentRequirements for method+path.
// path may use gin's ":param" syntax; it is normalized to "[param]" for
// the route key, matching spec.md §6's required key format.
func (t *RouteTable) Register(method, path string, accepts ...types.PaymentRequirements) error {
	key := routeKey(method, path)
	if _, exists := t.entries[key]; exists {
		return fmt.Errorf("t402: duplicate route registration for %s", key)
	}
	if len(accepts) == 0 {
		return fmt.Errorf("t402: %s requires at least one PaymentRequirements", key)
	}
	t.entries[key] = accepts
	return nil
}

func (t *RouteTable) lookup(method, path string) ([]types.PaymentRequirements, bool) {
	accepts, ok := t.entries[routeKey(method, path)]
	return accepts, ok
}

func routeKey(method, path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			segments[i] = "[" + seg[1:] + "]"
		}
	}
	return strings.ToUpper(method) + " " + strings.Join(segments, "/")
}

type verifyRequest struct {
	PaymentPayload      types.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements types.PaymentRequirements `json:"paymentRequirements"`
}

type settleRequest struct {
	PaymentPayload      types.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements types.PaymentRequirements `json:"paymentRequirements"`
}

// RequirePayment returns gin middleware enforcing routes' payment
// requirements: request -> middleware extracts payment header ->
// dispatch engine verifies -> handler runs -> middleware settles,
// matching spec.md §2's server-side control flow. Routes not present
// in table pass through unmodified.
func RequirePayment(client *FacilitatorClient, table *RouteTable) gin.HandlerFunc {
	return func(c *gin.Context) {
		accepts, ok := table.lookup(c.Request.Method, c.FullPath())
		if !ok {
			c.Next()
			return
		}

		encoded := firstHeader(c, headerPayment)
		if encoded == "" {
			respondPaymentRequired(c, accepts, "")
			return
		}

		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			respondPaymentRequired(c, accepts, "invalid_payload")
			return
		}
		payload, err := types.ToPaymentPayload(raw)
		if err != nil {
			respondPaymentRequired(c, accepts, "invalid_payload")
			return
		}

		requirements, matched := matchAccepted(*payload, accepts)
		if !matched {
			respondPaymentRequired(c, accepts, "unsupported_scheme")
			return
		}

		verifyResp, err := client.Verify(*payload, requirements)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if !verifyResp.IsValid {
			respondPaymentRequired(c, accepts, verifyResp.InvalidReason)
			return
		}

		c.Next()

		if c.IsAborted() || c.Writer.Status() >= http.StatusBadRequest {
			return
		}

		settleResp, err := client.Settle(*payload, requirements)
		if err != nil || settleResp == nil {
			return
		}
		encodedResp, err := json.Marshal(settleResp)
		if err == nil {
			c.Header(headerPaymentResponse, base64.StdEncoding.EncodeToString(encodedResp))
		}
	}
}

func matchAccepted(payload types.PaymentPayload, accepts []types.PaymentRequirements) (types.PaymentRequirements, bool) {
	for _, candidate := range accepts {
		if candidate.Scheme == payload.Accepted.Scheme && candidate.Network == payload.Accepted.Network {
			return candidate, true
		}
	}
	return types.PaymentRequirements{}, false
}

func respondPaymentRequired(c *gin.Context, accepts []types.PaymentRequirements, reason string) {
	body := types.PaymentRequired{X402Version: 1, Error: reason, Accepts: accepts}
	encoded, _ := json.Marshal(body)
	c.Header(headerPaymentRequired, base64.StdEncoding.EncodeToString(encoded))
	c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
}

func firstHeader(c *gin.Context, names ...string) string {
	for _, name := range names {
		if v := c.GetHeader(name); v != "" {
			return v
		}
	}
	return ""
}
