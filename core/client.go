package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/x402proto/facilitator/types"
)

// RequirementsSelector chooses which of a server's accepted payment
// options to pay. The default selects the first option whose scheme has
// a registered client.
type RequirementsSelector func(candidates []types.PaymentRequirements) types.PaymentRequirements

// RequirementsPolicy filters or reorders candidates before selection.
type RequirementsPolicy func(candidates []types.PaymentRequirements) []types.PaymentRequirements

// Client holds a registry of SchemeClients keyed by network and scheme,
// and builds a signed PaymentPayload for whichever PaymentRequirements a
// selector picks. It implements the client-side half of spec.md §4.4.
type Client struct {
	mu       sync.RWMutex
	schemes  map[Network]map[string]SchemeClient
	selector RequirementsSelector
	policies []RequirementsPolicy
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithSelector overrides the default "first supported" selection policy.
func WithSelector(selector RequirementsSelector) ClientOption {
	return func(c *Client) { c.selector = selector }
}

// WithPolicy registers a filtering/reordering policy at construction time.
func WithPolicy(policy RequirementsPolicy) ClientOption {
	return func(c *Client) { c.policies = append(c.policies, policy) }
}

// NewClient returns a Client with no registered schemes.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		schemes: make(map[Network]map[string]SchemeClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a SchemeClient for one network.
func (c *Client) Register(network Network, client SchemeClient) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeClient)
	}
	c.schemes[network][client.Scheme()] = client
	return c
}

// RegisterPolicy adds a policy after construction.
func (c *Client) RegisterPolicy(policy RequirementsPolicy) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

// findClient looks up the SchemeClient for (network, scheme), matching
// wildcard-registered networks (e.g. "eip155:*").
func (c *Client) findClient(network Network, scheme string) SchemeClient {
	for registered, schemes := range c.schemes {
		if network.Match(registered) || registered.Match(network) {
			if client, ok := schemes[scheme]; ok {
				return client
			}
		}
	}
	return nil
}

// SelectPaymentRequirements picks one of a server's accepted options,
// restricted to options this client has a registered scheme for, then
// narrowed by any registered policies, then decided by the selector
// (default: first remaining option).
func (c *Client) SelectPaymentRequirements(accepts []types.PaymentRequirements) (types.PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []types.PaymentRequirements
	for _, req := range accepts {
		if c.findClient(Network(req.Network), req.Scheme) != nil {
			supported = append(supported, req)
		}
	}
	if len(supported) == 0 {
		return types.PaymentRequirements{}, fmt.Errorf("%s: no registered client can satisfy any accepted option", ReasonUnsupportedScheme)
	}

	filtered := supported
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return types.PaymentRequirements{}, fmt.Errorf("%s: all accepted options were filtered out", ReasonUnsupportedScheme)
		}
	}

	selector := c.selector
	if selector == nil {
		selector = defaultSelector
	}
	return selector(filtered), nil
}

func defaultSelector(candidates []types.PaymentRequirements) types.PaymentRequirements {
	return candidates[0]
}

// CreatePaymentPayload builds a signed PaymentPayload for requirements
// using the registered SchemeClient, stamping in the resource descriptor.
func (c *Client) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements, resource *types.ResourceInfo) (types.PaymentPayload, error) {
	c.mu.RLock()
	client := c.findClient(Network(requirements.Network), requirements.Scheme)
	c.mu.RUnlock()

	if client == nil {
		return types.PaymentPayload{}, fmt.Errorf("%s: no client registered for scheme %q on network %q", ReasonUnsupportedScheme, requirements.Scheme, requirements.Network)
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	payload.Accepted = requirements
	payload.Resource = resource
	return payload, nil
}
