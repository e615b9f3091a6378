package core

import (
	"context"

	"github.com/x402proto/facilitator/types"
)

// SchemeFacilitator is implemented by the facilitator side of one
// (scheme, CAIP family) payment mechanism, e.g. Exact-EVM or Upto-EVM.
type SchemeFacilitator interface {
	// Scheme is the payment scheme this facilitator handles ("exact", "upto").
	Scheme() string

	// CaipFamily is the wildcard network pattern this facilitator covers,
	// e.g. "eip155:*" or "solana:*".
	CaipFamily() string

	// GetExtra returns scheme/network-specific extra data surfaced in
	// GetSupported, or nil if there is none.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the facilitator addresses that may appear as
	// spender/payer for this network.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error)
}

// SchemeClient is implemented by the client side of one (scheme, CAIP
// family) payment mechanism: it knows how to sign a payload against a
// given PaymentRequirements.
type SchemeClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error)
}
