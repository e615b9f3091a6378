// Package types defines the wire-level data model shared by every scheme
// and network family: the request/response shapes that cross the
// resource-server / facilitator / client boundary.
package types

import "encoding/json"

// PaymentRequirements is the server -> client advertisement for one
// accepted payment option.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfo describes the resource a payment is for.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentPayload is the client -> server signed authorization, scoped to
// one accepted PaymentRequirements.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentRequired is the body/header payload of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// SupportedKind describes one (scheme, network) the facilitator serves.
type SupportedKind struct {
	Scheme  string                 `json:"scheme"`
	Network string                 `json:"network"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
	Signers []string               `json:"signers,omitempty"`
}

// SupportedResponse is the GET /supported aggregate.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// VerifyResponse is the result of verifying a payment payload.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the result of submitting a settlement transaction.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// AssetAmount pairs an asset address with a smallest-unit amount.
type AssetAmount struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// ToPaymentPayload unmarshals raw bytes into a PaymentPayload.
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ToPaymentRequirements unmarshals raw bytes into a PaymentRequirements.
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var r PaymentRequirements
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ToPaymentRequired unmarshals raw bytes into a PaymentRequired.
func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	var r PaymentRequired
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
