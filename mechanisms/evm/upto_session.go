package evm

import (
	"errors"
	"strconv"

	"github.com/x402proto/facilitator/types"
	"github.com/x402proto/facilitator/upto"
)

// PermitFieldsFromPayload extracts the upto.PermitFields that key and
// size a session out of an Upto-EVM payment payload, for use as the
// upto.PermitExtractor passed to upto.NewTrackingFacilitator.
func PermitFieldsFromPayload(payload types.PaymentPayload, requirements types.PaymentRequirements) (upto.PermitFields, error) {
	raw := payload.Payload
	if raw == nil {
		return upto.PermitFields{}, errors.New("payload is not an object")
	}
	sig, _ := raw["signature"].(string)
	auth, ok := raw["authorization"].(map[string]interface{})
	if !ok {
		return upto.PermitFields{}, errors.New("missing authorization")
	}
	str := func(key string) string {
		v, _ := auth[key].(string)
		return v
	}

	deadline, err := strconv.ParseUint(str("deadline"), 10, 64)
	if err != nil {
		return upto.PermitFields{}, errors.New("invalid deadline")
	}

	return upto.PermitFields{
		Network:   requirements.Network,
		Asset:     requirements.Asset,
		Owner:     str("owner"),
		Spender:   str("spender"),
		Cap:       str("value"),
		Nonce:     str("nonce"),
		Deadline:  deadline,
		Signature: sig,
	}, nil
}
