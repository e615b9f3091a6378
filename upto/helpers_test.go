package upto

import "github.com/x402proto/facilitator/types"

func zeroPayload() types.PaymentPayload {
	return types.PaymentPayload{X402Version: 1}
}

func zeroRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{Scheme: "upto", Network: "eip155:8453"}
}
