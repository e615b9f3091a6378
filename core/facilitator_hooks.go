package core

import (
	"context"

	"github.com/x402proto/facilitator/types"
)

// VerifyContext carries the operands of one Verify call to its hooks.
type VerifyContext struct {
	Ctx          context.Context
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirements
}

// SettleContext carries the operands of one Settle call to its hooks.
type SettleContext struct {
	Ctx          context.Context
	Payload      types.PaymentPayload
	Requirements types.PaymentRequirements
}

// HookResult is returned by a before-hook. If Abort is true the operation
// is skipped and a failed response carrying Reason is returned instead of
// invoking the scheme facilitator.
type HookResult struct {
	Abort  bool
	Reason string
}

// BeforeVerifyHook runs before Verify dispatches to a scheme facilitator.
type BeforeVerifyHook func(VerifyContext) (*HookResult, error)

// AfterVerifyHook runs after Verify returns, whether it succeeded or
// failed. Its error is ignored and never changes the result.
type AfterVerifyHook func(VerifyContext, *types.VerifyResponse, error) error

// BeforeSettleHook runs before Settle dispatches to a scheme facilitator.
type BeforeSettleHook func(SettleContext) (*HookResult, error)

// AfterSettleHook runs after Settle returns, whether it succeeded or
// failed. Its error is ignored and never changes the result.
type AfterSettleHook func(SettleContext, *types.SettleResponse, error) error
