// Package core implements the facilitator dispatch engine and client
// scheme registry described in spec.md §4.1 and §4.4: the parts of the
// system that route a (scheme, network) pair to the right mechanism and
// enforce the invariants that hold across every mechanism uniformly.
package core

import (
	"context"
	"strings"
	"sync"

	"github.com/x402proto/facilitator/types"
)

type registration struct {
	facilitator SchemeFacilitator
	networks    map[Network]bool
	pattern     Network
}

// Facilitator routes verify/settle/supported calls to registered
// SchemeFacilitators and runs the lifecycle hooks around each operation.
// All registration and dispatch state is guarded by a single RWMutex;
// Verify/Settle themselves only take the read lock while looking up the
// target facilitator, so concurrent verify/settle calls against different
// (or the same) facilitator run unserialized beyond that lookup.
type Facilitator struct {
	mu    sync.RWMutex
	regs  []*registration

	beforeVerify []BeforeVerifyHook
	afterVerify  []AfterVerifyHook
	beforeSettle []BeforeSettleHook
	afterSettle  []AfterSettleHook
}

// NewFacilitator returns an empty dispatch engine. Callers Register one
// SchemeFacilitator per (scheme, network-set) before serving traffic.
func NewFacilitator() *Facilitator {
	return &Facilitator{}
}

// Register adds a SchemeFacilitator for the given set of networks. The
// networks are stored in canonical form, so both the canonical and legacy
// form of a network (e.g. Starknet) dispatch to the same facilitator
// without a second registration. The facilitator is additionally
// reachable via a derived wildcard pattern when every registered network
// shares a CAIP namespace.
func (f *Facilitator) Register(networks []Network, facilitator SchemeFacilitator) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := make(map[Network]bool, len(networks))
	for _, n := range networks {
		set[CanonicalizeNetwork(n)] = true
	}
	f.regs = append(f.regs, &registration{
		facilitator: facilitator,
		networks:    set,
		pattern:     derivePattern(networks),
	})
	return f
}

// OnBeforeVerify registers a hook run before every Verify dispatch.
func (f *Facilitator) OnBeforeVerify(h BeforeVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerify = append(f.beforeVerify, h)
	return f
}

// OnAfterVerify registers a hook run after every Verify dispatch,
// including failed ones.
func (f *Facilitator) OnAfterVerify(h AfterVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerify = append(f.afterVerify, h)
	return f
}

// OnBeforeSettle registers a hook run before every Settle dispatch.
func (f *Facilitator) OnBeforeSettle(h BeforeSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettle = append(f.beforeSettle, h)
	return f
}

// OnAfterSettle registers a hook run after every Settle dispatch,
// including failed ones.
func (f *Facilitator) OnAfterSettle(h AfterSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettle = append(f.afterSettle, h)
	return f
}

// Verify dispatches to the SchemeFacilitator registered for
// requirements.Scheme and the canonicalized requirements.Network, running
// before/after hooks around the call. An unmatched (scheme, network)
// yields {IsValid:false, InvalidReason:"unsupported_scheme"} rather than
// an error, matching the protocol-level-failure propagation policy.
func (f *Facilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.VerifyResponse, error) {
	hookCtx := VerifyContext{Ctx: ctx, Payload: payload, Requirements: requirements}

	for _, hook := range f.snapshotBeforeVerify() {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			resp := &types.VerifyResponse{IsValid: false, InvalidReason: result.Reason}
			f.runAfterVerify(hookCtx, resp, nil)
			return resp, nil
		}
	}

	target := f.lookup(requirements.Scheme, CanonicalizeNetwork(Network(requirements.Network)))
	if target == nil {
		resp := &types.VerifyResponse{IsValid: false, InvalidReason: ReasonUnsupportedScheme}
		f.runAfterVerify(hookCtx, resp, nil)
		return resp, nil
	}

	resp, err := target.Verify(ctx, payload, requirements)
	f.runAfterVerify(hookCtx, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Settle dispatches to the SchemeFacilitator registered for
// requirements.Scheme and the canonicalized requirements.Network, running
// before/after hooks around the call. Settle may be invoked on a payload
// that was never verified; every scheme facilitator re-runs verification
// internally and returns a failed SettleResponse rather than touching
// chain state on a verification failure. A before-hook abort yields
// {Success:false, ErrorReason:<reason>} with no facilitator call at all.
func (f *Facilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*types.SettleResponse, error) {
	hookCtx := SettleContext{Ctx: ctx, Payload: payload, Requirements: requirements}

	for _, hook := range f.snapshotBeforeSettle() {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			resp := &types.SettleResponse{Success: false, ErrorReason: result.Reason, Network: requirements.Network}
			f.runAfterSettle(hookCtx, resp, nil)
			return resp, nil
		}
	}

	target := f.lookup(requirements.Scheme, CanonicalizeNetwork(Network(requirements.Network)))
	if target == nil {
		resp := &types.SettleResponse{Success: false, ErrorReason: ReasonUnsupportedScheme, Network: requirements.Network}
		f.runAfterSettle(hookCtx, resp, nil)
		return resp, nil
	}

	resp, err := target.Settle(ctx, payload, requirements)
	f.runAfterSettle(hookCtx, resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetSupported aggregates the (scheme, network, extra, signers) tuples of
// every registered facilitator, one SupportedKind per concrete network.
func (f *Facilitator) GetSupported() types.SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []types.SupportedKind
	for _, reg := range f.regs {
		for network := range reg.networks {
			kind := types.SupportedKind{
				Scheme:  reg.facilitator.Scheme(),
				Network: string(network),
				Extra:   reg.facilitator.GetExtra(network),
				Signers: reg.facilitator.GetSigners(network),
			}
			kinds = append(kinds, kind)
		}
	}
	return types.SupportedResponse{Kinds: kinds}
}

func (f *Facilitator) lookup(scheme string, network Network) SchemeFacilitator {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, reg := range f.regs {
		if reg.facilitator.Scheme() != scheme {
			continue
		}
		if reg.networks[network] || matchesNetworkPattern(string(network), string(reg.pattern)) {
			return reg.facilitator
		}
	}
	return nil
}

func (f *Facilitator) snapshotBeforeVerify() []BeforeVerifyHook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]BeforeVerifyHook, len(f.beforeVerify))
	copy(out, f.beforeVerify)
	return out
}

func (f *Facilitator) snapshotBeforeSettle() []BeforeSettleHook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]BeforeSettleHook, len(f.beforeSettle))
	copy(out, f.beforeSettle)
	return out
}

func (f *Facilitator) runAfterVerify(ctx VerifyContext, resp *types.VerifyResponse, callErr error) {
	f.mu.RLock()
	hooks := make([]AfterVerifyHook, len(f.afterVerify))
	copy(hooks, f.afterVerify)
	f.mu.RUnlock()
	for _, hook := range hooks {
		_ = hook(ctx, resp, callErr)
	}
}

func (f *Facilitator) runAfterSettle(ctx SettleContext, resp *types.SettleResponse, callErr error) {
	f.mu.RLock()
	hooks := make([]AfterSettleHook, len(f.afterSettle))
	copy(hooks, f.afterSettle)
	f.mu.RUnlock()
	for _, hook := range hooks {
		_ = hook(ctx, resp, callErr)
	}
}

// derivePattern derives a wildcard network pattern ("eip155:*") when every
// network shares a CAIP namespace, so legacy and canonical forms of the
// same chain (e.g. Starknet) resolve to the same registration.
func derivePattern(networks []Network) Network {
	if len(networks) == 0 {
		return ""
	}
	if len(networks) == 1 {
		return networks[0]
	}
	namespaces := make(map[string]bool)
	for _, n := range networks {
		ns, _, ok := n.Parse()
		if ok {
			namespaces[ns] = true
		}
	}
	if len(namespaces) == 1 {
		for ns := range namespaces {
			return Network(ns + ":*")
		}
	}
	return networks[0]
}

func matchesNetworkPattern(concrete, pattern string) bool {
	if concrete == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(concrete, prefix)
	}
	return false
}
