package core

import "strings"

// Network is a CAIP-2 chain identifier: "namespace:reference".
type Network string

// Parse splits the network into its namespace and reference parts.
func (n Network) Parse() (namespace, reference string, ok bool) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Match reports whether n matches pattern, where pattern may end in ":*"
// to match any reference within a namespace.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	ps := string(pattern)
	if strings.HasSuffix(ps, ":*") {
		prefix := strings.TrimSuffix(ps, "*")
		return strings.HasPrefix(string(n), prefix)
	}
	return false
}

// starknetLegacyToCanonical maps the legacy Starknet CAIP-2 forms used by
// earlier wallets to the canonical numeric-reference form. The mapping is
// total over the networks this facilitator supports.
var starknetLegacyToCanonical = map[Network]Network{
	"starknet:SN_MAIN":    "starknet:0x534e5f4d41494e",
	"starknet:SN_SEPOLIA": "starknet:0x534e5f5345504f4c4941",
}

var starknetCanonicalToLegacy = func() map[Network]Network {
	inv := make(map[Network]Network, len(starknetLegacyToCanonical))
	for legacy, canonical := range starknetLegacyToCanonical {
		inv[canonical] = legacy
	}
	return inv
}()

// CanonicalizeNetwork converts a legacy Starknet network identifier to its
// canonical CAIP-2 form. Non-Starknet networks and already-canonical
// Starknet networks are returned unchanged.
func CanonicalizeNetwork(n Network) Network {
	if canonical, ok := starknetLegacyToCanonical[n]; ok {
		return canonical
	}
	return n
}

// LegacyStarknetNetwork converts a canonical Starknet network identifier
// back to its legacy form, used when echoing a settle response's network
// field back to clients written against the older wire format. Networks
// with no legacy form are returned unchanged.
func LegacyStarknetNetwork(n Network) Network {
	if legacy, ok := starknetCanonicalToLegacy[n]; ok {
		return legacy
	}
	return n
}
