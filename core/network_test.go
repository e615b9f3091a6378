package core

import "testing"

func TestNetworkMatchWildcard(t *testing.T) {
	cases := []struct {
		n, pattern Network
		want       bool
	}{
		{"eip155:8453", "eip155:*", true},
		{"eip155:8453", "eip155:1", false},
		{"solana:mainnet", "eip155:*", false},
		{"eip155:8453", "eip155:8453", true},
	}
	for _, c := range cases {
		if got := c.n.Match(c.pattern); got != c.want {
			t.Errorf("%s.Match(%s) = %v, want %v", c.n, c.pattern, got, c.want)
		}
	}
}

func TestCanonicalizeNetworkIsBidirectionalOverSupportedSet(t *testing.T) {
	for legacy, canonical := range starknetLegacyToCanonical {
		if got := CanonicalizeNetwork(legacy); got != canonical {
			t.Errorf("CanonicalizeNetwork(%s) = %s, want %s", legacy, got, canonical)
		}
		if got := LegacyStarknetNetwork(canonical); got != legacy {
			t.Errorf("LegacyStarknetNetwork(%s) = %s, want %s", canonical, got, legacy)
		}
		// Canonical form is a fixed point.
		if got := CanonicalizeNetwork(canonical); got != canonical {
			t.Errorf("CanonicalizeNetwork(%s) = %s, want fixed point %s", canonical, got, canonical)
		}
	}
}

func TestCanonicalizeNetworkLeavesNonStarknetUnchanged(t *testing.T) {
	if got := CanonicalizeNetwork("eip155:8453"); got != "eip155:8453" {
		t.Errorf("expected eip155 network unchanged, got %s", got)
	}
}
