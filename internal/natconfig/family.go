// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natconfig builds the prefix-indexed runtime configuration
// (dest_config, external_config, primary external address) consumed
// by the data plane, and diffs two such configurations.
//
// It is generic over address family so the reconciliation engine
// never has to branch on v4 vs v6: Family supplies the host-prefix
// width and the family membership test, and RuntimeConfig carries the
// rest (map contents, primary address) uniformly for either family.
package natconfig

import "net/netip"

// Family names an address family the builder operates over.
type Family int

const (
	// FamilyV4 selects IPv4 addresses; host-width prefixes are /32.
	FamilyV4 Family = iota
	// FamilyV6 selects IPv6 addresses; host-width prefixes are /128.
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "v6"
	}
	return "v4"
}

// HostBits returns the address width used for a host-width prefix in
// this family: 32 for v4, 128 for v6.
func (f Family) HostBits() int {
	if f == FamilyV6 {
		return 128
	}
	return 32
}

// Member reports whether addr belongs to this family.
func (f Family) Member(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	if f == FamilyV6 {
		return addr.Is6() && !addr.Is4In6()
	}
	return addr.Is4() || addr.Is4In6()
}

// HostPrefix builds the host-width prefix naming addr, e.g. 10.0.0.1/32.
func (f Family) HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, f.HostBits())
}

// Unspecified returns the family's unspecified host prefix (0.0.0.0/32
// or ::/128), used to mean "NAT disabled for this family".
func (f Family) Unspecified() netip.Prefix {
	if f == FamilyV6 {
		return netip.PrefixFrom(netip.IPv6Unspecified(), 128)
	}
	return netip.PrefixFrom(netip.IPv4Unspecified(), 32)
}

// PrefixMember reports whether prefix belongs to this family.
func (f Family) PrefixMember(p netip.Prefix) bool {
	return f.Member(p.Addr())
}
