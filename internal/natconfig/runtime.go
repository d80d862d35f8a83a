// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natconfig

import (
	"net/netip"
	"sort"

	"einat.dev/einatd/internal/natpolicy"
	"einat.dev/einatd/internal/portrange"
)

// DestConfig is the per-destination-prefix flag set consumed by the
// data plane.
type DestConfig struct {
	NoSNAT  bool
	Hairpin bool
}

// ExternalConfig is the per-external-prefix flag set and port pools
// consumed by the data plane.
type ExternalConfig struct {
	NoSNAT  bool
	TCP     portrange.List
	UDP     portrange.List
	ICMP    portrange.List
	ICMPIn  portrange.List
	ICMPOut portrange.List
}

// RuntimeConfig is the materialized, prefix-indexed configuration for
// one address family: the primary external address plus the
// dest_config and external_config prefix maps.
type RuntimeConfig struct {
	Family         Family
	ExternalAddr   netip.Prefix
	DestConfig     map[netip.Prefix]DestConfig
	ExternalConfig map[netip.Prefix]ExternalConfig
}

// Empty returns the zero RuntimeConfig for family: no destinations, no
// externals, NAT disabled. It is the "previous" configuration implied
// by a first-time apply.
func Empty(family Family) RuntimeConfig {
	return RuntimeConfig{
		Family:         family,
		ExternalAddr:   family.Unspecified(),
		DestConfig:     map[netip.Prefix]DestConfig{},
		ExternalConfig: map[netip.Prefix]ExternalConfig{},
	}
}

// Build materializes a RuntimeConfig from no-snat destinations, the
// ordered list of normalized Externals, and the set of locally
// observed host addresses, following the deterministic procedure of
// the reconciliation engine's configuration builder.
func Build(family Family, noSnatDests []netip.Prefix, externals []natpolicy.External, addresses []netip.Addr) RuntimeConfig {
	cfg := Empty(family)

	for _, d := range noSnatDests {
		if !family.PrefixMember(d) {
			continue
		}
		cfg.DestConfig[d] = DestConfig{NoSNAT: true}
	}

	remaining := make([]netip.Addr, 0, len(addresses))
	for _, a := range addresses {
		if family.Member(a) {
			remaining = append(remaining, a)
		}
	}

	externalAddrSet := false

	for _, ext := range externals {
		var matches []netip.Addr

		switch ext.Address.Kind {
		case natpolicy.AddressStatic:
			if family.Member(ext.Address.Addr) && !ext.Address.Addr.IsUnspecified() {
				matches = []netip.Addr{ext.Address.Addr}
			}
		case natpolicy.AddressMatch:
			if !family.PrefixMember(ext.Address.Prefix) {
				break
			}
			for _, a := range remaining {
				if ext.Address.Prefix.Contains(a) && !a.IsUnspecified() {
					matches = append(matches, a)
				}
			}
		}

		if len(matches) > 0 {
			remaining = removeAll(remaining, matches)

			if !externalAddrSet && !ext.NoSNAT {
				cfg.ExternalAddr = family.HostPrefix(matches[0])
				externalAddrSet = true
			}

			for _, addr := range matches {
				p := family.HostPrefix(addr)

				dc := cfg.DestConfig[p]
				dc.Hairpin = !ext.NoHairpin
				if ext.NoSNAT {
					dc.NoSNAT = true
				}
				cfg.DestConfig[p] = dc

				ec := ExternalConfig{NoSNAT: ext.NoSNAT}
				if !ext.NoSNAT {
					ec.TCP = ext.TCP
					ec.UDP = ext.UDP
					ec.ICMP = ext.ICMP
					ec.ICMPIn = ext.ICMPIn
					ec.ICMPOut = ext.ICMPOut
				}
				cfg.ExternalConfig[p] = ec
			}
		}
	}

	return cfg
}

// removeAll returns remaining with every address in matches removed,
// preserving order, matching "an address is claimed by the first
// matcher that hits it".
func removeAll(remaining, matches []netip.Addr) []netip.Addr {
	claimed := make(map[netip.Addr]bool, len(matches))
	for _, m := range matches {
		claimed[m] = true
	}
	out := remaining[:0]
	for _, a := range remaining {
		if !claimed[a] {
			out = append(out, a)
		}
	}
	return out
}

// HairpinDests returns every dest_config key flagged Hairpin, with
// ExternalAddr first (if present among them) and the rest in a stable
// but otherwise unspecified order.
func (cfg RuntimeConfig) HairpinDests() []netip.Prefix {
	var out []netip.Prefix
	for p, dc := range cfg.DestConfig {
		if dc.Hairpin {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i] == cfg.ExternalAddr {
			return true
		}
		if out[j] == cfg.ExternalAddr {
			return false
		}
		return out[i].String() < out[j].String()
	})
	return out
}
