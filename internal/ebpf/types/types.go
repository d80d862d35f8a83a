// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package types describes the wire layout of the data-plane's
// configuration and flow-state values: the fixed-size structs the
// reconciliation engine reads and writes through the kernel maps.
package types

import "einat.dev/einatd/internal/portrange"

// MaxPortRanges is the data plane's compile-time cap on the number of
// port ranges stored per protocol in an ExternalConfigValue.
const MaxPortRanges = portrange.MaxRanges

// DestConfigFlags are the bits of a DestConfigValue's Flags byte.
type DestConfigFlags uint8

const (
	DestFlagNoSNAT  DestConfigFlags = 1 << 0
	DestFlagHairpin DestConfigFlags = 1 << 1
)

// DestConfigValue is the fixed-size value stored at a dest_config_<F>
// LPM key.
type DestConfigValue struct {
	Flags DestConfigFlags
}

// ExternalConfigFlags are the bits of an ExternalConfigValue's Flags
// byte.
type ExternalConfigFlags uint8

const (
	ExternalFlagNoSNAT ExternalConfigFlags = 1 << 0
)

// portRangeArray is the fixed-size encoding of one protocol's port
// pool: up to MaxPortRanges (lo, hi) pairs plus a length byte giving
// how many of them are live. Trailing slots beyond Len are zeroed.
type portRangeArray struct {
	Ranges [MaxPortRanges]struct{ Lo, Hi uint16 }
	Len    uint8
}

// ExternalConfigValue is the fixed-size value stored at an
// external_config_<F> LPM key: flags plus five protocol port pools.
type ExternalConfigValue struct {
	Flags   ExternalConfigFlags
	TCP     portRangeArray
	UDP     portRangeArray
	ICMP    portRangeArray
	ICMPIn  portRangeArray
	ICMPOut portRangeArray
}

func encodeRangeArray(l portrange.List) portRangeArray {
	var arr portRangeArray
	n := len(l)
	if n > MaxPortRanges {
		n = MaxPortRanges
	}
	for i := 0; i < n; i++ {
		arr.Ranges[i].Lo = l[i].Lo
		arr.Ranges[i].Hi = l[i].Hi
	}
	arr.Len = uint8(n)
	return arr
}

// EncodeDestConfig serializes a DestConfig flag pair into the wire
// value the data plane reads.
func EncodeDestConfig(noSNAT, hairpin bool) DestConfigValue {
	var v DestConfigValue
	if noSNAT {
		v.Flags |= DestFlagNoSNAT
	}
	if hairpin {
		v.Flags |= DestFlagHairpin
	}
	return v
}

// EncodeExternalConfig serializes an external-config entry's flags
// and port pools into the fixed-size wire value. When noSNAT is true,
// every port array is left at zero length regardless of the supplied
// lists, matching the builder's "port arrays remain zero-length" rule.
func EncodeExternalConfig(noSNAT bool, tcp, udp, icmp, icmpIn, icmpOut portrange.List) ExternalConfigValue {
	var v ExternalConfigValue
	if noSNAT {
		v.Flags |= ExternalFlagNoSNAT
		return v
	}
	v.TCP = encodeRangeArray(tcp)
	v.UDP = encodeRangeArray(udp)
	v.ICMP = encodeRangeArray(icmp)
	v.ICMPIn = encodeRangeArray(icmpIn)
	v.ICMPOut = encodeRangeArray(icmpOut)
	return v
}

// BindingFlags are the bits of a binding-map key's flag byte.
type BindingFlags uint8

const (
	// BindingFlagOrigDir marks a key as the "original direction"
	// half of a binding (internal -> external).
	BindingFlagOrigDir BindingFlags = 1 << 0
	// BindingFlagReplyDir marks a key as the "reply direction" half
	// of a binding (external -> internal).
	BindingFlagReplyDir BindingFlags = 1 << 1
	// BindingFlagAddrV4 marks a key/value pair as IPv4.
	BindingFlagAddrV4 BindingFlags = 1 << 2
	// BindingFlagAddrV6 marks a key/value pair as IPv6.
	BindingFlagAddrV6 BindingFlags = 1 << 3
)

// BindingKey is the opaque binding-map key: direction and family
// flags plus an address blob whose meaningful prefix depends on the
// family flag (4 bytes for v4, 16 for v6).
type BindingKey struct {
	Flags BindingFlags
	Addr  [16]byte
	Port  uint16
}

// BindingValue is the opaque binding-map value: the translated
// counterpart address/port the data plane resolved this flow to.
type BindingValue struct {
	Flags BindingFlags
	Addr  [16]byte
	Port  uint16
}

// CTKey is the connection-tracking map key. External.SrcAddr is the
// field the Stale Flow Purger matches against the withdrawn external
// address.
type CTKey struct {
	Flags    BindingFlags
	External struct {
		SrcAddr [16]byte
		SrcPort uint16
	}
}
