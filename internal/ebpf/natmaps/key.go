// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natmaps

import "net/netip"

// LPMKeyV4 is the wire layout of an LPM-trie key over IPv4 prefixes:
// a 32-bit prefix length followed by the 4 address bytes, matching
// the kernel's bpf_lpm_trie_key convention.
type LPMKeyV4 struct {
	PrefixLen uint32
	Data      [4]byte
}

// LPMKeyV6 is the IPv6 equivalent of LPMKeyV4.
type LPMKeyV6 struct {
	PrefixLen uint32
	Data      [16]byte
}

// NewLPMKeyV4 encodes prefix as an LPM-trie key. Callers must ensure
// prefix.Addr() is a 4-byte address.
func NewLPMKeyV4(prefix netip.Prefix) LPMKeyV4 {
	return LPMKeyV4{
		PrefixLen: uint32(prefix.Bits()),
		Data:      prefix.Addr().As4(),
	}
}

// NewLPMKeyV6 encodes prefix as an LPM-trie key. Callers must ensure
// prefix.Addr() is a 16-byte address.
func NewLPMKeyV6(prefix netip.Prefix) LPMKeyV6 {
	return LPMKeyV6{
		PrefixLen: uint32(prefix.Bits()),
		Data:      prefix.Addr().As16(),
	}
}

// PrefixFromV4 decodes an LPM-trie key back into a netip.Prefix.
func PrefixFromV4(k LPMKeyV4) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom4(k.Data), int(k.PrefixLen))
}

// PrefixFromV6 decodes an LPM-trie key back into a netip.Prefix.
func PrefixFromV6(k LPMKeyV6) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom16(k.Data), int(k.PrefixLen))
}
