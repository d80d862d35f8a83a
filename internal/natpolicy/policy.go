// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natpolicy normalizes a single external-address policy entry
// (static address or address-matcher, plus protocol port ranges and
// flags) against its defaults, producing a validated External or a
// structured error.
package natpolicy

import (
	"fmt"
	"net/netip"

	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/portrange"
)

// AddressKind distinguishes a static external address from a prefix
// matcher that is resolved against locally observed addresses at
// reconcile time.
type AddressKind int

const (
	// AddressStatic names a single, fixed external address.
	AddressStatic AddressKind = iota
	// AddressMatch names a prefix; every locally-assigned host address
	// inside it is claimed as an external address.
	AddressMatch
)

// AddressSpec is either a static address or a matcher prefix.
type AddressSpec struct {
	Kind   AddressKind
	Addr   netip.Addr   // valid iff Kind == AddressStatic
	Prefix netip.Prefix // valid iff Kind == AddressMatch
}

// Static builds a Static AddressSpec.
func Static(addr netip.Addr) AddressSpec {
	return AddressSpec{Kind: AddressStatic, Addr: addr}
}

// Match builds a Match AddressSpec.
func Match(prefix netip.Prefix) AddressSpec {
	return AddressSpec{Kind: AddressMatch, Prefix: prefix}
}

// RawExternal is the as-configured form of an external policy entry,
// before defaults are applied and port ranges are validated.
type RawExternal struct {
	Address   AddressSpec
	NoSNAT    bool
	NoHairpin bool

	TCP      []portrange.Range
	UDP      []portrange.Range
	ICMP     []portrange.Range
	ICMPIn   []portrange.Range
	ICMPOut  []portrange.Range
	HasTCP   bool
	HasUDP   bool
	HasICMP  bool
	HasICMPIn  bool
	HasICMPOut bool
}

// Defaults supplies the fallback port-range lists used when a raw
// entry does not specify its own.
type Defaults struct {
	TCP     []portrange.Range
	UDP     []portrange.Range
	ICMP    []portrange.Range
	ICMPIn  []portrange.Range
	ICMPOut []portrange.Range
}

// External is a fully normalized external policy entry.
type External struct {
	Address   AddressSpec
	NoSNAT    bool
	NoHairpin bool

	TCP     portrange.List
	UDP     portrange.List
	ICMP    portrange.List
	ICMPIn  portrange.List
	ICMPOut portrange.List
}

// Normalize validates raw against defaults, producing a fully
// normalized External or a structured KindConfigValidation error.
//
// TCP and UDP disallow port 0; ICMP families allow it. If ICMP is
// empty after normalization, ICMP-in and ICMP-out are forced empty
// even when the raw form specified them. Containment of ICMP over
// ICMP-in and ICMP-out is asserted afterward.
func Normalize(raw RawExternal, defaults Defaults) (External, error) {
	tcpRaw := defaults.TCP
	if raw.HasTCP {
		tcpRaw = raw.TCP
	}
	udpRaw := defaults.UDP
	if raw.HasUDP {
		udpRaw = raw.UDP
	}
	icmpRaw := defaults.ICMP
	if raw.HasICMP {
		icmpRaw = raw.ICMP
	}
	icmpInRaw := defaults.ICMPIn
	if raw.HasICMPIn {
		icmpInRaw = raw.ICMPIn
	}
	icmpOutRaw := defaults.ICMPOut
	if raw.HasICMPOut {
		icmpOutRaw = raw.ICMPOut
	}

	tcp, err := portrange.FromRaw(tcpRaw, false)
	if err != nil {
		return External{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "tcp port ranges")
	}
	udp, err := portrange.FromRaw(udpRaw, false)
	if err != nil {
		return External{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "udp port ranges")
	}
	icmp, err := portrange.FromRaw(icmpRaw, true)
	if err != nil {
		return External{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "icmp ranges")
	}
	icmpIn, err := portrange.FromRaw(icmpInRaw, true)
	if err != nil {
		return External{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "icmp-in ranges")
	}
	icmpOut, err := portrange.FromRaw(icmpOutRaw, true)
	if err != nil {
		return External{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "icmp-out ranges")
	}

	if len(icmp) == 0 {
		icmpIn = nil
		icmpOut = nil
	}

	okIn, err := portrange.Contains(icmp, icmpIn)
	if err != nil {
		return External{}, err
	}
	if !okIn {
		return External{}, nerrors.Attr(
			nerrors.Errorf(nerrors.KindConfigValidation, "icmp ranges do not contain icmp-in ranges"),
			"reason", "IcmpContainmentViolation",
		)
	}
	okOut, err := portrange.Contains(icmp, icmpOut)
	if err != nil {
		return External{}, err
	}
	if !okOut {
		// NOTE: the upstream source this behavior was modeled on
		// reports the inbound value in this message even though this
		// is the outbound-containment check; preserved verbatim.
		return External{}, nerrors.Attr(
			nerrors.Errorf(nerrors.KindConfigValidation, "icmp ranges do not contain icmp-in ranges"),
			"reason", "IcmpContainmentViolation",
		)
	}

	return External{
		Address:   raw.Address,
		NoSNAT:    raw.NoSNAT,
		NoHairpin: raw.NoHairpin,
		TCP:       tcp,
		UDP:       udp,
		ICMP:      icmp,
		ICMPIn:    icmpIn,
		ICMPOut:   icmpOut,
	}, nil
}

func (a AddressSpec) String() string {
	switch a.Kind {
	case AddressStatic:
		return a.Addr.String()
	case AddressMatch:
		return a.Prefix.String()
	default:
		return fmt.Sprintf("AddressSpec(%d)", a.Kind)
	}
}
