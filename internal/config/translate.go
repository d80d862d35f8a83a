// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/hairpin"
	"einat.dev/einatd/internal/natinstance"
	"einat.dev/einatd/internal/natpolicy"
	"einat.dev/einatd/internal/portrange"
)

// Default hairpin rule priorities and routing table IDs, used when a
// policy file's defaults block leaves them unset. Mirrors the
// original's Defaults::default() constants for ip_rule_pref/table_id.
const (
	defaultIPv4HairpinRulePref = 100
	defaultIPv4LocalRulePref   = 0
	defaultIPv4HairpinTableID  = 4787
	defaultIPv6HairpinRulePref = 100
	defaultIPv6LocalRulePref   = 0
	defaultIPv6HairpinTableID  = 4787
)

// Policy is the fully resolved configuration the orchestrator
// consumes: one entry per managed interface, plus the shared defaults
// every interface's externals normalize against.
type Policy struct {
	Interfaces []InterfacePolicy
	Defaults   natpolicy.Defaults
}

// InterfaceSelector names the interface a policy entry applies to: at
// least one of IfIndex or IfName is set, and IfIndex is used when both
// are.
type InterfaceSelector struct {
	IfIndex *int
	IfName  *string
}

// InterfacePolicy is one interface's resolved policy: the fixed
// natinstance.IfConfig plus its per-family hairpin routing
// configuration.
type InterfacePolicy struct {
	Selector  InterfaceSelector
	IfConfig  natinstance.IfConfig
	HairpinV4 hairpin.Config
	HairpinV6 hairpin.Config
}

func resolve(raw Raw) (*Policy, error) {
	rd := raw.Defaults
	if rd == nil {
		rd = &RawDefaults{}
	}

	defaults, err := resolveDefaults(*rd)
	if err != nil {
		return nil, err
	}

	pol := &Policy{Defaults: defaults}
	for i, ri := range raw.Interfaces {
		ifp, err := resolveInterface(ri, *rd)
		if err != nil {
			return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "interface #%d (%s)", i, ri.Name)
		}
		pol.Interfaces = append(pol.Interfaces, ifp)
	}
	return pol, nil
}

func resolveDefaults(rd RawDefaults) (natpolicy.Defaults, error) {
	tcp, err := parseRangeList(rd.TCPPorts)
	if err != nil {
		return natpolicy.Defaults{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "defaults.tcp_ports")
	}
	udp, err := parseRangeList(rd.UDPPorts)
	if err != nil {
		return natpolicy.Defaults{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "defaults.udp_ports")
	}
	icmp, err := parseRangeList(rd.ICMPRanges)
	if err != nil {
		return natpolicy.Defaults{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "defaults.icmp_ranges")
	}
	icmpIn, err := parseRangeList(rd.ICMPInRanges)
	if err != nil {
		return natpolicy.Defaults{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "defaults.icmp_in_ranges")
	}
	icmpOut, err := parseRangeList(rd.ICMPOutRanges)
	if err != nil {
		return natpolicy.Defaults{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "defaults.icmp_out_ranges")
	}

	if len(tcp) == 0 {
		tcp = []portrange.Range{{Lo: 20000, Hi: 29999}}
	}
	if len(udp) == 0 {
		udp = []portrange.Range{{Lo: 20000, Hi: 29999}}
	}

	return natpolicy.Defaults{
		TCP:     tcp,
		UDP:     udp,
		ICMP:    icmp,
		ICMPIn:  icmpIn,
		ICMPOut: icmpOut,
	}, nil
}

func resolveInterface(ri RawInterface, rd RawDefaults) (InterfacePolicy, error) {
	if ri.IfIndex == nil && ri.IfName == nil {
		return InterfacePolicy{}, nerrors.New(nerrors.KindConfigValidation, "interface block names neither ifindex nor ifname")
	}

	externals, err := resolveExternals(ri.Externals)
	if err != nil {
		return InterfacePolicy{}, err
	}

	noSNAT, err := parsePrefixList(ri.NoSNATDestinations)
	if err != nil {
		return InterfacePolicy{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "no_snat_destinations")
	}

	ifc := natinstance.IfConfig{
		NAT44:                ri.NAT44,
		NAT66:                ri.NAT66,
		BPFLogLevel:          derefU8(ri.BPFLogLevel),
		BPFFIBLookupExternal: derefBool(ri.BPFFIBLookupExternal),
		AllowInboundICMPX:    derefBool(ri.AllowInboundICMPX),
		DefaultExternals:     ri.DefaultExternals,
		Externals:            externals,
		NoSNATDests:          noSNAT,
	}

	var perr error
	ifc.TimeoutFragment, perr = parseOptDuration(ri.TimeoutFragment, perr)
	ifc.TimeoutPktMin, perr = parseOptDuration(ri.TimeoutPktMin, perr)
	ifc.TimeoutPktDefault, perr = parseOptDuration(ri.TimeoutPktDefault, perr)
	ifc.TimeoutTCPTrans, perr = parseOptDuration(ri.TimeoutTCPTrans, perr)
	ifc.TimeoutTCPEst, perr = parseOptDuration(ri.TimeoutTCPEst, perr)
	if perr != nil {
		return InterfacePolicy{}, nerrors.Wrap(perr, nerrors.KindConfigValidation, "timeout fields")
	}

	v4, err := resolveHairpin(ri.IPv4Hairpin, rd.IPv4HairpinRulePref, rd.IPv4LocalRulePref, rd.IPv4HairpinTableID,
		defaultIPv4HairpinRulePref, defaultIPv4LocalRulePref, defaultIPv4HairpinTableID)
	if err != nil {
		return InterfacePolicy{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "ipv4_hairpin")
	}
	v6, err := resolveHairpin(ri.IPv6Hairpin, rd.IPv6HairpinRulePref, rd.IPv6LocalRulePref, rd.IPv6HairpinTableID,
		defaultIPv6HairpinRulePref, defaultIPv6LocalRulePref, defaultIPv6HairpinTableID)
	if err != nil {
		return InterfacePolicy{}, nerrors.Wrap(err, nerrors.KindConfigValidation, "ipv6_hairpin")
	}

	return InterfacePolicy{
		Selector:  InterfaceSelector{IfIndex: ri.IfIndex, IfName: ri.IfName},
		IfConfig:  ifc,
		HairpinV4: v4,
		HairpinV6: v6,
	}, nil
}

// resolveHairpin mirrors main.rs's hairpin-enable derivation exactly:
// enabled if explicitly requested, or implicitly when internal
// interfaces were named and it was not explicitly disabled.
func resolveHairpin(rh *RawHairpin, defRulePref, defLocalPref, defTableID *uint32, fallbackRulePref, fallbackLocalPref, fallbackTableID uint32) (hairpin.Config, error) {
	if rh == nil {
		return hairpin.Config{}, nil
	}

	explicitEnable := rh.Enable
	internalIfs := rh.InternalIfNames
	enable := (explicitEnable != nil && *explicitEnable) ||
		(!(explicitEnable != nil && !*explicitEnable) && len(internalIfs) > 0)

	rulePref := derefU32OrDefault(rh.IPRulePref, derefU32OrDefault(defRulePref, fallbackRulePref))
	localPref := derefU32OrDefault(defLocalPref, fallbackLocalPref)
	tableID := derefU32OrDefault(rh.TableID, derefU32OrDefault(defTableID, fallbackTableID))

	protocols := rh.IPProtocols
	if len(protocols) == 0 {
		protocols = []string{"tcp", "udp"}
	}

	return hairpin.Config{
		Enable:          enable,
		InternalIfNames: internalIfs,
		IPRulePref:      rulePref,
		LocalIPRulePref: localPref,
		TableID:         tableID,
		IPProtocols:     protocols,
	}, nil
}

func resolveExternals(raws []RawExternal) ([]natpolicy.RawExternal, error) {
	out := make([]natpolicy.RawExternal, 0, len(raws))
	for i, re := range raws {
		spec, err := resolveAddressSpec(re)
		if err != nil {
			return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "external #%d", i)
		}

		ext := natpolicy.RawExternal{
			Address:   spec,
			NoSNAT:    re.NoSNAT,
			NoHairpin: re.NoHairpin,
		}

		if len(re.TCPPorts) > 0 {
			ranges, err := parseRangeList(re.TCPPorts)
			if err != nil {
				return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "external #%d tcp_ports", i)
			}
			ext.TCP, ext.HasTCP = ranges, true
		}
		if len(re.UDPPorts) > 0 {
			ranges, err := parseRangeList(re.UDPPorts)
			if err != nil {
				return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "external #%d udp_ports", i)
			}
			ext.UDP, ext.HasUDP = ranges, true
		}
		if len(re.ICMPRanges) > 0 {
			ranges, err := parseRangeList(re.ICMPRanges)
			if err != nil {
				return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "external #%d icmp_ranges", i)
			}
			ext.ICMP, ext.HasICMP = ranges, true
		}
		if len(re.ICMPInRanges) > 0 {
			ranges, err := parseRangeList(re.ICMPInRanges)
			if err != nil {
				return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "external #%d icmp_in_ranges", i)
			}
			ext.ICMPIn, ext.HasICMPIn = ranges, true
		}
		if len(re.ICMPOutRanges) > 0 {
			ranges, err := parseRangeList(re.ICMPOutRanges)
			if err != nil {
				return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "external #%d icmp_out_ranges", i)
			}
			ext.ICMPOut, ext.HasICMPOut = ranges, true
		}

		out = append(out, ext)
	}
	return out, nil
}

func resolveAddressSpec(re RawExternal) (natpolicy.AddressSpec, error) {
	switch {
	case re.Address != "" && re.Prefix != "":
		return natpolicy.AddressSpec{}, nerrors.New(nerrors.KindConfigValidation, "external specifies both address and prefix")
	case re.Address != "":
		addr, err := netip.ParseAddr(re.Address)
		if err != nil {
			return natpolicy.AddressSpec{}, nerrors.Wrapf(err, nerrors.KindConfigValidation, "invalid external address %q", re.Address)
		}
		return natpolicy.Static(addr), nil
	case re.Prefix != "":
		prefix, err := netip.ParsePrefix(re.Prefix)
		if err != nil {
			return natpolicy.AddressSpec{}, nerrors.Wrapf(err, nerrors.KindConfigValidation, "invalid external prefix %q", re.Prefix)
		}
		return natpolicy.Match(prefix), nil
	default:
		return natpolicy.AddressSpec{}, nerrors.New(nerrors.KindConfigValidation, "external block specifies neither address nor prefix")
	}
}

func parseRangeList(raw []string) ([]portrange.Range, error) {
	out := make([]portrange.Range, 0, len(raw))
	for _, s := range raw {
		r, err := parsePortRange(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ParsePortRangeToken parses a single "lo-hi" or "port" token into a
// Range, exported for the CLI's -ports flag which shares the same
// token grammar as the policy file's port-range lists.
func ParsePortRangeToken(s string) (portrange.Range, error) {
	return parsePortRange(s)
}

// parsePortRange parses "lo-hi" or a single "port" token into a
// Range.
func parsePortRange(s string) (portrange.Range, error) {
	lo, hi, found := strings.Cut(s, "-")
	loVal, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
	if err != nil {
		return portrange.Range{}, nerrors.Wrapf(err, nerrors.KindConfigValidation, "invalid port range %q", s)
	}
	if !found {
		return portrange.Range{Lo: uint16(loVal), Hi: uint16(loVal)}, nil
	}
	hiVal, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 16)
	if err != nil {
		return portrange.Range{}, nerrors.Wrapf(err, nerrors.KindConfigValidation, "invalid port range %q", s)
	}
	return portrange.Range{Lo: uint16(loVal), Hi: uint16(hiVal)}, nil
}

func parsePrefixList(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, nerrors.Wrapf(err, nerrors.KindConfigValidation, "invalid cidr %q", s)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseOptDuration(s *string, prevErr error) (time.Duration, error) {
	if prevErr != nil {
		return 0, prevErr
	}
	if s == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, err
	}
	return d, nil
}

func derefBool(b *bool) bool {
	return b != nil && *b
}

func derefU8(v *uint8) uint8 {
	if v == nil {
		return 0
	}
	return *v
}

func derefU32OrDefault(v *uint32, def uint32) uint32 {
	if v == nil {
		return def
	}
	return *v
}
