// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natinstance is the Instance Lifecycle: translating one
// interface's NAT policy and observed addresses into the data-plane
// constants and runtime configuration, loading and attaching the
// compiled object, and reconfiguring it in place as addresses change.
package natinstance

import (
	"net/netip"
	"time"

	"einat.dev/einatd/internal/addrmon"
	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/logging"
	"einat.dev/einatd/internal/natconfig"
	"einat.dev/einatd/internal/natpolicy"
)

// IfConfig is the per-interface policy an orchestrator resolves from
// configuration: which families to NAT, the logging/timeout/fib
// tuning, and the raw externals and no-snat destinations to normalize.
type IfConfig struct {
	NAT44 bool
	NAT66 bool

	BPFLogLevel          uint8
	BPFFIBLookupExternal bool
	AllowInboundICMPX    bool
	// TimeoutFragment and the other timeout fields are zero when the
	// operator left them unset; NewInstanceConfig substitutes the
	// data plane's own defaults in that case.
	TimeoutFragment   time.Duration
	TimeoutPktMin     time.Duration
	TimeoutPktDefault time.Duration
	TimeoutTCPTrans   time.Duration
	TimeoutTCPEst     time.Duration
	DefaultExternals  bool
	Externals         []natpolicy.RawExternal
	NoSNATDests       []netip.Prefix
}

// InstanceConfig is the fully resolved, normalized configuration for
// one interface: the const config to apply before load plus the
// inputs needed to (re)build each family's RuntimeConfig whenever that
// family's addresses change.
type InstanceConfig struct {
	IfIndex int

	ConstConfig ConstConfig

	Externals     []natpolicy.External
	NoSNATDestsV4 []netip.Prefix
	NoSNATDestsV6 []netip.Prefix

	RuntimeV4 natconfig.RuntimeConfig
	RuntimeV6 natconfig.RuntimeConfig
}

// NewInstanceConfig resolves ifConfig against defaults and the
// interface's current addresses into an InstanceConfig, translating
// encap into the has-eth-encap const and deriving the per-family,
// per-direction enable bits from the nat44/nat66 selectors.
func NewInstanceConfig(
	ifIndex int,
	encap addrmon.Encapsulation,
	ifConfig IfConfig,
	defaults natpolicy.Defaults,
	addressesV4, addressesV6 []netip.Addr,
) (InstanceConfig, error) {
	hasEthEncap, err := translateEncap(ifIndex, encap)
	if err != nil {
		return InstanceConfig{}, err
	}

	nat44 := ifConfig.NAT44
	nat66 := ifConfig.NAT66

	cc := ConstConfig{
		LogLevel:           ifConfig.BPFLogLevel,
		HasEthEncap:        hasEthEncap,
		IngressIPv4:        nat44,
		EgressIPv4:         nat44,
		IngressIPv6:        nat66,
		EgressIPv6:         nat66,
		EnableFIBLookupSrc: ifConfig.BPFFIBLookupExternal,
		AllowInboundICMPX:  ifConfig.AllowInboundICMPX,
		TimeoutFragment:    orDefault(ifConfig.TimeoutFragment, defaultTimeoutFragment),
		TimeoutPktMin:      orDefault(ifConfig.TimeoutPktMin, defaultTimeoutPktMin),
		TimeoutPktDefault:  orDefault(ifConfig.TimeoutPktDefault, defaultTimeoutPktDefault),
		TimeoutTCPTrans:    orDefault(ifConfig.TimeoutTCPTrans, defaultTimeoutTCPTrans),
		TimeoutTCPEst:      orDefault(ifConfig.TimeoutTCPEst, defaultTimeoutTCPEst),
	}

	rawExternals := ifConfig.Externals
	if ifConfig.DefaultExternals {
		if nat44 {
			rawExternals = append(rawExternals, natpolicy.RawExternal{
				Address: natpolicy.Match(netip.PrefixFrom(netip.IPv4Unspecified(), 0)),
			})
		}
		if nat66 {
			rawExternals = append(rawExternals, natpolicy.RawExternal{
				Address: natpolicy.Match(netip.PrefixFrom(netip.IPv6Unspecified(), 0)),
			})
		}
	}

	externals := make([]natpolicy.External, 0, len(rawExternals))
	for i, raw := range rawExternals {
		ext, err := natpolicy.Normalize(raw, defaults)
		if err != nil {
			return InstanceConfig{}, nerrors.Wrapf(err, nerrors.KindConfigValidation, "normalize external #%d", i)
		}
		externals = append(externals, ext)
	}

	var noSNATv4, noSNATv6 []netip.Prefix
	for _, d := range ifConfig.NoSNATDests {
		if d.Addr().Is4() || d.Addr().Is4In6() {
			noSNATv4 = append(noSNATv4, d)
		} else {
			noSNATv6 = append(noSNATv6, d)
		}
	}

	cfg := InstanceConfig{
		IfIndex:       ifIndex,
		ConstConfig:   cc,
		Externals:     externals,
		NoSNATDestsV4: noSNATv4,
		NoSNATDestsV6: noSNATv6,
		RuntimeV4:     natconfig.Build(natconfig.FamilyV4, noSNATv4, externals, addressesV4),
		RuntimeV6:     natconfig.Build(natconfig.FamilyV6, noSNATv6, externals, addressesV6),
	}
	return cfg, nil
}

// IsStatic reports whether every external in cfg names a static
// address rather than a prefix matcher, meaning the instance never
// needs to react to address-change events.
func (cfg InstanceConfig) IsStatic() bool {
	for _, ext := range cfg.Externals {
		if ext.Address.Kind != natpolicy.AddressStatic {
			return false
		}
	}
	return true
}

// rebuildV4 recomputes RuntimeV4 from cfg's fixed inputs against a new
// address set, without mutating cfg.
func (cfg InstanceConfig) rebuildV4(addresses []netip.Addr) natconfig.RuntimeConfig {
	return natconfig.Build(natconfig.FamilyV4, cfg.NoSNATDestsV4, cfg.Externals, addresses)
}

// rebuildV6 is rebuildV4's IPv6 counterpart.
func (cfg InstanceConfig) rebuildV6(addresses []netip.Addr) natconfig.RuntimeConfig {
	return natconfig.Build(natconfig.FamilyV6, cfg.NoSNATDestsV6, cfg.Externals, addresses)
}

// translateEncap maps an interface's link encapsulation to the
// has-eth-encap const, following an unknown encapsulation down to "no
// encap" with a warning rather than refusing to load, and rejecting
// encapsulations the data plane cannot parse at all.
func translateEncap(ifIndex int, encap addrmon.Encapsulation) (bool, error) {
	switch encap {
	case addrmon.EncapEthernet:
		return true, nil
	case addrmon.EncapBareIP:
		return false, nil
	case addrmon.EncapUnsupported:
		return false, nerrors.Errorf(nerrors.KindConfigValidation, "interface %d has unsupported packet encapsulation", ifIndex)
	default:
		logging.Default().Warn("unknown packet encapsulation, assuming none", "ifindex", ifIndex)
		return false, nil
	}
}
