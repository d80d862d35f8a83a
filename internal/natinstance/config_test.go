// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natinstance

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einat.dev/einatd/internal/addrmon"
	"einat.dev/einatd/internal/natpolicy"
)

func TestNewInstanceConfigStaticIsStatic(t *testing.T) {
	ifc := IfConfig{
		NAT44: true,
		Externals: []natpolicy.RawExternal{
			{Address: natpolicy.Static(netip.MustParseAddr("203.0.113.1"))},
		},
	}
	cfg, err := NewInstanceConfig(2, addrmon.EncapEthernet, ifc, natpolicy.Defaults{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, cfg.IsStatic())
	assert.True(t, cfg.ConstConfig.HasEthEncap)
}

func TestNewInstanceConfigMatcherIsNotStatic(t *testing.T) {
	ifc := IfConfig{
		NAT44: true,
		Externals: []natpolicy.RawExternal{
			{Address: natpolicy.Match(netip.MustParsePrefix("10.0.0.0/24"))},
		},
	}
	cfg, err := NewInstanceConfig(2, addrmon.EncapBareIP, ifc, natpolicy.Defaults{},
		[]netip.Addr{netip.MustParseAddr("10.0.0.5")}, nil)
	require.NoError(t, err)
	assert.False(t, cfg.IsStatic())
	assert.False(t, cfg.ConstConfig.HasEthEncap)
}

func TestNewInstanceConfigDefaultExternalsAddsWildcardPerFamily(t *testing.T) {
	ifc := IfConfig{NAT44: true, NAT66: true, DefaultExternals: true}
	cfg, err := NewInstanceConfig(3, addrmon.EncapEthernet, ifc, natpolicy.Defaults{},
		[]netip.Addr{netip.MustParseAddr("192.0.2.1")}, []netip.Addr{netip.MustParseAddr("2001:db8::1")})
	require.NoError(t, err)
	require.Len(t, cfg.Externals, 2)
	assert.Contains(t, cfg.RuntimeV4.ExternalConfig, netip.MustParsePrefix("192.0.2.1/32"))
	assert.Contains(t, cfg.RuntimeV6.ExternalConfig, netip.MustParsePrefix("2001:db8::1/128"))
}

func TestNewInstanceConfigUnsupportedEncapFails(t *testing.T) {
	ifc := IfConfig{NAT44: true}
	_, err := NewInstanceConfig(4, addrmon.EncapUnsupported, ifc, natpolicy.Defaults{}, nil, nil)
	assert.Error(t, err)
}

func TestNewInstanceConfigSplitsNoSNATDestsByFamily(t *testing.T) {
	ifc := IfConfig{
		NAT44: true,
		NAT66: true,
		NoSNATDests: []netip.Prefix{
			netip.MustParsePrefix("192.168.0.0/16"),
			netip.MustParsePrefix("fd00::/8"),
		},
	}
	cfg, err := NewInstanceConfig(5, addrmon.EncapEthernet, ifc, natpolicy.Defaults{}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, cfg.NoSNATDestsV4, 1)
	assert.Len(t, cfg.NoSNATDestsV6, 1)
}

func TestRebuildV4PreservesFixedInputs(t *testing.T) {
	ifc := IfConfig{
		NAT44: true,
		Externals: []natpolicy.RawExternal{
			{Address: natpolicy.Match(netip.MustParsePrefix("10.0.0.0/24"))},
		},
	}
	cfg, err := NewInstanceConfig(6, addrmon.EncapEthernet, ifc, natpolicy.Defaults{},
		[]netip.Addr{netip.MustParseAddr("10.0.0.5")}, nil)
	require.NoError(t, err)

	rebuilt := cfg.rebuildV4([]netip.Addr{netip.MustParseAddr("10.0.0.9")})
	assert.Equal(t, netip.MustParsePrefix("10.0.0.9/32"), rebuilt.ExternalAddr)
}
