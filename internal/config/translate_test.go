// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytesBasicInterface(t *testing.T) {
	hcl := `
interface "wan0" {
  ifname = "eth0"
  nat44  = true

  external {
    address    = "203.0.113.10"
    tcp_ports  = ["20000-29999"]
  }
}
`
	pol, err := LoadBytes("test.hcl", []byte(hcl))
	require.NoError(t, err)
	require.Len(t, pol.Interfaces, 1)

	ifp := pol.Interfaces[0]
	require.NotNil(t, ifp.Selector.IfName)
	assert.Equal(t, "eth0", *ifp.Selector.IfName)
	assert.True(t, ifp.IfConfig.NAT44)
	require.Len(t, ifp.IfConfig.Externals, 1)
	assert.Equal(t, "203.0.113.10", ifp.IfConfig.Externals[0].Address.Addr.String())
}

func TestLoadBytesRejectsMissingSelector(t *testing.T) {
	hcl := `
interface "wan0" {
  nat44 = true
}
`
	_, err := LoadBytes("test.hcl", []byte(hcl))
	assert.Error(t, err)
}

func TestLoadBytesDefaultsFallBackToStandardPortRange(t *testing.T) {
	hcl := `
interface "wan0" {
  ifindex = 2
  nat44   = true
}
`
	pol, err := LoadBytes("test.hcl", []byte(hcl))
	require.NoError(t, err)
	require.Len(t, pol.Defaults.TCP, 1)
	assert.Equal(t, uint16(20000), pol.Defaults.TCP[0].Lo)
	assert.Equal(t, uint16(29999), pol.Defaults.TCP[0].Hi)
}

func TestParsePortRangeTokenSingleAndRange(t *testing.T) {
	single, err := ParsePortRangeToken("443")
	require.NoError(t, err)
	assert.Equal(t, uint16(443), single.Lo)
	assert.Equal(t, uint16(443), single.Hi)

	rng, err := ParsePortRangeToken("20000-29999")
	require.NoError(t, err)
	assert.Equal(t, uint16(20000), rng.Lo)
	assert.Equal(t, uint16(29999), rng.Hi)

	_, err = ParsePortRangeToken("not-a-port")
	assert.Error(t, err)
}

func TestResolveHairpinImplicitEnableFromInternalInterfaces(t *testing.T) {
	rh := &RawHairpin{InternalIfNames: []string{"lan0"}}
	cfg, err := resolveHairpin(rh, nil, nil, nil, 100, 0, 4787)
	require.NoError(t, err)
	assert.True(t, cfg.Enable)
	assert.Equal(t, uint32(100), cfg.IPRulePref)
	assert.Equal(t, uint32(4787), cfg.TableID)
}

func TestResolveHairpinExplicitDisableOverridesInternalInterfaces(t *testing.T) {
	disable := false
	rh := &RawHairpin{Enable: &disable, InternalIfNames: []string{"lan0"}}
	cfg, err := resolveHairpin(rh, nil, nil, nil, 100, 0, 4787)
	require.NoError(t, err)
	assert.False(t, cfg.Enable)
}

func TestResolveHairpinNilBlockDisabled(t *testing.T) {
	cfg, err := resolveHairpin(nil, nil, nil, nil, 100, 0, 4787)
	require.NoError(t, err)
	assert.False(t, cfg.Enable)
}

func TestResolveAddressSpecRejectsBothAddressAndPrefix(t *testing.T) {
	_, err := resolveAddressSpec(RawExternal{Address: "10.0.0.1", Prefix: "10.0.0.0/24"})
	assert.Error(t, err)
}

func TestResolveAddressSpecRejectsNeither(t *testing.T) {
	_, err := resolveAddressSpec(RawExternal{})
	assert.Error(t, err)
}
