// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natconfig

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einat.dev/einatd/internal/natpolicy"
	"einat.dev/einatd/internal/portrange"
)

func mustExt(t *testing.T, raw natpolicy.RawExternal) natpolicy.External {
	t.Helper()
	ext, err := natpolicy.Normalize(raw, natpolicy.Defaults{})
	require.NoError(t, err)
	return ext
}

func TestBuildStaticSingleAddress(t *testing.T) {
	ext := mustExt(t, natpolicy.RawExternal{
		Address: natpolicy.Static(netip.MustParseAddr("10.0.0.1")),
		HasTCP:  true,
		TCP:     []portrange.Range{{1000, 2000}},
	})
	cfg := Build(FamilyV4, nil, []natpolicy.External{ext}, []netip.Addr{netip.MustParseAddr("10.0.0.1")})

	p := netip.PrefixFrom(netip.MustParseAddr("10.0.0.1"), 32)
	assert.Equal(t, p, cfg.ExternalAddr)
	assert.Equal(t, portrange.List{{1000, 2000}}, cfg.ExternalConfig[p].TCP)
	assert.Equal(t, 1, len(cfg.ExternalConfig[p].TCP))
	assert.True(t, cfg.DestConfig[p].Hairpin)
}

func TestBuildMatcherTwoAddresses(t *testing.T) {
	ext := mustExt(t, natpolicy.RawExternal{
		Address:   natpolicy.Match(netip.MustParsePrefix("10.0.0.0/24")),
		NoHairpin: true,
		HasTCP:    true,
		TCP:       []portrange.Range{{20000, 29999}},
	})
	addrs := []netip.Addr{netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.0.9")}
	cfg := Build(FamilyV4, nil, []natpolicy.External{ext}, addrs)

	p5 := netip.PrefixFrom(addrs[0], 32)
	p9 := netip.PrefixFrom(addrs[1], 32)
	assert.Contains(t, cfg.ExternalConfig, p5)
	assert.Contains(t, cfg.ExternalConfig, p9)
	assert.Equal(t, p5, cfg.ExternalAddr)
	assert.False(t, cfg.DestConfig[p5].Hairpin)
	assert.False(t, cfg.DestConfig[p9].Hairpin)
}

func TestBuildNoSNATPrecedence(t *testing.T) {
	e1 := mustExt(t, natpolicy.RawExternal{Address: natpolicy.Static(netip.MustParseAddr("1.2.3.4")), NoSNAT: true})
	e2 := mustExt(t, natpolicy.RawExternal{Address: natpolicy.Static(netip.MustParseAddr("5.6.7.8"))})
	cfg := Build(FamilyV4, nil, []natpolicy.External{e1, e2}, []netip.Addr{
		netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("5.6.7.8"),
	})

	assert.Equal(t, netip.PrefixFrom(netip.MustParseAddr("5.6.7.8"), 32), cfg.ExternalAddr)
	p1 := netip.PrefixFrom(netip.MustParseAddr("1.2.3.4"), 32)
	assert.True(t, cfg.ExternalConfig[p1].NoSNAT)
	assert.Empty(t, cfg.ExternalConfig[p1].TCP)
	assert.True(t, cfg.DestConfig[p1].NoSNAT)
}

func TestBuildDestConfigKeySetInvariant(t *testing.T) {
	noSnat := []netip.Prefix{netip.MustParsePrefix("192.168.0.0/16")}
	ext := mustExt(t, natpolicy.RawExternal{Address: natpolicy.Static(netip.MustParseAddr("10.0.0.1"))})
	cfg := Build(FamilyV4, noSnat, []natpolicy.External{ext}, []netip.Addr{netip.MustParseAddr("10.0.0.1")})

	_, hasNoSnat := cfg.DestConfig[noSnat[0]]
	assert.True(t, hasNoSnat)
	p := netip.PrefixFrom(netip.MustParseAddr("10.0.0.1"), 32)
	_, hasExternalHost := cfg.DestConfig[p]
	assert.True(t, hasExternalHost)
	assert.Len(t, cfg.DestConfig, 2)
}

func TestBuildDeterministic(t *testing.T) {
	ext := mustExt(t, natpolicy.RawExternal{Address: natpolicy.Match(netip.MustParsePrefix("10.0.0.0/24"))})
	addrs := []netip.Addr{netip.MustParseAddr("10.0.0.5"), netip.MustParseAddr("10.0.0.9")}
	a := Build(FamilyV4, nil, []natpolicy.External{ext}, addrs)
	b := Build(FamilyV4, nil, []natpolicy.External{ext}, addrs)
	assert.Equal(t, a, b)
}

func TestBuildAddressWithdrawnMovesExternalAddr(t *testing.T) {
	ext := mustExt(t, natpolicy.RawExternal{Address: natpolicy.Match(netip.MustParsePrefix("10.0.0.0/24"))})
	cfg := Build(FamilyV4, nil, []natpolicy.External{ext}, []netip.Addr{netip.MustParseAddr("10.0.0.9")})
	assert.Equal(t, netip.PrefixFrom(netip.MustParseAddr("10.0.0.9"), 32), cfg.ExternalAddr)
}

func TestDiffInsertUpdateDelete(t *testing.T) {
	p1 := netip.MustParsePrefix("10.0.0.1/32")
	p2 := netip.MustParsePrefix("10.0.0.2/32")
	p3 := netip.MustParsePrefix("10.0.0.3/32")
	p4 := netip.MustParsePrefix("10.0.0.4/32")

	old := map[netip.Prefix]DestConfig{
		p1: {Hairpin: true},
		p2: {Hairpin: false},
		p4: {Hairpin: true},
	}
	newM := map[netip.Prefix]DestConfig{
		p1: {Hairpin: true},
		p2: {Hairpin: true},
		p3: {Hairpin: true},
	}

	changes := Diff(old, newM, EqualDestConfig)
	require.Len(t, changes, 3)
	assert.Equal(t, OpUpdate, changes[0].Op)
	assert.Equal(t, p2, changes[0].Key)
	assert.Equal(t, OpInsert, changes[1].Op)
	assert.Equal(t, p3, changes[1].Key)
	assert.Equal(t, OpDelete, changes[2].Op)
	assert.Equal(t, p4, changes[2].Key)
}

func TestDiffNoopWhenEqual(t *testing.T) {
	p1 := netip.MustParsePrefix("10.0.0.1/32")
	m := map[netip.Prefix]DestConfig{p1: {Hairpin: true}}
	changes := Diff(m, m, EqualDestConfig)
	assert.Empty(t, changes)
}
