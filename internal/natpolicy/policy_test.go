// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natpolicy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/portrange"
)

func TestNormalizeUsesDefaultsWhenUnset(t *testing.T) {
	defaults := Defaults{TCP: []portrange.Range{{1000, 2000}}}
	ext, err := Normalize(RawExternal{Address: Static(netip.MustParseAddr("10.0.0.1"))}, defaults)
	require.NoError(t, err)
	assert.Equal(t, portrange.List{{1000, 2000}}, ext.TCP)
}

func TestNormalizeEmptyICMPForcesInOutEmpty(t *testing.T) {
	raw := RawExternal{
		Address:    Static(netip.MustParseAddr("10.0.0.1")),
		HasICMPIn:  true,
		ICMPIn:     []portrange.Range{{1, 2}},
		HasICMPOut: true,
		ICMPOut:    []portrange.Range{{1, 2}},
	}
	ext, err := Normalize(raw, Defaults{})
	require.NoError(t, err)
	assert.Empty(t, ext.ICMPIn)
	assert.Empty(t, ext.ICMPOut)
}

func TestNormalizeICMPContainmentViolation(t *testing.T) {
	raw := RawExternal{
		Address:   Static(netip.MustParseAddr("10.0.0.1")),
		HasICMP:   true,
		ICMP:      []portrange.Range{{0, 10}},
		HasICMPIn: true,
		ICMPIn:    []portrange.Range{{20, 30}},
	}
	_, err := Normalize(raw, Defaults{})
	require.Error(t, err)
	assert.Equal(t, nerrors.KindConfigValidation, nerrors.GetKind(err))
	assert.Equal(t, "IcmpContainmentViolation", nerrors.GetAttributes(err)["reason"])
}

func TestNormalizeTCPZeroForbidden(t *testing.T) {
	raw := RawExternal{
		Address: Static(netip.MustParseAddr("10.0.0.1")),
		HasTCP:  true,
		TCP:     []portrange.Range{{0, 1}},
	}
	_, err := Normalize(raw, Defaults{})
	require.Error(t, err)
	assert.Equal(t, "ZeroNotAllowed", nerrors.GetAttributes(err)["reason"])
}

func TestNormalizeCopiesFlagsAndAddress(t *testing.T) {
	addr := Static(netip.MustParseAddr("10.0.0.1"))
	ext, err := Normalize(RawExternal{Address: addr, NoSNAT: true, NoHairpin: true}, Defaults{})
	require.NoError(t, err)
	assert.True(t, ext.NoSNAT)
	assert.True(t, ext.NoHairpin)
	assert.Equal(t, addr, ext.Address)
}
