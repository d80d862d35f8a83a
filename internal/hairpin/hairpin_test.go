// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hairpin

import (
	"net/netip"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einat.dev/einatd/internal/natconfig"
)

func TestConfigValidateRejectsNonStrictPriority(t *testing.T) {
	cases := []struct {
		name            string
		rulePref, local uint32
		wantErr         bool
	}{
		{"rule before local", 100, 200, false},
		{"rule equal to local", 100, 100, true},
		{"rule after local", 200, 100, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{IPRulePref: tc.rulePref, LocalIPRulePref: tc.local}
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPrefixToIPNetRoundTripsV4(t *testing.T) {
	p := netip.MustParsePrefix("192.0.2.0/24")
	n := prefixToIPNet(p)
	require.NotNil(t, n)
	assert.Equal(t, 4, len(n.IP.To4()))
	ones, bits := n.Mask.Size()
	assert.Equal(t, 24, ones)
	assert.Equal(t, 32, bits)
}

func TestPrefixToIPNetRoundTripsV6(t *testing.T) {
	p := netip.MustParsePrefix("2001:db8::/32")
	n := prefixToIPNet(p)
	require.NotNil(t, n)
	ones, bits := n.Mask.Size()
	assert.Equal(t, 32, ones)
	assert.Equal(t, 128, bits)
}

func TestNetlinkFamilySelectsByFamily(t *testing.T) {
	v4 := New(natconfig.FamilyV4, 1, 100)
	v6 := New(natconfig.FamilyV6, 1, 100)
	assert.NotEqual(t, v4.netlinkFamily(), v6.netlinkFamily())
}

// TestRoutingConfigureOnLoopback exercises Configure/ReconfigureDests/
// Deconfigure against the real netlink rule and route tables on the
// loopback interface, the same "skip unless root" gate the teacher
// uses for tests that touch live kernel state.
func TestRoutingConfigureOnLoopback(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root to add ip rules/routes")
	}

	const testTableID = 250
	r := New(natconfig.FamilyV4, 1, testTableID)
	cfg := Config{
		Enable:          true,
		InternalIfNames: []string{"lo"},
		IPRulePref:      30000,
		LocalIPRulePref: 32766,
		TableID:         testTableID,
	}
	dst := netip.MustParsePrefix("198.51.100.1/32")

	require.NoError(t, r.Configure(cfg, []netip.Prefix{dst}))
	defer r.Deconfigure()

	assert.Contains(t, r.installedDst, dst)

	dst2 := netip.MustParsePrefix("198.51.100.2/32")
	require.NoError(t, r.ReconfigureDests([]netip.Prefix{dst2}))
	assert.NotContains(t, r.installedDst, dst)
	assert.Contains(t, r.installedDst, dst2)

	require.NoError(t, r.Deconfigure())
	assert.Empty(t, r.installedDst)
}
