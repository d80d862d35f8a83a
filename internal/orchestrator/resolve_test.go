// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einat.dev/einatd/internal/config"
)

func TestResolveIndexByIfIndex(t *testing.T) {
	idx := 7
	got, err := resolveIndex(config.InterfaceSelector{IfIndex: &idx})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestResolveIndexMissingSelectorErrors(t *testing.T) {
	_, err := resolveIndex(config.InterfaceSelector{})
	assert.Error(t, err)
}

func TestResolveIndexByNameUnknownInterfaceErrors(t *testing.T) {
	name := "einatd-test-nonexistent-if"
	_, err := resolveIndex(config.InterfaceSelector{IfName: &name})
	assert.Error(t, err)
}

func TestAddrsEqualSameSetDifferentOrder(t *testing.T) {
	a := []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")}
	b := []netip.Addr{netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.1")}
	assert.True(t, addrsEqual(a, b))
}

func TestAddrsEqualDifferentLength(t *testing.T) {
	a := []netip.Addr{netip.MustParseAddr("10.0.0.1")}
	b := []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")}
	assert.False(t, addrsEqual(a, b))
}

func TestAddrsEqualDisjointSameLength(t *testing.T) {
	a := []netip.Addr{netip.MustParseAddr("10.0.0.1")}
	b := []netip.Addr{netip.MustParseAddr("10.0.0.2")}
	assert.False(t, addrsEqual(a, b))
}

func TestAddrsEqualBothEmpty(t *testing.T) {
	assert.True(t, addrsEqual(nil, nil))
}
