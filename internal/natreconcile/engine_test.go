// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natreconcile

import (
	"net/netip"
	"os"
	"testing"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/require"

	"einat.dev/einatd/internal/ebpf/natmaps"
	"einat.dev/einatd/internal/ebpf/types"
	"einat.dev/einatd/internal/natconfig"
	"einat.dev/einatd/internal/natpolicy"
	"einat.dev/einatd/internal/portrange"
)

// newMap creates a real in-kernel map of spec, registers it under name
// in a manager-backed ManagedMap, and arranges for its cleanup.
func newMap(t *testing.T, name string, spec *ebpf.MapSpec) *natmaps.ManagedMap {
	t.Helper()
	m, err := ebpf.NewMap(spec)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	coll := &ebpf.Collection{Maps: map[string]*ebpf.Map{name: m}}
	mgr := natmaps.NewManager(coll)
	require.NoError(t, mgr.RegisterMap(name))
	mm, err := mgr.GetMap(name)
	require.NoError(t, err)
	return mm
}

// newTestMapSet builds a complete v4 MapSet of real kernel maps sized
// for the wire types the engine reads and writes, the same "skip
// unless root" live-kernel pattern the teacher uses for map-backed
// tests.
func newTestMapSet(t *testing.T) MapSet {
	t.Helper()

	destConfig := newMap(t, "dest_config", &ebpf.MapSpec{
		Type:       ebpf.LPMTrie,
		KeySize:    uint32(unsafe.Sizeof(natmaps.LPMKeyV4{})),
		ValueSize:  uint32(unsafe.Sizeof(types.DestConfigValue{})),
		MaxEntries: 64,
		Flags:      1, // BPF_F_NO_PREALLOC, required by LPM_TRIE
	})
	externalConfig := newMap(t, "external_config", &ebpf.MapSpec{
		Type:       ebpf.LPMTrie,
		KeySize:    uint32(unsafe.Sizeof(natmaps.LPMKeyV4{})),
		ValueSize:  uint32(unsafe.Sizeof(types.ExternalConfigValue{})),
		MaxEntries: 64,
		Flags:      1,
	})
	binding := newMap(t, "binding", &ebpf.MapSpec{
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.BindingKey{})),
		ValueSize:  uint32(unsafe.Sizeof(types.BindingValue{})),
		MaxEntries: 64,
	})
	ct := newMap(t, "ct", &ebpf.MapSpec{
		Type:       ebpf.Hash,
		KeySize:    uint32(unsafe.Sizeof(types.CTKey{})),
		ValueSize:  8,
		MaxEntries: 64,
	})
	deletingFlag := newMap(t, "deleting_flag", &ebpf.MapSpec{
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  1,
		MaxEntries: 1,
	})
	externalAddr := newMap(t, "external_addr", &ebpf.MapSpec{
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  16,
		MaxEntries: 1,
	})

	return MapSet{
		DestConfig:     destConfig,
		ExternalConfig: externalConfig,
		Binding:        binding,
		CT:             ct,
		DeletingFlag:   deletingFlag,
		ExternalAddr:   externalAddr,
	}
}

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("requires root to create eBPF maps")
	}
}

type purgeRecorder struct {
	bindings, ctEntries int
	calls               int
}

func (p *purgeRecorder) OnPurge(bindings, ctEntries int) {
	p.calls++
	p.bindings += bindings
	p.ctEntries += ctEntries
}

func TestEngineApplyInsertsExternalConfig(t *testing.T) {
	requireRoot(t)
	maps := newTestMapSet(t)
	e := NewEngine(natconfig.FamilyV4, maps, 0)

	ext, err := natpolicy.Normalize(natpolicy.RawExternal{
		Address: natpolicy.Static(netip.MustParseAddr("203.0.113.1")),
		HasTCP:  true,
		TCP:     []portrange.Range{{Lo: 1000, Hi: 2000}},
	}, natpolicy.Defaults{})
	require.NoError(t, err)

	cfg := natconfig.Build(natconfig.FamilyV4, nil, []natpolicy.External{ext},
		[]netip.Addr{netip.MustParseAddr("203.0.113.1")})

	require.NoError(t, e.Apply(cfg))

	key := natmaps.NewLPMKeyV4(netip.MustParsePrefix("203.0.113.1/32"))
	var value types.ExternalConfigValue
	require.NoError(t, maps.ExternalConfig.Lookup(&key, &value))
	require.Equal(t, uint8(1), value.TCP.Len)
}

func TestEngineApplyUpdateTriggersPurgeOfWithdrawnAddress(t *testing.T) {
	requireRoot(t)
	maps := newTestMapSet(t)
	e := NewEngine(natconfig.FamilyV4, maps, 0)
	rec := &purgeRecorder{}
	e.SetObserver(rec)

	addr := netip.MustParseAddr("203.0.113.1")
	ext, err := natpolicy.Normalize(natpolicy.RawExternal{
		Address: natpolicy.Static(addr), HasTCP: true,
		TCP: []portrange.Range{{Lo: 1000, Hi: 2000}},
	}, natpolicy.Defaults{})
	require.NoError(t, err)
	cfg1 := natconfig.Build(natconfig.FamilyV4, nil, []natpolicy.External{ext}, []netip.Addr{addr})
	require.NoError(t, e.Apply(cfg1))

	// Seed a stale binding entry under the external address about to
	// be updated, the entry the purger should remove.
	key := natmaps.NewLPMKeyV4(netip.MustParsePrefix("203.0.113.1/32"))
	bindingKey := types.BindingKey{Flags: types.BindingFlagReplyDir | types.BindingFlagAddrV4}
	addr4 := addr.As4()
	copy(bindingKey.Addr[:4], addr4[:])
	bindingVal := types.BindingValue{}
	require.NoError(t, maps.Binding.Update(&bindingKey, &bindingVal))

	ext2, err := natpolicy.Normalize(natpolicy.RawExternal{
		Address: natpolicy.Static(addr), HasTCP: true,
		TCP: []portrange.Range{{Lo: 3000, Hi: 4000}},
	}, natpolicy.Defaults{})
	require.NoError(t, err)
	cfg2 := natconfig.Build(natconfig.FamilyV4, nil, []natpolicy.External{ext2}, []netip.Addr{addr})
	require.NoError(t, e.Apply(cfg2))

	require.Equal(t, 1, rec.calls)
	require.Equal(t, 1, rec.bindings)

	var value types.ExternalConfigValue
	require.NoError(t, maps.ExternalConfig.Lookup(&key, &value))
	require.Equal(t, uint16(3000), value.TCP.Ranges[0].Lo)

	var flag uint8
	flagKey := uint32(0)
	require.NoError(t, maps.DeletingFlag.Lookup(&flagKey, &flag))
	require.Equal(t, uint8(0), flag, "flag must be lowered after guarded update completes")
}

func TestEngineApplyDeleteRemovesExternalConfig(t *testing.T) {
	requireRoot(t)
	maps := newTestMapSet(t)
	e := NewEngine(natconfig.FamilyV4, maps, 0)

	addr := netip.MustParseAddr("203.0.113.1")
	ext, err := natpolicy.Normalize(natpolicy.RawExternal{Address: natpolicy.Static(addr)}, natpolicy.Defaults{})
	require.NoError(t, err)
	cfg1 := natconfig.Build(natconfig.FamilyV4, nil, []natpolicy.External{ext}, []netip.Addr{addr})
	require.NoError(t, e.Apply(cfg1))

	cfg2 := natconfig.Build(natconfig.FamilyV4, nil, nil, nil)
	require.NoError(t, e.Apply(cfg2))

	key := natmaps.NewLPMKeyV4(netip.MustParsePrefix("203.0.113.1/32"))
	var value types.ExternalConfigValue
	err = maps.ExternalConfig.Lookup(&key, &value)
	require.ErrorIs(t, err, ebpf.ErrKeyNotExist)
}
