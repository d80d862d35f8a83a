// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natreconcile

import (
	"net/netip"

	"einat.dev/einatd/internal/ebpf/natmaps"
	"einat.dev/einatd/internal/ebpf/types"
	nerrors "einat.dev/einatd/internal/errors"
)

// purge is the Stale Flow Purger: a full scan of the binding and
// connection-tracking maps that removes every entry referencing addr,
// the external-config prefix an Update or Delete step is about to
// invalidate. It runs while g_deleting_map_entries is raised so the
// data plane's lookup path will not hand out a flow this scan is in
// the middle of tearing down.
func (e *Engine) purge(addr netip.Prefix) error {
	addrBytes := addressBytes(addr)
	familyFlag := types.BindingFlagAddrV4
	if e.family.HostBits() != 32 {
		familyFlag = types.BindingFlagAddrV6
	}

	bindingsPurged, err := e.purgeBindings(addrBytes, familyFlag)
	if err != nil {
		return err
	}
	ctPurged, err := e.purgeCT(addrBytes, familyFlag)
	if err != nil {
		return err
	}
	if e.observer != nil {
		e.observer.OnPurge(bindingsPurged, ctPurged)
	}
	return nil
}

func addressBytes(p netip.Prefix) [16]byte {
	a := p.Addr()
	if a.Is4() {
		var buf [16]byte
		b := a.As4()
		copy(buf[:4], b[:])
		return buf
	}
	return a.As16()
}

// purgeBindings removes every binding-map entry whose external-side
// address is addrBytes: a reply-direction entry is keyed by the
// external address directly, while an original-direction entry's
// external address lives in its value.
func (e *Engine) purgeBindings(addrBytes [16]byte, familyFlag types.BindingFlags) (int, error) {
	it := e.maps.Binding.Iterator()
	var (
		key   types.BindingKey
		value types.BindingValue
		stale []types.BindingKey
	)
	for it.Next(&key, &value) {
		switch {
		case key.Flags&types.BindingFlagReplyDir != 0 &&
			key.Flags&familyFlag != 0 && key.Addr == addrBytes:
			stale = append(stale, key)
		case key.Flags&types.BindingFlagOrigDir != 0 &&
			value.Flags&familyFlag != 0 && value.Addr == addrBytes:
			stale = append(stale, key)
		}
	}
	if err := it.Err(); err != nil {
		return 0, nerrors.Wrap(err, nerrors.KindReconcile, "scan binding map for purge")
	}

	n, err := natmaps.BatchDelete(e.maps.Binding, stale)
	if err != nil {
		return 0, nerrors.Wrap(err, nerrors.KindReconcile, "purge stale binding entries")
	}
	return n, nil
}

// purgeCT removes every connection-tracking entry whose external
// source address is addrBytes.
func (e *Engine) purgeCT(addrBytes [16]byte, familyFlag types.BindingFlags) (int, error) {
	it := e.maps.CT.Iterator()
	var (
		key   types.CTKey
		stale []types.CTKey
	)
	// The CT map's value describes flow state the purger never
	// inspects, so it is decoded into a raw buffer sized to the map
	// rather than a typed struct.
	value := make([]byte, e.maps.CT.ValueSize)
	for it.Next(&key, &value) {
		if key.Flags&familyFlag == 0 {
			continue
		}
		if key.External.SrcAddr == addrBytes {
			stale = append(stale, key)
		}
	}
	if err := it.Err(); err != nil {
		return 0, nerrors.Wrap(err, nerrors.KindReconcile, "scan ct map for purge")
	}

	n, err := natmaps.BatchDelete(e.maps.CT, stale)
	if err != nil {
		return 0, nerrors.Wrap(err, nerrors.KindReconcile, "purge stale ct entries")
	}
	return n, nil
}
