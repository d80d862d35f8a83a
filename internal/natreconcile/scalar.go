// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natreconcile

import (
	"net/netip"

	nerrors "einat.dev/einatd/internal/errors"
)

// scalarKey is the fixed key (index 0) of every single-entry array map
// the engine reads or writes.
var scalarKey = uint32(0)

// raiseDeleting sets g_deleting_map_entries to true, the signal the
// data plane's lookup path checks before trusting an external-config
// hit.
func (e *Engine) raiseDeleting() error {
	v := uint8(1)
	if err := e.maps.DeletingFlag.Update(&scalarKey, &v); err != nil {
		return nerrors.Wrap(err, nerrors.KindReconcile, "raise deleting-map-entries flag")
	}
	return nil
}

// lowerDeleting clears g_deleting_map_entries. It is a best-effort
// write: a failure to clear the flag is discarded, neither returned
// nor logged, so it never masks an earlier, more specific error when
// guardedUpdate/guardedDelete call it via defer.
func (e *Engine) lowerDeleting() {
	v := uint8(0)
	_ = e.maps.DeletingFlag.Update(&scalarKey, &v)
}

// writeExternalAddr overwrites the family's primary external address
// scalar with addr's host bytes, encoded at the family's native width.
func (e *Engine) writeExternalAddr(addr netip.Prefix) error {
	a := addr.Addr()
	var buf [16]byte
	if e.family.HostBits() == 32 {
		b := a.As4()
		copy(buf[:4], b[:])
	} else {
		buf = a.As16()
	}
	if err := e.maps.ExternalAddr.Update(&scalarKey, &buf); err != nil {
		return nerrors.Wrapf(err, nerrors.KindReconcile, "write primary external address %s", addr)
	}
	return nil
}
