// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natreconcile is the Reconciliation Engine: it takes a newly
// built natconfig.RuntimeConfig and the previously applied one and
// drives the kernel maps from one to the other, plus the Stale Flow
// Purger that clears binding/CT entries an external-config change
// made invalid.
package natreconcile

import (
	"net/netip"
	"time"

	"einat.dev/einatd/internal/ebpf/natmaps"
	"einat.dev/einatd/internal/ebpf/types"
	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/natconfig"
)

// defaultQuiescence is the minimum time the engine waits between
// raising the deleting-map-entries flag and actually touching an
// external-config entry that is being updated or deleted, giving any
// in-flight data-plane lookups time to observe the flag.
const defaultQuiescence = time.Millisecond

// MapSet names the kernel maps one family's engine drives. Every field
// must be registered against the same loaded collection before the
// engine is constructed.
type MapSet struct {
	DestConfig     *natmaps.ManagedMap
	ExternalConfig *natmaps.ManagedMap
	Binding        *natmaps.ManagedMap
	CT             *natmaps.ManagedMap
	// DeletingFlag is the single-entry scalar map backing
	// g_deleting_map_entries.
	DeletingFlag *natmaps.ManagedMap
	// ExternalAddr is the single-entry scalar map holding the
	// family's primary external address.
	ExternalAddr *natmaps.ManagedMap
}

// Observer receives optional instrumentation callbacks from an Engine.
// Every method is called with its zero value safe to ignore; callers
// that don't need metrics can leave Observer unset entirely.
type Observer interface {
	// OnPurge reports how many binding and CT entries a purge pass
	// removed.
	OnPurge(bindings, ctEntries int)
}

// Engine applies successive RuntimeConfigs for one address family
// against one MapSet, maintaining the previously applied configuration
// so Apply can diff against it.
type Engine struct {
	family      natconfig.Family
	maps        MapSet
	quiescence  time.Duration
	observer    Observer
	previous    natconfig.RuntimeConfig
	hasPrevious bool
}

// NewEngine constructs an Engine for family over maps. quiescence of 0
// selects defaultQuiescence.
func NewEngine(family natconfig.Family, maps MapSet, quiescence time.Duration) *Engine {
	if quiescence <= 0 {
		quiescence = defaultQuiescence
	}
	return &Engine{family: family, maps: maps, quiescence: quiescence}
}

// SetObserver attaches obs to receive this Engine's instrumentation
// callbacks, replacing any previously set observer.
func (e *Engine) SetObserver(obs Observer) {
	e.observer = obs
}

// Apply reconciles the kernel maps from the engine's previously
// applied configuration (Empty(family) on the first call) to new,
// following the fixed order: dest_config changes, then
// external_config changes (Insert is create-only; Update and Delete
// go through the quiescence-guarded purge sequence), then the primary
// external address scalar.
func (e *Engine) Apply(new natconfig.RuntimeConfig) error {
	old := natconfig.Empty(e.family)
	if e.hasPrevious {
		old = e.previous
	}

	for _, ch := range natconfig.Diff(old.DestConfig, new.DestConfig, natconfig.EqualDestConfig) {
		key := e.encodeKey(ch.Key)
		switch ch.Op {
		case natconfig.OpInsert, natconfig.OpUpdate:
			value := types.EncodeDestConfig(ch.Value.NoSNAT, ch.Value.Hairpin)
			if err := e.maps.DestConfig.Update(key, &value); err != nil {
				return nerrors.Wrapf(err, nerrors.KindReconcile, "write dest_config for %s", ch.Key)
			}
		case natconfig.OpDelete:
			if err := e.maps.DestConfig.Delete(key); err != nil {
				return nerrors.Wrapf(err, nerrors.KindReconcile, "delete dest_config for %s", ch.Key)
			}
		}
	}

	for _, ch := range natconfig.Diff(old.ExternalConfig, new.ExternalConfig, natconfig.EqualExternalConfig) {
		key := e.encodeKey(ch.Key)
		switch ch.Op {
		case natconfig.OpInsert:
			value := e.encodeExternal(ch.Value)
			if err := e.maps.ExternalConfig.Insert(key, &value); err != nil {
				return nerrors.Wrapf(err, nerrors.KindReconcile, "insert external_config for %s", ch.Key)
			}
		case natconfig.OpUpdate:
			value := e.encodeExternal(ch.Value)
			if err := e.guardedUpdate(ch.Key, key, &value); err != nil {
				return err
			}
		case natconfig.OpDelete:
			if err := e.guardedDelete(ch.Key, key); err != nil {
				return err
			}
		}
	}

	if !e.hasPrevious || new.ExternalAddr != old.ExternalAddr {
		if err := e.writeExternalAddr(new.ExternalAddr); err != nil {
			return err
		}
	}

	e.previous = new
	e.hasPrevious = true
	return nil
}

// guardedUpdate implements the Update step: raise the flag, wait out
// quiescence, purge stale flows under the withdrawn binding for addr,
// overwrite the external-config entry, then lower the flag
// unconditionally.
func (e *Engine) guardedUpdate(addr netip.Prefix, key, value any) error {
	if err := e.raiseDeleting(); err != nil {
		return err
	}
	defer e.lowerDeleting()

	time.Sleep(e.quiescence)

	if err := e.purge(addr); err != nil {
		return err
	}
	if err := e.maps.ExternalConfig.Replace(key, value); err != nil {
		return nerrors.Wrapf(err, nerrors.KindReconcile, "update external_config for %s", addr)
	}
	return nil
}

// guardedDelete implements the Delete step: raise the flag, wait out
// quiescence, remove the external-config entry, purge stale flows,
// then lower the flag unconditionally.
func (e *Engine) guardedDelete(addr netip.Prefix, key any) error {
	if err := e.raiseDeleting(); err != nil {
		return err
	}
	defer e.lowerDeleting()

	time.Sleep(e.quiescence)

	if err := e.maps.ExternalConfig.Delete(key); err != nil {
		return nerrors.Wrapf(err, nerrors.KindReconcile, "delete external_config for %s", addr)
	}
	if err := e.purge(addr); err != nil {
		return err
	}
	return nil
}

func (e *Engine) encodeKey(p netip.Prefix) any {
	if e.family == natconfig.FamilyV6 {
		k := natmaps.NewLPMKeyV6(p)
		return &k
	}
	k := natmaps.NewLPMKeyV4(p)
	return &k
}

func (e *Engine) encodeExternal(ec natconfig.ExternalConfig) types.ExternalConfigValue {
	return types.EncodeExternalConfig(ec.NoSNAT, ec.TCP, ec.UDP, ec.ICMP, ec.ICMPIn, ec.ICMPOut)
}
