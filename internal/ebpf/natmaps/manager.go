// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package natmaps wraps the data plane's kernel-resident tables
// (dest_config, external_config, binding, ct, and the scalar maps) in
// a type-safe registry, the way the teacher's map manager wraps
// generic eBPF maps, specialized here for the NAT reconciliation
// engine's prefix-keyed and scalar tables instead of flow/counter/
// bloom-filter maps.
package natmaps

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cilium/ebpf"
)

// Manager registers and looks up the named maps of one loaded
// data-plane collection.
type Manager struct {
	maps       map[string]*ManagedMap
	collection *ebpf.Collection
	mutex      sync.RWMutex
}

// ManagedMap wraps an eBPF map with metadata and serialized access.
type ManagedMap struct {
	Name       string
	Map        *ebpf.Map
	Type       ebpf.MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	CreatedAt  time.Time
	mutex      sync.RWMutex
}

// NewManager creates a map manager bound to collection.
func NewManager(collection *ebpf.Collection) *Manager {
	return &Manager{
		maps:       make(map[string]*ManagedMap),
		collection: collection,
	}
}

// RegisterMap registers collection's map named name with the
// manager under the same name.
func (m *Manager) RegisterMap(name string) error {
	mapObj, ok := m.collection.Maps[name]
	if !ok {
		return fmt.Errorf("map %s not present in collection", name)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.maps[name]; exists {
		return fmt.Errorf("map %s already registered", name)
	}

	info, err := mapObj.Info()
	if err != nil {
		return fmt.Errorf("failed to get map info for %s: %w", name, err)
	}

	m.maps[name] = &ManagedMap{
		Name:       name,
		Map:        mapObj,
		KeySize:    uint32(info.KeySize),
		ValueSize:  uint32(info.ValueSize),
		MaxEntries: info.MaxEntries,
		Type:       info.Type,
		CreatedAt:  time.Now(),
	}

	return nil
}

// GetMap returns a registered map by name.
func (m *Manager) GetMap(name string) (*ManagedMap, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	managedMap, exists := m.maps[name]
	if !exists {
		return nil, fmt.Errorf("map %s not found", name)
	}

	return managedMap, nil
}

// Update upserts key/value with any existing-or-absent semantics.
func (mm *ManagedMap) Update(key, value interface{}) error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	return mm.Map.Update(key, value, ebpf.UpdateAny)
}

// Insert inserts key/value, failing if the key already exists. This is
// the create-only semantic the reconciliation engine's external-config
// Insert step relies on.
func (mm *ManagedMap) Insert(key, value interface{}) error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	return mm.Map.Update(key, value, ebpf.UpdateNoExist)
}

// Replace overwrites key/value, failing if the key does not already
// exist. This is the must-exist semantic the reconciliation engine's
// external-config Update step relies on.
func (mm *ManagedMap) Replace(key, value interface{}) error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	return mm.Map.Update(key, value, ebpf.UpdateExist)
}

// Lookup retrieves the value for key.
func (mm *ManagedMap) Lookup(key, value interface{}) error {
	mm.mutex.RLock()
	defer mm.mutex.RUnlock()

	return mm.Map.Lookup(key, value)
}

// Delete removes key, tolerating an already-absent key.
func (mm *ManagedMap) Delete(key interface{}) error {
	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	err := mm.Map.Delete(key)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return nil
	}
	return err
}

// BatchDelete removes every key in keys in a single kernel call,
// backing the Stale Flow Purger's bulk delete of binding/CT entries.
// If the kernel does not support batch map operations, it falls back
// to deleting one key at a time so the caller's contract (best-effort,
// already-absent keys tolerated) still holds.
func BatchDelete[K any](mm *ManagedMap, keys []K) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	mm.mutex.Lock()
	defer mm.mutex.Unlock()

	n, err := mm.Map.BatchDelete(keys, nil)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, ebpf.ErrNotSupported) {
		return n, err
	}

	deleted := 0
	for i := range keys {
		derr := mm.Map.Delete(&keys[i])
		if derr != nil && !errors.Is(derr, ebpf.ErrKeyNotExist) {
			return deleted, derr
		}
		if derr == nil {
			deleted++
		}
	}
	return deleted, nil
}

// Iterator returns an iterator over the map's current contents.
func (mm *ManagedMap) Iterator() *MapIterator {
	return &MapIterator{
		mapIter: mm.Map.Iterate(),
		mutex:   &mm.mutex,
	}
}

// MapIterator is a serialized iterator over one ManagedMap.
type MapIterator struct {
	mapIter *ebpf.MapIterator
	mutex   *sync.RWMutex
}

// Next advances the iterator, decoding into key/value.
func (it *MapIterator) Next(key, value interface{}) bool {
	it.mutex.RLock()
	defer it.mutex.RUnlock()

	return it.mapIter.Next(key, value)
}

// Err returns any error encountered during iteration.
func (it *MapIterator) Err() error {
	return it.mapIter.Err()
}

// Info describes a registered map's shape, for diagnostics.
type Info struct {
	Name       string
	Type       string
	MaxEntries uint32
	KeySize    uint32
	ValueSize  uint32
	CreatedAt  time.Time
}

// Stats returns shape info for every registered map.
func (m *Manager) Stats() map[string]Info {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := make(map[string]Info, len(m.maps))
	for name, mm := range m.maps {
		stats[name] = Info{
			Name:       name,
			Type:       mm.Type.String(),
			MaxEntries: mm.MaxEntries,
			KeySize:    mm.KeySize,
			ValueSize:  mm.ValueSize,
			CreatedAt:  mm.CreatedAt,
		}
	}
	return stats
}

// Close releases the manager's map handles. The underlying collection
// remains owned by whoever loaded it.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.maps = map[string]*ManagedMap{}
}
