// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package loader loads the data plane's compiled object into the
// kernel. The data plane here only ever attaches via TC (no XDP, no
// socket filters), and attachment itself lives in the hooks package,
// so loader is narrowed to parsing the object and instantiating it.
package loader

import (
	"bytes"
	"fmt"

	"github.com/cilium/ebpf"

	"einat.dev/einatd/internal/host"
)

// Loader parses a data-plane eBPF object and instantiates it in the
// kernel.
type Loader struct {
	collection *ebpf.Collection
	loaded     bool
}

// NewLoader creates an empty Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadSpec parses a compiled object's bytes into a CollectionSpec.
func (l *Loader) LoadSpec(data []byte) (*ebpf.CollectionSpec, error) {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to load collection spec: %w", err)
	}

	return spec, nil
}

// LoadCollection instantiates spec into the kernel, after any
// read-only constants (ConstConfig) have been applied to spec's
// variables.
func (l *Loader) LoadCollection(spec *ebpf.CollectionSpec) error {
	if l.loaded {
		return fmt.Errorf("collection already loaded")
	}

	collection, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	l.collection = collection
	l.loaded = true
	return nil
}

// Close releases the collection's kernel resources. Program/hook
// detachment is the hooks package's responsibility, not the loader's.
func (l *Loader) Close() error {
	if l.collection != nil {
		l.collection.Close()
	}
	l.loaded = false
	return nil
}

// IsLoaded reports whether a collection is currently loaded.
func (l *Loader) IsLoaded() bool {
	return l.loaded
}

// GetCollection returns the underlying eBPF collection.
func (l *Loader) GetCollection() *ebpf.Collection {
	return l.collection
}

// VerifyKernelSupport aborts load early if the host kernel lacks a
// feature the data plane needs. Callers run this before LoadCollection
// so a missing feature fails fast instead of surfacing as an obscure
// verifier or attach error later.
func VerifyKernelSupport() error {
	issues := host.VerifyBPFSupport()
	for _, issue := range issues {
		if issue.Fatal {
			return fmt.Errorf("kernel support verification failed: %s", issue.Message)
		}
	}
	return nil
}
