// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package interfaces holds the lifecycle contract a loaded NAT
// instance's data plane satisfies, kept separate from natinstance so
// diagnostics and orchestration code can depend on the contract
// without importing the concrete implementation.
package interfaces

import "einat.dev/einatd/internal/ebpf/natmaps"

// Statistics summarizes one instance's reconciliation activity, for
// the metrics package to surface and for diagnostics.
type Statistics struct {
	ReconcilesTotal uint64 `json:"reconciles_total"`
	ReconcileErrors uint64 `json:"reconcile_errors"`
	PurgedBindings  uint64 `json:"purged_bindings"`
	PurgedCTEntries uint64 `json:"purged_ct_entries"`
}

// Manager is the lifecycle contract an Instance's loaded data plane
// satisfies: attach/detach its hooks, release its kernel resources,
// and report reconciliation statistics and map shape for diagnostics.
type Manager interface {
	Attach() error
	Detach() error
	Close() error

	GetStatistics() *Statistics
	GetMapInfo() map[string]natmaps.Info
}
