// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the reconciliation engine and orchestrator's
// Prometheus instrumentation: reconcile attempts/failures, purge
// counts, attached-hook gauges, and address-monitor event counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector einatd registers.
type Metrics struct {
	ReconcilesTotal *prometheus.CounterVec
	ReconcileErrors *prometheus.CounterVec
	PurgedBindings  *prometheus.CounterVec
	PurgedCTEntries *prometheus.CounterVec
	HooksAttached   *prometheus.GaugeVec
	AddressEvents   *prometheus.CounterVec
	InstancesLoaded prometheus.Gauge
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconcilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einatd_reconciles_total",
			Help: "Total number of RuntimeConfig reconciliations attempted, per interface and family.",
		}, []string{"ifindex", "family"}),
		ReconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einatd_reconcile_errors_total",
			Help: "Total number of RuntimeConfig reconciliations that failed, per interface and family.",
		}, []string{"ifindex", "family"}),
		PurgedBindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einatd_purged_bindings_total",
			Help: "Total number of binding-map entries removed by the stale flow purger.",
		}, []string{"ifindex", "family"}),
		PurgedCTEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einatd_purged_ct_entries_total",
			Help: "Total number of connection-tracking entries removed by the stale flow purger.",
		}, []string{"ifindex", "family"}),
		HooksAttached: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "einatd_hooks_attached",
			Help: "Whether a TC hook is currently attached, per interface and direction.",
		}, []string{"ifindex", "direction"}),
		AddressEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "einatd_address_events_total",
			Help: "Total number of address-change events observed, per interface.",
		}, []string{"ifindex"}),
		InstancesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "einatd_instances_loaded",
			Help: "Number of interfaces with a currently loaded and attached NAT instance.",
		}),
	}

	reg.MustRegister(
		m.ReconcilesTotal,
		m.ReconcileErrors,
		m.PurgedBindings,
		m.PurgedCTEntries,
		m.HooksAttached,
		m.AddressEvents,
		m.InstancesLoaded,
	)
	return m
}
