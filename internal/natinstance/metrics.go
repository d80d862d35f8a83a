// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natinstance

import (
	"strconv"

	"einat.dev/einatd/internal/metrics"
	"einat.dev/einatd/internal/natreconcile"
)

// purgeObserver adapts one engine's purge counts onto the shared
// Metrics registry, labeled by interface index and address family,
// and onto the owning Instance's own Statistics snapshot.
type purgeObserver struct {
	m       *metrics.Metrics
	stats   *instanceStats
	ifindex string
	family  string
}

func newPurgeObserver(m *metrics.Metrics, stats *instanceStats, ifIndex int, family string) *purgeObserver {
	return &purgeObserver{m: m, stats: stats, ifindex: strconv.Itoa(ifIndex), family: family}
}

func (o *purgeObserver) OnPurge(bindings, ctEntries int) {
	if o == nil {
		return
	}
	if o.stats != nil {
		o.stats.purgedBindings.Add(uint64(bindings))
		o.stats.purgedCTEntries.Add(uint64(ctEntries))
	}
	if o.m == nil {
		return
	}
	o.m.PurgedBindings.WithLabelValues(o.ifindex, o.family).Add(float64(bindings))
	o.m.PurgedCTEntries.WithLabelValues(o.ifindex, o.family).Add(float64(ctEntries))
}

var _ natreconcile.Observer = (*purgeObserver)(nil)
