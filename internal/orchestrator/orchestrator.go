// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package orchestrator is the top-level daemon loop: it resolves
// every configured interface, loads and attaches its NAT instance,
// configures any hairpin routing, then drives reconfiguration off the
// address monitor's event stream until told to shut down. Grounded on
// daemon/daemon_guard/IfContext in main.rs.
package orchestrator

import (
	"context"
	"net/netip"
	"sync"

	"einat.dev/einatd/internal/addrmon"
	"einat.dev/einatd/internal/config"
	"einat.dev/einatd/internal/ebpf/interfaces"
	"einat.dev/einatd/internal/ebpf/natmaps"
	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/hairpin"
	"einat.dev/einatd/internal/logging"
	"einat.dev/einatd/internal/metrics"
	"einat.dev/einatd/internal/natinstance"
	"einat.dev/einatd/internal/workerpool"
)

// ObjectLoader supplies the compiled data-plane object bytes to load
// for each instance; a single object serves every interface.
type ObjectLoader func() ([]byte, error)

// Orchestrator owns every loaded Instance and its hairpin routing for
// the lifetime of one daemon run.
type Orchestrator struct {
	monitor addrmon.Monitor
	log     *logging.Logger
	metrics *metrics.Metrics
	object  ObjectLoader
	pool    *workerpool.Pool

	mu    sync.Mutex
	ifctx map[int]*ifContext
}

type ifContext struct {
	ifIndex     int
	inst        *natinstance.Instance
	addressesV4 []netip.Addr
	addressesV6 []netip.Addr
	hairpinV4   *hairpin.Routing
	hairpinV6   *hairpin.Routing
	attached    bool
}

// New creates an Orchestrator. concurrency bounds how many interfaces
// are loaded in parallel at startup.
func New(monitor addrmon.Monitor, log *logging.Logger, m *metrics.Metrics, object ObjectLoader, concurrency int) *Orchestrator {
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		monitor: monitor,
		log:     log.WithComponent("orchestrator"),
		metrics: m,
		object:  object,
		pool:    workerpool.New(concurrency),
		ifctx:   make(map[int]*ifContext),
	}
}

// Run resolves and loads every interface in pol, attaches their data
// planes and hairpin routing, then blocks on the address-monitor
// event loop until ctx is canceled. It always detaches every
// successfully loaded instance before returning, logging (not
// aborting on) per-instance cleanup failures, mirroring
// daemon_guard's "run then unconditionally clean up" shape.
func (o *Orchestrator) Run(ctx context.Context, pol *config.Policy) error {
	runErr := o.run(ctx, pol)

	o.mu.Lock()
	contexts := make([]*ifContext, 0, len(o.ifctx))
	for _, c := range o.ifctx {
		contexts = append(contexts, c)
	}
	o.ifctx = make(map[int]*ifContext)
	o.mu.Unlock()

	for _, c := range contexts {
		if err := o.detach(c); err != nil {
			o.log.Error("failed to clean up interface context", "ifindex", c.ifIndex, "error", err)
		}
	}

	return runErr
}

func (o *Orchestrator) run(ctx context.Context, pol *config.Policy) error {
	objBytes, err := o.object()
	if err != nil {
		return nerrors.Wrap(err, nerrors.KindLoad, "read data-plane object")
	}

	resolved, err := o.resolveAll(pol)
	if err != nil {
		return err
	}

	jobs := make([]workerpool.Job, len(resolved))
	loaded := make([]*ifContext, len(resolved))
	for i, r := range resolved {
		i, r := i, r
		jobs[i] = func() error {
			inst, err := natinstance.Load(r.instCfg, objBytes, o.log, o.metrics)
			if err != nil {
				return err
			}
			loaded[i] = &ifContext{
				ifIndex:     r.ifIndex,
				inst:        inst,
				addressesV4: r.addressesV4,
				addressesV6: r.addressesV6,
			}
			return nil
		}
	}

	results := workerpool.Run(o.pool, jobs)
	for i, res := range results {
		if res.Err != nil {
			for _, c := range loaded {
				if c != nil {
					c.inst.Close()
				}
			}
			return nerrors.Wrapf(res.Err, nerrors.KindLoad, "load interface index %d", resolved[i].ifIndex)
		}
	}

	// Register every loaded instance before attaching any of them, so
	// that if a later attach fails, Run's unconditional cleanup still
	// closes the instances that already loaded successfully.
	o.mu.Lock()
	for _, c := range loaded {
		o.ifctx[c.ifIndex] = c
	}
	o.mu.Unlock()

	needMonitor := false
	for i, r := range resolved {
		c := loaded[i]
		if err := c.inst.Attach(); err != nil {
			return nerrors.Wrapf(err, nerrors.KindAttachDetach, "attach interface index %d", r.ifIndex)
		}
		c.attached = true
		if o.metrics != nil {
			o.metrics.InstancesLoaded.Inc()
		}

		if r.pol.HairpinV4.Enable {
			routing := hairpin.New(familyV4, r.ifIndex, r.pol.HairpinV4.TableID)
			if err := routing.Configure(r.pol.HairpinV4, c.inst.HairpinDestsV4()); err != nil {
				o.log.Warn("failed to configure ipv4 hairpin routing", "ifindex", r.ifIndex, "error", err)
			} else {
				c.hairpinV4 = routing
			}
		}
		if r.pol.HairpinV6.Enable {
			routing := hairpin.New(familyV6, r.ifIndex, r.pol.HairpinV6.TableID)
			if err := routing.Configure(r.pol.HairpinV6, c.inst.HairpinDestsV6()); err != nil {
				o.log.Warn("failed to configure ipv6 hairpin routing", "ifindex", r.ifIndex, "error", err)
			} else {
				c.hairpinV6 = routing
			}
		}

		if !c.inst.IsStatic() {
			needMonitor = true
		}
	}

	if !needMonitor {
		<-ctx.Done()
		return nil
	}

	events, err := o.monitor.Subscribe(ctx)
	if err != nil {
		return nerrors.Wrap(err, nerrors.KindResolution, "subscribe to address monitor")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if o.metrics != nil {
				o.metrics.AddressEvents.WithLabelValues(itoa(ev.IfIndex)).Inc()
			}
			o.handleAddressChange(ev.IfIndex)
		}
	}
}

func (o *Orchestrator) handleAddressChange(ifIndex int) {
	o.mu.Lock()
	c, ok := o.ifctx[ifIndex]
	o.mu.Unlock()
	if !ok {
		return
	}

	v4, v6, err := o.monitor.AllAddresses(ifIndex)
	if err != nil {
		o.log.Error("failed to query addresses after change event", "ifindex", ifIndex, "error", err)
		return
	}

	if !addrsEqual(v4, c.addressesV4) {
		o.log.Debug("ipv4 addresses changed", "ifindex", ifIndex, "old", c.addressesV4, "new", v4)
		if err := c.inst.ReconfigureV4Addresses(v4); err != nil {
			o.log.Error("failed to reconfigure ipv4 addresses", "ifindex", ifIndex, "error", err)
		} else {
			c.addressesV4 = v4
		}
	}
	if !addrsEqual(v6, c.addressesV6) {
		o.log.Debug("ipv6 addresses changed", "ifindex", ifIndex, "old", c.addressesV6, "new", v6)
		if err := c.inst.ReconfigureV6Addresses(v6); err != nil {
			o.log.Error("failed to reconfigure ipv6 addresses", "ifindex", ifIndex, "error", err)
		} else {
			c.addressesV6 = v6
		}
	}

	if c.hairpinV4 != nil {
		if err := c.hairpinV4.ReconfigureDests(c.inst.HairpinDestsV4()); err != nil {
			o.log.Error("failed to reconfigure ipv4 hairpin routing", "ifindex", ifIndex, "error", err)
		}
	}
	if c.hairpinV6 != nil {
		if err := c.hairpinV6.ReconfigureDests(c.inst.HairpinDestsV6()); err != nil {
			o.log.Error("failed to reconfigure ipv6 hairpin routing", "ifindex", ifIndex, "error", err)
		}
	}
}

func (o *Orchestrator) detach(c *ifContext) error {
	var firstErr error
	if err := c.inst.Close(); err != nil {
		firstErr = err
	}
	if c.hairpinV4 != nil {
		if err := c.hairpinV4.Deconfigure(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.hairpinV6 != nil {
		if err := c.hairpinV6.Deconfigure(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.metrics != nil && c.attached {
		o.metrics.InstancesLoaded.Dec()
	}
	return firstErr
}

// Diagnostics reports each attached interface's reconciliation
// statistics and registered map shape, keyed by ifindex, read through
// the interfaces.Manager contract every Instance satisfies.
func (o *Orchestrator) Diagnostics() map[int]InstanceDiagnostics {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[int]InstanceDiagnostics, len(o.ifctx))
	for ifIndex, c := range o.ifctx {
		var mgr interfaces.Manager = c.inst
		out[ifIndex] = InstanceDiagnostics{
			Statistics: mgr.GetStatistics(),
			Maps:       mgr.GetMapInfo(),
		}
	}
	return out
}

// InstanceDiagnostics is one interface's snapshot for the diagnostics
// endpoint.
type InstanceDiagnostics struct {
	Statistics *interfaces.Statistics  `json:"statistics"`
	Maps       map[string]natmaps.Info `json:"maps"`
}

func addrsEqual(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[netip.Addr]bool, len(a))
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			return false
		}
	}
	return true
}
