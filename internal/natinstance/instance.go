// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natinstance

import (
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"einat.dev/einatd/internal/ebpf/hooks"
	"einat.dev/einatd/internal/ebpf/interfaces"
	"einat.dev/einatd/internal/ebpf/loader"
	"einat.dev/einatd/internal/ebpf/natmaps"
	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/logging"
	"einat.dev/einatd/internal/metrics"
	"einat.dev/einatd/internal/natconfig"
	"einat.dev/einatd/internal/natreconcile"
)

// instanceStats holds an Instance's own running counters, independent
// of Prometheus, for interfaces.Manager's GetStatistics contract.
type instanceStats struct {
	reconcilesTotal atomic.Uint64
	reconcileErrors atomic.Uint64
	purgedBindings  atomic.Uint64
	purgedCTEntries atomic.Uint64
}

// Map names the data plane's object exposes. Kept as constants rather
// than configuration since they are part of the compiled object's
// contract, not something an operator tunes.
const (
	mapDestConfigV4     = "map_ipv4_dest_config"
	mapDestConfigV6     = "map_ipv6_dest_config"
	mapExternalConfigV4 = "map_ipv4_external_config"
	mapExternalConfigV6 = "map_ipv6_external_config"
	mapBinding          = "map_binding"
	mapCT               = "map_ct"
	mapDeletingFlag     = "map_deleting_map_entries"
	mapExternalAddrV4   = "map_ipv4_external_addr"
	mapExternalAddrV6   = "map_ipv6_external_addr"

	progIngressRevSNAT = "ingress_rev_snat"
	progEgressSNAT     = "egress_snat"
)

// Instance is one interface's loaded, attached NAT data plane: the
// compiled object plus the reconciliation engines driving its v4 and
// v6 runtime configuration.
type Instance struct {
	config InstanceConfig

	loader   *loader.Loader
	hooks    *hooks.Manager
	maps     *natmaps.Manager
	log      *logging.Logger
	metrics  *metrics.Metrics
	engineV4 *natreconcile.Engine
	engineV6 *natreconcile.Engine
	stats    instanceStats
}

var _ interfaces.Manager = (*Instance)(nil)

// Load parses objBytes as the compiled data-plane object, applies
// cfg's ConstConfig to its read-only variables, instantiates it in the
// kernel, registers its maps, and performs the first RuntimeConfig
// apply for both families (equivalent to reconciling against the
// empty configuration). The returned Instance is loaded but not yet
// attached to any interface.
func Load(cfg InstanceConfig, objBytes []byte, log *logging.Logger, m *metrics.Metrics) (*Instance, error) {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("natinstance").With("ifindex", cfg.IfIndex)

	ld := loader.NewLoader()

	spec, err := ld.LoadSpec(objBytes)
	if err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindLoad, "parse data-plane object")
	}

	if err := cfg.ConstConfig.Apply(spec); err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindLoad, "apply const config")
	}

	if err := loader.VerifyKernelSupport(); err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindLoad, "verify kernel support")
	}

	start := time.Now()
	if err := ld.LoadCollection(spec); err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindLoad, "instantiate data-plane collection")
	}
	log.Info("data-plane object loaded", "elapsed", time.Since(start))

	mm := natmaps.NewManager(ld.GetCollection())
	for _, name := range []string{
		mapDestConfigV4, mapDestConfigV6,
		mapExternalConfigV4, mapExternalConfigV6,
		mapBinding, mapCT,
		mapDeletingFlag, mapExternalAddrV4, mapExternalAddrV6,
	} {
		if err := mm.RegisterMap(name); err != nil {
			ld.Close()
			return nil, nerrors.Wrapf(err, nerrors.KindLoad, "register map %s", name)
		}
	}

	getMap := func(name string) *natmaps.ManagedMap {
		managed, _ := mm.GetMap(name)
		return managed
	}

	commonV4 := natreconcile.MapSet{
		DestConfig:     getMap(mapDestConfigV4),
		ExternalConfig: getMap(mapExternalConfigV4),
		Binding:        getMap(mapBinding),
		CT:             getMap(mapCT),
		DeletingFlag:   getMap(mapDeletingFlag),
		ExternalAddr:   getMap(mapExternalAddrV4),
	}
	commonV6 := natreconcile.MapSet{
		DestConfig:     getMap(mapDestConfigV6),
		ExternalConfig: getMap(mapExternalConfigV6),
		Binding:        getMap(mapBinding),
		CT:             getMap(mapCT),
		DeletingFlag:   getMap(mapDeletingFlag),
		ExternalAddr:   getMap(mapExternalAddrV6),
	}

	inst := &Instance{
		config:   cfg,
		loader:   ld,
		hooks:    hooks.NewManager(),
		maps:     mm,
		log:      log,
		metrics:  m,
		engineV4: natreconcile.NewEngine(natconfig.FamilyV4, commonV4, 0),
		engineV6: natreconcile.NewEngine(natconfig.FamilyV6, commonV6, 0),
	}
	inst.engineV4.SetObserver(newPurgeObserver(m, &inst.stats, cfg.IfIndex, "v4"))
	inst.engineV6.SetObserver(newPurgeObserver(m, &inst.stats, cfg.IfIndex, "v6"))

	if err := inst.apply(inst.engineV4, cfg.RuntimeV4, "v4"); err != nil {
		ld.Close()
		return nil, nerrors.Wrap(err, nerrors.KindReconcile, "apply initial ipv4 runtime config")
	}
	if err := inst.apply(inst.engineV6, cfg.RuntimeV6, "v6"); err != nil {
		ld.Close()
		return nil, nerrors.Wrap(err, nerrors.KindReconcile, "apply initial ipv6 runtime config")
	}

	return inst, nil
}

// apply runs engine.Apply(cfg), recording the attempt and any failure
// against the instance's metrics when present.
func (inst *Instance) apply(engine *natreconcile.Engine, cfg natconfig.RuntimeConfig, family string) error {
	ifindex := strconv.Itoa(inst.config.IfIndex)
	runID := uuid.New().String()
	inst.stats.reconcilesTotal.Add(1)
	if inst.metrics != nil {
		inst.metrics.ReconcilesTotal.WithLabelValues(ifindex, family).Inc()
	}
	if err := engine.Apply(cfg); err != nil {
		inst.stats.reconcileErrors.Add(1)
		if inst.metrics != nil {
			inst.metrics.ReconcileErrors.WithLabelValues(ifindex, family).Inc()
		}
		inst.log.Error("reconcile failed", "run_id", runID, "ifindex", ifindex, "family", family, "error", err)
		return err
	}
	inst.log.Debug("reconcile applied", "run_id", runID, "ifindex", ifindex, "family", family)
	return nil
}

// IsStatic reports whether the instance's externals are all static
// addresses, meaning it never needs reconfiguring in response to
// address-change events.
func (inst *Instance) IsStatic() bool {
	return inst.config.IsStatic()
}

// Attach attaches the ingress reverse-SNAT and egress SNAT programs to
// the instance's interface. Attaching an already-attached hook is a
// no-op.
func (inst *Instance) Attach() error {
	ifindex := strconv.Itoa(inst.config.IfIndex)

	ingress := inst.loader.GetCollection().Programs[progIngressRevSNAT]
	if ingress == nil {
		return nerrors.Errorf(nerrors.KindAttachDetach, "program %s not found in collection", progIngressRevSNAT)
	}
	if err := inst.hooks.Attach(ingress, progIngressRevSNAT, inst.config.IfIndex, hooks.Ingress); err != nil {
		return nerrors.Wrap(err, nerrors.KindAttachDetach, "attach ingress hook")
	}
	if inst.metrics != nil {
		inst.metrics.HooksAttached.WithLabelValues(ifindex, "ingress").Set(1)
	}

	egress := inst.loader.GetCollection().Programs[progEgressSNAT]
	if egress == nil {
		return nerrors.Errorf(nerrors.KindAttachDetach, "program %s not found in collection", progEgressSNAT)
	}
	if err := inst.hooks.Attach(egress, progEgressSNAT, inst.config.IfIndex, hooks.Egress); err != nil {
		return nerrors.Wrap(err, nerrors.KindAttachDetach, "attach egress hook")
	}
	if inst.metrics != nil {
		inst.metrics.HooksAttached.WithLabelValues(ifindex, "egress").Set(1)
	}

	return nil
}

// Detach removes both hooks. Detaching an already-detached instance is
// a no-op.
func (inst *Instance) Detach() error {
	if inst.metrics != nil {
		ifindex := strconv.Itoa(inst.config.IfIndex)
		inst.metrics.HooksAttached.WithLabelValues(ifindex, "ingress").Set(0)
		inst.metrics.HooksAttached.WithLabelValues(ifindex, "egress").Set(0)
	}
	return inst.hooks.DetachInterface(inst.config.IfIndex)
}

// Close detaches and releases every kernel resource the instance
// holds. Callers that already called Detach may call Close again
// safely.
func (inst *Instance) Close() error {
	detachErr := inst.Detach()
	inst.maps.Close()
	closeErr := inst.loader.Close()
	if detachErr != nil {
		return detachErr
	}
	return closeErr
}

// ReconfigureV4Addresses rebuilds the IPv4 RuntimeConfig from the
// instance's fixed policy against addresses and reconciles it in.
func (inst *Instance) ReconfigureV4Addresses(addresses []netip.Addr) error {
	new := inst.config.rebuildV4(addresses)
	if err := inst.apply(inst.engineV4, new, "v4"); err != nil {
		return nerrors.Wrap(err, nerrors.KindReconcile, "reconfigure ipv4 addresses")
	}
	inst.config.RuntimeV4 = new
	return nil
}

// ReconfigureV6Addresses is ReconfigureV4Addresses's IPv6 counterpart.
func (inst *Instance) ReconfigureV6Addresses(addresses []netip.Addr) error {
	new := inst.config.rebuildV6(addresses)
	if err := inst.apply(inst.engineV6, new, "v6"); err != nil {
		return nerrors.Wrap(err, nerrors.KindReconcile, "reconfigure ipv6 addresses")
	}
	inst.config.RuntimeV6 = new
	return nil
}

// HairpinDestsV4 returns the instance's current IPv4 hairpin
// destinations, ExternalAddr first.
func (inst *Instance) HairpinDestsV4() []netip.Prefix {
	return inst.config.RuntimeV4.HairpinDests()
}

// HairpinDestsV6 is HairpinDestsV4's IPv6 counterpart.
func (inst *Instance) HairpinDestsV6() []netip.Prefix {
	return inst.config.RuntimeV6.HairpinDests()
}

// GetMapInfo reports shape information for the instance's registered
// maps, for diagnostics and metrics. Part of interfaces.Manager.
func (inst *Instance) GetMapInfo() map[string]natmaps.Info {
	return inst.maps.Stats()
}

// GetStatistics snapshots the instance's reconciliation and purge
// counters. Part of interfaces.Manager.
func (inst *Instance) GetStatistics() *interfaces.Statistics {
	return &interfaces.Statistics{
		ReconcilesTotal: inst.stats.reconcilesTotal.Load(),
		ReconcileErrors: inst.stats.reconcileErrors.Load(),
		PurgedBindings:  inst.stats.purgedBindings.Load(),
		PurgedCTEntries: inst.stats.purgedCTEntries.Load(),
	}
}
