// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package hairpin installs and maintains the IP rule and route table
// that let traffic from internal interfaces loop back out through an
// instance's external address instead of being delivered locally,
// grounded on the supplementary hairpin-routing configurator in
// main.rs's daemon().
package hairpin

import (
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/natconfig"
)

// Config is one family's resolved hairpin-routing policy for an
// instance.
type Config struct {
	Enable          bool
	InternalIfNames []string
	IPRulePref      uint32
	LocalIPRulePref uint32
	TableID         uint32
	// IPProtocols is currently informational only: the route/rule pair
	// this package installs is protocol-agnostic, matching the
	// original's use of a single FIB rule per family rather than one
	// per protocol.
	IPProtocols []string
}

// Validate asserts the invariant the hairpin rule depends on: it must
// be consulted strictly before the local table, or locally-destined
// traffic would never reach it.
func (c Config) Validate() error {
	if c.IPRulePref >= c.LocalIPRulePref {
		return nerrors.Errorf(nerrors.KindConfigValidation,
			"hairpin ip rule priority %d is not less than local ip rule priority %d",
			c.IPRulePref, c.LocalIPRulePref)
	}
	return nil
}

// Routing is one family's live hairpin rule and route table for one
// instance's external interface. Configure/Deconfigure/
// ReconfigureDests are not safe for concurrent use; the orchestrator
// serializes them per instance.
type Routing struct {
	family  natconfig.Family
	ifIndex int
	tableID uint32

	rule         *netlink.Rule
	internalIdx  []int
	installedDst map[netip.Prefix]struct{}
}

// New creates a Routing for ifIndex's family, not yet configured.
func New(family natconfig.Family, ifIndex int, tableID uint32) *Routing {
	return &Routing{family: family, ifIndex: ifIndex, tableID: tableID}
}

func (r *Routing) netlinkFamily() int {
	if r.family == natconfig.FamilyV6 {
		return netlink.FAMILY_V6
	}
	return netlink.FAMILY_V4
}

// Configure validates cfg, resolves cfg.InternalIfNames to indices,
// installs an "from internal interfaces, lookup tableID" rule at
// cfg.IPRulePref for every internal interface, and populates the
// table with a route to dests via ifIndex for each prefix.
func (r *Routing) Configure(cfg Config, dests []netip.Prefix) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.internalIdx = r.internalIdx[:0]
	for _, name := range cfg.InternalIfNames {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return nerrors.Wrapf(err, nerrors.KindResolution, "resolve hairpin internal interface %s", name)
		}
		r.internalIdx = append(r.internalIdx, link.Attrs().Index)
	}

	for _, idx := range r.internalIdx {
		rule := netlink.NewRule()
		rule.Priority = int(cfg.IPRulePref)
		rule.Table = int(cfg.TableID)
		rule.IifName = linkNameByIndex(idx)
		rule.Family = r.netlinkFamily()
		if err := netlink.RuleAdd(rule); err != nil {
			r.cleanupRules()
			return nerrors.Wrapf(err, nerrors.KindResolution, "add hairpin ip rule for interface index %d", idx)
		}
	}

	r.tableID = cfg.TableID
	r.installedDst = make(map[netip.Prefix]struct{})
	for _, dst := range dests {
		if err := r.addRoute(dst); err != nil {
			return err
		}
	}
	return nil
}

// ReconfigureDests diffs dests against the routing table's currently
// installed destinations, adding and removing routes as needed.
func (r *Routing) ReconfigureDests(dests []netip.Prefix) error {
	want := make(map[netip.Prefix]struct{}, len(dests))
	for _, d := range dests {
		want[d] = struct{}{}
	}

	for dst := range r.installedDst {
		if _, ok := want[dst]; !ok {
			if err := r.delRoute(dst); err != nil {
				return err
			}
		}
	}
	for dst := range want {
		if _, ok := r.installedDst[dst]; !ok {
			if err := r.addRoute(dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// Deconfigure removes every route this Routing installed and every
// rule it added, reporting the first error but attempting all of
// them.
func (r *Routing) Deconfigure() error {
	var firstErr error
	for dst := range r.installedDst {
		if err := r.delRoute(dst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.cleanupRules(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (r *Routing) addRoute(dst netip.Prefix) error {
	ipNet := prefixToIPNet(dst)
	route := &netlink.Route{
		LinkIndex: r.ifIndex,
		Dst:       ipNet,
		Table:     int(r.tableID),
	}
	if err := netlink.RouteAdd(route); err != nil {
		return nerrors.Wrapf(err, nerrors.KindResolution, "add hairpin route for %s", dst)
	}
	r.installedDst[dst] = struct{}{}
	return nil
}

func (r *Routing) delRoute(dst netip.Prefix) error {
	ipNet := prefixToIPNet(dst)
	route := &netlink.Route{
		LinkIndex: r.ifIndex,
		Dst:       ipNet,
		Table:     int(r.tableID),
	}
	if err := netlink.RouteDel(route); err != nil {
		return nerrors.Wrapf(err, nerrors.KindResolution, "remove hairpin route for %s", dst)
	}
	delete(r.installedDst, dst)
	return nil
}

func (r *Routing) cleanupRules() error {
	var firstErr error
	for _, idx := range r.internalIdx {
		rule := netlink.NewRule()
		rule.Table = int(r.tableID)
		rule.IifName = linkNameByIndex(idx)
		rule.Family = r.netlinkFamily()
		if err := netlink.RuleDel(rule); err != nil && firstErr == nil {
			firstErr = nerrors.Wrapf(err, nerrors.KindResolution, "remove hairpin ip rule for interface index %d", idx)
		}
	}
	r.internalIdx = nil
	return firstErr
}

func linkNameByIndex(idx int) string {
	link, err := netlink.LinkByIndex(idx)
	if err != nil {
		return ""
	}
	return link.Attrs().Name
}

func prefixToIPNet(p netip.Prefix) *net.IPNet {
	bits := p.Bits()
	addr := p.Addr()
	return &net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(bits, addr.BitLen()),
	}
}
