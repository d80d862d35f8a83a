// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package addrmon is the address-monitor collaborator the
// orchestrator consumes: a stream of "this interface's addresses
// changed" events plus a way to query an interface's current
// addresses, backed by netlink address-change notifications the way
// the teacher's internal/services/ha package watches link state.
package addrmon

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"

	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/logging"
)

// Event is a single "addresses changed" notification for one
// interface; it does not carry the diff, callers re-query via
// AllAddresses.
type Event struct {
	IfIndex int
}

// Monitor is the address-monitor contract the orchestrator depends
// on.
type Monitor interface {
	// Subscribe starts watching for address changes and returns a
	// channel of events, closed when ctx is canceled or the
	// subscription fails irrecoverably.
	Subscribe(ctx context.Context) (<-chan Event, error)
	// AllAddresses returns every v4 and v6 address currently assigned
	// to ifindex.
	AllAddresses(ifindex int) (v4, v6 []netip.Addr, err error)
}

// NetlinkMonitor implements Monitor over a netlink address-change
// subscription.
type NetlinkMonitor struct {
	log *logging.Logger
}

// New creates a NetlinkMonitor.
func New(log *logging.Logger) *NetlinkMonitor {
	if log == nil {
		log = logging.Default()
	}
	return &NetlinkMonitor{log: log.WithComponent("addrmon")}
}

// Subscribe starts a netlink.AddrSubscribeWithOptions feed and
// collapses every AddrUpdate into a ChangeAddress event keyed by
// if_index, coalescing new and deleted addresses into the same event
// kind since the contract only promises "addresses changed".
func (m *NetlinkMonitor) Subscribe(ctx context.Context) (<-chan Event, error) {
	updates := make(chan netlink.AddrUpdate, 64)
	done := make(chan struct{})

	if err := netlink.AddrSubscribeWithOptions(updates, done, netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) {
			m.log.Warn("netlink address subscription error", "error", err)
		},
	}); err != nil {
		close(done)
		return nil, nerrors.Wrap(err, nerrors.KindResolution, "subscribe to netlink address changes")
	}

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				select {
				case events <- Event{IfIndex: u.LinkIndex}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

// AllAddresses queries ifindex's current v4 and v6 addresses via
// netlink, the way the orchestrator re-resolves an Instance's family
// configuration after a change event.
func (m *NetlinkMonitor) AllAddresses(ifindex int) (v4, v6 []netip.Addr, err error) {
	link, err := netlink.LinkByIndex(ifindex)
	if err != nil {
		return nil, nil, nerrors.Wrapf(err, nerrors.KindResolution, "look up interface index %d", ifindex)
	}

	v4Addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, nil, nerrors.Wrapf(err, nerrors.KindResolution, "query ipv4 addresses for ifindex %d", ifindex)
	}
	v6Addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
	if err != nil {
		return nil, nil, nerrors.Wrapf(err, nerrors.KindResolution, "query ipv6 addresses for ifindex %d", ifindex)
	}

	for _, a := range v4Addrs {
		addr, ok := netip.AddrFromSlice(a.IP.To4())
		if !ok {
			continue
		}
		v4 = append(v4, addr)
	}
	for _, a := range v6Addrs {
		addr, ok := netip.AddrFromSlice(a.IP.To16())
		if !ok {
			continue
		}
		v6 = append(v6, addr)
	}

	return v4, v6, nil
}

// IndexByName resolves an interface name to its kernel ifindex.
func IndexByName(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, nerrors.Wrapf(err, nerrors.KindResolution, "look up interface %s", name)
	}
	return link.Attrs().Index, nil
}

// Encapsulation names the link-layer encapsulation of an interface.
type Encapsulation int

const (
	EncapUnknown Encapsulation = iota
	EncapEthernet
	EncapBareIP
	EncapUnsupported
)

// EncapsulationOf inspects link to classify its encapsulation, for
// the instance lifecycle's ConstConfig.HasEthEncap translation.
func EncapsulationOf(ifindex int) (Encapsulation, error) {
	link, err := netlink.LinkByIndex(ifindex)
	if err != nil {
		return EncapUnknown, nerrors.Wrapf(err, nerrors.KindResolution, "look up interface index %d", ifindex)
	}

	switch link.Type() {
	case "device", "veth", "bridge", "bond", "vlan":
		return EncapEthernet, nil
	case "tun":
		// A tun in TUN (not TAP) mode is bare IP; netlink does not
		// distinguish the two at the link-attribute level, so callers
		// that need certainty should fall back to a Linktype probe.
		return EncapBareIP, nil
	case "ipip", "gre", "sit":
		return EncapUnsupported, nil
	default:
		return EncapUnknown, fmt.Errorf("unrecognized link type %q", link.Type())
	}
}
