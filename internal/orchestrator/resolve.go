// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package orchestrator

import (
	"net/netip"
	"strconv"

	"einat.dev/einatd/internal/addrmon"
	"einat.dev/einatd/internal/config"
	nerrors "einat.dev/einatd/internal/errors"
	"einat.dev/einatd/internal/natconfig"
	"einat.dev/einatd/internal/natinstance"
	"einat.dev/einatd/internal/natpolicy"
)

const (
	familyV4 = natconfig.FamilyV4
	familyV6 = natconfig.FamilyV6
)

// resolvedInterface is one policy entry with its selector resolved to
// a concrete ifindex and its current addresses queried, ready to
// build an InstanceConfig from.
type resolvedInterface struct {
	ifIndex     int
	pol         config.InterfacePolicy
	instCfg     natinstance.InstanceConfig
	addressesV4 []netip.Addr
	addressesV6 []netip.Addr
}

func (o *Orchestrator) resolveAll(pol *config.Policy) ([]resolvedInterface, error) {
	out := make([]resolvedInterface, 0, len(pol.Interfaces))
	for i, ifp := range pol.Interfaces {
		r, err := o.resolveOne(ifp, pol.Defaults)
		if err != nil {
			return nil, nerrors.Wrapf(err, nerrors.KindResolution, "resolve interface #%d", i)
		}
		out = append(out, r)
	}
	return out, nil
}

func (o *Orchestrator) resolveOne(ifp config.InterfacePolicy, defaults natpolicy.Defaults) (resolvedInterface, error) {
	ifIndex, err := resolveIndex(ifp.Selector)
	if err != nil {
		return resolvedInterface{}, err
	}

	encap, err := addrmon.EncapsulationOf(ifIndex)
	if err != nil {
		return resolvedInterface{}, err
	}

	v4, v6, err := o.monitor.AllAddresses(ifIndex)
	if err != nil {
		return resolvedInterface{}, err
	}

	instCfg, err := natinstance.NewInstanceConfig(ifIndex, encap, ifp.IfConfig, defaults, v4, v6)
	if err != nil {
		return resolvedInterface{}, err
	}

	return resolvedInterface{
		ifIndex:     ifIndex,
		pol:         ifp,
		instCfg:     instCfg,
		addressesV4: v4,
		addressesV6: v6,
	}, nil
}

func resolveIndex(sel config.InterfaceSelector) (int, error) {
	if sel.IfIndex != nil {
		return *sel.IfIndex, nil
	}
	if sel.IfName != nil {
		return addrmon.IndexByName(*sel.IfName)
	}
	return 0, nerrors.New(nerrors.KindConfigValidation, "interface selector names neither ifindex nor ifname")
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
