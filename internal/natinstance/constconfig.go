// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package natinstance

import (
	"fmt"
	"time"

	"github.com/cilium/ebpf"
)

// ConstConfig holds the data plane's compile-time-constant
// parameters: log level, encapsulation, per-family/per-direction
// enable bits, and idle timeouts. It is applied exactly once, to the
// collection spec's read-only variables, before the collection is
// loaded into the kernel.
type ConstConfig struct {
	LogLevel uint8

	HasEthEncap bool

	IngressIPv4 bool
	EgressIPv4  bool
	IngressIPv6 bool
	EgressIPv6  bool

	EnableFIBLookupSrc bool
	AllowInboundICMPX  bool

	TimeoutFragment   time.Duration
	TimeoutPktMin     time.Duration
	TimeoutPktDefault time.Duration
	TimeoutTCPTrans   time.Duration
	TimeoutTCPEst     time.Duration
}

// maxLogLevel is the highest log level the data plane understands;
// higher values are clamped down to it.
const maxLogLevel = 5

// Default idle timeouts, used whenever an interface's configuration
// leaves the corresponding field unset.
const (
	defaultTimeoutFragment   = 30 * time.Second
	defaultTimeoutPktMin     = 30 * time.Second
	defaultTimeoutPktDefault = 5 * 60 * time.Second
	defaultTimeoutTCPTrans   = 4 * 60 * time.Second
	defaultTimeoutTCPEst     = 24 * 60 * 60 * time.Second
)

// orDefault returns v unless it is the zero duration, in which case it
// returns def.
func orDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// Apply writes every ConstConfig field into spec's matching variable
// before the collection is instantiated. Variables are matched by the
// names in the data-plane contract's read-only constant list.
func (c ConstConfig) Apply(spec *ebpf.CollectionSpec) error {
	level := c.LogLevel
	if level > maxLogLevel {
		level = maxLogLevel
	}

	sets := map[string]any{
		"LOG_LEVEL":             level,
		"HAS_ETH_ENCAP":         c.HasEthEncap,
		"INGRESS_IPV4":          c.IngressIPv4,
		"EGRESS_IPV4":           c.EgressIPv4,
		"INGRESS_IPV6":          c.IngressIPv6,
		"EGRESS_IPV6":           c.EgressIPv6,
		"ENABLE_FIB_LOOKUP_SRC": c.EnableFIBLookupSrc,
		"ALLOW_INBOUND_ICMPX":   c.AllowInboundICMPX,
		"TIMEOUT_FRAGMENT":      uint64(c.TimeoutFragment.Nanoseconds()),
		"TIMEOUT_PKT_MIN":       uint64(c.TimeoutPktMin.Nanoseconds()),
		"TIMEOUT_PKT_DEFAULT":   uint64(c.TimeoutPktDefault.Nanoseconds()),
		"TIMEOUT_TCP_TRANS":     uint64(c.TimeoutTCPTrans.Nanoseconds()),
		"TIMEOUT_TCP_EST":       uint64(c.TimeoutTCPEst.Nanoseconds()),
	}

	for name, value := range sets {
		v, ok := spec.Variables[name]
		if !ok {
			return fmt.Errorf("constconfig: data-plane object is missing variable %s", name)
		}
		if err := v.Set(value); err != nil {
			return fmt.Errorf("constconfig: set %s: %w", name, err)
		}
	}

	return nil
}
