// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config decodes einatd's HCL policy file into the
// natinstance/natpolicy/hairpin structures the orchestrator consumes,
// mirroring the teacher's internal/config package's use of
// github.com/hashicorp/hcl/v2's hclsimple decoder.
package config

// Raw is the HCL decoding target: one interface block per managed
// interface plus a shared defaults block. hclsimple fills this
// directly from the policy file's top-level body.
type Raw struct {
	Interfaces []RawInterface `hcl:"interface,block"`
	Defaults   *RawDefaults   `hcl:"defaults,block"`
}

// RawInterface is one `interface "label" { ... }` block. The label is
// required but only names the block in error messages; the interface
// itself is selected by its `ifname` or `ifindex` attribute.
type RawInterface struct {
	Name    string  `hcl:"name,label"`
	IfIndex *int    `hcl:"ifindex,optional"`
	IfName  *string `hcl:"ifname,optional"`

	BPFLogLevel          *uint8 `hcl:"bpf_log,optional"`
	BPFFIBLookupExternal *bool  `hcl:"bpf_fib_lookup_external,optional"`
	AllowInboundICMPX    *bool  `hcl:"allow_inbound_icmpx,optional"`

	TimeoutFragment   *string `hcl:"timeout_fragment,optional"`
	TimeoutPktMin     *string `hcl:"timeout_pkt_min,optional"`
	TimeoutPktDefault *string `hcl:"timeout_pkt_default,optional"`
	TimeoutTCPTrans   *string `hcl:"timeout_tcp_trans,optional"`
	TimeoutTCPEst     *string `hcl:"timeout_tcp_est,optional"`

	NAT44            bool `hcl:"nat44,optional"`
	NAT66            bool `hcl:"nat66,optional"`
	DefaultExternals bool `hcl:"default_externals,optional"`

	Externals          []RawExternal `hcl:"external,block"`
	NoSNATDestinations []string      `hcl:"no_snat_destinations,optional"`

	IPv4Hairpin *RawHairpin `hcl:"ipv4_hairpin,block"`
	IPv6Hairpin *RawHairpin `hcl:"ipv6_hairpin,block"`
}

// RawExternal is one `external { ... }` block inside an interface.
type RawExternal struct {
	Address   string `hcl:"address,optional"`
	Prefix    string `hcl:"prefix,optional"`
	NoSNAT    bool   `hcl:"no_snat,optional"`
	NoHairpin bool   `hcl:"no_hairpin,optional"`

	TCPPorts     []string `hcl:"tcp_ports,optional"`
	UDPPorts     []string `hcl:"udp_ports,optional"`
	ICMPRanges   []string `hcl:"icmp_ranges,optional"`
	ICMPInRanges []string `hcl:"icmp_in_ranges,optional"`
	ICMPOutRanges []string `hcl:"icmp_out_ranges,optional"`
}

// RawHairpin is an `ipv4_hairpin`/`ipv6_hairpin { ... }` block.
type RawHairpin struct {
	Enable          *bool    `hcl:"enable,optional"`
	InternalIfNames []string `hcl:"internal_interfaces,optional"`
	IPRulePref      *uint32  `hcl:"ip_rule_pref,optional"`
	TableID         *uint32  `hcl:"table_id,optional"`
	IPProtocols     []string `hcl:"ip_protocols,optional"`
}

// RawDefaults is the top-level `defaults { ... }` block.
type RawDefaults struct {
	TCPPorts     []string `hcl:"tcp_ports,optional"`
	UDPPorts     []string `hcl:"udp_ports,optional"`
	ICMPRanges   []string `hcl:"icmp_ranges,optional"`
	ICMPInRanges []string `hcl:"icmp_in_ranges,optional"`
	ICMPOutRanges []string `hcl:"icmp_out_ranges,optional"`

	IPv4HairpinRulePref  *uint32 `hcl:"ipv4_hairpin_rule_pref,optional"`
	IPv4LocalRulePref    *uint32 `hcl:"ipv4_local_rule_pref,optional"`
	IPv4HairpinTableID   *uint32 `hcl:"ipv4_hairpin_table_id,optional"`
	IPv6HairpinRulePref  *uint32 `hcl:"ipv6_hairpin_rule_pref,optional"`
	IPv6LocalRulePref    *uint32 `hcl:"ipv6_local_rule_pref,optional"`
	IPv6HairpinTableID   *uint32 `hcl:"ipv6_hairpin_table_id,optional"`
}
