// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// einatd is an eBPF-based endpoint-independent NAT daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"einat.dev/einatd/internal/addrmon"
	"einat.dev/einatd/internal/config"
	"einat.dev/einatd/internal/hairpin"
	"einat.dev/einatd/internal/logging"
	"einat.dev/einatd/internal/metrics"
	"einat.dev/einatd/internal/natinstance"
	"einat.dev/einatd/internal/natpolicy"
	"einat.dev/einatd/internal/orchestrator"
	"einat.dev/einatd/internal/portrange"
)

const usage = `einatd - An eBPF-based Endpoint-Independent NAT

USAGE:
  einatd [OPTIONS]

OPTIONS:
  -h, -help              Print this message
  -c, -config <file>     Path to configuration file
  -i, -ifname <name>     External network interface name, e.g. eth0
  -ifindex <index>       External network interface index number, e.g. 2
  -nat44                 Enable NAT44/NAPT44 for specified network interface
  -nat66                 Enable NAT66/NAPT66 for specified network interface
  -ports <range>,...     External TCP/UDP port ranges, defaults to 20000-29999
  -hairpin-if <name>,... Hairpin internal network interface names, e.g. lo,lan0
  -bpf-log <level>       BPF tracing log level, 0 to 5, defaults to 0, disabled
  -bpf-object <file>     Path to the compiled data-plane object
  -metrics-addr <addr>   Address to serve Prometheus metrics on, empty disables it
`

type cliArgs struct {
	configFile string
	ifName     string
	ifIndex    int
	hasIfIndex bool
	nat44      bool
	nat66      bool
	ports      string
	hairpinIfs string
	bpfLog     uint
	bpfObject  string
	metricsAddr string
}

func parseArgs(args []string) (cliArgs, error) {
	fs := flag.NewFlagSet("einatd", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var a cliArgs
	var ifIndex int
	fs.StringVar(&a.configFile, "config", "", "path to configuration file")
	fs.StringVar(&a.configFile, "c", "", "path to configuration file (shorthand)")
	fs.StringVar(&a.ifName, "ifname", "", "external network interface name")
	fs.StringVar(&a.ifName, "i", "", "external network interface name (shorthand)")
	fs.IntVar(&ifIndex, "ifindex", -1, "external network interface index")
	fs.BoolVar(&a.nat44, "nat44", false, "enable NAT44/NAPT44")
	fs.BoolVar(&a.nat66, "nat66", false, "enable NAT66/NAPT66")
	fs.StringVar(&a.ports, "ports", "", "comma-separated external TCP/UDP port ranges")
	fs.StringVar(&a.hairpinIfs, "hairpin-if", "", "comma-separated hairpin internal interface names")
	fs.UintVar(&a.bpfLog, "bpf-log", 0, "BPF tracing log level, 0 to 5")
	fs.StringVar(&a.bpfObject, "bpf-object", "", "path to the compiled data-plane object")
	fs.StringVar(&a.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on")

	if err := fs.Parse(args); err != nil {
		return cliArgs{}, err
	}
	if ifIndex >= 0 {
		a.ifIndex, a.hasIfIndex = ifIndex, true
	}
	return a, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "einatd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	a, err := parseArgs(args)
	if err != nil {
		return err
	}

	log := logging.New(logging.DefaultConfig())

	pol, err := resolvePolicy(a)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	objectLoader := func() ([]byte, error) {
		if a.bpfObject == "" {
			return nil, fmt.Errorf("no -bpf-object path given")
		}
		return os.ReadFile(a.bpfObject)
	}

	monitor := addrmon.New(log)
	orch := orchestrator.New(monitor, log, m, objectLoader, len(pol.Interfaces))

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/debug/instances", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(orch.Diagnostics())
		})
		srv := &http.Server{Addr: a.metricsAddr, Handler: mux}
		ln, err := net.Listen("tcp", a.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen for metrics on %s: %w", a.metricsAddr, err)
		}
		go func() {
			_ = srv.Serve(ln)
		}()
		log.Info("serving metrics", "addr", a.metricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return orch.Run(ctx, pol)
}

// resolvePolicy builds a Policy either from -config, or synthesized
// from the remaining CLI flags describing a single interface,
// mirroring main.rs's mutually-exclusive CLI-vs-config-file rule.
func resolvePolicy(a cliArgs) (*config.Policy, error) {
	hasCLIInterface := a.hasIfIndex || a.ifName != ""

	if a.configFile != "" {
		if hasCLIInterface {
			return nil, fmt.Errorf("combining interface configuration from CLI options with a configuration file is not allowed")
		}
		return config.LoadFile(a.configFile)
	}

	if !hasCLIInterface {
		return nil, fmt.Errorf("no network interface specified")
	}

	nat44 := a.nat44 || !a.nat66
	nat66 := a.nat66

	ports, err := parsePortList(a.ports)
	if err != nil {
		return nil, fmt.Errorf("invalid -ports: %w", err)
	}

	defaults := natpolicy.Defaults{}
	if len(ports) > 0 {
		defaults.TCP, defaults.UDP = ports, ports
	} else {
		defaults.TCP = []portrange.Range{{Lo: 20000, Hi: 29999}}
		defaults.UDP = []portrange.Range{{Lo: 20000, Hi: 29999}}
	}

	ifc := natinstance.IfConfig{
		NAT44:            nat44,
		NAT66:            nat66,
		BPFLogLevel:      uint8(a.bpfLog),
		DefaultExternals: true,
	}

	hairpinCfg := hairpin.Config{
		InternalIfNames: splitNonEmpty(a.hairpinIfs),
		IPProtocols:     []string{"tcp", "udp"},
		IPRulePref:      100,
		LocalIPRulePref: 0,
		TableID:         4787,
	}
	hairpinCfg.Enable = len(hairpinCfg.InternalIfNames) > 0

	sel := config.InterfaceSelector{}
	if a.hasIfIndex {
		idx := a.ifIndex
		sel.IfIndex = &idx
	} else {
		name := a.ifName
		sel.IfName = &name
	}

	return &config.Policy{
		Defaults: defaults,
		Interfaces: []config.InterfacePolicy{{
			Selector:  sel,
			IfConfig:  ifc,
			HairpinV4: hairpinCfg,
			HairpinV6: hairpinCfg,
		}},
	}, nil
}

func parsePortList(s string) ([]portrange.Range, error) {
	names := splitNonEmpty(s)
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]portrange.Range, 0, len(names))
	for _, tok := range names {
		r, err := config.ParsePortRangeToken(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
