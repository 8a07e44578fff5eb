// Package netinfo discovers the IPv4 addresses assigned to the host's interfaces.
package netinfo

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"rockinit/internal/config"
	"rockinit/internal/sysexec"
)

// Lister returns the IPv4 addresses of one interface, or of every interface when
// iface is empty, in the order the kernel reports them.
type Lister interface {
	Addrs(ctx context.Context, iface string) ([]netip.Addr, error)
}

// New selects the probe named by cfg.NetProbe.
func New(cfg config.Config, runner sysexec.Runner) Lister {
	if cfg.NetProbe == config.NetProbeIP {
		return NewIPCommand(runner, cfg.Binaries.IP)
	}
	return Netlink{}
}

// IPCommand parses `ip addr show` output.
type IPCommand struct {
	runner sysexec.Runner
	bin    string
}

// NewIPCommand creates a probe that shells out to the ip binary at bin.
func NewIPCommand(runner sysexec.Runner, bin string) *IPCommand {
	return &IPCommand{runner: runner, bin: bin}
}

func (l *IPCommand) Addrs(ctx context.Context, iface string) ([]netip.Addr, error) {
	argv := []string{l.bin, "addr", "show"}
	if iface != "" {
		argv = append(argv, iface)
	}
	res, err := l.runner.Run(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	return ParseInetAddrs(res.Stdout), nil
}

// ParseInetAddrs extracts the address of every "inet a.b.c.d/nn" line.
func ParseInetAddrs(lines []string) []netip.Addr {
	var out []netip.Addr
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "inet" {
			continue
		}
		prefix, err := netip.ParsePrefix(fields[1])
		if err != nil {
			continue
		}
		out = append(out, prefix.Addr())
	}
	return out
}

// NonLoopback drops loopback addresses.
func NonLoopback(addrs []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsLoopback() {
			out = append(out, a)
		}
	}
	return out
}
