package steps

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"

	"rockinit/internal/core"
	"rockinit/internal/guard"
	"rockinit/internal/netinfo"
	"rockinit/internal/store"
)

// DefaultListenerPort is used when no listener has been configured.
const DefaultListenerPort = 443

// ManagementAddress returns the address and port the web interface listens on.
// The address is invalid when no interface is configured or the configured one has
// no IPv4 address. Lookup failures are logged and degrade to that state.
func (h *Host) ManagementAddress(ctx context.Context) (netip.Addr, int) {
	port := DefaultListenerPort
	listener, err := h.Services.ServiceListener(ctx, h.Config.ListenerService)
	switch {
	case errors.Is(err, store.ErrServiceNotFound):
		return netip.Addr{}, port
	case err != nil:
		h.Logger.Error("could not load service listener", "service", h.Config.ListenerService, "err", err)
		return netip.Addr{}, port
	case listener == nil:
		return netip.Addr{}, port
	}
	if listener.ListenerPort > 0 {
		port = listener.ListenerPort
	}
	if listener.NetworkInterface == "" {
		return netip.Addr{}, port
	}
	addrs, err := h.Net.Addrs(ctx, listener.NetworkInterface)
	if err != nil {
		// The interface may have vanished since it was configured.
		h.Logger.Error("could not gather current management ip", "iface", listener.NetworkInterface, "err", err)
		return netip.Addr{}, port
	}
	if len(addrs) == 0 {
		return netip.Addr{}, port
	}
	return addrs[0], port
}

// UpdateBanner rewrites the login banner with the addresses the web interface is
// reachable on, or with operator guidance when the host has none.
func (h *Host) UpdateBanner(ctx context.Context) (bool, error) {
	ip, port := h.ManagementAddress(ctx)
	var all []netip.Addr
	if !ip.IsValid() {
		addrs, err := h.Net.Addrs(ctx, "")
		if err != nil {
			h.Logger.Error("could not enumerate interface addresses", "err", err)
		}
		all = netinfo.NonLoopback(addrs)
	}
	changed, err := guard.WriteIfChanged(h.Config.Paths.Issue, []byte(RenderBanner(ip, port, all)), 0o644)
	if err != nil {
		return false, err
	}
	if changed {
		h.Logger.Info("updated login banner", "path", h.Config.Paths.Issue)
	}
	return changed, nil
}

// RenderBanner produces the /etc/issue content. ip wins over all when valid.
func RenderBanner(ip netip.Addr, port int, all []netip.Addr) string {
	var b strings.Builder
	if !ip.IsValid() && len(all) == 0 {
		b.WriteString("The system does not yet have an ip address.\n")
		b.WriteString("Rockstor cannot be configured using the web interface without this.\n\n")
		b.WriteString("Press Enter to receive updated network status\n")
		b.WriteString("If this message persists please login as root and configure your network using nmtui, then reboot.\n")
		return b.String()
	}
	b.WriteString("\nRockstor is successfully installed.\n\n")
	if ip.IsValid() {
		suffix := ""
		if port != DefaultListenerPort {
			suffix = ":" + strconv.Itoa(port)
		}
		fmt.Fprintf(&b, "web-ui is accessible with this link: https://%s%s\n\n", ip, suffix)
		return b.String()
	}
	b.WriteString("web-ui is accessible with the following links:\n")
	for _, a := range all {
		fmt.Fprintf(&b, "https://%s\n", a)
	}
	return b.String()
}

var listenSSL = regexp.MustCompile(`^(\s*listen\s+)\S+(\s+ssl\b.*)$`)

// UpdateProxyListener points the proxy's TLS listen directive at the management
// address and restarts the proxy when the directive changed.
func (h *Host) UpdateProxyListener(ctx context.Context) (bool, error) {
	ip, port := h.ManagementAddress(ctx)
	listen := strconv.Itoa(port)
	if ip.IsValid() {
		listen = netip.AddrPortFrom(ip, uint16(port)).String()
	}

	path := h.Config.Paths.NginxConf
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read proxy config: %w", err)
	}
	rendered, found := RewriteListen(string(data), listen)
	if !found {
		return false, &core.StateInconsistency{What: "proxy config", Detail: "no ssl listen directive in " + path}
	}
	changed, err := guard.WriteIfChanged(path, []byte(rendered), 0o644)
	if err != nil || !changed {
		return false, err
	}
	h.Logger.Info("updated proxy listener", "listen", listen)
	if err := h.supervisorctl(ctx, "restart", "nginx"); err != nil {
		return true, err
	}
	return true, nil
}

// RewriteListen replaces the address of every `listen <addr> ssl...` line.
func RewriteListen(conf, listen string) (string, bool) {
	lines := strings.SplitAfter(conf, "\n")
	found := false
	for i, line := range lines {
		body := strings.TrimRight(line, "\r\n")
		eol := line[len(body):]
		if m := listenSSL.FindStringSubmatch(body); m != nil {
			lines[i] = m[1] + listen + m[2] + eol
			found = true
		}
	}
	return strings.Join(lines, ""), found
}
