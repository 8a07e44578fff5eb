//go:build linux

package netinfo

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// Netlink reads interface addresses over rtnetlink.
type Netlink struct{}

func (Netlink) Addrs(_ context.Context, iface string) ([]netip.Addr, error) {
	var link netlink.Link
	if iface != "" {
		l, err := netlink.LinkByName(iface)
		if err != nil {
			return nil, fmt.Errorf("lookup link %s: %w", iface, err)
		}
		link = l
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		out = append(out, ip.Unmap())
	}
	return out, nil
}
