//go:build !linux

package netinfo

import (
	"context"
	"errors"
	"net/netip"
)

// Netlink is only available on Linux; elsewhere every lookup fails.
type Netlink struct{}

func (Netlink) Addrs(context.Context, string) ([]netip.Addr, error) {
	return nil, errors.New("netlink address probe requires linux")
}
