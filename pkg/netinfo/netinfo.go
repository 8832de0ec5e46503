// Package netinfo enumerates the host's network interfaces the way the
// broker expects them: name, IPv4 address, and MAC, with loopback,
// link-local, and unassigned-MAC interfaces filtered out at the source.
package netinfo

import (
	"fmt"
	"net"
	"strings"

	"github.com/udsactor/agent/pkg/broker"
)

var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// List returns every usable network interface on the host, already
// filtered per spec: no loopback, no link-local (169.254.0.0/16 or
// fe80::/10), no all-zero hardware address.
func List() ([]broker.InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netinfo: list interfaces: %w", err)
	}

	var out []broker.InterfaceInfo
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 || iface.HardwareAddr.String() == zeroMAC.String() {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := ipFromAddr(addr)
			if ip == nil || ip.To4() == nil {
				continue
			}
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, broker.InterfaceInfo{
				MAC: iface.HardwareAddr.String(),
				IP:  ip.String(),
			})
		}
	}
	return out, nil
}

// InSubnet filters List's result to interfaces whose IP falls inside cidr.
// An empty cidr returns the unfiltered list (no restriction configured).
func InSubnet(cidr string) ([]broker.InterfaceInfo, error) {
	all, err := List()
	if err != nil {
		return nil, err
	}
	cidr = strings.TrimSpace(cidr)
	if cidr == "" {
		return all, nil
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("netinfo: parse restrict_net %q: %w", cidr, err)
	}
	var out []broker.InterfaceInfo
	for _, ifc := range all {
		ip := net.ParseIP(ifc.IP)
		if ip != nil && network.Contains(ip) {
			out = append(out, ifc)
		}
	}
	return out, nil
}

// Changed reports whether the current interface set (restricted to cidr)
// differs from known, by membership of {mac, ip} pairs rather than order.
func Changed(known []broker.InterfaceInfo, cidr string) (bool, []broker.InterfaceInfo, error) {
	current, err := InSubnet(cidr)
	if err != nil {
		return false, nil, err
	}
	if len(current) != len(known) {
		return true, current, nil
	}
	seen := make(map[string]bool, len(known))
	for _, ifc := range known {
		seen[ifc.MAC+"|"+ifc.IP] = true
	}
	for _, ifc := range current {
		if !seen[ifc.MAC+"|"+ifc.IP] {
			return true, current, nil
		}
	}
	return false, current, nil
}

func ipFromAddr(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}
