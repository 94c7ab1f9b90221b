package utils

import (
	"errors"
	"net"
	"strings"
)

// Interfaces with these name prefixes carry container/VPN traffic,
// not the LAN we want to announce on.
var virtualIfacePrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet",
	"tun", "tap", "utun", "wg", "zt", "tailscale",
}

func isVirtualIface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualIfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func usableIface(iface net.Interface) bool {
	return iface.Flags&net.FlagUp != 0 &&
		iface.Flags&net.FlagLoopback == 0 &&
		!isVirtualIface(iface.Name)
}

// LANAddr returns the primary private IPv4 address of this host and the
// network it belongs to. 192.168.x and 10.x networks win over anything else.
func LANAddr() (net.IP, *net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}

	var bestIP net.IP
	var bestNet *net.IPNet
	bestScore := -1

	for _, iface := range ifaces {
		if !usableIface(iface) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsPrivate() {
				continue
			}
			score := 1
			switch {
			case ip[0] == 192 && ip[1] == 168:
				score = 3
			case ip[0] == 10:
				score = 2
			}
			if score > bestScore {
				bestScore = score
				bestIP = ip
				bestNet = ipnet
			}
		}
	}

	if bestIP == nil {
		return nil, nil, errors.New("no usable LAN interface found")
	}
	return bestIP, bestNet, nil
}

// BroadcastAddr computes the directed broadcast address of an IPv4 network.
func BroadcastAddr(ipnet *net.IPNet) net.IP {
	ip := ipnet.IP.To4()
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if ip == nil || len(mask) != net.IPv4len {
		return net.IPv4bcast
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

// MulticastInterfaces lists the interfaces a multicast listener should join on.
func MulticastInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, iface := range ifaces {
		if usableIface(iface) && iface.Flags&net.FlagMulticast != 0 {
			out = append(out, iface)
		}
	}
	return out
}
