package media

import (
	"net"
	"strings"
)

// CGNAT range (100.64.0.0/10). Cloudflare WARP, Tailscale and carrier grade
// NATs live here and rarely allow a direct path.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// Interface name fragments of VPN and virtual adapters.
var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT, in which case only TURN relay candidates are worth gathering.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		var ips []net.IP
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					ips = append(ips, v.IP)
				case *net.IPAddr:
					ips = append(ips, v.IP)
				}
			}
		}

		if looksTunnelled(iface.Name, ips) {
			return true
		}
	}
	return false
}

// looksTunnelled applies the name and address heuristics to one interface.
func looksTunnelled(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, frag := range tunnelNames {
		if strings.Contains(name, frag) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
