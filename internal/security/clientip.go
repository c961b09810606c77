package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// DefaultTrustedProxies trusts a reverse proxy on the same host only.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128"}

// TrustedProxies is the set of networks whose forwarding headers are
// believed.
type TrustedProxies []*net.IPNet

func ParseTrustedProxies(cidrs []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		out = append(out, network)
	}
	return out, nil
}

func (tp TrustedProxies) contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range tp {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP extracts the client address, only trusting proxy headers when
// the direct peer is a trusted proxy. X-Forwarded-For is walked from the
// right and the first hop that is not a trusted proxy is the client;
// entries left of it are written by the client and ignored.
func (tp TrustedProxies) ClientIP(r *http.Request) string {
	directIP := HostOf(r.RemoteAddr)
	if !tp.contains(directIP) {
		return directIP
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	if len(hops) > 0 {
		client := directIP
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			client = hop
			if !tp.contains(hop) {
				break
			}
		}
		return client
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

// HostOf strips the port from a host:port address. Anything that does not
// split is returned as is.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return addr
	}
	return host
}

// AddrHost is HostOf for a net.Addr.
func AddrHost(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	if addr == nil {
		return ""
	}
	return HostOf(addr.String())
}
