package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ProxyList holds the networks trusted to report the original client
// address in X-Forwarded-For.
type ProxyList []netip.Prefix

// ParseProxyList accepts CIDR blocks and bare addresses.
func ParseProxyList(entries []string) (ProxyList, error) {
	var out ProxyList
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (pl ProxyList) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range pl {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client behind any trusted proxies.
// X-Forwarded-For is walked from the right and the first hop that is not a
// trusted proxy wins. Requests from untrusted peers report the peer address.
func (pl ProxyList) ClientIP(r *http.Request) string {
	ip := ClientIP(r)
	if !pl.trusts(ip) {
		return ip
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !pl.trusts(hop) {
			return hop
		}
		ip = hop
	}
	return ip
}

// ClientIP returns the host of the connected peer.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
