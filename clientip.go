package ledgerauth

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the caller address, honouring X-Forwarded-For only
// when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trustedProxies []net.IPNet
}

// NewClientIPResolver accepts CIDRs or bare IPs. Unparsable entries are
// ignored.
func NewClientIPResolver(proxies []string) *ClientIPResolver {
	trusted := make([]net.IPNet, 0, len(proxies))
	for _, proxy := range proxies {
		_, ipnet, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			mask := net.CIDRMask(32, 32)
			if ip.To4() == nil {
				mask = net.CIDRMask(128, 128)
			}
			ipnet = &net.IPNet{IP: ip, Mask: mask}
		}
		trusted = append(trusted, *ipnet)
	}
	return &ClientIPResolver{trustedProxies: trusted}
}

func (r *ClientIPResolver) ClientIP(req *http.Request) string {
	peer := req.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}

	forwarded := req.Header.Get("X-Forwarded-For")
	if forwarded == "" || !r.trusted(net.ParseIP(peer)) {
		return peer
	}
	if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
		return first
	}
	return peer
}

func (r *ClientIPResolver) trusted(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range r.trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
