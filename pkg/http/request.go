package http

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the client address for audit logs. Forwarding
// headers are honoured only when the direct peer is a trusted proxy, so a
// client cannot spoof its address.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)
	if config == nil || !config.trusts(remote) {
		return remote
	}

	for _, candidate := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
			return addr.String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.String()
	}

	return remote
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (c *IPConfig) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, cidr := range c.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// SafeRedirectPath returns target when it is a same-site relative path and
// "/" otherwise. Scheme-relative ("//host") and backslash tricks are rejected.
func SafeRedirectPath(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return "/"
	}
	if strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "/"
	}
	for _, r := range target {
		if r < 0x20 || r == 0x7f {
			return "/"
		}
	}

	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return target
}
