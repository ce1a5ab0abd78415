package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// Unknown is the identifier used when no client address can be obtained.
// The rate tracker gives it the strictest budget so unresolvable traffic
// cannot sidestep limits.
const Unknown = "unknown"

// DefaultForwardedHeaders are consulted, in order, when the peer is a trusted proxy
var DefaultForwardedHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// Config defines which proxies we trust for forwarded-address headers
type Config struct {
	TrustedProxies   []string // IPs or CIDRs
	ForwardedHeaders []string
}

// Resolver maps a peer address plus proxy headers to a client identifier
type Resolver struct {
	trusted *netipx.IPSet
	headers []string
}

func NewResolver(config Config) (*Resolver, error) {
	trusted, err := ParseTrustedProxies(config.TrustedProxies)
	if err != nil {
		return nil, err
	}

	headers := config.ForwardedHeaders
	if len(headers) == 0 {
		headers = DefaultForwardedHeaders
	}
	canon := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			canon = append(canon, http.CanonicalHeaderKey(h))
		}
	}

	return &Resolver{trusted: trusted, headers: canon}, nil
}

// ParseTrustedProxies builds an IP set from a mix of addresses and CIDRs
func ParseTrustedProxies(entries []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder

	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			pref, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", e, err)
			}
			b.AddPrefix(pref.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy address %q: %w", e, err)
		}
		b.Add(addr.Unmap())
	}

	return b.IPSet()
}

// Resolve never fails: if nothing usable is found it returns Unknown.
func (r *Resolver) Resolve(peerAddr string, h http.Header) string {
	peer, ok := parseAddr(peerAddr)
	if !ok {
		// No peer at all. Forwarded headers can't be trusted without
		// knowing who sent them, so fall back to the sentinel.
		return Unknown
	}

	if r == nil || r.trusted == nil || !r.trusted.Contains(peer) {
		return peer.String()
	}

	for _, name := range r.headers {
		v := h.Get(name)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if addr, ok := parseAddr(first); ok {
			return addr.String()
		}
	}

	return peer.String()
}

// ResolveRequest is Resolve over an *http.Request
func (r *Resolver) ResolveRequest(req *http.Request) string {
	if req == nil {
		return Unknown
	}
	return r.Resolve(req.RemoteAddr, req.Header)
}

// parseAddr accepts "host:port", "[v6]:port" or a bare address.
func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

// NormalizeIP returns the canonical text form of ip, or ip unchanged if it
// does not parse
func NormalizeIP(ip string) string {
	addr, ok := parseAddr(ip)
	if !ok {
		return ip
	}
	return addr.String()
}
