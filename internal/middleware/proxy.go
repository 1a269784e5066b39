package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies installs the IP extractor behind c.RealIP(), which is the
// rate-limit identifier. Forwarding headers are only believed when the
// connection comes from one of trustedCIDRs.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = buildIPExtractor(trustedCIDRs)
}

// buildIPExtractor walks X-Forwarded-For from the right, skipping trusted
// hops, and returns the first address a trusted proxy saw. The leftmost
// entry is client-controlled and never used unless every hop is trusted.
// X-Real-IP is honoured only when X-Forwarded-For is absent. Values that do
// not parse as an IP are ignored so they cannot become limiter keys.
func buildIPExtractor(trustedCIDRs []string) echo.IPExtractor {
	var trusted []*net.IPNet
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		trusted = append(trusted, network)
	}

	return func(req *http.Request) string {
		peer := peerIP(req.RemoteAddr)
		if !isTrusted(peer, trusted) {
			return peer
		}

		if xff := req.Header.Values(echo.HeaderXForwardedFor); len(xff) > 0 {
			hops := strings.Split(strings.Join(xff, ","), ",")
			client := peer
			for i := len(hops) - 1; i >= 0; i-- {
				hop := canonicalIP(hops[i])
				if hop == "" {
					break
				}
				client = hop
				if !isTrusted(hop, trusted) {
					break
				}
			}
			return client
		}

		if realIP := canonicalIP(req.Header.Get(echo.HeaderXRealIP)); realIP != "" {
			return realIP
		}
		return peer
	}
}

// peerIP strips the port from RemoteAddr.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// canonicalIP returns the normalized form of s, or "" if s is not an IP.
func canonicalIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
