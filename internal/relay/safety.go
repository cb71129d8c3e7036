package relay

import (
	"net"
	"net/url"
	"strings"
)

// isRelayURLSafe validates that a relay URL is safe to connect to. Relay URLs
// come from merchant-supplied connection strings, so private ranges are
// blocked to prevent SSRF; localhost stays allowed for development.
func isRelayURLSafe(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable may still be a valid external host, but obvious
		// internal names are blocked
		if strings.HasSuffix(host, ".") ||
			strings.Contains(host, ".local") || strings.Contains(host, ".internal") {
			return false
		}
		return true
	}

	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}

	return true
}

// isRelayIPSafe checks if an IP is safe for relay connections
func isRelayIPSafe(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	// Private networks (10.x, 172.16-31.x, 192.168.x)
	if ip.IsPrivate() {
		return false
	}

	// Link-local (169.254.x.x) including the cloud metadata IP
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}

	if ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}

	return true
}
