package util

import (
	"net"
	"strings"
)

// NormalizeIP returns the canonical text form of an address, or "" when the
// input is not an IP. IPv4-mapped IPv6 addresses collapse to IPv4.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(strings.Trim(raw, "[]"))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
