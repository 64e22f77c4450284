package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// RedactKey masks a deletion key for log output. Keys are bearer
// credentials and must never appear in full in logs.
func RedactKey(key string) string {
	if len(key) == 0 {
		return ""
	}
	if len(key) <= 6 {
		return "[REDACTED]"
	}
	return key[:3] + "..." + "[REDACTED]"
}

// RedactIP truncates an address for logging: the last octet of IPv4 and
// everything past the /32 of IPv6 is zeroed. Unparseable input is hashed.
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		hash := sha256.Sum256([]byte(ip))
		return "hash:" + hex.EncodeToString(hash[:8])
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}
