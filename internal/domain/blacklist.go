package domain

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// IPBlacklist is one known remote address and its blocklist verdict.
// Non-listed addresses are stored too, so repeat lookups hit the cache.
type IPBlacklist struct {
	ID                string     `json:"id" db:"id"`
	IPAddress         string     `json:"ip_address" db:"ip_address"`
	IPAddressExpanded string     `json:"ip_address_expanded" db:"ip_address_expanded"`
	IPVersion         string     `json:"ip_version" db:"ip_version"`
	IPGroup           string     `json:"ip_group" db:"ip_group"`
	IsBlacklisted     bool       `json:"is_blacklisted" db:"is_blacklisted"`
	Host              string     `json:"host" db:"host"`
	SourceURL         string     `json:"source_url" db:"source_url"`
	SourceUpdatedAt   *time.Time `json:"source_updated_at" db:"source_updated_at"`
	Reason            string     `json:"blacklist_reason" db:"blacklist_reason"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// ExpandIP normalizes an address for grouping: IPv4 stays dotted quad,
// IPv6 becomes the full eight-hextet form. Returns the expanded form,
// the version ("IPv4"/"IPv6"), and an error for unparseable input.
func ExpandIP(addr string) (string, string, error) {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return "", "", fmt.Errorf("invalid IP address: %q", addr)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), "IPv4", nil
	}
	b := ip.To16()
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%02x%02x", b[2*i], b[2*i+1])
	}
	return strings.Join(groups, ":"), "IPv6", nil
}

// BlacklistGroup buckets addresses for cache locality: the first two
// octets of an IPv4 address, or the first three hextets of the expanded
// IPv6 address.
func BlacklistGroup(addr string) (string, error) {
	expanded, version, err := ExpandIP(addr)
	if err != nil {
		return "", err
	}
	if version == "IPv4" {
		parts := strings.SplitN(expanded, ".", 3)
		return parts[0] + "." + parts[1], nil
	}
	parts := strings.SplitN(expanded, ":", 4)
	return parts[0] + ":" + parts[1] + ":" + parts[2], nil
}
