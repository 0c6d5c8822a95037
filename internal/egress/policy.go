// Package egress decides which outbound destinations the service may reach.
//
// The same Policy gates a listing's base URL at creation time and every relay
// call at request time, so both call sites share one definition of "public".
// Classification mirrors the special-purpose registries: a destination is
// allowed only when its hostname is not a well-known local name and every
// address it resolves to is ordinary unicast.
package egress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

var (
	// ErrBlockedHost is returned for localhost-style and local-suffix names.
	ErrBlockedHost = errors.New("refusing to fetch from a non-public hostname")

	// ErrBlockedAddress is returned when a literal or resolved address falls
	// into a non-public range.
	ErrBlockedAddress = errors.New("refusing to fetch from a non-public IP address")
)

// Range names the special-purpose block an address belongs to.
type Range string

const (
	RangeUnicast         Range = "unicast"
	RangeBroadcast       Range = "broadcast"
	RangeCarrierGradeNat Range = "carrierGradeNat"
	RangeLinkLocal       Range = "linkLocal"
	RangeLoopback        Range = "loopback"
	RangeMulticast       Range = "multicast"
	RangePrivate         Range = "private"
	RangeReserved        Range = "reserved"
	RangeUniqueLocal     Range = "uniqueLocal"
	RangeUnspecified     Range = "unspecified"
)

type rangeEntry struct {
	prefix netip.Prefix
	name   Range
}

// Order matters: the first matching prefix wins.
var v4Ranges = []rangeEntry{
	{netip.MustParsePrefix("0.0.0.0/8"), RangeUnspecified},
	{netip.MustParsePrefix("255.255.255.255/32"), RangeBroadcast},
	{netip.MustParsePrefix("224.0.0.0/4"), RangeMulticast},
	{netip.MustParsePrefix("169.254.0.0/16"), RangeLinkLocal},
	{netip.MustParsePrefix("127.0.0.0/8"), RangeLoopback},
	{netip.MustParsePrefix("100.64.0.0/10"), RangeCarrierGradeNat},
	{netip.MustParsePrefix("10.0.0.0/8"), RangePrivate},
	{netip.MustParsePrefix("172.16.0.0/12"), RangePrivate},
	{netip.MustParsePrefix("192.168.0.0/16"), RangePrivate},
	{netip.MustParsePrefix("192.0.0.0/24"), RangeReserved},
	{netip.MustParsePrefix("192.0.2.0/24"), RangeReserved},
	{netip.MustParsePrefix("192.88.99.0/24"), RangeReserved},
	{netip.MustParsePrefix("198.18.0.0/15"), RangeReserved},
	{netip.MustParsePrefix("198.51.100.0/24"), RangeReserved},
	{netip.MustParsePrefix("203.0.113.0/24"), RangeReserved},
	{netip.MustParsePrefix("240.0.0.0/4"), RangeReserved},
}

var v6Ranges = []rangeEntry{
	{netip.MustParsePrefix("::/128"), RangeUnspecified},
	{netip.MustParsePrefix("::1/128"), RangeLoopback},
	{netip.MustParsePrefix("fe80::/10"), RangeLinkLocal},
	{netip.MustParsePrefix("ff00::/8"), RangeMulticast},
	{netip.MustParsePrefix("fc00::/7"), RangeUniqueLocal},
	{netip.MustParsePrefix("2001:db8::/32"), RangeReserved},
	{netip.MustParsePrefix("2001::/23"), RangeReserved},
}

// blocked is the set of ranges that are never reachable through the relay.
var blocked = map[Range]bool{
	RangeBroadcast:       true,
	RangeCarrierGradeNat: true,
	RangeLinkLocal:       true,
	RangeLoopback:        true,
	RangeMulticast:       true,
	RangePrivate:         true,
	RangeReserved:        true,
	RangeUniqueLocal:     true,
	RangeUnspecified:     true,
}

// ClassifyIP returns the range addr belongs to. IPv4-mapped IPv6 addresses
// are classified as their IPv4 form.
func ClassifyIP(addr netip.Addr) Range {
	addr = addr.Unmap()
	table := v6Ranges
	if addr.Is4() {
		table = v4Ranges
	}
	for _, e := range table {
		if e.prefix.Contains(addr) {
			return e.name
		}
	}
	return RangeUnicast
}

// IsBlockedRange reports whether r is one of the non-public ranges.
func IsBlockedRange(r Range) bool { return blocked[r] }

// IsBlockedHostname reports whether host is a local-only name.
func IsBlockedHostname(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	return h == "localhost" ||
		strings.HasSuffix(h, ".localhost") ||
		strings.HasSuffix(h, ".local") ||
		strings.HasSuffix(h, ".internal") ||
		strings.HasSuffix(h, ".lan")
}

// Resolver is the subset of *net.Resolver used by Policy.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Policy applies the hostname and address checks. The zero value resolves
// names through net.DefaultResolver.
type Policy struct {
	Resolver Resolver
}

// NewPolicy returns a Policy backed by r, or the system resolver when r is nil.
func NewPolicy(r Resolver) *Policy {
	return &Policy{Resolver: r}
}

func (p *Policy) resolver() Resolver {
	if p == nil || p.Resolver == nil {
		return net.DefaultResolver
	}
	return p.Resolver
}

// CheckAddr rejects addresses inside a blocked range.
func (p *Policy) CheckAddr(addr netip.Addr) error {
	if r := ClassifyIP(addr); IsBlockedRange(r) {
		return fmt.Errorf("%w (%s)", ErrBlockedAddress, r)
	}
	return nil
}

// CheckHost validates a URL hostname. Literal addresses are classified
// directly; names are resolved and every answer must be public.
//
// A failed or empty lookup is allowed: the outbound call fails on its own if
// the host is really unreachable, and already-vetted hosts must not be
// rejected over transient DNS errors.
func (p *Policy) CheckHost(ctx context.Context, host string) error {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return ErrBlockedHost
	}
	if IsBlockedHostname(host) {
		return ErrBlockedHost
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return p.CheckAddr(addr)
	}
	if addr, numeric, err := parseShorthandIPv4(host); numeric {
		if err != nil {
			return ErrBlockedHost
		}
		return p.CheckAddr(addr)
	}

	addrs, err := p.resolver().LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	for _, a := range addrs {
		if err := p.CheckAddr(a); err != nil {
			return err
		}
	}
	return nil
}

// parseShorthandIPv4 reads the inet_aton forms URL parsers accept as IPv4:
// one to four dot-separated parts in decimal, octal (leading 0) or hex (0x),
// the last part filling the remaining bytes ("127.1", "2130706433",
// "0x7f.1", "0177.0.0.1"). numeric reports whether every label looks like a
// number; such a host is never a DNS name, so an out-of-range value is an
// error rather than a lookup.
func parseShorthandIPv4(host string) (addr netip.Addr, numeric bool, err error) {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	for _, l := range labels {
		if !isNumericLabel(l) {
			return netip.Addr{}, false, nil
		}
	}
	if len(labels) > 4 {
		return netip.Addr{}, true, errors.New("too many ipv4 parts")
	}

	parts := make([]uint64, len(labels))
	for i, l := range labels {
		v, err := parseIPv4Part(l)
		if err != nil {
			return netip.Addr{}, true, err
		}
		parts[i] = v
	}
	last := len(parts) - 1
	for _, v := range parts[:last] {
		if v > 0xff {
			return netip.Addr{}, true, errors.New("ipv4 part out of range")
		}
	}
	if parts[last] >= 1<<(8*uint(4-last)) {
		return netip.Addr{}, true, errors.New("ipv4 part out of range")
	}

	var n uint64
	for i, v := range parts[:last] {
		n |= v << (8 * uint(3-i))
	}
	n |= parts[last]
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), true, nil
}

func isNumericLabel(l string) bool {
	if l == "" {
		return false
	}
	if len(l) >= 2 && l[0] == '0' && (l[1] == 'x' || l[1] == 'X') {
		for _, c := range l[2:] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return false
			}
		}
		return true
	}
	for _, c := range l {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseIPv4Part(l string) (uint64, error) {
	switch {
	case len(l) >= 2 && (l[1] == 'x' || l[1] == 'X'):
		if len(l) == 2 {
			return 0, nil
		}
		return strconv.ParseUint(l[2:], 16, 32)
	case len(l) > 1 && l[0] == '0':
		return strconv.ParseUint(l[1:], 8, 32)
	default:
		return strconv.ParseUint(l, 10, 32)
	}
}
