package service

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"tenant-auth-policy/internal/ipaccess/domain"
)

// ErrInvalidIPEntry is returned for a pattern that is not a CIDR block, range, or address.
var ErrInvalidIPEntry = errors.New("invalid ip entry")

// ValidateIPEntry checks that pattern is a CIDR block ("10.0.0.0/8", "2001:db8::/32"), an inclusive
// range of one address family ("10.0.0.1-10.0.0.50"), or a single address.
func ValidateIPEntry(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	switch {
	case pattern == "":
		return fmt.Errorf("%w: empty", ErrInvalidIPEntry)
	case strings.Contains(pattern, "/"):
		if _, err := netip.ParsePrefix(pattern); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidIPEntry, pattern, err)
		}
	case strings.Contains(pattern, "-"):
		start, end, err := parseRange(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidIPEntry, pattern, err)
		}
		if start.Compare(end) > 0 {
			return fmt.Errorf("%w: %q: start after end", ErrInvalidIPEntry, pattern)
		}
	default:
		if _, err := netip.ParseAddr(pattern); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidIPEntry, pattern, err)
		}
	}
	return nil
}

// IsIPInList reports whether ip matches any rule in rules that has not expired at now.
func IsIPInList(ip string, rules []domain.Rule, now time.Time) bool {
	for _, r := range rules {
		if r.Expired(now) {
			continue
		}
		if matchPattern(ip, r.Pattern) {
			return true
		}
	}
	return false
}

func matchAny(ip string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(ip, p) {
			return true
		}
	}
	return false
}

// matchPattern never errors; an unparseable ip or pattern simply does not match, except that a literal
// pattern still matches an identical string.
func matchPattern(ip, pattern string) bool {
	ip, pattern = strings.TrimSpace(ip), strings.TrimSpace(pattern)
	addr, addrErr := netip.ParseAddr(ip)
	if addrErr == nil {
		addr = addr.Unmap()
	}
	switch {
	case strings.Contains(pattern, "/"):
		prefix, err := netip.ParsePrefix(pattern)
		return err == nil && addrErr == nil && prefix.Masked().Contains(addr)
	case strings.Contains(pattern, "-"):
		start, end, err := parseRange(pattern)
		if err != nil || addrErr != nil || addr.BitLen() != start.BitLen() {
			return false
		}
		return addr.Compare(start) >= 0 && addr.Compare(end) <= 0
	default:
		if want, err := netip.ParseAddr(pattern); err == nil && addrErr == nil {
			return want.Unmap() == addr
		}
		return ip == pattern
	}
}

func parseRange(pattern string) (netip.Addr, netip.Addr, error) {
	lo, hi, _ := strings.Cut(pattern, "-")
	start, err := netip.ParseAddr(strings.TrimSpace(lo))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}
	end, err := netip.ParseAddr(strings.TrimSpace(hi))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, err
	}
	start, end = start.Unmap(), end.Unmap()
	if start.BitLen() != end.BitLen() {
		return netip.Addr{}, netip.Addr{}, errors.New("mixed address families")
	}
	return start, end, nil
}

// isLocal reports whether ip is loopback. Private ranges such as 10.0.0.0/8 are not local.
func isLocal(ip string) bool {
	ip = strings.TrimSpace(ip)
	if strings.EqualFold(ip, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	return err == nil && addr.Unmap().IsLoopback()
}
