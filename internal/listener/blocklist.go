package listener

import (
	"fmt"
	"net"
)

// normalizeIP rejects a nil ip (what net.ParseIP returns for a string
// that is not an IP literal) and returns the canonical string form of
// any v4 or v6 address. The teacher's ParseIPv6 in
// ipv6.go rejected anything that wasn't IPv6; the blocked-address set
// in this domain accepts either family, so the v4 rejection is dropped
// but the validate-then-normalize shape is kept.
func normalizeIP(ip net.IP) (string, error) {
	if ip == nil {
		return "", fmt.Errorf("listener: nil IP")
	}
	return ip.String(), nil
}

// BlockIP adds ip to the instance's blocked-address set. Matches the
// existing-address idiom in the teacher's netif.go (EnsureIPv6Addresses
// builds a normalized set of already-assigned addresses before adding
// new ones); here the set is policy state instead of interface state.
func (in *Instance) BlockIP(ip net.IP) error {
	key, err := normalizeIP(ip)
	if err != nil {
		return err
	}
	in.blockedMu.Lock()
	defer in.blockedMu.Unlock()
	in.blocked[key] = struct{}{}
	return nil
}

// UnblockIP removes ip from the blocked-address set, if present.
func (in *Instance) UnblockIP(ip net.IP) {
	key, err := normalizeIP(ip)
	if err != nil {
		return
	}
	in.blockedMu.Lock()
	defer in.blockedMu.Unlock()
	delete(in.blocked, key)
}

// ListBlocked returns a snapshot of the blocked-address set.
func (in *Instance) ListBlocked() []string {
	in.blockedMu.RLock()
	defer in.blockedMu.RUnlock()
	out := make([]string, 0, len(in.blocked))
	for ip := range in.blocked {
		out = append(out, ip)
	}
	return out
}

// IsBlocked reports whether ip is a member of the blocked-address set.
// Consulted on the data path before a CONNECT dial is allowed through.
func (in *Instance) IsBlocked(ip net.IP) bool {
	if ip == nil {
		return false
	}
	in.blockedMu.RLock()
	defer in.blockedMu.RUnlock()
	_, blocked := in.blocked[ip.String()]
	return blocked
}
