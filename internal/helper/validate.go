package helper

import (
	"fmt"
	"net/netip"

	"github.com/cyrinux/jail-ai/internal/egress"
	"github.com/cyrinux/jail-ai/pkg/helperproto"
)

// CategoryError carries the structured category the helper reports on
// stderr alongside the underlying cause.
type CategoryError struct {
	Category string
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

func categorized(category string, format string, args ...any) *CategoryError {
	return &CategoryError{Category: category, Err: fmt.Errorf(format, args...)}
}

// ValidateRequest enforces the request contract before any privileged
// syscall: a canonical existing cgroup directory under the cgroup
// filesystem root, and bounded lists of syntactically valid address
// literals with at least one entry overall.
func ValidateRequest(req *helperproto.Request) *CategoryError {
	if err := egress.ValidateCgroupPath(req.CgroupPath); err != nil {
		return &CategoryError{Category: helperproto.CategoryCgroupRejected, Err: err}
	}

	if len(req.BlockedIPv4) >= helperproto.MaxBlockedAddrs {
		return categorized(helperproto.CategoryAddrsRejected,
			"ipv4 list has %d entries, limit %d", len(req.BlockedIPv4), helperproto.MaxBlockedAddrs)
	}
	if len(req.BlockedIPv6) >= helperproto.MaxBlockedAddrs {
		return categorized(helperproto.CategoryAddrsRejected,
			"ipv6 list has %d entries, limit %d", len(req.BlockedIPv6), helperproto.MaxBlockedAddrs)
	}
	if len(req.BlockedIPv4)+len(req.BlockedIPv6) == 0 {
		return categorized(helperproto.CategoryAddrsRejected, "no addresses to block")
	}

	for _, s := range req.BlockedIPv4 {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return categorized(helperproto.CategoryAddrsRejected, "invalid IPv4 literal %q", s)
		}
	}
	for _, s := range req.BlockedIPv6 {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return categorized(helperproto.CategoryAddrsRejected, "invalid IPv6 literal %q", s)
		}
	}
	return nil
}
