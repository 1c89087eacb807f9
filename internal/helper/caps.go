package helper

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cyrinux/jail-ai/pkg/helperproto"
)

// CheckPrivilege verifies the helper can perform BPF loads and cgroup
// attaches: root, CAP_SYS_ADMIN, or CAP_BPF together with CAP_NET_ADMIN.
func CheckPrivilege() *CategoryError {
	if os.Geteuid() == 0 {
		return nil
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return categorized(helperproto.CategoryInsufficientCaps, "capget: %v", err)
	}

	if hasCap(data, unix.CAP_SYS_ADMIN) {
		return nil
	}
	if hasCap(data, unix.CAP_BPF) && hasCap(data, unix.CAP_NET_ADMIN) {
		return nil
	}
	return categorized(helperproto.CategoryInsufficientCaps,
		"need CAP_SYS_ADMIN, or CAP_BPF with CAP_NET_ADMIN")
}

func hasCap(data [2]unix.CapUserData, cap int) bool {
	word := cap / 32
	bit := uint32(1) << uint(cap%32)
	return data[word].Effective&bit != 0
}

// DropCapabilities clears the effective, permitted, and inheritable
// sets, plus the ambient set, leaving the process unprivileged for the
// remainder of its (short) life.
func DropCapabilities() error {
	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil {
		return fmt.Errorf("clear ambient capabilities: %w", err)
	}
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return fmt.Errorf("clear capability sets: %w", err)
	}
	return nil
}
