package egress

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Well-known addresses blocked regardless of interface state: loopback
// representatives, the cloud metadata service, and rootless-NAT
// gateways used by podman, QEMU, and Docker Desktop.
var constantIPv4 = []string{
	"127.0.0.1",
	"169.254.169.254",
	"10.0.2.2",
	"169.254.1.1",
	"169.254.1.2",
	"192.168.65.2",
}

var constantIPv6 = []string{
	"::1",
}

// HostAddrs enumerates the host-reachable addresses a jail must not
// connect to: the constants above plus the host's assigned interface
// addresses harvested from the kernel's /proc exports. Harvest failures
// degrade to the constant set; the caller still gets a usable list.
func HostAddrs() (v4, v6 []string, err error) {
	set4 := make(map[netip.Addr]bool)
	set6 := make(map[netip.Addr]bool)

	for _, s := range constantIPv4 {
		set4[netip.MustParseAddr(s)] = true
	}
	for _, s := range constantIPv6 {
		set6[netip.MustParseAddr(s)] = true
	}

	if f, ferr := os.Open("/proc/net/fib_trie"); ferr == nil {
		addrs, perr := parseFibTrie(f)
		f.Close()
		if perr == nil {
			for _, a := range addrs {
				set4[a] = true
			}
		}
	}

	if f, ferr := os.Open("/proc/net/if_inet6"); ferr == nil {
		addrs, perr := parseIfInet6(f)
		f.Close()
		if perr == nil {
			for _, a := range addrs {
				set6[a] = true
			}
		}
	}

	return sortedStrings(set4), sortedStrings(set6), nil
}

// parseFibTrie harvests the host's assigned IPv4 addresses from the
// kernel's forwarding-table export. Local host routes appear as a
// "/32 host LOCAL" marker following the address line.
func parseFibTrie(r io.Reader) ([]netip.Addr, error) {
	scanner := bufio.NewScanner(r)
	var addrs []netip.Addr
	var prev string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "host LOCAL") {
			for _, candidate := range []string{prev, line} {
				for _, field := range strings.Fields(candidate) {
					if !strings.Contains(field, ".") {
						continue
					}
					addr, err := netip.ParseAddr(field)
					if err != nil || !addr.Is4() {
						continue
					}
					if blockableIPv4(addr) {
						addrs = append(addrs, addr)
					}
				}
			}
		}
		prev = line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fib_trie: %w", err)
	}
	return addrs, nil
}

// blockableIPv4 filters harvested addresses down to those worth
// blocking. Loopback is covered by its constant representative;
// multicast and unspecified are noise.
func blockableIPv4(addr netip.Addr) bool {
	if addr.IsLoopback() || addr.IsMulticast() || addr.IsUnspecified() {
		return false
	}
	a4 := addr.As4()
	if a4 == [4]byte{255, 255, 255, 255} {
		return false
	}
	// Container bridge subnets: only the gateway itself is the host.
	if a4[0] == 172 && a4[1] >= 16 && a4[1] < 32 {
		return a4[2] == 0 && (a4[3] == 0 || a4[3] == 1)
	}
	if a4[0] == 10 && a4[1] >= 88 && a4[1] <= 91 {
		return a4[2] == 0 && a4[3] == 1
	}
	return true
}

// parseIfInet6 harvests the host's IPv6 addresses from the kernel's
// interface-address export. Each line starts with 32 hex digits.
func parseIfInet6(r io.Reader) ([]netip.Addr, error) {
	scanner := bufio.NewScanner(r)
	var addrs []netip.Addr
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || len(fields[0]) != 32 {
			continue
		}
		addr, err := parseHexIPv6(fields[0])
		if err != nil {
			continue
		}
		if blockableIPv6(addr) {
			addrs = append(addrs, addr)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read if_inet6: %w", err)
	}
	return addrs, nil
}

func blockableIPv6(addr netip.Addr) bool {
	if addr.IsLoopback() || addr.IsMulticast() || addr.IsUnspecified() {
		return false
	}
	// Unique-local ranges are container networking, not the host.
	a16 := addr.As16()
	if a16[0]&0xfe == 0xfc {
		return false
	}
	return true
}

// parseHexIPv6 decodes the 32-hex-digit address form used by if_inet6.
func parseHexIPv6(hex string) (netip.Addr, error) {
	if len(hex) != 32 {
		return netip.Addr{}, fmt.Errorf("invalid hex IPv6 length %d", len(hex))
	}
	var a16 [16]byte
	for i := 0; i < 16; i++ {
		b, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("parse hex IPv6 %q: %w", hex, err)
		}
		a16[i] = byte(b)
	}
	return netip.AddrFrom16(a16), nil
}

func sortedStrings(set map[netip.Addr]bool) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
