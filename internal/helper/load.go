package helper

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"

	"github.com/cyrinux/jail-ai/internal/egress"
	"github.com/cyrinux/jail-ai/pkg/helperproto"
)

// Object names inside the kernel program ELF.
const (
	progConnect4 = "jail_egress_connect4"
	progConnect6 = "jail_egress_connect6"
	mapIPv4      = "blocked_ipv4"
	mapIPv6      = "blocked_ipv6"
)

// packagedProgram lists where the shipped kernel program object may
// live when the request carries no program bytes.
var packagedProgram = []string{
	"/usr/lib/jail-ai/egress.bpf.o",
	"/usr/local/lib/jail-ai/egress.bpf.o",
}

// LoadAndAttach performs the privileged sequence: load the kernel
// program, populate the blocked address maps, and attach to the cgroup
// on both connect hooks, pinning everything so the attachment outlives
// this process.
func LoadAndAttach(req *helperproto.Request, logf func(format string, args ...any)) *CategoryError {
	prog := req.ProgramBytes
	if len(prog) == 0 {
		loaded, err := readPackagedProgram()
		if err != nil {
			return &CategoryError{Category: helperproto.CategoryProgramRejected, Err: err}
		}
		prog = loaded
	}

	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(prog))
	if err != nil {
		return &CategoryError{Category: helperproto.CategoryProgramRejected,
			Err: fmt.Errorf("parse program object: %w", err)}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return loadCategory(err)
	}
	defer coll.Close()

	for _, name := range []string{progConnect4, progConnect6} {
		if coll.Programs[name] == nil {
			return categorized(helperproto.CategoryProgramRejected,
				"program %q not found in object", name)
		}
	}

	if err := populateMaps(coll, req); err != nil {
		return err
	}
	logf("populated %d IPv4 and %d IPv6 blocked addresses",
		len(req.BlockedIPv4), len(req.BlockedIPv6))

	pinDir := egress.PinDir(req.CgroupPath)
	// Stale pins from a previous incarnation of this cgroup path would
	// shadow the fresh attachment; clear them first.
	if err := os.RemoveAll(pinDir); err != nil {
		return categorized(helperproto.CategoryAttachRejected, "clear pin dir %s: %v", pinDir, err)
	}
	if err := os.MkdirAll(pinDir, 0700); err != nil {
		return categorized(helperproto.CategoryAttachRejected, "create pin dir %s: %v", pinDir, err)
	}

	attach := func(progName, pinName string, attachType ebpf.AttachType) *CategoryError {
		l, err := link.AttachCgroup(link.CgroupOptions{
			Path:    req.CgroupPath,
			Attach:  attachType,
			Program: coll.Programs[progName],
		})
		if err != nil {
			return attachCategory(err)
		}
		if err := l.Pin(filepath.Join(pinDir, pinName)); err != nil {
			l.Close()
			return categorized(helperproto.CategoryAttachRejected, "pin %s: %v", pinName, err)
		}
		return nil
	}

	if cerr := attach(progConnect4, "connect4", ebpf.AttachCGroupInet4Connect); cerr != nil {
		os.RemoveAll(pinDir)
		return cerr
	}
	if cerr := attach(progConnect6, "connect6", ebpf.AttachCGroupInet6Connect); cerr != nil {
		os.RemoveAll(pinDir)
		return cerr
	}

	// Pin the maps too so the blocked sets stay inspectable while the
	// attachment lives.
	for name, m := range map[string]*ebpf.Map{mapIPv4: coll.Maps[mapIPv4], mapIPv6: coll.Maps[mapIPv6]} {
		if m == nil {
			continue
		}
		if err := m.Pin(filepath.Join(pinDir, name)); err != nil {
			logf("pin map %s: %v", name, err)
		}
	}

	ino, err := egress.CgroupInode(req.CgroupPath)
	if err != nil {
		os.RemoveAll(pinDir)
		return categorized(helperproto.CategoryAttachRejected, "%v", err)
	}
	inoFile := filepath.Join(pinDir, "cgroup.ino")
	if err := os.WriteFile(inoFile, []byte(fmt.Sprintf("%d\n", ino)), 0600); err != nil {
		os.RemoveAll(pinDir)
		return categorized(helperproto.CategoryAttachRejected, "record cgroup inode: %v", err)
	}

	logf("attached connect4+connect6 to %s, pinned under %s", req.CgroupPath, pinDir)
	return nil
}

// populateMaps inserts every blocked address into the corresponding
// in-kernel set. Keys are in network byte order, matching what the
// program reads from the socket address.
func populateMaps(coll *ebpf.Collection, req *helperproto.Request) *CategoryError {
	v4 := coll.Maps[mapIPv4]
	if v4 == nil {
		return categorized(helperproto.CategoryProgramRejected, "map %q not found in object", mapIPv4)
	}
	v6 := coll.Maps[mapIPv6]
	if v6 == nil {
		return categorized(helperproto.CategoryProgramRejected, "map %q not found in object", mapIPv6)
	}

	for _, s := range req.BlockedIPv4 {
		addr := netip.MustParseAddr(s).As4()
		if err := v4.Put(addr, uint8(1)); err != nil {
			return categorized(helperproto.CategoryProgramRejected, "insert %s: %v", s, err)
		}
	}
	for _, s := range req.BlockedIPv6 {
		addr := netip.MustParseAddr(s).As16()
		if err := v6.Put(addr, uint8(1)); err != nil {
			return categorized(helperproto.CategoryProgramRejected, "insert %s: %v", s, err)
		}
	}
	return nil
}

// loadCategory maps a collection-load failure to its category: verifier
// rejections, missing kernel support, or missing privilege.
func loadCategory(err error) *CategoryError {
	var ve *ebpf.VerifierError
	if errors.As(err, &ve) {
		return &CategoryError{Category: helperproto.CategoryProgramRejected, Err: err}
	}
	if errors.Is(err, ebpf.ErrNotSupported) {
		return &CategoryError{Category: helperproto.CategoryKernelUnavailable, Err: err}
	}
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return &CategoryError{Category: helperproto.CategoryInsufficientCaps, Err: err}
	}
	return &CategoryError{Category: helperproto.CategoryProgramRejected, Err: err}
}

func attachCategory(err error) *CategoryError {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return &CategoryError{Category: helperproto.CategoryInsufficientCaps, Err: err}
	}
	if errors.Is(err, ebpf.ErrNotSupported) || errors.Is(err, unix.ENOTSUP) {
		return &CategoryError{Category: helperproto.CategoryKernelUnavailable, Err: err}
	}
	return &CategoryError{Category: helperproto.CategoryAttachRejected, Err: err}
}

func readPackagedProgram() ([]byte, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "jail-ai-egress.bpf.o"))
	}
	candidates = append(candidates, packagedProgram...)

	for _, path := range candidates {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("no program bytes in request and no packaged object found")
}
