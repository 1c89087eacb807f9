// Package egress orchestrates the cgroup-attached connect() filter:
// it discovers the container's cgroup, enumerates the host's reachable
// addresses, and invokes the privileged helper that loads and attaches
// the kernel program. The orchestrator itself never holds kernel-loading
// capabilities.
package egress

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cyrinux/jail-ai/pkg/helperproto"
)

// State of the filter for one container.
type State int

const (
	Inactive State = iota
	AttachingHelperRunning
	Attached
	FailedOpen
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case AttachingHelperRunning:
		return "attaching"
	case Attached:
		return "attached"
	case FailedOpen:
		return "failed-open"
	}
	return "unknown"
}

// helperName is the privileged sibling binary.
const helperName = "jail-ai-helper"

// helperTimeout bounds how long the orchestrator waits for the helper.
// The helper is short-lived; a hang is treated as failure.
const helperTimeout = 30 * time.Second

// CgroupFSRoot is the mount point all validated cgroup paths must live
// under.
const CgroupFSRoot = "/sys/fs/cgroup"

// PinRoot is where the helper pins links and maps so the attachment
// survives its exit.
const PinRoot = "/sys/fs/bpf/jail-ai"

// programSearch lists where the packaged kernel program may live,
// relative to the executable directory and absolutely.
var programSearch = []string{
	"jail-ai-egress.bpf.o",
	"/usr/lib/jail-ai/egress.bpf.o",
	"/usr/local/lib/jail-ai/egress.bpf.o",
}

// helperSearch lists the system directories searched after the
// executable's own directory.
var helperSearch = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/usr/local/sbin",
	"/usr/sbin",
}

// HelperError wraps a helper failure with its structured category.
// Egress filter errors are recoverable: the filter fails open.
type HelperError struct {
	Category string
	Err      error
}

func (e *HelperError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("egress helper: %s", e.Category)
	}
	return fmt.Sprintf("egress helper: %v", e.Err)
}

func (e *HelperError) Unwrap() error { return e.Err }

// Filter drives the helper for one container. The zero value is not
// usable; construct with NewFilter.
type Filter struct {
	logger  *log.Logger
	state   State
	verbose bool
	timeout time.Duration
}

// NewFilter creates an egress filter orchestrator.
func NewFilter(logger *log.Logger, verbose bool) *Filter {
	return &Filter{logger: logger, verbose: verbose, timeout: helperTimeout}
}

// State returns the filter's current state.
func (f *Filter) State() State { return f.state }

// EnsureAttached attaches the filter to the cgroup unless an attachment
// for it is already present (the reattach-on-restart path). A helper
// failure moves the filter to FailedOpen and returns the wrapped
// category; the container continues without filtering.
func (f *Filter) EnsureAttached(ctx context.Context, cgroupPath string) error {
	if AttachmentPresent(cgroupPath) {
		f.state = Attached
		return nil
	}
	f.state = Inactive
	return f.Attach(ctx, cgroupPath)
}

// Attach validates the cgroup path, enumerates host addresses, and
// invokes the helper. Zero exit means the kernel program is loaded,
// populated, attached, and the helper has dropped its capabilities.
func (f *Filter) Attach(ctx context.Context, cgroupPath string) error {
	if err := ValidateCgroupPath(cgroupPath); err != nil {
		f.state = FailedOpen
		return &HelperError{Category: helperproto.CategoryCgroupRejected, Err: err}
	}

	v4, v6, err := HostAddrs()
	if err != nil {
		f.state = FailedOpen
		return &HelperError{Err: err}
	}

	helper, err := LocateHelper()
	if err != nil {
		f.state = FailedOpen
		return &HelperError{Err: err}
	}

	req := &helperproto.Request{
		CgroupPath:  cgroupPath,
		BlockedIPv4: v4,
		BlockedIPv6: v6,
		Verbose:     f.verbose,
	}
	// The helper can load from its packaged path; shipping the bytes in
	// the request just avoids depending on its install layout.
	if prog, err := readPackagedProgram(); err == nil {
		req.ProgramBytes = prog
	}

	f.state = AttachingHelperRunning
	f.logger.Printf("invoking %s for cgroup %s (%d IPv4, %d IPv6)",
		helper, cgroupPath, len(v4), len(v6))

	category, err := f.runHelper(ctx, helper, req)
	if err != nil {
		f.state = FailedOpen
		f.logger.Printf("egress filter failed open: category=%q err=%v", category, err)
		return &HelperError{Category: category, Err: err}
	}

	f.state = Attached
	return nil
}

// runHelper spawns the helper, writes the request to its stdin, and
// awaits its exit within the timeout. The helper is never killed
// abruptly before the timeout elapses.
func (f *Filter) runHelper(ctx context.Context, helper string, req *helperproto.Request) (string, error) {
	// Detached from the caller's cancellation: only the timeout can cut
	// the helper short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	var stdin bytes.Buffer
	if err := helperproto.WriteRequest(&stdin, req); err != nil {
		return "", err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, helper)
	cmd.Stdin = &stdin
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("helper timed out after %s", f.timeout)
	}
	if err != nil {
		category := helperproto.ParseCategory(stderr.String())
		return category, fmt.Errorf("helper exited: %w", err)
	}
	return "", nil
}

// ValidateCgroupPath enforces that path is absolute, canonical, under
// the cgroup filesystem root, free of parent-traversal components, and
// an existing directory.
func ValidateCgroupPath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("cgroup path %q is not absolute", path)
	}
	if filepath.Clean(path) != path {
		return fmt.Errorf("cgroup path %q is not canonical", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("cgroup path %q contains parent traversal", path)
	}
	if path != CgroupFSRoot && !strings.HasPrefix(path, CgroupFSRoot+"/") {
		return fmt.Errorf("cgroup path %q is outside %s", path, CgroupFSRoot)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cgroup path %q: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("cgroup path %q is not a directory", path)
	}
	return nil
}

// LocateHelper finds the helper binary: the directory of the current
// executable first, then the standard system binary directories.
func LocateHelper() (string, error) {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	dirs = append(dirs, helperSearch...)

	for _, dir := range dirs {
		candidate := filepath.Join(dir, helperName)
		if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() && fi.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found next to the executable or in %v", helperName, helperSearch)
}

// readPackagedProgram loads the kernel program object shipped with the
// package, searched next to the executable and in the library dirs.
func readPackagedProgram() ([]byte, error) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), programSearch[0]))
	}
	candidates = append(candidates, programSearch[1:]...)

	for _, path := range candidates {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("packaged kernel program not found")
}

// PinDir derives the bpffs pin directory for a cgroup path. The helper
// computes the same name, which is how the orchestrator can tell an
// attachment is already present.
func PinDir(cgroupPath string) string {
	sum := sha256.Sum256([]byte(cgroupPath))
	return filepath.Join(PinRoot, hex.EncodeToString(sum[:])[:12])
}

// cgroupInoFile records, inside the pin directory, the inode of the
// cgroup the pinned links were attached to. A restarted container gets
// a fresh cgroup directory (and inode) even when the path repeats.
const cgroupInoFile = "cgroup.ino"

// AttachmentPresent reports whether a live pinned attachment for the
// cgroup exists: the pin directory must exist and its recorded cgroup
// inode must match the directory at cgroupPath. Stale pins from a
// previous incarnation of the cgroup do not count.
func AttachmentPresent(cgroupPath string) bool {
	ino, err := CgroupInode(cgroupPath)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join(PinDir(cgroupPath), cgroupInoFile))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == fmt.Sprintf("%d", ino)
}

// CgroupInode returns the inode number of the cgroup directory.
func CgroupInode(cgroupPath string) (uint64, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(cgroupPath, &st); err != nil {
		return 0, fmt.Errorf("stat cgroup %s: %w", cgroupPath, err)
	}
	return st.Ino, nil
}
