package jail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// cgroupRoot is the mount point of the cgroup filesystem.
const cgroupRoot = "/sys/fs/cgroup"

// CgroupForPid resolves a process's cgroup directory by reading its
// cgroup attribution and interpreting it underneath the cgroup root.
// Both v1 and v2 layouts are accepted; v2 is preferred.
func CgroupForPid(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", fmt.Errorf("read cgroup for pid %d: %w", pid, err)
	}
	rel, err := parseCgroupFile(string(data))
	if err != nil {
		return "", fmt.Errorf("pid %d: %w", pid, err)
	}
	path := filepath.Join(cgroupRoot, rel)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("cgroup path %s: %w", path, err)
	}
	return path, nil
}

// parseCgroupFile extracts the cgroup path from /proc/<pid>/cgroup
// contents. A v2 entry ("0::<path>") wins; otherwise the first named v1
// hierarchy is used with its controller directory.
func parseCgroupFile(content string) (string, error) {
	var v1 string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		hierarchy, controllers, path := parts[0], parts[1], parts[2]
		if hierarchy == "0" && controllers == "" {
			return path, nil
		}
		if v1 == "" && controllers != "" {
			// v1: the path lives under the controller's own mount.
			controller := strings.Split(controllers, ",")[0]
			v1 = filepath.Join(controller, path)
		}
	}
	if v1 != "" {
		return v1, nil
	}
	return "", fmt.Errorf("no cgroup entry found")
}
