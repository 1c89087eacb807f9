// Command jail-ai-helper is the privileged sibling of jail-ai. It loads
// the egress kernel program, populates its blocked address maps,
// attaches it to a container's cgroup, drops all capabilities, and
// exits. Install with CAP_BPF and CAP_NET_ADMIN (or CAP_SYS_ADMIN):
//
//	sudo setcap cap_bpf,cap_net_admin+ep jail-ai-helper
//
// The request arrives as a single JSON document on standard input;
// failures report a "category=..." marker on standard error.
package main

import (
	"os"

	"github.com/cyrinux/jail-ai/internal/helper"
)

func main() {
	os.Exit(helper.Run(os.Stdin, os.Stderr))
}
