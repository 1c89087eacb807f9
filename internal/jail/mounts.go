package jail

import (
	"os"
	"path/filepath"

	"github.com/cyrinux/jail-ai/internal/runtime"
)

// Interior paths for opt-in host material.
const (
	sshAgentTarget  = "/run/agent/ssh-auth.sock"
	gitConfigTarget = HomeDir + "/.gitconfig"
)

// ComposeMounts assembles the effective mount list: the workspace, the
// persistent home volume, opt-in credential mounts, and opt-in host
// configuration material. When the same target appears more than once,
// the most restrictive mode wins and duplicates collapse.
func ComposeMounts(cfg *Config) []runtime.Mount {
	var mounts []runtime.Mount

	if !cfg.NoWorkspace && cfg.Workspace != "" {
		mounts = append(mounts, runtime.Mount{
			Source:   cfg.Workspace,
			Target:   WorkspaceTarget,
			ReadOnly: cfg.WorkspaceRO,
		})
	}

	mounts = append(mounts, runtime.Mount{
		Source: cfg.VolumeName(),
		Target: HomeDir,
	})

	if cfg.GitConfig {
		if home, err := os.UserHomeDir(); err == nil {
			gitconfig := filepath.Join(home, ".gitconfig")
			if _, err := os.Stat(gitconfig); err == nil {
				mounts = append(mounts, runtime.Mount{
					Source:   gitconfig,
					Target:   gitConfigTarget,
					ReadOnly: true,
				})
			}
		}
	}

	if cfg.SSHAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if _, err := os.Stat(sock); err == nil {
				mounts = append(mounts, runtime.Mount{
					Source:   sock,
					Target:   sshAgentTarget,
					ReadOnly: true,
				})
			}
		}
	}

	mounts = append(mounts, cfg.Mounts...)

	return dedupeMounts(mounts)
}

// dedupeMounts collapses mounts sharing a target. An explicit read-only
// wins over an implicit read-write; the first source for a target wins.
func dedupeMounts(mounts []runtime.Mount) []runtime.Mount {
	byTarget := make(map[string]int, len(mounts))
	out := make([]runtime.Mount, 0, len(mounts))
	for _, m := range mounts {
		if i, ok := byTarget[m.Target]; ok {
			if m.ReadOnly {
				out[i].ReadOnly = true
			}
			continue
		}
		byTarget[m.Target] = len(out)
		out = append(out, m)
	}
	return out
}
