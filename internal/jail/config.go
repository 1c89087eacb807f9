// Package jail binds a workspace, a project fingerprint, an optional
// agent, mounts, limits, and a persistent home volume to a concrete
// container identity, and owns that container's lifecycle.
package jail

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cyrinux/jail-ai/internal/agent"
	"github.com/cyrinux/jail-ai/internal/runtime"
)

// Interior paths and label keys.
const (
	// WorkspaceTarget is the canonical interior mount point for the
	// workspace.
	WorkspaceTarget = "/workspace"
	// HomeDir is the agent user's home, backed by the persistent
	// volume.
	HomeDir = "/home/agent"

	LabelManaged   = "ai.jail.managed"
	LabelWorkspace = "ai.jail.workspace"
	LabelAgent     = "ai.jail.agent"
	LabelBlockHost = "ai.jail.block-host"
)

// Config is the full jail tuple. The zero value plus a workspace is a
// usable configuration.
type Config struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
	Agent     string `yaml:"agent,omitempty"`

	Mounts []runtime.Mount   `yaml:"mounts,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`

	MemoryMiB  int64  `yaml:"memory_mib,omitempty"`
	CPUPercent int    `yaml:"cpu_percent,omitempty"`
	Network    string `yaml:"network,omitempty"`

	BlockHost bool `yaml:"block_host,omitempty"`
	Isolated  bool `yaml:"isolated,omitempty"`
	NoNix     bool `yaml:"no_nix,omitempty"`

	// NoWorkspace suppresses the automatic workspace mount.
	NoWorkspace bool `yaml:"no_workspace,omitempty"`
	// WorkspaceRO mounts the workspace read-only.
	WorkspaceRO bool `yaml:"workspace_ro,omitempty"`

	// GitConfig mounts the host's version-control configuration
	// read-only.
	GitConfig bool `yaml:"git_config,omitempty"`
	// SSHAgent mounts the host's signing-agent socket and points the
	// matching environment variable at it.
	SSHAgent bool `yaml:"ssh_agent,omitempty"`

	// Volume names the persistent home volume; defaults to the jail
	// name.
	Volume string `yaml:"volume,omitempty"`
}

// AgentOrNone resolves the configured agent, tolerating the empty
// string.
func (c *Config) AgentOrNone() agent.Agent {
	if c.Agent == "" {
		return ""
	}
	a, ok := agent.Parse(c.Agent)
	if !ok {
		return ""
	}
	return a
}

// VolumeName returns the persistent home volume's name.
func (c *Config) VolumeName() string {
	if c.Volume != "" {
		return c.Volume
	}
	return c.Name
}

// Normalize fills derived fields: the name from the workspace and
// agent, and validates the agent and a user-supplied name.
func (c *Config) Normalize() error {
	if c.Agent != "" {
		a, ok := agent.Parse(c.Agent)
		if !ok {
			return fmt.Errorf("unknown agent %q", c.Agent)
		}
		c.Agent = a.Name()
	}
	if c.Workspace != "" {
		abs, err := filepath.Abs(c.Workspace)
		if err != nil {
			return fmt.Errorf("resolve workspace path %s: %w", c.Workspace, err)
		}
		c.Workspace = abs
	}
	if c.Name == "" {
		if c.Workspace == "" {
			return fmt.Errorf("jail needs a name or a workspace to derive one from")
		}
		c.Name = DeriveName(c.Workspace, c.AgentOrNone())
		return nil
	}
	return ValidateName(c.Name)
}

// Save serializes the configuration to dir/<name>.yaml.
func (c *Config) Save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal jail config: %w", err)
	}
	path := filepath.Join(dir, c.Name+".yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write jail config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename jail config: %w", err)
	}
	return nil
}

// LoadConfig reads a saved configuration by jail name.
func LoadConfig(dir, name string) (*Config, error) {
	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jail config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse jail config %s: %w", path, err)
	}
	return &cfg, nil
}
