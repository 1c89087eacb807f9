package jail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/cyrinux/jail-ai/internal/runtime"
)

// StateError reports a container in the wrong state for the requested
// operation. It is recoverable by the caller.
type StateError struct {
	Name  string
	State string
	Want  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("jail %s is %s, want %s", e.Name, e.State, e.Want)
}

// ErrConflict is returned by Create when a container with the same name
// exists under a different image.
var ErrConflict = errors.New("jail exists with a different image")

// Manager translates jail configurations into container runtime
// operations and owns the per-jail persistent volumes.
type Manager struct {
	rt     runtime.Runtime
	logger *log.Logger
}

// NewManager creates a jail manager over the given runtime.
func NewManager(rt runtime.Runtime, logger *log.Logger) *Manager {
	return &Manager{rt: rt, logger: logger}
}

// Create materializes the jail as a container bound to image. It is
// idempotent when a container with the same name and image already
// exists, and fails with ErrConflict otherwise. The persistent home
// volume is created on first use.
func (m *Manager) Create(ctx context.Context, cfg *Config, image string) error {
	info, err := m.rt.InspectContainer(ctx, cfg.Name)
	if err == nil {
		if info.Image == image {
			m.logger.Printf("jail %s already exists with image %s", cfg.Name, image)
			return nil
		}
		return fmt.Errorf("jail %s uses image %s, requested %s: %w",
			cfg.Name, info.Image, image, ErrConflict)
	}
	if !runtime.IsNotFound(err) {
		return err
	}

	volume := cfg.VolumeName()
	exists, err := m.rt.VolumeExists(ctx, volume)
	if err != nil {
		return err
	}
	if !exists {
		m.logger.Printf("creating home volume %s", volume)
		if err := m.rt.CreateVolume(ctx, volume); err != nil {
			return err
		}
	}

	labels := map[string]string{
		LabelManaged:   "true",
		LabelWorkspace: cfg.Workspace,
		LabelBlockHost: strconv.FormatBool(cfg.BlockHost),
	}
	if cfg.Agent != "" {
		labels[LabelAgent] = cfg.Agent
	}

	m.logger.Printf("creating jail %s from %s", cfg.Name, image)
	return m.rt.CreateContainer(ctx, runtime.ContainerSpec{
		Name:        cfg.Name,
		Image:       image,
		Mounts:      ComposeMounts(cfg),
		Env:         ComposeEnv(cfg),
		MemoryMiB:   cfg.MemoryMiB,
		CPUPercent:  cfg.CPUPercent,
		NetworkMode: cfg.Network,
		Labels:      labels,
	})
}

// Start brings the container up. Starting a running container is a
// no-op.
func (m *Manager) Start(ctx context.Context, name string) error {
	info, err := m.rt.InspectContainer(ctx, name)
	if err != nil {
		return err
	}
	if info.Running {
		return nil
	}
	m.logger.Printf("starting jail %s", name)
	return m.rt.StartContainer(ctx, name)
}

// Stop halts the container, tolerating an already-stopped one.
func (m *Manager) Stop(ctx context.Context, name string) error {
	info, err := m.rt.InspectContainer(ctx, name)
	if err != nil {
		return err
	}
	if !info.Running {
		return nil
	}
	m.logger.Printf("stopping jail %s", name)
	return m.rt.StopContainer(ctx, name)
}

// Remove deletes the container and, when removeVolume is set, the
// persistent home volume. Removal is best-effort and tolerates
// already-removed containers.
func (m *Manager) Remove(ctx context.Context, cfg *Config, removeVolume bool) error {
	m.logger.Printf("removing jail %s", cfg.Name)
	if err := m.rt.RemoveContainer(ctx, cfg.Name); err != nil {
		return err
	}
	if removeVolume {
		m.logger.Printf("removing home volume %s", cfg.VolumeName())
		return m.rt.RemoveVolume(ctx, cfg.VolumeName())
	}
	return nil
}

// Exec runs argv inside a running jail in the workspace directory and
// returns the exit code. A stopped container yields a StateError.
func (m *Manager) Exec(ctx context.Context, name string, argv []string, interactive bool) (int, error) {
	spec := runtime.ExecSpec{
		Argv:       argv,
		WorkingDir: WorkspaceTarget,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
	if interactive {
		spec.TTY = true
		spec.Stdin = os.Stdin
		if term.IsTerminal(int(os.Stdin.Fd())) {
			restore, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err == nil {
				defer term.Restore(int(os.Stdin.Fd()), restore)
			}
		}
	}

	code, err := m.rt.Exec(ctx, name, spec)
	if err != nil {
		if errors.Is(err, runtime.ErrNotRunning) {
			return -1, &StateError{Name: name, State: "stopped", Want: "running"}
		}
		return -1, err
	}
	return code, nil
}

// Join attaches an interactive login shell to a running jail.
func (m *Manager) Join(ctx context.Context, name string) (int, error) {
	return m.Exec(ctx, name, []string{"/usr/bin/zsh", "-l"}, true)
}

// List returns the names of all managed jails, running or stopped.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.rt.ListContainers(ctx, LabelManaged+"=true")
}

// Inspect returns the container state backing a jail.
func (m *Manager) Inspect(ctx context.Context, name string) (runtime.ContainerInfo, error) {
	return m.rt.InspectContainer(ctx, name)
}

// Upgrade recreates the jail's container with a refreshed image,
// preserving the persistent home volume.
func (m *Manager) Upgrade(ctx context.Context, cfg *Config, image string) error {
	if err := m.rt.RemoveContainer(ctx, cfg.Name); err != nil {
		return err
	}
	if err := m.Create(ctx, cfg, image); err != nil {
		return err
	}
	return m.Start(ctx, cfg.Name)
}

// CgroupPath resolves the running container's cgroup directory from its
// main process.
func (m *Manager) CgroupPath(ctx context.Context, name string) (string, error) {
	info, err := m.rt.InspectContainer(ctx, name)
	if err != nil {
		return "", err
	}
	if !info.Running || info.Pid <= 0 {
		return "", &StateError{Name: name, State: "stopped", Want: "running"}
	}
	return CgroupForPid(info.Pid)
}
