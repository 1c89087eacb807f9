// Package runtime abstracts the container runtime behind the small set
// of control operations the rest of the system needs. One backend (the
// Docker Engine API) is currently implemented; the concrete type is
// fixed at startup.
package runtime

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when the named image, container, or volume
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotRunning is returned by Exec when the target container exists
// but is stopped.
var ErrNotRunning = errors.New("container not running")

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Mount is a source:target[:ro] path mapping. Source may be a host path
// or a named volume.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readonly,omitempty"`
}

// BuildSpec describes one image build.
type BuildSpec struct {
	// Recipe holds the build script bytes. When ContextDir is empty the
	// build context contains only this file.
	Recipe []byte
	// ContextDir, when set, is sent as the build context (used for the
	// workspace-local custom recipe).
	ContextDir string
	// Parent is passed to the recipe as the BASE_IMAGE build argument.
	Parent string
	Tag    string
	Labels map[string]string
	// Output receives the streamed build progress. Nil discards it.
	Output io.Writer
}

// ContainerSpec describes one container create.
type ContainerSpec struct {
	Name   string
	Image  string
	Mounts []Mount
	Env    []string
	// MemoryMiB limits memory in mebibytes; zero means unlimited.
	MemoryMiB int64
	// CPUPercent limits CPU as an integer percentage of one core; zero
	// means unlimited.
	CPUPercent int
	// NetworkMode is one of "bridge", "none", "host". Empty means the
	// runtime default.
	NetworkMode string
	Labels      map[string]string
	// Command keeps the container alive; defaults to sleep infinity.
	Command []string
}

// ExecSpec describes one exec inside a running container.
type ExecSpec struct {
	Argv       []string
	Env        []string
	WorkingDir string
	User       string
	// TTY attaches a pseudo-terminal and wires Stdin.
	TTY    bool
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ImageInfo is the subset of image metadata the planner consumes.
type ImageInfo struct {
	ID     string
	Labels map[string]string
}

// ContainerInfo is the subset of container state the manager and the
// drift detector consume.
type ContainerInfo struct {
	Name    string
	Image   string // reference the container was created from
	ImageID string
	Running bool
	Pid     int
	Labels  map[string]string
}

// Runtime is the abstract control surface over the container backend.
type Runtime interface {
	BuildImage(ctx context.Context, spec BuildSpec) error
	TagImage(ctx context.Context, src, dst string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	InspectImage(ctx context.Context, ref string) (ImageInfo, error)
	RemoveImage(ctx context.Context, ref string) error

	CreateContainer(ctx context.Context, spec ContainerSpec) error
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	InspectContainer(ctx context.Context, name string) (ContainerInfo, error)
	// ListContainers returns the names of containers (running or not)
	// carrying the given key=value label.
	ListContainers(ctx context.Context, label string) ([]string, error)
	Exec(ctx context.Context, name string, spec ExecSpec) (int, error)

	CreateVolume(ctx context.Context, name string) error
	RemoveVolume(ctx context.Context, name string) error
	VolumeExists(ctx context.Context, name string) (bool, error)
}
