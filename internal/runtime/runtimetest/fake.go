// Package runtimetest provides an in-memory Runtime for tests.
package runtimetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cyrinux/jail-ai/internal/runtime"
)

// Image is a fake stored image.
type Image struct {
	ID     string
	Labels map[string]string
}

// Container is a fake stored container.
type Container struct {
	Spec    runtime.ContainerSpec
	Running bool
	Pid     int
}

// Fake implements runtime.Runtime in memory and records build and exec
// activity for assertions.
type Fake struct {
	mu         sync.Mutex
	images     map[string]*Image
	containers map[string]*Container
	volumes    map[string]bool

	nextID int

	// Builds records the tags built, in order.
	Builds []string
	// Tags records src->dst alias operations.
	Tags [][2]string
	// Execs records the argv of every exec.
	Execs [][]string

	// ExecCode is returned by Exec.
	ExecCode int
	// BuildErr, when set, fails every build.
	BuildErr error
}

// New creates an empty fake runtime.
func New() *Fake {
	return &Fake{
		images:     make(map[string]*Image),
		containers: make(map[string]*Container),
		volumes:    make(map[string]bool),
	}
}

// SetImage seeds an image with labels.
func (f *Fake) SetImage(ref, id string, labels map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if labels == nil {
		labels = map[string]string{}
	}
	f.images[ref] = &Image{ID: id, Labels: labels}
}

// ImageLabels returns a stored image's labels, nil when absent.
func (f *Fake) ImageLabels(ref string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if img, ok := f.images[ref]; ok {
		return img.Labels
	}
	return nil
}

// Container returns the stored container, nil when absent.
func (f *Fake) Container(name string) *Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[name]
}

// HasVolume reports whether the named volume exists.
func (f *Fake) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name]
}

func (f *Fake) BuildImage(_ context.Context, spec runtime.BuildSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuildErr != nil {
		return f.BuildErr
	}
	f.Builds = append(f.Builds, spec.Tag)
	f.nextID++
	labels := make(map[string]string, len(spec.Labels))
	for k, v := range spec.Labels {
		labels[k] = v
	}
	f.images[spec.Tag] = &Image{
		ID:     fmt.Sprintf("sha256:%04d", f.nextID),
		Labels: labels,
	}
	return nil
}

func (f *Fake) TagImage(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[src]
	if !ok {
		return fmt.Errorf("image %s: %w", src, runtime.ErrNotFound)
	}
	f.Tags = append(f.Tags, [2]string{src, dst})
	f.images[dst] = img
	return nil
}

func (f *Fake) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[ref]
	return ok, nil
}

func (f *Fake) InspectImage(_ context.Context, ref string) (runtime.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[ref]
	if !ok {
		return runtime.ImageInfo{}, fmt.Errorf("image %s: %w", ref, runtime.ErrNotFound)
	}
	return runtime.ImageInfo{ID: img.ID, Labels: img.Labels}, nil
}

func (f *Fake) RemoveImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, ref)
	return nil
}

func (f *Fake) CreateContainer(_ context.Context, spec runtime.ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[spec.Name]; ok {
		return fmt.Errorf("container %s already exists", spec.Name)
	}
	f.nextID++
	f.containers[spec.Name] = &Container{Spec: spec, Pid: 1000 + f.nextID}
	return nil
}

func (f *Fake) StartContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("container %s: %w", name, runtime.ErrNotFound)
	}
	c.Running = true
	return nil
}

func (f *Fake) StopContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return fmt.Errorf("container %s: %w", name, runtime.ErrNotFound)
	}
	c.Running = false
	return nil
}

func (f *Fake) RemoveContainer(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	return nil
}

func (f *Fake) InspectContainer(_ context.Context, name string) (runtime.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return runtime.ContainerInfo{}, fmt.Errorf("container %s: %w", name, runtime.ErrNotFound)
	}
	info := runtime.ContainerInfo{
		Name:    name,
		Image:   c.Spec.Image,
		Running: c.Running,
		Labels:  c.Spec.Labels,
	}
	if img, ok := f.images[c.Spec.Image]; ok {
		info.ImageID = img.ID
	}
	if c.Running {
		info.Pid = c.Pid
	}
	return info, nil
}

func (f *Fake) ListContainers(_ context.Context, label string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name, c := range f.containers {
		for k, v := range c.Spec.Labels {
			if k+"="+v == label {
				names = append(names, name)
				break
			}
		}
	}
	return names, nil
}

func (f *Fake) Exec(_ context.Context, name string, spec runtime.ExecSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return -1, fmt.Errorf("container %s: %w", name, runtime.ErrNotFound)
	}
	if !c.Running {
		return -1, fmt.Errorf("container %s: %w", name, runtime.ErrNotRunning)
	}
	f.Execs = append(f.Execs, spec.Argv)
	return f.ExecCode, nil
}

func (f *Fake) CreateVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = true
	return nil
}

func (f *Fake) RemoveVolume(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *Fake) VolumeExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name], nil
}
