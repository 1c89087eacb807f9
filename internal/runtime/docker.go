package runtime

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// Docker implements Runtime against the Docker Engine API. It works
// unchanged against a rootless daemon or a podman socket exposing the
// compatibility API.
type Docker struct {
	client *client.Client
	logger *log.Logger
}

// NewDocker connects to the engine using the standard environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewDocker(logger *log.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to container runtime: %w", err)
	}
	return &Docker{client: cli, logger: logger}, nil
}

// Close releases the underlying API client.
func (d *Docker) Close() error { return d.client.Close() }

func (d *Docker) BuildImage(ctx context.Context, spec BuildSpec) error {
	buildCtx, err := buildContext(spec)
	if err != nil {
		return err
	}

	args := map[string]*string{}
	if spec.Parent != "" {
		parent := spec.Parent
		args["BASE_IMAGE"] = &parent
	}

	resp, err := d.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: contextRecipeName,
		BuildArgs:  args,
		Labels:     spec.Labels,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build %s: %w", spec.Tag, err)
	}
	defer resp.Body.Close()

	out := spec.Output
	if out == nil {
		out = io.Discard
	}
	// The build stream carries both progress and the terminal error, if
	// any; a failed build surfaces as a jsonmessage.JSONError here.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return fmt.Errorf("build %s: %w", spec.Tag, err)
	}
	return nil
}

func (d *Docker) TagImage(ctx context.Context, src, dst string) error {
	if err := d.client.ImageTag(ctx, src, dst); err != nil {
		return fmt.Errorf("tag %s as %s: %w", src, dst, err)
	}
	return nil
}

func (d *Docker) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return true, nil
}

func (d *Docker) InspectImage(ctx context.Context, ref string) (ImageInfo, error) {
	inspect, _, err := d.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ImageInfo{}, fmt.Errorf("image %s: %w", ref, ErrNotFound)
		}
		return ImageInfo{}, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	info := ImageInfo{ID: inspect.ID}
	if inspect.Config != nil {
		info.Labels = inspect.Config.Labels
	}
	return info, nil
}

func (d *Docker) RemoveImage(ctx context.Context, ref string) error {
	_, err := d.client.ImageRemove(ctx, ref, image.RemoveOptions{})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove image %s: %w", ref, err)
	}
	return nil
}

func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) error {
	cmd := spec.Command
	if len(cmd) == 0 {
		// Keep the container alive; all work happens via exec.
		cmd = []string{"sleep", "infinity"}
	}

	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	hostCfg := &container.HostConfig{Binds: binds}
	if spec.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}
	if spec.MemoryMiB > 0 {
		hostCfg.Resources.Memory = spec.MemoryMiB * 1024 * 1024
	}
	if spec.CPUPercent > 0 {
		// NanoCPUs is in billionths of a core.
		hostCfg.Resources.NanoCPUs = int64(spec.CPUPercent) * 1e7
	}

	_, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Cmd:    cmd,
		Env:    spec.Env,
		Labels: spec.Labels,
	}, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return nil
}

func (d *Docker) StartContainer(ctx context.Context, name string) error {
	if err := d.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}
	return nil
}

func (d *Docker) StopContainer(ctx context.Context, name string) error {
	if err := d.client.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

func (d *Docker) RemoveContainer(ctx context.Context, name string) error {
	err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

func (d *Docker) InspectContainer(ctx context.Context, name string) (ContainerInfo, error) {
	inspect, err := d.client.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerInfo{}, fmt.Errorf("container %s: %w", name, ErrNotFound)
		}
		return ContainerInfo{}, fmt.Errorf("inspect container %s: %w", name, err)
	}

	info := ContainerInfo{
		Name:    name,
		ImageID: inspect.Image,
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
		info.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		info.Running = inspect.State.Running
		info.Pid = inspect.State.Pid
	}
	return info, nil
}

func (d *Docker) ListContainers(ctx context.Context, label string) ([]string, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var names []string
	for _, c := range list {
		if len(c.Names) > 0 {
			names = append(names, trimLeadingSlash(c.Names[0]))
		}
	}
	return names, nil
}

func (d *Docker) Exec(ctx context.Context, name string, spec ExecSpec) (int, error) {
	info, err := d.InspectContainer(ctx, name)
	if err != nil {
		return -1, err
	}
	if !info.Running {
		return -1, fmt.Errorf("container %s: %w", name, ErrNotRunning)
	}

	execResp, err := d.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          spec.Argv,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		User:         spec.User,
		Tty:          spec.TTY,
		AttachStdin:  spec.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("create exec in %s: %w", name, err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: spec.TTY})
	if err != nil {
		return -1, fmt.Errorf("attach exec in %s: %w", name, err)
	}
	defer attach.Close()

	// Pump stdin until the caller's reader drains or the exec ends.
	if spec.Stdin != nil {
		go func() {
			io.Copy(attach.Conn, spec.Stdin)
			attach.CloseWrite()
		}()
	}

	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	streamDone := make(chan error, 1)
	go func() {
		if spec.TTY {
			_, err := io.Copy(stdout, attach.Reader)
			streamDone <- err
		} else {
			_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
			streamDone <- err
		}
	}()

	select {
	case err := <-streamDone:
		if err != nil {
			d.logger.Printf("exec stream error: %v", err)
		}
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	inspect, err := d.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return -1, fmt.Errorf("inspect exec in %s: %w", name, err)
	}
	return inspect.ExitCode, nil
}

func (d *Docker) CreateVolume(ctx context.Context, name string) error {
	if _, err := d.client.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	return nil
}

func (d *Docker) RemoveVolume(ctx context.Context, name string) error {
	if err := d.client.VolumeRemove(ctx, name, false); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}

func (d *Docker) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := d.client.VolumeInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect volume %s: %w", name, err)
	}
	return true, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
