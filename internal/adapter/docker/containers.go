package docker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"recommerce"
)

var tensorBoardPort = nat.Port(strconv.Itoa(recommerce.TensorBoardPort) + "/tcp")

// ListManaged lists containers carrying the managed label. The label filter
// is always applied.
func (d *Driver) ListManaged(ctx context.Context, f recommerce.ListFilter) ([]recommerce.Container, error) {
	cli, err := d.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.call(ctx)
	defer cancel()

	args := filters.NewArgs(filters.Arg("label", recommerce.ManagedLabel))
	if f.Status != "" {
		args.Add("status", f.Status)
	}
	list, err := cli.ContainerList(ctx, container.ListOptions{
		All:     f.All || f.Status != "",
		Filters: args,
	})
	if err != nil {
		return nil, d.classify(cli, "list containers", err)
	}

	out := make([]recommerce.Container, 0, len(list))
	for _, c := range list {
		if _, ok := c.Labels[recommerce.ManagedLabel]; !ok {
			continue
		}
		out = append(out, recommerce.Container{
			ID:                  c.ID,
			Status:              string(c.State),
			Labels:              c.Labels,
			TensorBoardHostPort: summaryHostPort(c.Ports),
		})
	}
	return out, nil
}

func summaryHostPort(ports []container.Port) int {
	for _, p := range ports {
		if int(p.PrivatePort) == recommerce.TensorBoardPort && p.PublicPort != 0 {
			return int(p.PublicPort)
		}
	}
	return 0
}

// Inspect returns the current state of a container.
func (d *Driver) Inspect(ctx context.Context, id string) (recommerce.Container, error) {
	cli, err := d.client()
	if err != nil {
		return recommerce.Container{}, err
	}
	ctx, cancel := d.call(ctx)
	defer cancel()

	info, err := cli.ContainerInspect(ctx, id)
	if err != nil {
		return recommerce.Container{}, d.classify(cli, fmt.Sprintf("inspect container %s", id), err)
	}
	c := recommerce.Container{ID: info.ID}
	if info.State != nil {
		c.Status = string(info.State.Status)
		c.ExitCode = info.State.ExitCode
	}
	if info.Config != nil {
		c.Labels = info.Config.Labels
	}
	if info.NetworkSettings != nil {
		c.TensorBoardHostPort = bindingHostPort(info.NetworkSettings.Ports)
	}
	return c, nil
}

func bindingHostPort(ports nat.PortMap) int {
	for _, b := range ports[tensorBoardPort] {
		if p, err := strconv.Atoi(b.HostPort); err == nil && p > 0 {
			return p
		}
	}
	return 0
}

// Create creates a detached container from spec and returns its id. The
// managed label is always set. A missing image is reported as
// ErrImageNotFound.
func (d *Driver) Create(ctx context.Context, spec recommerce.CreateSpec) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", err
	}
	ctx, cancel := d.call(ctx)
	defer cancel()

	cfg, hostCfg := createConfig(spec)
	var platform *ocispec.Platform
	resp, err := cli.ContainerCreate(ctx, cfg, hostCfg, nil, platform, "")
	if err != nil {
		if kindOf(err) == recommerce.ErrNotFound {
			return "", fmt.Errorf("create container from %s: %w: %w", spec.Image, recommerce.ErrImageNotFound, err)
		}
		return "", d.classify(cli, "create container", err)
	}
	for _, w := range resp.Warnings {
		d.log.Warn("create container warning", "container", resp.ID, "warning", w)
	}
	return resp.ID, nil
}

func createConfig(spec recommerce.CreateSpec) (*container.Config, *container.HostConfig) {
	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[recommerce.ManagedLabel] = ""

	cfg := &container.Config{
		Image:      spec.Image,
		Labels:     labels,
		Entrypoint: spec.Entrypoint,
		ExposedPorts: nat.PortSet{
			tensorBoardPort: struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			tensorBoardPort: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
		},
	}
	if g := spec.GPU; g != nil {
		hostCfg.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       g.Driver,
			Count:        g.Count,
			Capabilities: [][]string{g.Capabilities},
		}}
	}
	return cfg, hostCfg
}

func (d *Driver) Start(ctx context.Context, id string) error {
	return d.simple(ctx, "start container "+id, func(ctx context.Context, cli containerAPI) error {
		return cli.ContainerStart(ctx, id, container.StartOptions{})
	})
}

// Stop asks the container to stop and kills it after grace.
func (d *Driver) Stop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace / time.Second)
	return d.simple(ctx, "stop container "+id, func(ctx context.Context, cli containerAPI) error {
		return cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
	})
}

func (d *Driver) Pause(ctx context.Context, id string) error {
	return d.simple(ctx, "pause container "+id, func(ctx context.Context, cli containerAPI) error {
		return cli.ContainerPause(ctx, id)
	})
}

func (d *Driver) Unpause(ctx context.Context, id string) error {
	return d.simple(ctx, "unpause container "+id, func(ctx context.Context, cli containerAPI) error {
		return cli.ContainerUnpause(ctx, id)
	})
}

func (d *Driver) Remove(ctx context.Context, id string) error {
	return d.simple(ctx, "remove container "+id, func(ctx context.Context, cli containerAPI) error {
		return cli.ContainerRemove(ctx, id, container.RemoveOptions{})
	})
}

// Exec runs cmd inside the container. With detach the call returns as soon
// as the process is started.
func (d *Driver) Exec(ctx context.Context, id string, cmd []string, detach bool) error {
	return d.simple(ctx, "exec in container "+id, func(ctx context.Context, cli containerAPI) error {
		created, err := cli.ContainerExecCreate(ctx, id, container.ExecOptions{
			Cmd:          cmd,
			Detach:       detach,
			AttachStdout: !detach,
			AttachStderr: !detach,
		})
		if err != nil {
			return err
		}
		return cli.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: detach})
	})
}

// containerAPI is the subset of the Docker client used by simple calls.
type containerAPI interface {
	ContainerStart(ctx context.Context, id string, opts container.StartOptions) error
	ContainerStop(ctx context.Context, id string, opts container.StopOptions) error
	ContainerPause(ctx context.Context, id string) error
	ContainerUnpause(ctx context.Context, id string) error
	ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, id string, opts container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecStart(ctx context.Context, execID string, opts container.ExecStartOptions) error
}

func (d *Driver) simple(ctx context.Context, op string, fn func(context.Context, containerAPI) error) error {
	cli, err := d.client()
	if err != nil {
		return err
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	return d.classify(cli, op, fn(ctx, cli))
}
