// Package docker implements the orchestrator's engine port on the Docker
// Engine API.
//
// The client handle is created lazily and dropped whenever the engine is
// unreachable, so the next call reconnects. Every error returned by the
// driver wraps exactly one of the recommerce engine error kinds.
package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"

	"recommerce"
)

// Options bound the driver's engine calls and describe the image build.
type Options struct {
	CallTimeout  time.Duration
	BuildTimeout time.Duration
	// BuildContext is the directory tarred and sent as the build context.
	BuildContext string
	Dockerfile   string
}

// Driver talks to the local Docker engine. It is safe for concurrent use.
type Driver struct {
	opts      Options
	newClient func() (*client.Client, error)
	log       *slog.Logger

	mu  sync.Mutex
	cli *client.Client

	gpuMu sync.Mutex
	gpu   *bool
}

// New returns a Driver that connects using the DOCKER_* environment.
// No connection is made until the first call.
func New(opts Options) *Driver {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = time.Minute
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 30 * time.Minute
	}
	if opts.Dockerfile == "" {
		opts.Dockerfile = "Dockerfile"
	}
	if opts.BuildContext == "" {
		opts.BuildContext = "."
	}
	return &Driver{
		opts: opts,
		newClient: func() (*client.Client, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
		log: slog.With("component", "docker"),
	}
}

func (d *Driver) client() (*client.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli != nil {
		return d.cli, nil
	}
	cli, err := d.newClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w: %w", recommerce.ErrUnavailable, err)
	}
	d.cli = cli
	return cli, nil
}

// reset drops cli if it is still the cached handle.
func (d *Driver) reset(cli *client.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli != cli || cli == nil {
		return
	}
	_ = d.cli.Close()
	d.cli = nil
	d.log.Warn("docker engine unreachable, client reset")
}

// classify wraps err with its engine error kind. Connection failures also
// reset the cached client.
func (d *Driver) classify(cli *client.Client, op string, err error) error {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	if errors.Is(kind, recommerce.ErrUnavailable) {
		d.reset(cli)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

var kinds = []error{
	recommerce.ErrNotFound,
	recommerce.ErrImageNotFound,
	recommerce.ErrBuildFailed,
	recommerce.ErrUnavailable,
	recommerce.ErrTransient,
}

func kindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	switch {
	case errdefs.IsNotFound(err):
		return recommerce.ErrNotFound
	case client.IsErrConnectionFailed(err):
		return recommerce.ErrUnavailable
	}
	return recommerce.ErrTransient
}

// call bounds ctx by the driver's per-call timeout.
func (d *Driver) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.opts.CallTimeout)
}

// Ping reports whether the engine answers.
func (d *Driver) Ping(ctx context.Context) bool {
	cli, err := d.client()
	if err != nil {
		return false
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = d.classify(cli, "ping", err)
		return false
	}
	return true
}

// GPUAvailable reports whether the engine has the nvidia runtime installed.
// A positive or negative answer is cached once the engine has replied.
func (d *Driver) GPUAvailable(ctx context.Context) bool {
	d.gpuMu.Lock()
	defer d.gpuMu.Unlock()
	if d.gpu != nil {
		return *d.gpu
	}

	cli, err := d.client()
	if err != nil {
		return false
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	info, err := cli.Info(ctx)
	if err != nil {
		d.log.Debug("gpu detection failed", "err", d.classify(cli, "info", err))
		return false
	}
	_, ok := info.Runtimes["nvidia"]
	d.gpu = &ok
	d.log.Info("gpu detection", "available", ok)
	return ok
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli == nil {
		return nil
	}
	err := d.cli.Close()
	d.cli = nil
	return err
}
