// Package orchestrator admits experiment jobs as groups of containers and
// mediates every per-container operation, keeping the catalogue in step with
// the engine.
//
// Operations report failures as human-readable DockerInfo status strings.
// Catalogue failures are logged and otherwise ignored; the engine is the
// only authority on container state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"recommerce"
	"recommerce/config"
	"recommerce/internal/metrics"
)

type Options struct {
	ImageTag    string
	Tasks       []string
	GPUPolicy   string
	StopTimeout time.Duration

	Clock   Clock
	Tracer  trace.Tracer
	Metrics *metrics.Metrics
}

type Orchestrator struct {
	engine    Engine
	catalogue Catalogue
	ports     *PortMap
	clock     Clock
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	log       *slog.Logger

	imageTag    string
	tasks       map[string]struct{}
	gpuPolicy   string
	stopTimeout time.Duration
}

func New(engine Engine, catalogue Catalogue, opts Options) *Orchestrator {
	o := &Orchestrator{
		engine:      engine,
		catalogue:   catalogue,
		ports:       NewPortMap(recommerce.TensorBoardPort),
		clock:       opts.Clock,
		tracer:      opts.Tracer,
		metrics:     opts.Metrics,
		log:         slog.With("component", "orchestrator"),
		imageTag:    opts.ImageTag,
		tasks:       make(map[string]struct{}, len(opts.Tasks)),
		gpuPolicy:   opts.GPUPolicy,
		stopTimeout: opts.StopTimeout,
	}
	for _, t := range opts.Tasks {
		o.tasks[t] = struct{}{}
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}
	if o.tracer == nil {
		o.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if o.imageTag == "" {
		o.imageTag = recommerce.Product
	}
	if o.gpuPolicy == "" {
		o.gpuPolicy = config.GPUAuto
	}
	if o.stopTimeout <= 0 {
		o.stopTimeout = 10 * time.Second
	}
	return o
}

// Ports exposes the TensorBoard port map.
func (o *Orchestrator) Ports() *PortMap { return o.ports }

// EnsureImage makes sure the experiment image exists, rebuilding it when
// force is set.
func (o *Orchestrator) EnsureImage(ctx context.Context, force bool) (string, error) {
	return o.engine.EnsureImage(ctx, o.imageTag, force)
}

// Ping reports whether the engine is reachable.
func (o *Orchestrator) Ping(ctx context.Context) bool {
	return o.engine.Ping(ctx)
}

func (o *Orchestrator) listAll(ctx context.Context) ([]recommerce.Container, error) {
	list, err := o.engine.ListManaged(ctx, recommerce.ListFilter{All: true})
	if err != nil {
		o.log.Warn("refresh port map failed", "err", err)
	}
	return list, err
}

func (o *Orchestrator) wantGPU(ctx context.Context) bool {
	switch o.gpuPolicy {
	case config.GPUAlways:
		return true
	case config.GPUNever:
		return false
	default:
		return o.engine.GPUAvailable(ctx)
	}
}

// lookup fetches a managed container. On failure it returns the DockerInfo
// to hand back to the caller.
func (o *Orchestrator) lookup(ctx context.Context, id string) (recommerce.Container, *recommerce.DockerInfo) {
	c, err := o.engine.Inspect(ctx, id)
	switch {
	case err == nil && c.Managed():
		return c, nil
	case err == nil, errors.Is(err, recommerce.ErrNotFound):
		return recommerce.Container{}, &recommerce.DockerInfo{ID: id, Status: recommerce.StatusNotFound}
	default:
		return recommerce.Container{}, &recommerce.DockerInfo{ID: id, Status: apiError("looking up container", err)}
	}
}

func statusOf(c recommerce.Container) string {
	if c.Status == recommerce.StatusExited {
		return recommerce.ExitedStatus(c.ExitCode)
	}
	return c.Status
}

func apiError(action string, err error) string {
	return fmt.Sprintf("APIError encountered while %s.\n%v", action, err)
}

// containerFailure reports a failed call on a container that was found by a
// previous lookup. A container that vanished in between reads as not found.
func containerFailure(id, action string, err error) recommerce.DockerInfo {
	if errors.Is(err, recommerce.ErrNotFound) {
		return recommerce.DockerInfo{ID: id, Status: recommerce.StatusNotFound}
	}
	return recommerce.DockerInfo{ID: id, Status: apiError(action, err)}
}

// note logs a swallowed catalogue error.
func (o *Orchestrator) note(err error, msg string, args ...any) {
	if err == nil {
		return
	}
	o.log.Warn(msg, append(args, "err", err)...)
}
