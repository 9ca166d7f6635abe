// Package daemon composes the orchestrator's collaborators once at boot and
// runs the HTTP surface and background loops until shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"recommerce"
	"recommerce/config"
	"recommerce/internal/adapter/docker"
	"recommerce/internal/adapter/procfs"
	"recommerce/internal/adapter/sqlite"
	"recommerce/internal/api"
	"recommerce/internal/auth"
	"recommerce/internal/clockcheck"
	"recommerce/internal/metrics"
	"recommerce/internal/notify"
	"recommerce/internal/orchestrator"
	"recommerce/internal/reaper"
	"recommerce/internal/telemetry"
)

type Daemon struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	driver  *docker.Driver
	store   *sqlite.Store
	orch    *orchestrator.Orchestrator
	hub     *notify.Hub
	api     *api.Server
	reaper  *reaper.Reaper
	sampler *reaper.Sampler
	clock   *clockcheck.Checker

	shutdownTracing func(context.Context) error
}

// New constructs every collaborator from cfg. Nothing is started.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	d := &Daemon{cfg: cfg, metrics: metrics.New()}

	tp, shutdown, err := telemetry.NewProvider(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	d.shutdownTracing = shutdown

	secrets, err := auth.LoadSecrets(cfg.SecretsFile)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	if secrets.Webserver == "" && secrets.Developer == "" {
		slog.Warn("No authorization secrets configured, every request will be rejected.", "secrets_file", cfg.SecretsFile)
	}

	store, err := sqlite.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	d.store = store

	d.driver = NewDriver(cfg)
	d.orch = orchestrator.New(d.driver, d.store, orchestrator.Options{
		ImageTag:    cfg.Image.Tag,
		Tasks:       cfg.Tasks,
		GPUPolicy:   cfg.GPU,
		StopTimeout: cfg.Docker.StopTimeout,
		Tracer:      tracer(tp),
		Metrics:     d.metrics,
	})
	d.hub = notify.NewHub(d.metrics)
	d.api = api.New(d.orch, auth.New(secrets, nil), d.hub, d.metrics)
	d.reaper = reaper.New(d.driver, d.store, d.hub, cfg.Reaper.Interval, d.metrics)

	reader, err := procfs.New(cfg.Sampler.ProcPath, cfg.Sampler.SysPath)
	if err != nil {
		slog.Warn("Host sampling disabled.", "err", err)
	} else {
		d.sampler = reaper.NewSampler(reader, d.store, cfg.Sampler.Interval, cfg.Sampler.MinGap, d.metrics)
	}

	if cfg.NTP.Server != "" {
		d.clock = clockcheck.New(cfg.NTP.Server, cfg.NTP.Interval, cfg.NTP.Threshold, d.metrics)
	}
	return d, nil
}

// NewDriver returns the Docker driver configured by cfg.
func NewDriver(cfg *config.Config) *docker.Driver {
	return docker.New(docker.Options{
		CallTimeout:  cfg.Docker.CallTimeout,
		BuildTimeout: cfg.Docker.BuildTimeout,
		BuildContext: cfg.Image.Context,
		Dockerfile:   cfg.Image.Dockerfile,
	})
}

func tracer(tp trace.TracerProvider) trace.Tracer {
	return tp.Tracer("recommerce/orchestrator")
}

// Run serves until ctx is cancelled, then releases every collaborator.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.api.Serve(ctx, d.cfg.Listen, api.TLS{CertFile: d.cfg.TLS.CertFile, KeyFile: d.cfg.TLS.KeyFile})
	})
	g.Go(func() error {
		d.awaitEngine(ctx)
		return nil
	})
	g.Go(func() error { return d.reaper.Run(ctx) })
	if d.sampler != nil {
		g.Go(func() error { return d.sampler.Run(ctx) })
	}
	if d.clock != nil {
		g.Go(func() error { return d.clock.Run(ctx) })
	}
	if d.cfg.MetricsListen != "" {
		g.Go(func() error { return serveMetrics(ctx, d.cfg.MetricsListen, d.metrics) })
	}
	go func() {
		<-ctx.Done()
		d.hub.Close()
	}()
	return g.Wait()
}

// awaitEngine waits for Docker and warms the image before telling systemd
// the daemon is ready. The API serves throughout; the driver reconnects on
// demand if the engine is still down.
func (d *Daemon) awaitEngine(ctx context.Context) {
	if err := d.driver.WaitReady(ctx, d.cfg.Docker.ReadyTimeout); err != nil {
		slog.Warn("Docker engine not ready, continuing.", "err", err)
	} else {
		slog.Info("Docker engine ready.")
		if _, err := d.orch.EnsureImage(ctx, false); err != nil {
			slog.Warn("Ensure image at boot failed.", "tag", d.cfg.Image.Tag, "err", err)
		}
		if err := d.orch.Ports().Refresh(ctx, func(ctx context.Context) ([]recommerce.Container, error) {
			return d.driver.ListManaged(ctx, recommerce.ListFilter{All: true})
		}); err != nil {
			slog.Warn("Initial port map refresh failed.", "err", err)
		}
	}
	if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		slog.Error("Failed to notify systemd that the daemon is ready.", "err", err)
	}
}

func (d *Daemon) close() {
	if err := d.store.Close(); err != nil {
		slog.Warn("Close catalogue failed.", "err", err)
	}
	if err := d.driver.Close(); err != nil {
		slog.Warn("Close docker client failed.", "err", err)
	}
	if err := d.shutdownTracing(context.Background()); err != nil {
		slog.Warn("Flush traces failed.", "err", err)
	}
}
