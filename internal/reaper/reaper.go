// Package reaper runs the two background loops: the Reaper, which records
// managed containers that exited on their own, and the Host Sampler, which
// appends periodic host resource readings to the catalogue.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"recommerce"
	"recommerce/internal/metrics"
)

// Engine is the part of the container engine the Reaper needs.
type Engine interface {
	ListManaged(ctx context.Context, f recommerce.ListFilter) ([]recommerce.Container, error)
	Inspect(ctx context.Context, id string) (recommerce.Container, error)
}

// ExitRecorder stores a natural exit. Writes to already-set columns are
// dropped by the store.
type ExitRecorder interface {
	RecordExit(ctx context.Context, id string, exitCode int) error
}

// Publisher fans an exit event out to subscribers.
type Publisher interface {
	Publish(ev recommerce.ExitEvent)
}

type Reaper struct {
	engine    Engine
	catalogue ExitRecorder
	publisher Publisher
	interval  time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger

	last string
}

func New(engine Engine, catalogue ExitRecorder, publisher Publisher, interval time.Duration, m *metrics.Metrics) *Reaper {
	return &Reaper{
		engine:    engine,
		catalogue: catalogue,
		publisher: publisher,
		interval:  interval,
		metrics:   m,
		log:       slog.With("component", "reaper"),
	}
}

// Run reaps every interval until ctx is done. Iteration failures are logged
// and retried at the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Reap(ctx); err != nil {
				r.log.Warn("reap failed", "err", err)
			}
		}
	}
}

type exit struct {
	id   string
	code int
}

// Reap records and publishes the exited set if it changed since the last
// call. An empty set is never published.
func (r *Reaper) Reap(ctx context.Context) error {
	list, err := r.engine.ListManaged(ctx, recommerce.ListFilter{Status: recommerce.StatusExited})
	if err != nil {
		return fmt.Errorf("list exited containers: %w", err)
	}

	exits := make([]exit, 0, len(list))
	for _, c := range list {
		full, err := r.engine.Inspect(ctx, c.ID)
		if err != nil {
			// Removed between list and inspect.
			r.log.Debug("inspect exited container failed", "container", c.ID, "err", err)
			continue
		}
		exits = append(exits, exit{id: c.ID, code: full.ExitCode})
	}
	if len(exits) == 0 {
		return nil
	}
	// The engine lists in no fixed order.
	slices.SortFunc(exits, func(a, b exit) int { return strings.Compare(a.id, b.id) })

	ev := digest(exits)
	if ev.ID+"\n"+ev.Status == r.last {
		return nil
	}
	r.last = ev.ID + "\n" + ev.Status

	for _, e := range exits {
		if err := r.catalogue.RecordExit(ctx, e.id, e.code); err != nil {
			r.log.Warn("record exit failed", "container", e.id, "err", err)
		}
	}
	r.publisher.Publish(ev)
	r.metrics.ExitsObserved(len(exits))
	r.log.Info("exited containers observed", "containers", ev.ID)
	return nil
}

// digest renders the exited set as the event pushed to subscribers.
func digest(exits []exit) recommerce.ExitEvent {
	ids := make([]string, len(exits))
	pairs := make([]string, len(exits))
	for i, e := range exits {
		ids[i] = e.id
		pairs[i] = fmt.Sprintf("('%s', %d)", e.id, e.code)
	}
	return recommerce.ExitEvent{ID: strings.Join(ids, ";"), Status: strings.Join(pairs, ";")}
}
