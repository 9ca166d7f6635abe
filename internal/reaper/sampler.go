package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"recommerce"
	"recommerce/internal/metrics"
)

// HostReader reads the host's current resource usage. SampledAt is set by
// the Sampler.
type HostReader interface {
	Read(ctx context.Context) (recommerce.HostSample, error)
}

type SampleAppender interface {
	AppendHostSample(ctx context.Context, s recommerce.HostSample) error
}

// Sampler appends a host sample at most once per minGap, checking every tick.
type Sampler struct {
	reader   HostReader
	store    SampleAppender
	tick     time.Duration
	minGap   time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *slog.Logger
	lastTime time.Time
}

func NewSampler(reader HostReader, store SampleAppender, tick, minGap time.Duration, m *metrics.Metrics) *Sampler {
	return &Sampler{
		reader:  reader,
		store:   store,
		tick:    tick,
		minGap:  minGap,
		now:     time.Now,
		metrics: m,
		log:     slog.With("component", "sampler"),
	}
}

// Run samples until ctx is done. The first sample is taken one minGap after
// start.
func (s *Sampler) Run(ctx context.Context) error {
	s.lastTime = s.now()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.MaybeSample(ctx); err != nil {
				s.log.Warn("host sample failed", "err", err)
			}
		}
	}
}

// MaybeSample appends a sample if minGap has passed since the last one. The
// bool reports whether a sample was written.
func (s *Sampler) MaybeSample(ctx context.Context) (bool, error) {
	now := s.now()
	if now.Sub(s.lastTime) < s.minGap {
		return false, nil
	}
	s.lastTime = now

	sample, err := s.reader.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("read host usage: %w", err)
	}
	sample.SampledAt = now
	if err := s.store.AppendHostSample(ctx, sample); err != nil {
		return false, fmt.Errorf("append host sample: %w", err)
	}
	s.metrics.HostSample()
	return true, nil
}
