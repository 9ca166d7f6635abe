// Package clockcheck compares the host clock against NTP. Auth tokens rotate
// on the hour, so a skewed host clock rejects valid tokens early or late.
package clockcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"recommerce/internal/metrics"
)

type Status struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

type Checker struct {
	mu        sync.RWMutex
	status    Status
	server    string
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	query     func(server string) (time.Duration, error)
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func New(server string, interval, threshold time.Duration, m *metrics.Metrics) *Checker {
	return &Checker{
		server:    server,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		query:     queryOffset,
		metrics:   m,
		log:       slog.With("component", "clockcheck"),
	}
}

func queryOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Run checks immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Checker) check() {
	offset, err := c.query(c.server)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if err != nil {
		c.status = Status{Error: err.Error(), CheckedAt: now}
		c.log.Debug("ntp query failed", "server", c.server, "err", err)
		return
	}

	abs := offset
	if abs < 0 {
		abs = -abs
	}
	c.status = Status{Offset: offset, Healthy: abs < c.threshold, CheckedAt: now}
	c.metrics.SetClockOffset(offset.Seconds())
	if !c.status.Healthy {
		c.log.Warn("host clock skewed, token rotation will drift", "offset", offset, "threshold", c.threshold)
	}
}

func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
