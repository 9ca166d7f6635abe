package docker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	readyInitialInterval = 200 * time.Millisecond
	readyMaxInterval     = 5 * time.Second
)

// WaitReady blocks until the engine answers a ping or maxElapsed passes.
// The driver reconnects lazily, so callers may continue on error.
func (d *Driver) WaitReady(ctx context.Context, maxElapsed time.Duration) error {
	waiting := false
	check := func() error {
		if d.Ping(ctx) {
			if waiting {
				d.log.Info("docker engine reachable")
			}
			return nil
		}
		if !waiting {
			waiting = true
			d.log.Info("waiting for docker engine")
		}
		return errors.New("docker engine not reachable")
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(readyInitialInterval),
		backoff.WithMaxInterval(readyMaxInterval),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
	if err := backoff.Retry(check, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("wait ready: engine not responding after %s: %w", maxElapsed, err)
	}
	return nil
}
