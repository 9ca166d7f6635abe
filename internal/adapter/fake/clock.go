package fake

import (
	"sync"
	"time"

	"recommerce/internal/orchestrator"
)

var _ orchestrator.Clock = (*Clock)(nil)

// Clock is a hand-driven time source. A non-zero Step moves it forward on
// every Now, so successive readings are strictly increasing.
type Clock struct {
	Step time.Duration

	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.Step)
	return c.now
}

// Advance moves the clock by d without a reading.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
