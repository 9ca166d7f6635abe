package fake

import (
	"sync"

	"recommerce"
)

// Publisher collects published exit events.
type Publisher struct {
	mu     sync.Mutex
	events []recommerce.ExitEvent
}

func (p *Publisher) Publish(ev recommerce.ExitEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *Publisher) Events() []recommerce.ExitEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recommerce.ExitEvent, len(p.events))
	copy(out, p.events)
	return out
}
