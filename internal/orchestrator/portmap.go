package orchestrator

import (
	"context"
	"maps"
	"sync"

	"recommerce"
	"recommerce/internal/check"
)

// PortMap tracks which host port each managed container's TensorBoard port is
// bound to. Allocation refreshes from the engine, picks the lowest free port
// and creates the container without releasing the lock, so concurrent
// admissions never pick the same port.
type PortMap struct {
	mu    sync.Mutex
	base  int
	ports map[string]int
}

func NewPortMap(base int) *PortMap {
	return &PortMap{base: base, ports: make(map[string]int)}
}

// Lister returns the managed containers, including stopped ones.
type Lister func(ctx context.Context) ([]recommerce.Container, error)

// Claim refreshes the map through list, then calls create with the lowest
// free port and records the created container under that port. If the
// refresh fails the current map is used as is.
func (m *PortMap) Claim(ctx context.Context, list Lister, create func(port int) (string, error)) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.refreshLocked(ctx, list)
	port := m.freeLocked()
	id, err := create(port)
	if err != nil {
		return "", port, err
	}
	check.Assertf(port >= m.base, "claimed port %d below base %d", port, m.base)
	m.ports[id] = port
	return id, port, nil
}

// Refresh rebuilds the map from the engine.
func (m *PortMap) Refresh(ctx context.Context, list Lister) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx, list)
}

// refreshLocked keeps live containers with their bound port. Containers that
// are created but not yet started have no binding reported, so they keep the
// port they were claimed with.
func (m *PortMap) refreshLocked(ctx context.Context, list Lister) error {
	containers, err := list(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]int, len(containers))
	for _, c := range containers {
		switch c.Status {
		case recommerce.StatusRunning, recommerce.StatusPaused, recommerce.StatusRestarting:
			if c.TensorBoardHostPort > 0 {
				next[c.ID] = c.TensorBoardHostPort
			} else if p, ok := m.ports[c.ID]; ok {
				next[c.ID] = p
			}
		case recommerce.StatusCreated:
			if p, ok := m.ports[c.ID]; ok {
				next[c.ID] = p
			}
		}
	}
	m.ports = next
	return nil
}

func (m *PortMap) freeLocked() int {
	used := make(map[int]struct{}, len(m.ports))
	for _, p := range m.ports {
		used[p] = struct{}{}
	}
	port := m.base
	for {
		if _, taken := used[port]; !taken {
			return port
		}
		port++
	}
}

func (m *PortMap) Lookup(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ports[id]
	return p, ok
}

func (m *PortMap) Set(id string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for other, p := range m.ports {
		check.Assertf(other == id || p != port, "port %d set for %s is held by %s", port, id, other)
	}
	m.ports[id] = port
}

func (m *PortMap) Delete(id string) {
	m.mu.Lock()
	delete(m.ports, id)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current mapping.
func (m *PortMap) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.ports)
}
