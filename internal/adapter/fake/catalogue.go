package fake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"recommerce"
	"recommerce/internal/orchestrator"
)

var _ orchestrator.Catalogue = (*Catalogue)(nil)

// Catalogue is an in-memory catalogue. Setting Err makes every call fail,
// which models an unavailable store.
type Catalogue struct {
	CallRecorder
	mu      sync.Mutex
	records map[string]*recommerce.ContainerRecord
	samples []recommerce.HostSample
	access  map[string]map[recommerce.AccessKind]int

	Err error
}

func NewCatalogue() *Catalogue {
	return &Catalogue{
		records: make(map[string]*recommerce.ContainerRecord),
		access:  make(map[string]map[recommerce.AccessKind]int),
	}
}

func (c *Catalogue) InsertGroup(_ context.Context, records []recommerce.ContainerRecord) error {
	c.record("InsertGroup", len(records))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	for _, r := range records {
		r.GroupSize = len(records)
		c.records[r.ContainerID] = &r
	}
	return nil
}

func (c *Catalogue) RecordAccess(_ context.Context, id string, kind recommerce.AccessKind) error {
	c.record("RecordAccess", id, kind)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if c.access[id] == nil {
		c.access[id] = make(map[recommerce.AccessKind]int)
	}
	c.access[id][kind]++
	return nil
}

func (c *Catalogue) RecordStop(_ context.Context, id string, exitCode int, forced bool) error {
	c.record("RecordStop", id, exitCode, forced)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	r, ok := c.records[id]
	if !ok {
		return nil
	}
	setOnce(&r.StoppedAt, "stopped")
	setOnce(&r.ExitStatus, strconv.Itoa(exitCode))
	setOnce(&r.ForceStop, strconv.FormatBool(forced))
	return nil
}

func (c *Catalogue) RecordExit(_ context.Context, id string, exitCode int) error {
	c.record("RecordExit", id, exitCode)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	r, ok := c.records[id]
	if !ok {
		return nil
	}
	setOnce(&r.ExitedAt, "exited")
	setOnce(&r.ExitStatus, strconv.Itoa(exitCode))
	setOnce(&r.ForceStop, "false")
	return nil
}

func setOnce(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func (c *Catalogue) ExitCode(_ context.Context, id string) (int, bool, error) {
	c.record("ExitCode", id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, false, c.Err
	}
	r, ok := c.records[id]
	if !ok || r.ExitStatus == "" {
		return 0, false, nil
	}
	code, err := strconv.Atoi(r.ExitStatus)
	if err != nil {
		return 0, false, err
	}
	return code, true, nil
}

func (c *Catalogue) AppendHostSample(_ context.Context, s recommerce.HostSample) error {
	c.record("AppendHostSample")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.samples = append(c.samples, s)
	return nil
}

// Dump renders container ids or sample times, one per line, after a header.
func (c *Catalogue) Dump(_ context.Context, table recommerce.Table) (string, error) {
	c.record("Dump", table)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	var b strings.Builder
	switch table {
	case recommerce.TableContainer:
		b.WriteString("container_id\n")
		for id := range c.records {
			b.WriteString(id + "\n")
		}
	case recommerce.TableSystem:
		b.WriteString("sampled_at\n")
		for _, s := range c.samples {
			b.WriteString(s.SampledAt.String() + "\n")
		}
	default:
		return "", fmt.Errorf("unknown table %q", table)
	}
	return b.String(), nil
}

// Record returns a copy of the stored record for id.
func (c *Catalogue) Record(id string) (recommerce.ContainerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[id]
	if !ok {
		return recommerce.ContainerRecord{}, false
	}
	return *r, true
}

// Accesses returns how many times kind was recorded for id.
func (c *Catalogue) Accesses(id string, kind recommerce.AccessKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access[id][kind]
}

// Samples returns the host samples appended so far.
func (c *Catalogue) Samples() []recommerce.HostSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recommerce.HostSample, len(c.samples))
	copy(out, c.samples)
	return out
}
