// Package procfs reads host resource usage from /proc and /sys for the Host
// Sampler.
package procfs

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"

	"recommerce"
)

const sectorSize = 512

// Reader samples CPU, memory and disk counters. CPU percentages are computed
// against the previous Read, or against boot on the first one.
type Reader struct {
	proc  procfs.FS
	block blockdevice.FS

	mu   sync.Mutex
	prev map[int64]procfs.CPUStat
}

func New(procPath, sysPath string) (*Reader, error) {
	proc, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", procPath, err)
	}
	block, err := blockdevice.NewFS(procPath, sysPath)
	if err != nil {
		return nil, fmt.Errorf("open blockdevice fs: %w", err)
	}
	return &Reader{proc: proc, block: block}, nil
}

func (r *Reader) Read(context.Context) (recommerce.HostSample, error) {
	cpu, err := r.cpu()
	if err != nil {
		return recommerce.HostSample{}, err
	}
	ram, err := r.memory()
	if err != nil {
		return recommerce.HostSample{}, err
	}
	io, err := r.disks()
	if err != nil {
		return recommerce.HostSample{}, err
	}
	return recommerce.HostSample{CPU: cpu, RAM: ram, IO: io}, nil
}

func (r *Reader) cpu() ([]float64, error) {
	stat, err := r.proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("read cpu stat: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(stat.CPU))
	for id := range stat.CPU {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = busyPercent(r.prev[id], stat.CPU[id])
	}
	r.prev = stat.CPU
	return out, nil
}

// busyPercent is the share of non-idle time between two readings.
func busyPercent(prev, cur procfs.CPUStat) float64 {
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	total := cpuTotal(cur) - cpuTotal(prev)
	if total <= 0 {
		return 0
	}
	busy := (total - idle) / total * 100
	return max(0, min(100, busy))
}

// cpuTotal excludes guest time, which the kernel already counts in user.
func cpuTotal(s procfs.CPUStat) float64 {
	return s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
}

func (r *Reader) memory() (recommerce.MemorySummary, error) {
	mi, err := r.proc.Meminfo()
	if err != nil {
		return recommerce.MemorySummary{}, fmt.Errorf("read meminfo: %w", err)
	}
	kb := func(v *uint64) uint64 {
		if v == nil {
			return 0
		}
		return *v * 1024
	}

	m := recommerce.MemorySummary{
		Total:     kb(mi.MemTotal),
		Available: kb(mi.MemAvailable),
		Free:      kb(mi.MemFree),
		Buffers:   kb(mi.Buffers),
		Cached:    kb(mi.Cached),
	}
	if m.Available == 0 {
		m.Available = m.Free + m.Buffers + m.Cached
	}
	if used := m.Free + m.Buffers + m.Cached; m.Total > used {
		m.Used = m.Total - used
	}
	if m.Total > 0 && m.Total >= m.Available {
		m.Percent = float64(m.Total-m.Available) / float64(m.Total) * 100
	}
	return m, nil
}

func (r *Reader) disks() (recommerce.DiskCounters, error) {
	stats, err := r.block.ProcDiskstats()
	if err != nil {
		return recommerce.DiskCounters{}, fmt.Errorf("read diskstats: %w", err)
	}
	// Partitions repeat their disk's counters; only /sys/block entries are
	// whole devices.
	devices, err := r.block.SysBlockDevices()
	if err != nil {
		return recommerce.DiskCounters{}, fmt.Errorf("list block devices: %w", err)
	}
	var c recommerce.DiskCounters
	for _, d := range stats {
		if virtualDisk(d.DeviceName) || !slices.Contains(devices, d.DeviceName) {
			continue
		}
		c.ReadCount += d.ReadIOs
		c.WriteCount += d.WriteIOs
		c.ReadBytes += d.ReadSectors * sectorSize
		c.WriteBytes += d.WriteSectors * sectorSize
		c.ReadTime += d.ReadTicks
		c.WriteTime += d.WriteTicks
	}
	return c, nil
}

func virtualDisk(name string) bool {
	return strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram")
}
