package procfs

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"
)

func TestReaderReadsFixture(t *testing.T) {
	r, err := New("testdata/proc", "testdata/sys")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, err := r.Read(t.Context())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	// The first reading is measured against boot.
	if len(s.CPU) != 2 || math.Abs(s.CPU[0]-50) > 1e-9 || math.Abs(s.CPU[1]-100.0/3) > 1e-9 {
		t.Fatalf("cpu: got %v, want [50 33.33]", s.CPU)
	}

	if s.RAM.Total != 1000*1024 || s.RAM.Available != 500*1024 {
		t.Fatalf("ram: got %+v", s.RAM)
	}
	if s.RAM.Used != 550*1024 {
		t.Fatalf("used: got %d, want %d", s.RAM.Used, 550*1024)
	}
	if s.RAM.Percent != 50 {
		t.Fatalf("percent: got %v, want 50", s.RAM.Percent)
	}

	want := struct{ reads, writes, readBytes, writeBytes uint64 }{15, 21, 12 * 512, 18 * 512}
	if s.IO.ReadCount != want.reads || s.IO.WriteCount != want.writes ||
		s.IO.ReadBytes != want.readBytes || s.IO.WriteBytes != want.writeBytes {
		t.Fatalf("io: got %+v", s.IO)
	}
	if s.IO.ReadTime != 33 || s.IO.WriteTime != 44 {
		t.Fatalf("io times: got %+v", s.IO)
	}
}

func TestBusyPercent(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur procfs.CPUStat
		want      float64
	}{
		{"idle", procfs.CPUStat{Idle: 10}, procfs.CPUStat{Idle: 20}, 0},
		{"busy", procfs.CPUStat{User: 10}, procfs.CPUStat{User: 20}, 100},
		{"half", procfs.CPUStat{}, procfs.CPUStat{System: 5, Idle: 5}, 50},
		{"iowait counts as idle", procfs.CPUStat{}, procfs.CPUStat{User: 1, Iowait: 3}, 25},
		{"no progress", procfs.CPUStat{User: 5}, procfs.CPUStat{User: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := busyPercent(tt.prev, tt.cur); got != tt.want {
				t.Fatalf("busyPercent: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisksCountWholeDevicesOnly(t *testing.T) {
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	sys := filepath.Join(root, "sys")
	for _, dev := range []string{"nvme0n1", "dm-0"} {
		if err := os.MkdirAll(filepath.Join(sys, "block", dev), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(proc, 0o755); err != nil {
		t.Fatal(err)
	}
	diskstats := "" +
		" 259       0 nvme0n1 10 0 8 1 20 0 16 2 0 3 3 0 0 0 0\n" +
		" 259       1 nvme0n1p1 6 0 4 1 12 0 8 1 0 2 2 0 0 0 0\n" +
		" 259       2 nvme0n1p2 4 0 4 0 8 0 8 1 0 1 1 0 0 0 0\n" +
		" 253       0 dm-0 3 0 2 1 5 0 4 1 0 2 2 0 0 0 0\n"
	if err := os.WriteFile(filepath.Join(proc, "diskstats"), []byte(diskstats), 0o644); err != nil {
		t.Fatal(err)
	}

	block, err := blockdevice.NewFS(proc, sys)
	if err != nil {
		t.Fatalf("blockdevice.NewFS: %v", err)
	}
	r := &Reader{block: block}
	c, err := r.disks()
	if err != nil {
		t.Fatalf("disks: %v", err)
	}
	if c.ReadCount != 13 || c.WriteCount != 25 {
		t.Fatalf("io: got reads=%d writes=%d, want 13/25", c.ReadCount, c.WriteCount)
	}
	if c.ReadBytes != 10*512 || c.WriteBytes != 20*512 {
		t.Fatalf("io bytes: got %+v", c)
	}
}

func TestDisksMissingSysBlock(t *testing.T) {
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	if err := os.MkdirAll(proc, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proc, "diskstats"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	block, err := blockdevice.NewFS(proc, root)
	if err != nil {
		t.Fatalf("blockdevice.NewFS: %v", err)
	}
	if _, err := (&Reader{block: block}).disks(); err == nil {
		t.Fatal("disks: want error without /sys/block")
	}
}
