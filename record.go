package recommerce

import "time"

// ContainerRecord is the catalogue row kept for every container the
// orchestrator started. Rows are never deleted.
type ContainerRecord struct {
	ContainerID string
	Config      string
	StartedAt   time.Time
	StartedBy   Role
	GroupID     string
	GroupSize   int

	// Write-once columns. Empty until written.
	StoppedAt  string
	ForceStop  string
	ExitedAt   string
	ExitStatus string

	// Append-only columns holding ';'-joined access timestamps.
	Health      string
	Paused      string
	Resumed     string
	TensorBoard string
	Logs        string
	Data        string
}

// AccessKind names an append-only timestamp column.
type AccessKind string

const (
	AccessHealth      AccessKind = "health"
	AccessPaused      AccessKind = "paused"
	AccessResumed     AccessKind = "resumed"
	AccessTensorBoard AccessKind = "tensorboard"
	AccessLogs        AccessKind = "logs"
	AccessData        AccessKind = "data"
)

// TerminalField names a write-once column.
type TerminalField string

const (
	FieldStoppedAt  TerminalField = "stopped_at"
	FieldExitedAt   TerminalField = "exited_at"
	FieldExitStatus TerminalField = "exit_status"
	FieldForceStop  TerminalField = "force_stop"
)

// HostSample is one periodic reading of host resource usage.
type HostSample struct {
	SampledAt time.Time
	CPU       []float64 // per-CPU busy percentage
	RAM       MemorySummary
	IO        DiskCounters
}

// MemorySummary mirrors a virtual-memory summary, in bytes.
type MemorySummary struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Percent   float64 `json:"percent"`
	Used      uint64  `json:"used"`
	Free      uint64  `json:"free"`
	Buffers   uint64  `json:"buffers"`
	Cached    uint64  `json:"cached"`
}

// DiskCounters are cumulative block-device I/O counters summed over disks.
type DiskCounters struct {
	ReadCount  uint64 `json:"read_count"`
	WriteCount uint64 `json:"write_count"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
	ReadTime   uint64 `json:"read_time"`
	WriteTime  uint64 `json:"write_time"`
}

// Table selects which catalogue table a statistics dump covers.
type Table string

const (
	TableContainer Table = "container"
	TableSystem    Table = "system_information"
)
