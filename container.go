package recommerce

import "time"

// Container is the engine's view of a single container.
type Container struct {
	ID     string
	Status string
	Labels map[string]string
	// ExitCode is only meaningful when the container came from an inspect
	// and Status is exited.
	ExitCode int
	// TensorBoardHostPort is the host port bound to TensorBoardPort, or 0.
	TensorBoardHostPort int
}

// Managed reports whether the container carries the ManagedLabel.
func (c Container) Managed() bool {
	_, ok := c.Labels[ManagedLabel]
	return ok
}

// ListFilter narrows a managed-container listing. The ManagedLabel filter is
// always applied by the engine and cannot be turned off.
type ListFilter struct {
	// Status restricts the listing to one engine state. Empty means running
	// containers only, matching the engine's default listing.
	Status string
	// All includes stopped containers when Status is empty.
	All bool
}

// GPURequest asks the engine to expose GPUs to the container.
type GPURequest struct {
	Driver       string
	Count        int // -1 means all devices
	Capabilities []string
}

// DefaultGPURequest exposes every compute-capable NVIDIA device.
func DefaultGPURequest() *GPURequest {
	return &GPURequest{Driver: "nvidia", Count: -1, Capabilities: []string{"compute"}}
}

// CreateSpec describes a container to create.
type CreateSpec struct {
	Image      string
	Labels     map[string]string
	Entrypoint []string
	// HostPort is bound to TensorBoardPort/tcp.
	HostPort int
	GPU      *GPURequest
}

// LogOptions selects which part of a container's output to fetch.
type LogOptions struct {
	Stdout     bool
	Stderr     bool
	Follow     bool
	Timestamps bool
	Tail       string // "all" or a line count
}

// PathStat describes a path fetched from a container archive.
type PathStat struct {
	Name  string
	Size  int64
	Mtime time.Time
}
