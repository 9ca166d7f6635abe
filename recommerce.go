// Package recommerce holds the domain types shared by the experiment-container
// orchestrator: the response envelope, engine-facing container types and the
// catalogue record shapes.
package recommerce

import "io"

const (
	// ManagedLabel is attached to every container the orchestrator creates.
	// It is the only discriminator between our containers and foreign ones.
	ManagedLabel = "recommerce"

	// Product is the entrypoint binary baked into the experiment image.
	Product = "recommerce"

	// TensorBoardPort is the container-side port TensorBoard listens on. Host
	// ports for it are allocated from this value upwards.
	TensorBoardPort = 6006

	// ConfigDir is where admission uploads the configuration archive.
	ConfigDir = "/app"

	// ResultsDir is the conventional artifact directory inside a container.
	ResultsDir = "/app/results"
)

// Role is the caller identity derived from which shared secret matched.
type Role string

const (
	RoleDenied    Role = ""
	RoleWebserver Role = "webserver"
	RoleDeveloper Role = "developer"
)

// Allowed reports whether the role passed authentication.
func (r Role) Allowed() bool {
	return r == RoleWebserver || r == RoleDeveloper
}

// DockerInfo is the uniform response envelope of every orchestrator operation.
// Stream, when set, is owned by the receiver and must be closed.
type DockerInfo struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Data   any           `json:"data,omitempty"`
	Stream io.ReadCloser `json:"-"`
}

// ExitEvent is broadcast to notifier subscribers when the set of exited
// managed containers changes.
type ExitEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
