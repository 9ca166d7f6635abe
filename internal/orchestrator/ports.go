package orchestrator

import (
	"context"
	"io"
	"time"

	"recommerce"
)

// Engine is the container engine the orchestrator drives. Errors wrap one of
// the recommerce engine error kinds.
type Engine interface {
	EnsureImage(ctx context.Context, tag string, force bool) (string, error)
	GPUAvailable(ctx context.Context) bool
	ListManaged(ctx context.Context, f recommerce.ListFilter) ([]recommerce.Container, error)
	Inspect(ctx context.Context, id string) (recommerce.Container, error)
	Create(ctx context.Context, spec recommerce.CreateSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Pause(ctx context.Context, id string) error
	Unpause(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, cmd []string, detach bool) error
	PutArchive(ctx context.Context, id, dest string, r io.Reader) error
	GetArchive(ctx context.Context, id, path string) (io.ReadCloser, recommerce.PathStat, error)
	Logs(ctx context.Context, id string, opts recommerce.LogOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) bool
}

// Catalogue is the best-effort audit store. The orchestrator logs and drops
// its errors.
type Catalogue interface {
	InsertGroup(ctx context.Context, records []recommerce.ContainerRecord) error
	RecordAccess(ctx context.Context, id string, kind recommerce.AccessKind) error
	RecordStop(ctx context.Context, id string, exitCode int, forced bool) error
	ExitCode(ctx context.Context, id string) (int, bool, error)
	Dump(ctx context.Context, table recommerce.Table) (string, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
