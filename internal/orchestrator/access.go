package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"recommerce"
)

// DefaultDataPath is fetched by Data when no path is given.
const DefaultDataPath = recommerce.ResultsDir

const notRunningTensorBoard = "Container is not running. Download the data and start a tensorboard locally."

var tensorBoardCmd = []string{"tensorboard", "serve", "--host", "0.0.0.0", "--logdir", "./results/runs"}

// TensorBoard starts TensorBoard inside a running container and returns the
// host port it is reachable on.
func (o *Orchestrator) TensorBoard(ctx context.Context, id string) recommerce.DockerInfo {
	c, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	if c.Status != recommerce.StatusRunning {
		if c.Status == recommerce.StatusExited {
			return recommerce.DockerInfo{ID: id, Status: statusOf(c), Data: notRunningTensorBoard}
		}
		return recommerce.DockerInfo{ID: id, Status: notRunningTensorBoard}
	}
	if err := o.engine.Exec(ctx, id, tensorBoardCmd, true); err != nil {
		return recommerce.DockerInfo{ID: id, Status: apiError("starting tensorboard", err)}
	}
	o.note(o.catalogue.RecordAccess(ctx, id, recommerce.AccessTensorBoard), "record tensorboard access failed", "container", id)

	port, ok := o.ports.Lookup(id)
	if !ok && c.TensorBoardHostPort > 0 {
		port = c.TensorBoardHostPort
		o.ports.Set(id, port)
	}
	return recommerce.DockerInfo{ID: id, Status: statusOf(c), Data: strconv.Itoa(port)}
}

// LogsRequest selects the log output of a container.
type LogsRequest struct {
	Timestamps bool
	Stream     bool
	Tail       string
}

// Logs returns the container's output. Stderr is included only when the
// container exited with a non-zero code. With Stream set the output is
// returned as a live stream the caller must close; otherwise it is read
// fully into Data.
func (o *Orchestrator) Logs(ctx context.Context, id string, req LogsRequest) recommerce.DockerInfo {
	c, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	code, known := c.ExitCode, c.Status == recommerce.StatusExited
	if !known {
		recorded, ok, err := o.catalogue.ExitCode(ctx, id)
		o.note(err, "read exit status failed", "container", id)
		code, known = recorded, ok
	}

	tail := req.Tail
	if tail == "" {
		tail = "all"
	}
	rc, err := o.engine.Logs(ctx, id, recommerce.LogOptions{
		Stdout:     true,
		Stderr:     known && code != 0,
		Follow:     req.Stream,
		Timestamps: req.Timestamps,
		Tail:       tail,
	})
	if err != nil {
		return containerFailure(id, "fetching logs", err)
	}
	o.note(o.catalogue.RecordAccess(ctx, id, recommerce.AccessLogs), "record logs access failed", "container", id)

	if req.Stream {
		return recommerce.DockerInfo{ID: id, Status: statusOf(c), Stream: rc}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return recommerce.DockerInfo{ID: id, Status: apiError("reading logs", err)}
	}
	return recommerce.DockerInfo{ID: id, Status: statusOf(c), Data: string(data)}
}

// Data streams a tar archive of p from the container. Data carries the
// archive name; the caller must close Stream.
func (o *Orchestrator) Data(ctx context.Context, id, p string) recommerce.DockerInfo {
	if strings.TrimSpace(p) == "" {
		p = DefaultDataPath
	}
	c, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	rc, _, err := o.engine.GetArchive(ctx, id, p)
	if err != nil {
		if errors.Is(err, recommerce.ErrNotFound) {
			return recommerce.DockerInfo{ID: id, Status: "The requested path does not exist on the container: " + p}
		}
		return recommerce.DockerInfo{ID: id, Status: apiError("fetching data", err)}
	}
	o.note(o.catalogue.RecordAccess(ctx, id, recommerce.AccessData), "record data access failed", "container", id)

	return recommerce.DockerInfo{ID: id, Status: statusOf(c), Data: o.archiveName(p), Stream: rc}
}

func (o *Orchestrator) archiveName(p string) string {
	base := path.Base(path.Clean("/" + p))
	if base == "/" {
		base = "root"
	}
	return fmt.Sprintf("archive_%s_%s", base, o.clock.Now().UTC().Format("Jan02_15-04-05"))
}

// Stats dumps a catalogue table as ';'-separated CSV.
func (o *Orchestrator) Stats(ctx context.Context, system bool) recommerce.DockerInfo {
	table := recommerce.TableContainer
	if system {
		table = recommerce.TableSystem
	}
	csv, err := o.catalogue.Dump(ctx, table)
	if err != nil {
		o.log.Warn("dump catalogue failed", "table", table, "err", err)
		return recommerce.DockerInfo{ID: recommerce.StatsID, Status: "Statistics are unavailable.\n" + err.Error()}
	}
	return recommerce.DockerInfo{ID: recommerce.StatsID, Status: recommerce.StatusSuccess, Data: csv}
}
