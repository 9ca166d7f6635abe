package fake

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"recommerce"
	"recommerce/internal/orchestrator"
)

var _ orchestrator.Engine = (*Engine)(nil)

type engineContainer struct {
	spec     recommerce.CreateSpec
	status   string
	exitCode int
	files    map[string][]byte
	stdout   string
	stderr   string
}

// Engine is an in-memory container engine. Containers move through the
// same states as on Docker, and archives round-trip through a per-container
// file map.
type Engine struct {
	CallRecorder
	mu          sync.Mutex
	seq         int
	unreachable bool
	gpu         bool
	images      map[string]string
	containers  map[string]*engineContainer

	// StopExitCode is the exit code a running container gets when stopped.
	StopExitCode int
	// StopLeavesRunning makes Stop return without stopping the container.
	StopLeavesRunning bool

	EnsureImageErr func(ctx context.Context, tag string, force bool) error
	ListErr        func(ctx context.Context, f recommerce.ListFilter) error
	InspectErr     func(ctx context.Context, id string) error
	CreateErr      func(ctx context.Context, spec recommerce.CreateSpec) error
	StartErr       func(ctx context.Context, id string) error
	StopErr        func(ctx context.Context, id string) error
	PauseErr       func(ctx context.Context, id string) error
	RemoveErr      func(ctx context.Context, id string) error
	ExecErr        func(ctx context.Context, id string, cmd []string) error
	PutArchiveErr  func(ctx context.Context, id, dest string) error
	LogsErr        func(ctx context.Context, id string) error
}

// NewEngine returns a reachable Engine with no images or containers.
func NewEngine() *Engine {
	return &Engine{
		images:       make(map[string]string),
		containers:   make(map[string]*engineContainer),
		StopExitCode: 137,
	}
}

func errUnavailable() error {
	return fmt.Errorf("fake engine: %w", recommerce.ErrUnavailable)
}

func errNotFound(id string) error {
	return fmt.Errorf("no such container %s: %w", id, recommerce.ErrNotFound)
}

// SetReachable toggles whether the engine answers.
func (e *Engine) SetReachable(ok bool) {
	e.mu.Lock()
	e.unreachable = !ok
	e.mu.Unlock()
}

func (e *Engine) SetGPU(ok bool) {
	e.mu.Lock()
	e.gpu = ok
	e.mu.Unlock()
}

// AddImage registers an existing image under tag.
func (e *Engine) AddImage(tag string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := fmt.Sprintf("sha256:img%d", e.seq)
	e.images[tag] = id
	return id
}

// HasImage reports whether tag exists.
func (e *Engine) HasImage(tag string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.images[tag]
	return ok
}

// AddForeign adds a running container without the managed label.
func (e *Engine) AddForeign(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.containers[id] = &engineContainer{
		spec:   recommerce.CreateSpec{Labels: map[string]string{"other": "x"}},
		status: recommerce.StatusRunning,
		files:  make(map[string][]byte),
	}
}

// Exit simulates the container's process exiting on its own.
func (e *Engine) Exit(id string, code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.containers[id]; ok {
		c.status = recommerce.StatusExited
		c.exitCode = code
	}
}

// SetLogs sets the output returned by Logs.
func (e *Engine) SetLogs(id, stdout, stderr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.containers[id]; ok {
		c.stdout, c.stderr = stdout, stderr
	}
}

// WriteFile places a file inside the container.
func (e *Engine) WriteFile(id, p string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.containers[id]; ok {
		c.files[path.Clean(p)] = data
	}
}

// File returns a file from inside the container.
func (e *Engine) File(id, p string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.containers[id]
	if !ok {
		return nil, false
	}
	data, ok := c.files[path.Clean(p)]
	return data, ok
}

// Status returns the container state, if the container exists.
func (e *Engine) Status(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.containers[id]
	if !ok {
		return "", false
	}
	return c.status, true
}

// Spec returns the spec a container was created from.
func (e *Engine) Spec(id string) (recommerce.CreateSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.containers[id]
	if !ok {
		return recommerce.CreateSpec{}, false
	}
	return c.spec, true
}

// IDs returns every container id, sorted.
func (e *Engine) IDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.containers))
	for id := range e.containers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Engine) EnsureImage(ctx context.Context, tag string, force bool) (string, error) {
	e.record("EnsureImage", tag, force)
	if e.EnsureImageErr != nil {
		if err := e.EnsureImageErr(ctx, tag, force); err != nil {
			return "", err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unreachable {
		return "", errUnavailable()
	}
	if id, ok := e.images[tag]; ok && !force {
		return id, nil
	}
	e.seq++
	id := fmt.Sprintf("sha256:img%d", e.seq)
	e.images[tag] = id
	return id, nil
}

func (e *Engine) GPUAvailable(context.Context) bool {
	e.record("GPUAvailable")
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gpu && !e.unreachable
}

func (e *Engine) ListManaged(ctx context.Context, f recommerce.ListFilter) ([]recommerce.Container, error) {
	e.record("ListManaged", f)
	if e.ListErr != nil {
		if err := e.ListErr(ctx, f); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unreachable {
		return nil, errUnavailable()
	}

	var out []recommerce.Container
	for id, c := range e.containers {
		if _, ok := c.spec.Labels[recommerce.ManagedLabel]; !ok {
			continue
		}
		switch {
		case f.Status != "":
			if c.status != f.Status {
				continue
			}
		case !f.All:
			if c.status != recommerce.StatusRunning {
				continue
			}
		}
		out = append(out, c.view(id))
	}
	slices.SortFunc(out, func(a, b recommerce.Container) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (c *engineContainer) view(id string) recommerce.Container {
	v := recommerce.Container{ID: id, Status: c.status, Labels: c.spec.Labels}
	if c.status == recommerce.StatusExited {
		v.ExitCode = c.exitCode
	}
	if c.status == recommerce.StatusRunning || c.status == recommerce.StatusPaused {
		v.TensorBoardHostPort = c.spec.HostPort
	}
	return v
}

func (e *Engine) Inspect(ctx context.Context, id string) (recommerce.Container, error) {
	e.record("Inspect", id)
	if e.InspectErr != nil {
		if err := e.InspectErr(ctx, id); err != nil {
			return recommerce.Container{}, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unreachable {
		return recommerce.Container{}, errUnavailable()
	}
	c, ok := e.containers[id]
	if !ok {
		return recommerce.Container{}, errNotFound(id)
	}
	return c.view(id), nil
}

func (e *Engine) Create(ctx context.Context, spec recommerce.CreateSpec) (string, error) {
	e.record("Create", spec)
	if e.CreateErr != nil {
		if err := e.CreateErr(ctx, spec); err != nil {
			return "", err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unreachable {
		return "", errUnavailable()
	}
	if _, ok := e.images[spec.Image]; !ok {
		return "", fmt.Errorf("no such image %s: %w", spec.Image, recommerce.ErrImageNotFound)
	}
	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[recommerce.ManagedLabel] = ""
	spec.Labels = labels

	e.seq++
	id := fmt.Sprintf("ctr%04d", e.seq)
	e.containers[id] = &engineContainer{
		spec:   spec,
		status: recommerce.StatusCreated,
		files:  make(map[string][]byte),
	}
	return id, nil
}

// transition applies fn to an existing container under the lock.
func (e *Engine) transition(id string, fn func(c *engineContainer) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unreachable {
		return errUnavailable()
	}
	c, ok := e.containers[id]
	if !ok {
		return errNotFound(id)
	}
	return fn(c)
}

func (e *Engine) Start(ctx context.Context, id string) error {
	e.record("Start", id)
	if e.StartErr != nil {
		if err := e.StartErr(ctx, id); err != nil {
			return err
		}
	}
	return e.transition(id, func(c *engineContainer) error {
		if c.status == recommerce.StatusPaused {
			return fmt.Errorf("container %s is paused: %w", id, recommerce.ErrTransient)
		}
		c.status = recommerce.StatusRunning
		return nil
	})
}

func (e *Engine) Stop(ctx context.Context, id string, grace time.Duration) error {
	e.record("Stop", id, grace)
	if e.StopErr != nil {
		if err := e.StopErr(ctx, id); err != nil {
			return err
		}
	}
	return e.transition(id, func(c *engineContainer) error {
		if e.StopLeavesRunning {
			return nil
		}
		if c.status == recommerce.StatusRunning || c.status == recommerce.StatusPaused {
			c.status = recommerce.StatusExited
			c.exitCode = e.StopExitCode
		}
		return nil
	})
}

func (e *Engine) Pause(ctx context.Context, id string) error {
	e.record("Pause", id)
	if e.PauseErr != nil {
		if err := e.PauseErr(ctx, id); err != nil {
			return err
		}
	}
	return e.transition(id, func(c *engineContainer) error {
		if c.status != recommerce.StatusRunning {
			return fmt.Errorf("container %s is %s: %w", id, c.status, recommerce.ErrTransient)
		}
		c.status = recommerce.StatusPaused
		return nil
	})
}

func (e *Engine) Unpause(ctx context.Context, id string) error {
	e.record("Unpause", id)
	return e.transition(id, func(c *engineContainer) error {
		if c.status != recommerce.StatusPaused {
			return fmt.Errorf("container %s is not paused: %w", id, recommerce.ErrTransient)
		}
		c.status = recommerce.StatusRunning
		return nil
	})
}

func (e *Engine) Remove(ctx context.Context, id string) error {
	e.record("Remove", id)
	if e.RemoveErr != nil {
		if err := e.RemoveErr(ctx, id); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unreachable {
		return errUnavailable()
	}
	c, ok := e.containers[id]
	if !ok {
		return errNotFound(id)
	}
	if c.status == recommerce.StatusRunning || c.status == recommerce.StatusPaused {
		return fmt.Errorf("cannot remove %s container %s: %w", c.status, id, recommerce.ErrTransient)
	}
	delete(e.containers, id)
	return nil
}

func (e *Engine) Exec(ctx context.Context, id string, cmd []string, detach bool) error {
	e.record("Exec", id, cmd, detach)
	if e.ExecErr != nil {
		if err := e.ExecErr(ctx, id, cmd); err != nil {
			return err
		}
	}
	return e.transition(id, func(c *engineContainer) error {
		if c.status != recommerce.StatusRunning {
			return fmt.Errorf("container %s is not running: %w", id, recommerce.ErrTransient)
		}
		return nil
	})
}

func (e *Engine) PutArchive(ctx context.Context, id, dest string, r io.Reader) error {
	e.record("PutArchive", id, dest)
	if e.PutArchiveErr != nil {
		if err := e.PutArchiveErr(ctx, id, dest); err != nil {
			return err
		}
	}
	files := make(map[string][]byte)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read archive entry %s: %w", hdr.Name, err)
		}
		files[path.Join(dest, hdr.Name)] = data
	}
	return e.transition(id, func(c *engineContainer) error {
		for p, data := range files {
			c.files[p] = data
		}
		return nil
	})
}

func (e *Engine) GetArchive(ctx context.Context, id, p string) (io.ReadCloser, recommerce.PathStat, error) {
	e.record("GetArchive", id, p)
	p = path.Clean(p)
	var buf bytes.Buffer
	var size int64
	err := e.transition(id, func(c *engineContainer) error {
		base := path.Base(p)
		var names []string
		entries := make(map[string][]byte)
		for fp, data := range c.files {
			switch {
			case fp == p:
				entries[base] = data
			case strings.HasPrefix(fp, p+"/"):
				entries[path.Join(base, strings.TrimPrefix(fp, p+"/"))] = data
			default:
				continue
			}
		}
		if len(entries) == 0 {
			return fmt.Errorf("path %s: %w", p, recommerce.ErrNotFound)
		}
		for name := range entries {
			names = append(names, name)
		}
		slices.Sort(names)

		tw := tar.NewWriter(&buf)
		for _, name := range names {
			data := entries[name]
			size += int64(len(data))
			if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
				return err
			}
			if _, err := tw.Write(data); err != nil {
				return err
			}
		}
		return tw.Close()
	})
	if err != nil {
		return nil, recommerce.PathStat{}, err
	}
	return io.NopCloser(&buf), recommerce.PathStat{Name: path.Base(p), Size: size}, nil
}

func (e *Engine) Logs(ctx context.Context, id string, opts recommerce.LogOptions) (io.ReadCloser, error) {
	e.record("Logs", id, opts)
	if e.LogsErr != nil {
		if err := e.LogsErr(ctx, id); err != nil {
			return nil, err
		}
	}
	var out string
	err := e.transition(id, func(c *engineContainer) error {
		if opts.Stdout {
			out += c.stdout
		}
		if opts.Stderr {
			out += c.stderr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lines := strings.SplitAfter(out, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if n, err := strconv.Atoi(opts.Tail); err == nil && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	if opts.Timestamps {
		for i, l := range lines {
			lines[i] = "2024-01-01T00:00:00.000000000Z " + l
		}
	}
	return io.NopCloser(strings.NewReader(strings.Join(lines, ""))), nil
}

func (e *Engine) Ping(context.Context) bool {
	e.record("Ping")
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unreachable
}
