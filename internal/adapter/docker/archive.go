package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"recommerce"
)

// PutArchive extracts the tar stream r into dest inside the container.
func (d *Driver) PutArchive(ctx context.Context, id, dest string, r io.Reader) error {
	cli, err := d.client()
	if err != nil {
		return err
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	err = cli.CopyToContainer(ctx, id, dest, r, container.CopyToContainerOptions{})
	return d.classify(cli, fmt.Sprintf("copy to %s:%s", id, dest), err)
}

// GetArchive returns a tar stream of path inside the container. The stream
// is bound to ctx and must be closed by the caller.
func (d *Driver) GetArchive(ctx context.Context, id, path string) (io.ReadCloser, recommerce.PathStat, error) {
	cli, err := d.client()
	if err != nil {
		return nil, recommerce.PathStat{}, err
	}
	rc, stat, err := cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, recommerce.PathStat{}, d.classify(cli, fmt.Sprintf("copy from %s:%s", id, path), err)
	}
	return rc, recommerce.PathStat{Name: stat.Name, Size: stat.Size, Mtime: stat.Mtime}, nil
}

// Logs returns the container output selected by opts with the engine's
// stream framing removed. The stream is bound to ctx and must be closed.
func (d *Driver) Logs(ctx context.Context, id string, opts recommerce.LogOptions) (io.ReadCloser, error) {
	cli, err := d.client()
	if err != nil {
		return nil, err
	}
	tail := opts.Tail
	if tail == "" {
		tail = "all"
	}
	rc, err := cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: opts.Stdout,
		ShowStderr: opts.Stderr,
		Timestamps: opts.Timestamps,
		Follow:     opts.Follow,
		Tail:       tail,
	})
	if err != nil {
		return nil, d.classify(cli, "logs of "+id, err)
	}
	return demux(rc), nil
}

// demux strips the multiplexed stream headers from rc. Back-pressure from
// the reader propagates to rc through the pipe.
func demux(rc io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		_ = rc.Close()
		pw.CloseWithError(err)
	}()
	return &demuxed{PipeReader: pr, src: rc}
}

type demuxed struct {
	*io.PipeReader
	src io.Closer
}

func (r *demuxed) Close() error {
	_ = r.src.Close()
	return r.PipeReader.Close()
}
