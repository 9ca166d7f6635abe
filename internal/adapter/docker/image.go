package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"

	"recommerce"
)

// EnsureImage returns the id of the image tagged tag, building it from the
// configured context when it is missing or force is set. After a rebuild
// that produced a new id the previous image is removed.
func (d *Driver) EnsureImage(ctx context.Context, tag string, force bool) (string, error) {
	previous, err := d.imageID(ctx, tag)
	if err != nil && !errors.Is(err, recommerce.ErrImageNotFound) {
		return "", err
	}
	if previous != "" && !force {
		return previous, nil
	}

	d.log.Info("building image", "tag", tag, "context", d.opts.BuildContext, "dockerfile", d.opts.Dockerfile, "force", force)
	if err := d.build(ctx, tag); err != nil {
		return "", err
	}
	id, err := d.imageID(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("lookup built image: %w", err)
	}

	if previous != "" && previous != id {
		d.removeImage(ctx, previous)
	}
	d.logDangling(ctx)
	return id, nil
}

func (d *Driver) imageID(ctx context.Context, tag string) (string, error) {
	cli, err := d.client()
	if err != nil {
		return "", err
	}
	ctx, cancel := d.call(ctx)
	defer cancel()

	images, err := cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", tag)),
	})
	if err != nil {
		return "", d.classify(cli, "list images", err)
	}
	for _, img := range images {
		if hasTag(img.RepoTags, tag) {
			return img.ID, nil
		}
	}
	return "", fmt.Errorf("image %s: %w", tag, recommerce.ErrImageNotFound)
}

func hasTag(tags []string, want string) bool {
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func (d *Driver) build(ctx context.Context, tag string) error {
	cli, err := d.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.BuildTimeout)
	defer cancel()

	buildCtx, err := archive.TarWithOptions(d.opts.BuildContext, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar build context %s: %w: %w", d.opts.BuildContext, recommerce.ErrBuildFailed, err)
	}
	defer buildCtx.Close()

	resp, err := cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  d.opts.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		NetworkMode: "host",
	})
	if err != nil {
		if kindOf(err) == recommerce.ErrUnavailable {
			return d.classify(cli, "build image", err)
		}
		return fmt.Errorf("build image %s: %w: %w", tag, recommerce.ErrBuildFailed, err)
	}
	defer resp.Body.Close()

	return d.relayBuild(resp.Body)
}

// relayBuild logs build progress and reports an error message in the stream
// as ErrBuildFailed.
func (d *Driver) relayBuild(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read build output: %w: %w", recommerce.ErrBuildFailed, err)
		}
		if msg.Error != nil {
			return fmt.Errorf("build image: %w: %s", recommerce.ErrBuildFailed, msg.Error.Message)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			d.log.Info("build", "output", line)
		}
	}
}

func (d *Driver) removeImage(ctx context.Context, id string) {
	cli, err := d.client()
	if err != nil {
		return
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	if _, err := cli.ImageRemove(ctx, id, image.RemoveOptions{}); err != nil {
		d.log.Warn("remove previous image failed", "image", id, "err", d.classify(cli, "remove image", err))
		return
	}
	d.log.Info("removed previous image", "image", id)
}

func (d *Driver) logDangling(ctx context.Context) {
	cli, err := d.client()
	if err != nil {
		return
	}
	ctx, cancel := d.call(ctx)
	defer cancel()
	images, err := cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("dangling", "true")),
	})
	if err != nil {
		return
	}
	if len(images) > 0 {
		ids := make([]string, 0, len(images))
		for _, img := range images {
			ids = append(ids, img.ID)
		}
		d.log.Info("untagged images present", "count", len(ids), "ids", ids)
	}
}
