package orchestrator

import (
	"context"

	"recommerce"
)

// Health reports the container's current status and records the access.
func (o *Orchestrator) Health(ctx context.Context, id string) recommerce.DockerInfo {
	c, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	o.note(o.catalogue.RecordAccess(ctx, id, recommerce.AccessHealth), "record health access failed", "container", id)
	return recommerce.DockerInfo{ID: id, Status: statusOf(c)}
}

// Pause freezes a running container. Pausing a container that is not
// running is a no-op returning its current status.
func (o *Orchestrator) Pause(ctx context.Context, id string) recommerce.DockerInfo {
	return o.transition(ctx, id, transition{
		from:   recommerce.StatusRunning,
		action: "pausing container",
		kind:   recommerce.AccessPaused,
		apply:  o.engine.Pause,
	})
}

// Unpause resumes a paused container. Unpausing a container that is not
// paused is a no-op returning its current status.
func (o *Orchestrator) Unpause(ctx context.Context, id string) recommerce.DockerInfo {
	return o.transition(ctx, id, transition{
		from:   recommerce.StatusPaused,
		action: "unpausing container",
		kind:   recommerce.AccessResumed,
		apply:  o.engine.Unpause,
	})
}

type transition struct {
	from   string
	action string
	kind   recommerce.AccessKind
	apply  func(ctx context.Context, id string) error
}

func (o *Orchestrator) transition(ctx context.Context, id string, t transition) recommerce.DockerInfo {
	c, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	if c.Status != t.from {
		return recommerce.DockerInfo{ID: id, Status: statusOf(c)}
	}
	if err := t.apply(ctx, id); err != nil {
		return containerFailure(id, t.action, err)
	}
	o.note(o.catalogue.RecordAccess(ctx, id, t.kind), "record access failed", "container", id, "kind", t.kind)

	after, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	return recommerce.DockerInfo{ID: id, Status: statusOf(after)}
}

// Remove stops the container, removes it and records how it ended. A
// container that is still not exited after the stop grace is left in place.
func (o *Orchestrator) Remove(ctx context.Context, id string) recommerce.DockerInfo {
	before, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	if err := o.engine.Stop(ctx, id, o.stopTimeout); err != nil {
		return containerFailure(id, "stopping container", err)
	}
	after, fail := o.lookup(ctx, id)
	if fail != nil {
		return *fail
	}
	if after.Status != recommerce.StatusExited {
		return recommerce.DockerInfo{ID: id, Status: "Container not stopped successfully. Status: " + after.Status}
	}
	code := after.ExitCode

	if err := o.engine.Remove(ctx, id); err != nil {
		return containerFailure(id, "removing container", err)
	}
	o.ports.Delete(id)
	_ = o.ports.Refresh(ctx, o.listAll)

	forced := before.Status != recommerce.StatusExited
	o.note(o.catalogue.RecordStop(ctx, id, code, forced), "record stop failed", "container", id)
	o.log.Info("container removed", "container", id, "exit_code", code, "forced", forced)
	return recommerce.DockerInfo{ID: id, Status: recommerce.RemovedStatus(code)}
}
