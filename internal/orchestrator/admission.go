package orchestrator

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"recommerce"
	"recommerce/internal/metrics"
	"recommerce/internal/telemetry"
)

// Configuration archive layout written into every replica before start.
const (
	configFilesDir         = "configuration_files"
	hyperparameterFileName = "hyperparameter_config.json"
)

// AdmissionError is returned when an admission starts nothing, or stops at a
// failing replica. Info is the single DockerInfo to report; Err is one of the
// request error kinds.
type AdmissionError struct {
	Info recommerce.DockerInfo
	Err  error
	// Started holds replicas that were started before the failure. They stay
	// live and are recorded in the catalogue.
	Started []recommerce.DockerInfo
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission failed: %s", e.Info.Status)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

func rejected(status string, kind error) *AdmissionError {
	return &AdmissionError{
		Info: recommerce.DockerInfo{ID: recommerce.NoContainerStarted, Status: status},
		Err:  kind,
	}
}

// job is a validated admission request.
type job struct {
	raw            []byte
	task           string
	hyperparameter json.RawMessage
	environment    json.RawMessage
}

func (o *Orchestrator) parseJob(config []byte) (job, *AdmissionError) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(config, &sections); err != nil {
		return job{}, rejected("The config is not a valid JSON object", recommerce.ErrBadRequest)
	}
	hp, ok := sections["hyperparameter"]
	if !ok || isNull(hp) {
		return job{}, rejected(`The config is missing the "hyperparameter"-field`, recommerce.ErrBadRequest)
	}
	env, ok := sections["environment"]
	if !ok || isNull(env) {
		return job{}, rejected(`The config is missing the "environment"-field`, recommerce.ErrBadRequest)
	}
	var envFields map[string]json.RawMessage
	if err := json.Unmarshal(env, &envFields); err != nil {
		return job{}, rejected(`The "environment"-field must be an object`, recommerce.ErrBadRequest)
	}
	rawTask, ok := envFields["task"]
	if !ok || isNull(rawTask) {
		return job{}, rejected(`The environment config is missing the "task"-field`, recommerce.ErrBadRequest)
	}
	var task string
	if err := json.Unmarshal(rawTask, &task); err != nil {
		return job{}, rejected(`The "task"-field must be a string`, recommerce.ErrBadRequest)
	}
	if _, ok := o.tasks[task]; !ok {
		return job{}, rejected("Command not allowed: "+task, recommerce.ErrBadRequest)
	}
	return job{raw: config, task: task, hyperparameter: hp, environment: env}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// configArchive builds the tar uploaded into the container's config directory.
func configArchive(j job) (*bytes.Buffer, error) {
	files := []struct {
		name string
		data []byte
	}{
		{configFilesDir + "/" + hyperparameterFileName, j.hyperparameter},
		{configFilesDir + "/environment_config_" + j.task + ".json", j.environment},
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     configFilesDir + "/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
		ModTime:  time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("write config dir header: %w", err)
	}
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name:     f.name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(f.data)),
			ModTime:  time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("write %s header: %w", f.name, err)
		}
		if _, err := tw.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close config archive: %w", err)
	}
	return &buf, nil
}

// Start admits config as count replicas started by role. On success it
// returns one DockerInfo per replica. Otherwise the error is an
// *AdmissionError; replicas started before a failing one are left running
// and recorded.
func (o *Orchestrator) Start(ctx context.Context, config []byte, count int, role recommerce.Role) ([]recommerce.DockerInfo, error) {
	if count < 1 {
		o.metrics.Admission(metrics.ResultRejected, 0)
		return nil, rejected("The number of experiments must be at least 1", recommerce.ErrBadRequest)
	}
	j, rej := o.parseJob(config)
	if rej != nil {
		o.metrics.Admission(metrics.ResultRejected, 0)
		return nil, rej
	}

	plan := telemetry.Plan{Steps: []telemetry.Step{{ID: "ensure_image", Title: "ensuring image " + o.imageTag}}}
	for i := range count {
		plan.Steps = append(plan.Steps, telemetry.Step{ID: replicaStep(i), Title: fmt.Sprintf("starting replica %d", i)})
	}
	op, err := telemetry.Start(ctx, o.tracer, "admission", plan,
		attribute.String("task", j.task),
		attribute.Int("count", count),
		attribute.String("role", string(role)),
	)
	if err != nil {
		return nil, rejected(err.Error(), recommerce.ErrInternal)
	}

	infos, admErr := o.admit(op, j, count, role)
	if admErr != nil {
		op.End(admErr)
		o.metrics.Admission(metrics.ResultFailed, len(admErr.Started))
		return nil, admErr
	}
	op.End(nil)
	o.metrics.Admission(metrics.ResultStarted, len(infos))
	return infos, nil
}

func replicaStep(i int) string { return "replica_" + strconv.Itoa(i) }

func (o *Orchestrator) admit(op *telemetry.Operation, j job, count int, role recommerce.Role) ([]recommerce.DockerInfo, *AdmissionError) {
	ctx := op.Context()

	err := op.Step(ctx, "ensure_image", func(ctx context.Context) error {
		_, err := o.engine.EnsureImage(ctx, o.imageTag, false)
		return err
	})
	if err != nil {
		o.log.Error("ensure image failed", "tag", o.imageTag, "err", err)
		kind := recommerce.ErrImageUnavailable
		if errors.Is(err, recommerce.ErrUnavailable) {
			kind = recommerce.ErrUnavailable
		}
		return nil, rejected(recommerce.StatusImageFailed, kind)
	}

	groupStart := o.clock.Now()
	groupID := uuid.NewString()
	gpu := o.wantGPU(ctx)
	archive, err := configArchive(j)
	if err != nil {
		return nil, rejected(err.Error(), recommerce.ErrInternal)
	}

	var (
		started []recommerce.DockerInfo
		records []recommerce.ContainerRecord
		failure *AdmissionError
	)
	for i := range count {
		var info recommerce.DockerInfo
		stepErr := op.Step(ctx, replicaStep(i), func(ctx context.Context) error {
			var fail *AdmissionError
			info, fail = o.startReplica(ctx, j, groupID, gpu, bytes.NewReader(archive.Bytes()))
			if fail != nil {
				return fail
			}
			return nil
		})
		if stepErr != nil {
			if !errors.As(stepErr, &failure) {
				failure = replicaFailure(recommerce.NoContainerStarted, stepErr.Error(), stepErr)
			}
			break
		}
		started = append(started, info)
		records = append(records, recommerce.ContainerRecord{
			ContainerID: info.ID,
			Config:      string(j.raw),
			StartedAt:   groupStart,
			StartedBy:   role,
			GroupID:     groupID,
		})
	}

	if len(records) > 0 {
		o.note(o.catalogue.InsertGroup(ctx, records), "record group failed", "group", groupID, "containers", len(records))
	}
	o.log.Info("admission", "group", groupID, "task", j.task, "requested", count, "started", len(started), "role", role)

	if failure != nil {
		failure.Started = started
		return nil, failure
	}
	return started, nil
}

// startReplica creates, configures and starts one container. A container
// that fails after creation is removed again.
func (o *Orchestrator) startReplica(ctx context.Context, j job, groupID string, gpu bool, archive *bytes.Reader) (recommerce.DockerInfo, *AdmissionError) {
	spec := recommerce.CreateSpec{
		Image:      o.imageTag,
		Labels:     map[string]string{"group": groupID},
		Entrypoint: []string{recommerce.Product, "-c", j.task},
	}
	if gpu {
		spec.GPU = recommerce.DefaultGPURequest()
	}

	id, port, err := o.ports.Claim(ctx, o.listAll, func(port int) (string, error) {
		spec.HostPort = port
		return o.engine.Create(ctx, spec)
	})
	if err != nil {
		status := apiError("creating container", err)
		kind := recommerce.ErrInternal
		switch {
		case errors.Is(err, recommerce.ErrImageNotFound):
			status = fmt.Sprintf("Image not found.\n%v", err)
			kind = recommerce.ErrImageUnavailable
		case errors.Is(err, recommerce.ErrUnavailable):
			kind = recommerce.ErrUnavailable
		}
		return recommerce.DockerInfo{}, &AdmissionError{
			Info: recommerce.DockerInfo{ID: recommerce.NoContainerStarted, Status: status},
			Err:  kind,
		}
	}

	if err := o.engine.PutArchive(ctx, id, recommerce.ConfigDir, archive); err != nil {
		o.discard(ctx, id)
		return recommerce.DockerInfo{}, replicaFailure(id, apiError("uploading the configuration", err), err)
	}
	if err := o.engine.Start(ctx, id); err != nil {
		o.discard(ctx, id)
		return recommerce.DockerInfo{}, replicaFailure(id, apiError("starting container", err), err)
	}

	status := recommerce.StatusRunning
	if c, err := o.engine.Inspect(ctx, id); err == nil {
		status = statusOf(c)
	}
	return recommerce.DockerInfo{ID: id, Status: status, Data: strconv.Itoa(port)}, nil
}

func replicaFailure(id, status string, err error) *AdmissionError {
	kind := recommerce.ErrInternal
	if errors.Is(err, recommerce.ErrUnavailable) {
		kind = recommerce.ErrUnavailable
	}
	return &AdmissionError{Info: recommerce.DockerInfo{ID: id, Status: status}, Err: kind}
}

// discard removes a replica that never started.
func (o *Orchestrator) discard(ctx context.Context, id string) {
	o.ports.Delete(id)
	if err := o.engine.Remove(ctx, id); err != nil {
		o.log.Warn("remove failed replica", "container", id, "err", err)
	}
}
