package docker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"recommerce"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", fmt.Errorf("no such container: %w", errdefs.ErrNotFound), recommerce.ErrNotFound},
		{"connection failed", client.ErrorConnectionFailed("unix:///var/run/docker.sock"), recommerce.ErrUnavailable},
		{"conflict", errdefs.ErrConflict, recommerce.ErrTransient},
		{"plain", errors.New("boom"), recommerce.ErrTransient},
		{"already classified", fmt.Errorf("x: %w", recommerce.ErrImageNotFound), recommerce.ErrImageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kindOf(tt.err); got != tt.want {
				t.Errorf("kindOf: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyWrapsKindAndCause(t *testing.T) {
	d := New(Options{})
	cause := fmt.Errorf("no such container: %w", errdefs.ErrNotFound)
	err := d.classify(nil, "inspect container abc", cause)

	if !errors.Is(err, recommerce.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected cause preserved, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "inspect container abc") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if d.classify(nil, "noop", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestClientFailureIsUnavailable(t *testing.T) {
	d := New(Options{})
	d.newClient = func() (*client.Client, error) { return nil, errors.New("bad DOCKER_HOST") }

	if _, err := d.Inspect(t.Context(), "abc"); !errors.Is(err, recommerce.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if d.Ping(t.Context()) {
		t.Fatal("Ping should fail without a client")
	}
}

func TestCreateConfig(t *testing.T) {
	cfg, host := createConfig(recommerce.CreateSpec{
		Image:      "recommerce",
		Labels:     map[string]string{"group": "g1"},
		Entrypoint: []string{"recommerce", "-c", "training"},
		HostPort:   6008,
		GPU:        recommerce.DefaultGPURequest(),
	})

	if _, ok := cfg.Labels[recommerce.ManagedLabel]; !ok {
		t.Error("managed label missing")
	}
	if cfg.Labels["group"] != "g1" {
		t.Errorf("group label: got %q", cfg.Labels["group"])
	}
	if _, ok := cfg.ExposedPorts[nat.Port("6006/tcp")]; !ok {
		t.Error("6006/tcp not exposed")
	}
	bindings := host.PortBindings[nat.Port("6006/tcp")]
	if len(bindings) != 1 || bindings[0].HostPort != "6008" {
		t.Errorf("port bindings: got %v", bindings)
	}
	reqs := host.Resources.DeviceRequests
	if len(reqs) != 1 || reqs[0].Driver != "nvidia" || reqs[0].Count != -1 {
		t.Errorf("device requests: got %+v", reqs)
	}
	if len(reqs[0].Capabilities) != 1 || reqs[0].Capabilities[0][0] != "compute" {
		t.Errorf("capabilities: got %v", reqs[0].Capabilities)
	}
}

func TestCreateConfigWithoutGPU(t *testing.T) {
	_, host := createConfig(recommerce.CreateSpec{Image: "recommerce", HostPort: 6006})
	if len(host.Resources.DeviceRequests) != 0 {
		t.Fatalf("unexpected device requests: %+v", host.Resources.DeviceRequests)
	}
}

func TestHostPortExtraction(t *testing.T) {
	ports := []container.Port{
		{PrivatePort: 22, PublicPort: 2222, Type: "tcp"},
		{PrivatePort: 6006, PublicPort: 6011, Type: "tcp"},
	}
	if got := summaryHostPort(ports); got != 6011 {
		t.Errorf("summaryHostPort: got %d, want 6011", got)
	}
	if got := summaryHostPort(nil); got != 0 {
		t.Errorf("summaryHostPort(nil): got %d, want 0", got)
	}

	pm := nat.PortMap{
		"6006/tcp": {{HostIP: "0.0.0.0", HostPort: "6012"}},
	}
	if got := bindingHostPort(pm); got != 6012 {
		t.Errorf("bindingHostPort: got %d, want 6012", got)
	}
	if got := bindingHostPort(nat.PortMap{"6006/tcp": {{HostPort: ""}}}); got != 0 {
		t.Errorf("bindingHostPort(empty): got %d, want 0", got)
	}
}

func TestHasTag(t *testing.T) {
	if !hasTag([]string{"recommerce:latest"}, "recommerce") {
		t.Error("bare tag should match :latest")
	}
	if hasTag([]string{"recommerce-old:latest"}, "recommerce") {
		t.Error("prefix must not match")
	}
	if !hasTag([]string{"x:1", "recommerce:v2"}, "recommerce:v2") {
		t.Error("explicit tag should match")
	}
}

func TestRelayBuild(t *testing.T) {
	d := New(Options{})

	ok := `{"stream":"Step 1/2 : FROM python\n"}
{"stream":"Successfully built abc\n"}
`
	if err := d.relayBuild(strings.NewReader(ok)); err != nil {
		t.Fatalf("relayBuild(ok): %v", err)
	}

	failed := `{"stream":"Step 1/2 : FROM python\n"}
{"errorDetail":{"message":"pip failed"},"error":"pip failed"}
`
	err := d.relayBuild(strings.NewReader(failed))
	if !errors.Is(err, recommerce.ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "pip failed") {
		t.Errorf("error should carry build message, got %q", err.Error())
	}
}
