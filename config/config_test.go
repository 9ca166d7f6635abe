package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8000" {
		t.Errorf("Listen: got %q, want %q", cfg.Listen, ":8000")
	}
	if cfg.Reaper.Interval != 5*time.Second {
		t.Errorf("Reaper.Interval: got %v, want 5s", cfg.Reaper.Interval)
	}
	if cfg.Sampler.MinGap != 5*time.Minute {
		t.Errorf("Sampler.MinGap: got %v, want 5m", cfg.Sampler.MinGap)
	}
	if cfg.Docker.StopTimeout != 10*time.Second {
		t.Errorf("Docker.StopTimeout: got %v, want 10s", cfg.Docker.StopTimeout)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recommerce.yaml")
	body := `
listen: 127.0.0.1:9000
tasks: [training]
gpu: never
reaper:
  interval: 2s
docker:
  build_timeout: 5m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("Listen: got %q", cfg.Listen)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0] != "training" {
		t.Errorf("Tasks: got %v", cfg.Tasks)
	}
	if cfg.GPU != GPUNever {
		t.Errorf("GPU: got %q, want %q", cfg.GPU, GPUNever)
	}
	if cfg.Reaper.Interval != 2*time.Second {
		t.Errorf("Reaper.Interval: got %v, want 2s", cfg.Reaper.Interval)
	}
	if cfg.Docker.BuildTimeout != 5*time.Minute {
		t.Errorf("Docker.BuildTimeout: got %v, want 5m", cfg.Docker.BuildTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Image.Tag != "recommerce" {
		t.Errorf("Image.Tag: got %q", cfg.Image.Tag)
	}
}

func TestSaveLoadKeepsDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "recommerce.yaml")
	cfg := Default()
	cfg.Sampler.MinGap = 90 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Sampler.MinGap != 90*time.Second {
		t.Errorf("Sampler.MinGap: got %v, want 90s", got.Sampler.MinGap)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty tag", func(c *Config) { c.Image.Tag = "" }},
		{"no tasks", func(c *Config) { c.Tasks = nil }},
		{"bad gpu", func(c *Config) { c.GPU = "sometimes" }},
		{"half tls", func(c *Config) { c.TLS.CertFile = "cert.pem" }},
		{"zero reaper", func(c *Config) { c.Reaper.Interval = 0 }},
		{"negative gap", func(c *Config) { c.Sampler.MinGap = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
