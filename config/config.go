// Package config holds the orchestrator daemon configuration.
//
// The configuration is an optional YAML file; every field has a default, so a
// missing file yields a usable Config. Durations accept Go duration strings
// such as "5s" or "30m".
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GPU policies for container creation.
const (
	GPUAuto   = "auto"
	GPUAlways = "always"
	GPUNever  = "never"
)

// Config is the full daemon configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen,omitempty"`
	TLS           TLS    `yaml:"tls,omitempty"`

	Database    string `yaml:"database"`
	SecretsFile string `yaml:"secrets_file"`

	Image   Image    `yaml:"image"`
	Tasks   []string `yaml:"tasks"`
	GPU     string   `yaml:"gpu"`
	Docker  Docker   `yaml:"docker"`
	Reaper  Reaper   `yaml:"reaper"`
	Sampler Sampler  `yaml:"sampler"`
	NTP     NTP      `yaml:"ntp"`
	Tracing Tracing  `yaml:"tracing,omitempty"`
	Log     Log      `yaml:"log"`
}

// TLS enables HTTPS when both files are set.
type TLS struct {
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// Enabled reports whether certificates are configured.
func (t TLS) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// Image describes the experiment image and how to build it.
type Image struct {
	Tag        string `yaml:"tag"`
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

// Docker bounds engine calls.
type Docker struct {
	CallTimeout  time.Duration `yaml:"call_timeout"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

type Reaper struct {
	Interval time.Duration `yaml:"interval"`
}

type Sampler struct {
	Interval time.Duration `yaml:"interval"`
	MinGap   time.Duration `yaml:"min_gap"`
	ProcPath string        `yaml:"proc_path"`
	SysPath  string        `yaml:"sys_path"`
}

// NTP configures the clock offset check. An empty Server disables it.
type NTP struct {
	Server    string        `yaml:"server"`
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
}

// Tracing exports admission spans over OTLP/HTTP when an endpoint is set.
type Tracing struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:      ":8000",
		Database:    "./sqlite.db",
		SecretsFile: "./.env.txt",
		Image: Image{
			Tag:        "recommerce",
			Context:    ".",
			Dockerfile: "Dockerfile",
		},
		Tasks: []string{"training", "exampleprinter", "agent_monitoring"},
		GPU:   GPUAuto,
		Docker: Docker{
			CallTimeout:  60 * time.Second,
			BuildTimeout: 30 * time.Minute,
			StopTimeout:  10 * time.Second,
			ReadyTimeout: 30 * time.Second,
		},
		Reaper: Reaper{Interval: 5 * time.Second},
		Sampler: Sampler{
			Interval: 5 * time.Second,
			MinGap:   5 * time.Minute,
			ProcPath: "/proc",
			SysPath:  "/sys",
		},
		NTP: NTP{
			Server:    "pool.ntp.org",
			Interval:  time.Hour,
			Threshold: time.Minute,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path on top of Default. If the file does not
// exist the defaults are returned (not an error).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Image.Tag == "" {
		return errors.New("image tag is required")
	}
	if len(c.Tasks) == 0 {
		return errors.New("at least one task is required")
	}
	switch c.GPU {
	case GPUAuto, GPUAlways, GPUNever:
	default:
		return fmt.Errorf("invalid gpu policy %q", c.GPU)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls requires both cert_file and key_file")
	}
	for name, d := range map[string]time.Duration{
		"docker.call_timeout":  c.Docker.CallTimeout,
		"docker.build_timeout": c.Docker.BuildTimeout,
		"docker.stop_timeout":  c.Docker.StopTimeout,
		"reaper.interval":      c.Reaper.Interval,
		"sampler.interval":     c.Sampler.Interval,
		"sampler.min_gap":      c.Sampler.MinGap,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.NTP.Server != "" && c.NTP.Interval <= 0 {
		return errors.New("ntp.interval must be positive")
	}
	return nil
}
