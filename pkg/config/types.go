package config

import (
	"time"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/lockfile"
)

// Config is the full configuration for one orchestrator run. Deployment
// units are flat scalar parameter sets; there is no templating language.
type Config struct {
	// Host is the reported target identity, normally filled from the CLI
	// positionals.
	Host HostConfig `yaml:"host" validate:"required"`

	// Deployments are the units to reconcile, in order.
	Deployments []DeploymentConfig `yaml:"deployments" validate:"dive"`

	// Reporting configures the remote collector sink.
	Reporting ReportingConfig `yaml:"reporting"`

	// Lock configures single-instance execution.
	Lock LockConfig `yaml:"lock"`

	// ExecutionLog is the path of the human-readable run log.
	ExecutionLog string `yaml:"execution_log"`

	// Journal configures the local run journal.
	Journal JournalConfig `yaml:"journal"`

	// PolicyDir is an optional directory of operator .rego policy files.
	PolicyDir string `yaml:"policy_dir"`

	// Logging configures the structured engineering log.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures OpenTelemetry span export. Disabled by default for
	// a one-shot CLI.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics configures the Prometheus registry and optional scrape
	// listener. Disabled by default for a one-shot CLI.
	Metrics MetricsConfig `yaml:"metrics"`

	// Quiet suppresses spinners and decorative terminal output.
	Quiet bool `yaml:"quiet"`
}

// HostConfig is the reported target identity.
type HostConfig struct {
	IP   string `yaml:"ip" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`

	// Type selects which deployment kinds to reconcile: all, container,
	// service, or helm.
	Type string `yaml:"type" validate:"oneof=all container service helm"`
}

// DeploymentConfig is one deployment unit as flat scalars. Exactly the
// fields matching Kind are consulted.
type DeploymentConfig struct {
	Kind     string `yaml:"kind" validate:"required,oneof=container service helm"`
	Name     string `yaml:"name" validate:"required"`

	// Container parameters.
	Image     string            `yaml:"image,omitempty"`
	Ports     []string          `yaml:"ports,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Volumes   []string          `yaml:"volumes,omitempty"`
	ExtraArgs []string          `yaml:"extra_args,omitempty"`

	// Service parameters.
	ExecPath    string   `yaml:"exec_path,omitempty"`
	User        string   `yaml:"user,omitempty"`
	WorkDir     string   `yaml:"work_dir,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	Description string   `yaml:"description,omitempty"`

	// Helm parameters.
	Chart      string `yaml:"chart,omitempty"`
	Namespace  string `yaml:"namespace,omitempty"`
	ValuesFile string `yaml:"values_file,omitempty"`
}

// ReportingConfig configures the collector sink.
type ReportingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,url"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LockConfig configures the single-instance lock.
type LockConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig configures the SQLite run journal.
type JournalConfig struct {
	Path string `yaml:"path"`

	// RetentionDays bounds journal history; older runs are pruned during
	// cleanup. Zero disables pruning.
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

// LoggingConfig configures the zerolog engineering log.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`
	Output string `yaml:"output"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig configures the Prometheus side.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the configuration defaults. CLI positionals fill in the
// host identity afterwards.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			Port: 8080,
			Type: "all",
		},
		Reporting: ReportingConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Lock: LockConfig{
			Path: lockfile.DefaultPath,
		},
		ExecutionLog: "/var/log/berth.log",
		Journal: JournalConfig{
			Path:          "/var/lib/berth/journal.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// Requests converts the configured deployment units into immutable engine
// requests, filtered by the host type selection.
func (c *Config) Requests() []*engine.DeploymentRequest {
	requests := make([]*engine.DeploymentRequest, 0, len(c.Deployments))
	for _, d := range c.Deployments {
		if c.Host.Type != "all" && c.Host.Type != d.Kind {
			continue
		}
		requests = append(requests, d.toRequest())
	}
	return requests
}

func (d *DeploymentConfig) toRequest() *engine.DeploymentRequest {
	req := &engine.DeploymentRequest{
		Kind:     engine.Kind(d.Kind),
		Identity: d.Name,
	}
	switch req.Kind {
	case engine.KindContainer:
		req.Container = &engine.ContainerSpec{
			Image:     d.Image,
			Ports:     d.Ports,
			Env:       d.Env,
			Volumes:   d.Volumes,
			ExtraArgs: d.ExtraArgs,
		}
	case engine.KindService:
		req.Service = &engine.ServiceSpec{
			ExecPath:    d.ExecPath,
			User:        d.User,
			WorkDir:     d.WorkDir,
			Args:        d.Args,
			Description: d.Description,
		}
	case engine.KindHelmRelease:
		req.Helm = &engine.HelmSpec{
			Chart:      d.Chart,
			Namespace:  d.Namespace,
			ValuesFile: d.ValuesFile,
			ExtraArgs:  d.ExtraArgs,
		}
	}
	return req
}
