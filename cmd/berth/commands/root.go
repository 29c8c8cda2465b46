package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openberth/berth/pkg/config"
	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/execlog"
	"github.com/openberth/berth/pkg/facts"
	"github.com/openberth/berth/pkg/lockfile"
	"github.com/openberth/berth/pkg/pipeline"
	"github.com/openberth/berth/pkg/policy"
	"github.com/openberth/berth/pkg/probe"
	"github.com/openberth/berth/pkg/report"
	"github.com/openberth/berth/pkg/runner"
	"github.com/openberth/berth/pkg/stores"
	"github.com/openberth/berth/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	quiet      bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "berth <host_ip> [host_port] [host_type]",
		Short: "Berth - single-host deployment orchestrator",
		Long: `Berth reconciles declared deployment units against a single host's
container engine, service manager, and helm installation.

Each run detects and removes any prior instance of a unit, applies the
declared one, and verifies it is actually running before reporting
success. Units are containers, system services, or helm releases; the
host type selects which kinds a run reconciles.`,
		Example: `  # Deploy everything declared for this host
  berth 192.0.2.10

  # Report port 9090 and reconcile only service units
  berth 192.0.2.10 9090 service

  # Use an explicit config file
  berth 192.0.2.10 --config /etc/berth/berth.yaml`,
		Args:    cobra.RangeArgs(1, 3),
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), args, version)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress spinners and decorative output")

	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// loadConfig loads the config file and overlays the CLI positionals.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Host.IP = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid host port %q: %w", args[1], err)
		}
		cfg.Host.Port = port
	}
	if len(args) > 2 {
		cfg.Host.Type = args[2]
	}
	if quiet {
		cfg.Quiet = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Logging.Level = cfg.Logging.Level
	tcfg.Logging.Format = cfg.Logging.Format
	tcfg.Logging.Output = cfg.Logging.Output
	tcfg.Tracing.Enabled = cfg.Tracing.Enabled
	if cfg.Tracing.Exporter != "" {
		tcfg.Tracing.Exporter = cfg.Tracing.Exporter
	}
	tcfg.Tracing.Endpoint = cfg.Tracing.Endpoint
	tcfg.Tracing.SamplingRate = cfg.Tracing.SamplingRate
	tcfg.Metrics.Enabled = cfg.Metrics.Enabled
	tcfg.Metrics.ListenAddress = cfg.Metrics.ListenAddress
	return telemetry.NewTelemetry(tcfg)
}

func runDeploy(ctx context.Context, args []string, version string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	tel, err := buildTelemetry(cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()
	logger := tel.Logger.Zerolog()

	// The single-instance lock is taken before anything touches a backing
	// runtime. A held lock means another run is in flight on this host.
	lock, err := lockfile.Acquire(cfg.Lock.Path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	if err := tel.StartMetricsServer(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start metrics listener")
	}

	sink, err := execlog.New(cfg.ExecutionLog, os.Stdout)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.ExecutionLog).
			Msg("Execution log unavailable, console only")
		sink, err = execlog.New("", os.Stdout)
		if err != nil {
			return err
		}
	}

	var store stores.Store
	if cfg.Journal.Path != "" {
		s, err := stores.NewSQLiteStore(cfg.Journal.Path)
		if err != nil {
			return err
		}
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() { _ = s.Close() }()
		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate journal: %w", err)
		}
		store = s
	}

	policies, err := policy.NewEngine(logger)
	if err != nil {
		return err
	}
	if cfg.PolicyDir != "" {
		if err := policies.LoadPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
			return fmt.Errorf("failed to load operator policies: %w", err)
		}
		// Policy edits landing mid-run take effect for units not yet admitted.
		if err := policies.WatchPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
			logger.Warn().Err(err).Msg("Policy hot-reload unavailable")
		}
	}

	installID := uuid.NewString()
	var reporter engine.Reporter
	if cfg.Reporting.Enabled {
		reporter = report.NewClient(report.Config{
			Endpoint: cfg.Reporting.Endpoint,
			Token:    cfg.Reporting.Token,
			Timeout:  cfg.Reporting.Timeout,
		}, installID, version, logger)
	}

	run := runner.NewExecRunner(logger)
	seq, err := pipeline.New(pipeline.Deps{
		Config:     cfg,
		Logger:     logger,
		Log:        sink,
		Store:      store,
		Policies:   policies,
		Reporter:   reporter,
		Prober:     probe.NewProber(run, logger),
		Facts:      facts.NewCollector(logger),
		Strategies: pipeline.NewStrategyFactory(run, logger),
		Tracer:     tel.Tracer,
		Metrics:    tel.Metrics,
		InstallID:  installID,
		Quiet:      cfg.Quiet,
	})
	if err != nil {
		return err
	}

	result, err := seq.Execute(ctx)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("deployment run %s finished with status %s", result.RunID, result.Status)
	}
	return nil
}
