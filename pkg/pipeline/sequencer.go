package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/config"
	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/execlog"
	"github.com/openberth/berth/pkg/facts"
	"github.com/openberth/berth/pkg/policy"
	"github.com/openberth/berth/pkg/probe"
	"github.com/openberth/berth/pkg/stores"
	"github.com/openberth/berth/pkg/telemetry"
)

// Deps are the collaborators of one pipeline run. Store, Policies, Reporter,
// Tracer, and Metrics are optional; a nil value disables that concern.
type Deps struct {
	// Config is the validated run configuration.
	Config *config.Config

	// Logger is the engineering log.
	Logger zerolog.Logger

	// Log is the human-readable execution log sink.
	Log *execlog.Sink

	// Store is the run journal.
	Store stores.Store

	// Policies is the admission engine.
	Policies *policy.Engine

	// Reporter is the remote collector sink.
	Reporter engine.Reporter

	// Prober detects backing runtimes.
	Prober *probe.Prober

	// Facts collects the host context.
	Facts *facts.Collector

	// Strategies builds the per-kind strategies.
	Strategies StrategyFactory

	// Tracer and Metrics are the telemetry instruments.
	Tracer  *telemetry.Tracer
	Metrics *telemetry.Metrics

	// InstallID identifies this installation in reports.
	InstallID string

	// Out receives the summary table. Defaults to stdout.
	Out io.Writer

	// Quiet suppresses spinners.
	Quiet bool
}

// Result is the product of one pipeline run.
type Result struct {
	// RunID is the journal identifier of this invocation.
	RunID string

	// Host is the collected host context.
	Host *facts.HostContext

	// Capabilities is the probed runtime inventory.
	Capabilities *probe.Capabilities

	// Outcomes holds one entry per reconciled deployment unit.
	Outcomes []*engine.DeploymentOutcome

	// Status is the run's final journal status.
	Status stores.RunStatus
}

// Succeeded reports whether every deployment unit converged.
func (r *Result) Succeeded() bool {
	return r.Status == stores.RunStatusCompleted
}

// Sequencer drives the fixed stage order of one invocation: collection,
// reconciliation, validation, cleanup, summary. Reconciliation failures
// never skip cleanup or the summary.
type Sequencer struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates a sequencer. Missing optional collaborators degrade to no-ops.
func New(deps Deps) (*Sequencer, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	if deps.Facts == nil {
		return nil, fmt.Errorf("facts collector is required")
	}
	if deps.Strategies == nil {
		return nil, fmt.Errorf("strategy factory is required")
	}
	if deps.Log == nil {
		sink, err := execlog.New("", io.Discard)
		if err != nil {
			return nil, err
		}
		deps.Log = sink
	}
	if deps.Reporter == nil {
		deps.Reporter = engine.NopReporter{}
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	return &Sequencer{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Execute runs the pipeline once. An error return means the pipeline itself
// could not proceed (host facts unavailable, journal broken); per-unit
// failures are carried in the result instead.
func (s *Sequencer) Execute(ctx context.Context) (*Result, error) {
	started := time.Now()
	result := &Result{RunID: uuid.NewString()}
	log := s.logger.With().Str("run_id", result.RunID).Logger()
	sink := s.deps.Log

	if s.deps.Tracer != nil {
		spanCtx, runSpan := s.deps.Tracer.StartRunSpan(ctx, result.RunID)
		ctx = spanCtx
		defer runSpan.End()
	}

	sink.Header(fmt.Sprintf("Deployment run %s", result.RunID))
	log.Info().
		Str("host_ip", s.deps.Config.Host.IP).
		Int("host_port", s.deps.Config.Host.Port).
		Str("host_type", s.deps.Config.Host.Type).
		Msg("Pipeline starting")

	if s.deps.Store != nil {
		run := &stores.Run{
			ID:        result.RunID,
			HostIP:    s.deps.Config.Host.IP,
			HostPort:  s.deps.Config.Host.Port,
			HostType:  s.deps.Config.Host.Type,
			Status:    stores.RunStatusRunning,
			StartedAt: started,
		}
		if err := s.deps.Store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to journal run start: %w", err)
		}
	}

	s.report(ctx, "pipeline", engine.ReportStarted,
		fmt.Sprintf("deployment run %s started", result.RunID))

	// Stage 1: collection.
	sink.Section("collection")
	host, err := s.deps.Facts.Collect(ctx, s.deps.InstallID,
		s.deps.Config.Host.IP, s.deps.Config.Host.Port, s.deps.Config.Host.Type)
	if err != nil {
		collectErr := fmt.Errorf("host collection failed: %w", err)
		sink.Error("%v", collectErr)
		// Cleanup and the summary run even when collection aborts the run.
		sink.Section("cleanup")
		s.cleanup(ctx, sink)
		sink.Section("summary")
		s.renderSummary(result)
		s.finish(ctx, result, sink, started, stores.RunStatusFailed, collectErr)
		return result, collectErr
	}
	result.Host = host
	sink.Info("host %s (%s %s, kernel %s)", host.Hostname, host.Platform, host.PlatformVersion, host.KernelVersion)

	caps := s.deps.Prober.Detect(ctx)
	result.Capabilities = caps
	sink.Info("runtimes: %s", describeCapabilities(caps))

	// Stage 2: reconciliation. Units run in declaration order; one unit's
	// failure never stops the rest.
	sink.Section("reconciliation")
	requests := s.deps.Config.Requests()
	if len(requests) == 0 {
		sink.Info("no deployment units selected for host type %q", s.deps.Config.Host.Type)
	}
	for _, req := range requests {
		outcome := s.reconcileUnit(ctx, result.RunID, caps, req)
		result.Outcomes = append(result.Outcomes, outcome)

		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordDeployment(string(outcome.Kind), string(outcome.Status))
			s.deps.Metrics.RecordStageDuration(string(outcome.Kind), string(outcome.Stage), outcome.Duration)
		}
		if s.deps.Store != nil {
			if err := s.deps.Store.RecordOutcome(ctx, result.RunID, outcome); err != nil {
				log.Warn().Err(err).Str("identity", outcome.Identity).Msg("Failed to journal outcome")
			}
		}

		if outcome.Succeeded() {
			sink.Success("%s %q running (%s)", outcome.Kind, outcome.Identity, outcome.Duration.Round(time.Millisecond))
		} else {
			sink.Error("%s %q failed in %s: %s", outcome.Kind, outcome.Identity, outcome.Stage, firstLine(outcome.Message))
		}
	}

	// Stage 3: validation.
	sink.Section("validation")
	failed := 0
	for _, outcome := range result.Outcomes {
		if !outcome.Succeeded() {
			failed++
			continue
		}
		if outcome.FinalState != engine.StatePresentRunning {
			// A successful outcome always carries the verified state; anything
			// else is an engine defect worth surfacing loudly.
			failed++
			sink.Error("%s %q reported success but final state is %s", outcome.Kind, outcome.Identity, outcome.FinalState)
		}
	}
	sink.Info("%d of %d units converged", len(result.Outcomes)-failed, len(result.Outcomes))

	// Stage 4: cleanup. Runs regardless of reconciliation results.
	sink.Section("cleanup")
	cleanupOK := s.cleanup(ctx, sink)

	// Stage 5: summary.
	sink.Section("summary")
	s.renderSummary(result)

	status := stores.RunStatusCompleted
	if failed > 0 || !cleanupOK {
		status = stores.RunStatusFailed
	}
	if ctx.Err() != nil {
		status = stores.RunStatusCancelled
	}
	result.Status = status

	s.finish(ctx, result, sink, started, status, nil)
	return result, nil
}

// reconcileUnit runs admission and reconciliation for one deployment unit.
func (s *Sequencer) reconcileUnit(ctx context.Context, runID string, caps *probe.Capabilities, req *engine.DeploymentRequest) *engine.DeploymentOutcome {
	unitStart := time.Now()
	log := s.logger.With().
		Str("run_id", runID).
		Str("kind", string(req.Kind)).
		Str("identity", req.Identity).
		Logger()

	if s.deps.Tracer != nil {
		spanCtx, span := s.deps.Tracer.StartUnitSpan(ctx, req.Identity, string(req.Kind))
		ctx = spanCtx
		defer span.End()
	}

	sinks := []engine.Reporter{s.deps.Reporter}
	if s.deps.Store != nil {
		sinks = append(sinks, newJournalReporter(s.deps.Store, runID, req))
	}
	reporter := newFanoutReporter(sinks...)

	// Admission runs before any runtime interaction.
	if s.deps.Policies != nil {
		input := &policy.Input{
			Request: req,
			Context: &policy.Context{
				HostIP:    s.deps.Config.Host.IP,
				HostType:  s.deps.Config.Host.Type,
				Timestamp: time.Now(),
			},
		}
		admission, err := s.deps.Policies.EvaluateRequest(ctx, input)
		if err != nil {
			return s.precondition(ctx, reporter, req, unitStart,
				fmt.Sprintf("admission evaluation failed: %v", err))
		}
		for _, w := range admission.Warnings {
			s.deps.Log.Warning("policy %s: %s", w.Policy, w.Message)
			log.Warn().Str("policy", w.Policy).Msg(w.Message)
		}
		if !admission.Allowed {
			messages := make([]string, 0, len(admission.Violations))
			for _, v := range admission.Violations {
				messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			}
			return s.precondition(ctx, reporter, req, unitStart,
				"denied by policy: "+strings.Join(messages, "; "))
		}
	}

	strategy, err := s.deps.Strategies(req.Kind, caps)
	if err != nil {
		return s.precondition(ctx, reporter, req, unitStart, err.Error())
	}

	var spin *spinner.Spinner
	if s.progressEnabled() {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = fmt.Sprintf(" Deploying %s %q...", req.Kind, req.Identity)
		spin.Start()
		defer spin.Stop()
	}

	reconciler := engine.NewReconciler(engine.DefaultReconcilerConfig(), reporter, s.deps.Logger)
	return reconciler.Reconcile(ctx, strategy, req)
}

// precondition builds a failed outcome for a unit rejected before any
// runtime interaction and mirrors the event out.
func (s *Sequencer) precondition(ctx context.Context, reporter engine.Reporter, req *engine.DeploymentRequest, started time.Time, message string) *engine.DeploymentOutcome {
	if err := reporter.Send(ctx, string(engine.StagePrecondition), engine.ReportFailure, message); err != nil {
		s.logger.Warn().Err(err).Msg("Report send failed, discarding")
	}
	return &engine.DeploymentOutcome{
		Kind:       req.Kind,
		Identity:   req.Identity,
		Status:     engine.StatusFailure,
		Stage:      engine.StagePrecondition,
		Message:    message,
		FinalState: engine.StateAbsent,
		StartedAt:  started,
		Duration:   time.Since(started),
	}
}

// cleanup prunes journal history past the retention window. A prune failure
// counts against the run's exit status.
func (s *Sequencer) cleanup(ctx context.Context, sink *execlog.Sink) bool {
	retention := s.deps.Config.Journal.RetentionDays
	if s.deps.Store == nil || retention <= 0 {
		sink.Info("nothing to clean up")
		return true
	}

	cutoff := time.Now().AddDate(0, 0, -retention)
	pruned, err := s.deps.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		sink.Error("journal prune failed: %v", err)
		s.logger.Error().Err(err).Msg("Journal prune failed")
		return false
	}
	sink.Info("pruned %d runs older than %d days", pruned, retention)
	return true
}

// finish journals the terminal status, mirrors the completion event, records
// run metrics, and closes the execution log.
func (s *Sequencer) finish(ctx context.Context, result *Result, sink *execlog.Sink, started time.Time, status stores.RunStatus, pipelineErr error) {
	result.Status = status

	if s.deps.Store != nil {
		var errMsg *string
		if pipelineErr != nil {
			msg := pipelineErr.Error()
			errMsg = &msg
		}
		if err := s.deps.Store.CompleteRun(ctx, result.RunID, status, errMsg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to journal run completion")
		}
	}

	s.report(ctx, "pipeline", engine.ReportCompleted,
		fmt.Sprintf("deployment run %s %s", result.RunID, status))

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRunCompleted(string(status), time.Since(started))
	}

	if err := sink.Close(status == stores.RunStatusCompleted); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close execution log")
	}
}

// renderSummary writes the per-unit result table.
func (s *Sequencer) renderSummary(result *Result) {
	t := table.NewWriter()
	t.SetOutputMirror(s.deps.Out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"KIND", "IDENTITY", "STATUS", "STAGE", "DURATION", "DETAIL"})

	for _, o := range result.Outcomes {
		detail := truncate(firstLine(o.Message), 60)
		t.AppendRow(table.Row{
			string(o.Kind),
			o.Identity,
			string(o.Status),
			string(o.Stage),
			o.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}
	t.Render()
}

// report mirrors one pipeline-level transition. Failures are warnings only.
func (s *Sequencer) report(ctx context.Context, stage string, status engine.ReportStatus, message string) {
	if err := s.deps.Reporter.Send(ctx, stage, status, message); err != nil {
		s.logger.Warn().Err(err).
			Str("stage", stage).
			Str("status", string(status)).
			Msg("Report send failed, discarding")
	}
}

func (s *Sequencer) progressEnabled() bool {
	if s.deps.Quiet {
		return false
	}
	f, ok := s.deps.Out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func describeCapabilities(caps *probe.Capabilities) string {
	var parts []string
	if caps.Docker {
		parts = append(parts, "docker "+caps.DockerVersion)
	}
	switch caps.ServiceManager() {
	case probe.ManagerSystemd:
		parts = append(parts, "systemd")
	case probe.ManagerSysV:
		parts = append(parts, "sysvinit")
	}
	if caps.Helm {
		parts = append(parts, "helm "+caps.HelmVersion)
	}
	if caps.Kubernetes {
		parts = append(parts, "kubernetes "+caps.KubernetesVersion)
	}
	if len(parts) == 0 {
		return "none detected"
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate bounds s to max runes, never splitting a multibyte character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
