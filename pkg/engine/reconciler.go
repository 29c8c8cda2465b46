package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconcilerConfig bounds the verification loop and diagnostics capture.
type ReconcilerConfig struct {
	// VerifyProbes is the number of verification passes attempted before the
	// outcome is classified as a verify failure.
	VerifyProbes int

	// DiagnosticTailLines bounds the backing-runtime output attached to a
	// failed outcome message.
	DiagnosticTailLines int
}

// DefaultReconcilerConfig returns the engine defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		VerifyProbes:        3,
		DiagnosticTailLines: 20,
	}
}

// Reconciler drives one strategy through the reconciliation lifecycle:
// detect-existing, remove-existing, apply, poll-verify, classify. It is
// strategy-agnostic and performs one reconciliation at a time.
type Reconciler struct {
	config   ReconcilerConfig
	reporter Reporter
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler. A nil reporter disables collector
// mirroring.
func NewReconciler(cfg ReconcilerConfig, reporter Reporter, logger zerolog.Logger) *Reconciler {
	if cfg.VerifyProbes <= 0 {
		cfg.VerifyProbes = DefaultReconcilerConfig().VerifyProbes
	}
	if cfg.DiagnosticTailLines <= 0 {
		cfg.DiagnosticTailLines = DefaultReconcilerConfig().DiagnosticTailLines
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Reconciler{
		config:   cfg,
		reporter: reporter,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile drives the request through the strategy's lifecycle and produces
// exactly one outcome. Phase failures are terminal: the engine never retries
// internally and never applies over an instance it could not remove. Report
// sends are best-effort and never change the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, strategy Strategy, req *DeploymentRequest) *DeploymentOutcome {
	started := time.Now()

	if err := req.Validate(); err != nil {
		return r.fail(ctx, req, started, StagePrecondition, err, StateAbsent)
	}
	if strategy == nil || strategy.Kind() != req.Kind {
		err := NewPreconditionError(
			fmt.Sprintf("no strategy available for kind %q", req.Kind), nil).
			WithIdentity(req.Identity).WithCode(ErrCodeRuntimeMissing)
		return r.fail(ctx, req, started, StagePrecondition, err, StateAbsent)
	}

	log := r.logger.With().
		Str("kind", string(req.Kind)).
		Str("identity", req.Identity).
		Logger()

	r.report(ctx, string(req.Kind), ReportStarted,
		fmt.Sprintf("reconciling %s %q", req.Kind, req.Identity))

	// Phase 1: detect and tear down any prior instance.
	state, err := strategy.DetectExisting(ctx, req.Identity)
	if err != nil {
		stage := StageTeardown
		if IsPrecondition(err) {
			stage = StagePrecondition
		}
		return r.fail(ctx, req, started, stage, err, StatePresentUnknown)
	}
	if state.IsPresent() {
		log.Info().Str("state", string(state)).Msg("Existing instance found, removing")
		if err := strategy.RemoveExisting(ctx, req.Identity); err != nil {
			return r.fail(ctx, req, started, StageTeardown, err, state)
		}
		r.report(ctx, string(StageTeardown), ReportSuccess,
			fmt.Sprintf("removed existing %s %q", req.Kind, req.Identity))
	}

	// Phase 2: apply.
	if err := strategy.Apply(ctx, req); err != nil {
		stage := StageApply
		if IsPrecondition(err) {
			stage = StagePrecondition
		}
		return r.fail(ctx, req, started, stage, err, StateAbsent)
	}
	r.report(ctx, string(StageApply), ReportSuccess,
		fmt.Sprintf("applied %s %q", req.Kind, req.Identity))

	// Phase 3: bounded verification poll. The settle delay precedes every
	// probe so the first pass never observes mid-startup state.
	final := StatePresentUnknown
	var verifyErr error
	for probe := 1; probe <= r.config.VerifyProbes; probe++ {
		select {
		case <-time.After(strategy.SettleDelay()):
		case <-ctx.Done():
			verifyErr = ctx.Err()
		}
		if verifyErr != nil {
			break
		}

		final, verifyErr = strategy.PollVerify(ctx, req.Identity)
		log.Debug().
			Int("probe", probe).
			Str("state", string(final)).
			Err(verifyErr).
			Msg("Verification probe")
		if verifyErr == nil && final == StatePresentRunning {
			break
		}
	}

	// Success requires a clean probe: a running state reported alongside an
	// error is not trusted.
	if verifyErr != nil || final != StatePresentRunning {
		if verifyErr == nil {
			verifyErr = NewVerifyError(
				fmt.Sprintf("state %q after %d probes, want running", final, r.config.VerifyProbes), nil).
				WithIdentity(req.Identity).WithCode(ErrCodeNotConverged)
		}
		message := verifyErr.Error()
		if diag := strategy.Diagnostics(ctx, req.Identity, r.config.DiagnosticTailLines); diag != "" {
			message = message + "\n--- recent runtime output ---\n" + diag
		}
		outcome := r.outcome(req, started, StatusFailure, StageVerify, message, final)
		r.report(ctx, string(StageVerify), ReportFailure, message)
		log.Error().Str("stage", string(StageVerify)).Msg("Reconciliation failed")
		return outcome
	}

	outcome := r.outcome(req, started, StatusSuccess, StageVerify,
		fmt.Sprintf("%s %q verified running", req.Kind, req.Identity), StatePresentRunning)
	r.report(ctx, string(StageVerify), ReportSuccess, outcome.Message)
	log.Info().Dur("duration", outcome.Duration).Msg("Reconciliation succeeded")
	return outcome
}

// fail builds a failure outcome for a phase error and mirrors it out.
func (r *Reconciler) fail(ctx context.Context, req *DeploymentRequest, started time.Time, stage Stage, err error, state RuntimeState) *DeploymentOutcome {
	outcome := r.outcome(req, started, StatusFailure, stage, err.Error(), state)
	r.report(ctx, string(stage), ReportFailure, err.Error())
	r.logger.Error().
		Str("kind", string(req.Kind)).
		Str("identity", req.Identity).
		Str("stage", string(stage)).
		Err(err).
		Msg("Reconciliation failed")
	return outcome
}

func (r *Reconciler) outcome(req *DeploymentRequest, started time.Time, status Status, stage Stage, message string, state RuntimeState) *DeploymentOutcome {
	return &DeploymentOutcome{
		Kind:       req.Kind,
		Identity:   req.Identity,
		Status:     status,
		Stage:      stage,
		Message:    message,
		FinalState: state,
		StartedAt:  started,
		Duration:   time.Since(started),
	}
}

// report mirrors one lifecycle transition to the collector. Failures are
// warnings only.
func (r *Reconciler) report(ctx context.Context, stage string, status ReportStatus, message string) {
	if err := r.reporter.Send(ctx, stage, status, message); err != nil {
		r.logger.Warn().Err(err).
			Str("stage", stage).
			Str("status", string(status)).
			Msg("Report send failed, discarding")
	}
}
