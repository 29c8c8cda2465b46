package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/engine"
)

// settleDelay absorbs normal service startup latency before each
// verification probe.
const settleDelay = 2 * time.Second

// Strategy reconciles OS-level service deployments through whichever Manager
// backend the capability probe selected.
type Strategy struct {
	manager Manager
	logger  zerolog.Logger
}

// New creates the service strategy over the chosen backend.
func New(manager Manager, logger zerolog.Logger) *Strategy {
	return &Strategy{
		manager: manager,
		logger: logger.With().
			Str("component", "strategy.service").
			Str("backend", manager.Name()).
			Logger(),
	}
}

// Kind implements engine.Strategy.
func (s *Strategy) Kind() engine.Kind {
	return engine.KindService
}

// DetectExisting implements engine.Strategy.
func (s *Strategy) DetectExisting(ctx context.Context, identity string) (engine.RuntimeState, error) {
	exists, err := s.manager.Exists(ctx, identity)
	if err != nil {
		return engine.StatePresentUnknown, engine.NewTeardownError(
			"failed to query service manager", err).WithIdentity(identity)
	}
	if !exists {
		return engine.StateAbsent, nil
	}

	active, err := s.manager.IsActive(ctx, identity)
	if err != nil {
		return engine.StatePresentUnknown, nil
	}
	if active {
		return engine.StatePresentRunning, nil
	}
	return engine.StatePresentStopped, nil
}

// RemoveExisting implements engine.Strategy.
func (s *Strategy) RemoveExisting(ctx context.Context, identity string) error {
	if err := s.manager.Stop(ctx, identity); err != nil {
		return engine.NewTeardownError("failed to stop existing service", err).
			WithIdentity(identity).WithOperation(s.manager.Name() + " stop")
	}
	return nil
}

// Apply implements engine.Strategy. The executable precondition is enforced
// before any manager interaction: a missing or unfixably non-executable path
// fails without writing a unit or script file.
func (s *Strategy) Apply(ctx context.Context, req *engine.DeploymentRequest) error {
	spec := req.Service

	if err := ensureExecutable(spec.ExecPath); err != nil {
		if de, ok := err.(*engine.DeployError); ok {
			return de.WithIdentity(req.Identity)
		}
		return err
	}

	if err := s.manager.Install(ctx, req.Identity, spec); err != nil {
		return err
	}

	s.logger.Info().
		Str("identity", req.Identity).
		Str("exec_path", spec.ExecPath).
		Str("user", spec.User).
		Msg("Service installed")
	return nil
}

// PollVerify implements engine.Strategy.
func (s *Strategy) PollVerify(ctx context.Context, identity string) (engine.RuntimeState, error) {
	active, err := s.manager.IsActive(ctx, identity)
	if err != nil {
		return engine.StatePresentUnknown, engine.NewVerifyError(
			"failed to query service state", err).WithIdentity(identity)
	}
	if active {
		return engine.StatePresentRunning, nil
	}
	return engine.StatePresentStopped, nil
}

// SettleDelay implements engine.Strategy.
func (s *Strategy) SettleDelay() time.Duration {
	return settleDelay
}

// Diagnostics implements engine.Strategy.
func (s *Strategy) Diagnostics(ctx context.Context, identity string, maxLines int) string {
	return s.manager.Diagnostics(ctx, identity, maxLines)
}
