// Package container implements the deployment strategy for the host's
// container engine (docker CLI semantics).
package container

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/runner"
)

// settleDelay absorbs normal container startup latency before each
// verification probe.
const settleDelay = 3 * time.Second

// Strategy reconciles container deployments through the docker CLI.
type Strategy struct {
	runner runner.Runner
	logger zerolog.Logger
}

// New creates the container strategy.
func New(run runner.Runner, logger zerolog.Logger) *Strategy {
	return &Strategy{
		runner: run,
		logger: logger.With().Str("component", "strategy.container").Logger(),
	}
}

// Kind implements engine.Strategy.
func (s *Strategy) Kind() engine.Kind {
	return engine.KindContainer
}

// DetectExisting lists all containers and matches the identity exactly. A
// prefix or similarly named container ("app" vs "app-2") must never match.
func (s *Strategy) DetectExisting(ctx context.Context, identity string) (engine.RuntimeState, error) {
	result, err := s.runner.Run(ctx, "docker", "ps", "-a", "--format", "{{.Names}}\t{{.State}}")
	if err != nil {
		return engine.StatePresentUnknown, engine.NewPreconditionError(
			"container engine is not available", err).
			WithIdentity(identity).WithCode(engine.ErrCodeRuntimeMissing)
	}
	if !result.Succeeded() {
		return engine.StatePresentUnknown, engine.NewTeardownError(
			"failed to list containers", fmt.Errorf("%s", result.CombinedTail(5))).
			WithIdentity(identity).WithOperation("docker ps")
	}

	for _, line := range strings.Split(result.Output(), "\n") {
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) < 1 || fields[0] != identity {
			continue
		}
		state := ""
		if len(fields) == 2 {
			state = strings.TrimSpace(fields[1])
		}
		switch state {
		case "running":
			return engine.StatePresentRunning, nil
		case "exited", "created", "paused", "dead":
			return engine.StatePresentStopped, nil
		default:
			return engine.StatePresentUnknown, nil
		}
	}
	return engine.StateAbsent, nil
}

// RemoveExisting stops then removes the container. Both steps must succeed: a
// stopped-but-not-removed container is a teardown failure, never partial
// cleanup.
func (s *Strategy) RemoveExisting(ctx context.Context, identity string) error {
	stop, err := s.runner.Run(ctx, "docker", "stop", identity)
	if err != nil {
		return engine.NewTeardownError("failed to stop container", err).
			WithIdentity(identity).WithOperation("docker stop")
	}
	if !stop.Succeeded() {
		return engine.NewTeardownError(
			"container did not stop", fmt.Errorf("%s", stop.CombinedTail(5))).
			WithIdentity(identity).WithOperation("docker stop")
	}

	rm, err := s.runner.Run(ctx, "docker", "rm", identity)
	if err != nil {
		return engine.NewTeardownError("failed to remove container", err).
			WithIdentity(identity).WithOperation("docker rm").WithCode(engine.ErrCodeRemoveFailed)
	}
	if !rm.Succeeded() {
		return engine.NewTeardownError(
			"container stopped but not removed", fmt.Errorf("%s", rm.CombinedTail(5))).
			WithIdentity(identity).WithOperation("docker rm").WithCode(engine.ErrCodeRemoveFailed)
	}

	s.logger.Info().Str("identity", identity).Msg("Existing container removed")
	return nil
}

// Apply pulls the requested image then creates and starts the container. A
// failed pull is terminal: the strategy never falls back to a stale cached
// image. Environment values never appear in logged command text.
func (s *Strategy) Apply(ctx context.Context, req *engine.DeploymentRequest) error {
	spec := req.Container

	pull, err := s.runner.Run(ctx, "docker", "pull", spec.Image)
	if err != nil {
		return engine.NewApplyError("failed to pull image", err).
			WithIdentity(req.Identity).WithOperation("docker pull").WithCode(engine.ErrCodePullFailed)
	}
	if !pull.Succeeded() {
		return engine.NewApplyError(
			fmt.Sprintf("image pull failed for %q", spec.Image),
			fmt.Errorf("%s", pull.CombinedTail(5))).
			WithIdentity(req.Identity).WithOperation("docker pull").WithCode(engine.ErrCodePullFailed)
	}

	args, secrets := runArgs(req.Identity, spec)
	run, err := s.runner.RunRedacted(ctx, secrets, "docker", args...)
	if err != nil {
		return engine.NewApplyError("failed to start container", err).
			WithIdentity(req.Identity).WithOperation("docker run").WithCode(engine.ErrCodeStartFailed)
	}
	if !run.Succeeded() {
		return engine.NewApplyError(
			"container run failed", fmt.Errorf("%s", run.CombinedTail(5))).
			WithIdentity(req.Identity).WithOperation("docker run").WithCode(engine.ErrCodeStartFailed)
	}

	s.logger.Info().
		Str("identity", req.Identity).
		Str("image", spec.Image).
		Msg("Container started")
	return nil
}

// PollVerify reports running iff the engine's own state says "running".
func (s *Strategy) PollVerify(ctx context.Context, identity string) (engine.RuntimeState, error) {
	result, err := s.runner.Run(ctx, "docker", "inspect", "--format", "{{.State.Status}}", identity)
	if err != nil {
		return engine.StatePresentUnknown, engine.NewVerifyError(
			"failed to inspect container", err).WithIdentity(identity)
	}
	if !result.Succeeded() {
		return engine.StateAbsent, nil
	}
	switch result.Output() {
	case "running":
		return engine.StatePresentRunning, nil
	case "exited", "created", "paused", "dead":
		return engine.StatePresentStopped, nil
	default:
		return engine.StatePresentUnknown, nil
	}
}

// SettleDelay implements engine.Strategy.
func (s *Strategy) SettleDelay() time.Duration {
	return settleDelay
}

// Diagnostics returns the tail of the container's own log output.
func (s *Strategy) Diagnostics(ctx context.Context, identity string, maxLines int) string {
	result, err := s.runner.Run(ctx, "docker", "logs", "--tail", fmt.Sprintf("%d", maxLines), identity)
	if err != nil {
		return ""
	}
	return result.CombinedTail(maxLines)
}

// runArgs builds the docker run argument list and the secret values to mask
// in logged command text. Env is emitted in sorted key order so rendered
// commands are stable.
func runArgs(identity string, spec *engine.ContainerSpec) ([]string, []string) {
	args := []string{"run", "-d", "--name", identity, "--restart", "unless-stopped"}

	for _, p := range spec.Ports {
		args = append(args, "-p", p)
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	secrets := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
		secrets = append(secrets, spec.Env[k])
	}

	for _, v := range spec.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, spec.ExtraArgs...)
	args = append(args, spec.Image)

	return args, secrets
}
