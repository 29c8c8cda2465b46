// Package helm implements the deployment strategy for Helm-managed
// Kubernetes releases. The install primitive (upgrade --install by release
// name) is itself idempotent, so this strategy has no teardown phase:
// upgrading in place is the normal path, not an error branch.
package helm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/client-go/kubernetes"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/runner"
)

const (
	// settleDelay precedes each verification probe.
	settleDelay = 2 * time.Second

	// defaultRolloutTimeout bounds the wait for each owned workload.
	defaultRolloutTimeout = 120 * time.Second

	// defaultRolloutPollInterval is the re-check cadence during a rollout
	// wait.
	defaultRolloutPollInterval = 3 * time.Second

	// instanceLabel selects the workloads owned by a release.
	instanceLabel = "app.kubernetes.io/instance"
)

// Strategy reconciles Helm release deployments. Release operations go through
// the helm CLI; workload verification goes through the Kubernetes API.
type Strategy struct {
	runner runner.Runner
	client kubernetes.Interface
	logger zerolog.Logger

	rolloutTimeout      time.Duration
	rolloutPollInterval time.Duration

	// namespace is captured at Apply time; verification and diagnostics for
	// the same request reuse it. One reconciliation at a time by design.
	namespace string

	// lastDiag holds the failing workload description and log tail from the
	// most recent verification pass.
	lastDiag string
}

// New creates the helm strategy.
func New(run runner.Runner, client kubernetes.Interface, logger zerolog.Logger) *Strategy {
	return &Strategy{
		runner:              run,
		client:              client,
		logger:              logger.With().Str("component", "strategy.helm").Logger(),
		rolloutTimeout:      defaultRolloutTimeout,
		rolloutPollInterval: defaultRolloutPollInterval,
	}
}

// Kind implements engine.Strategy.
func (s *Strategy) Kind() engine.Kind {
	return engine.KindHelmRelease
}

// DetectExisting implements engine.Strategy. The install primitive is
// idempotent by release name, so the strategy opts out of the teardown phase
// by reporting absent unconditionally.
func (s *Strategy) DetectExisting(ctx context.Context, identity string) (engine.RuntimeState, error) {
	return engine.StateAbsent, nil
}

// RemoveExisting implements engine.Strategy. Never reached: DetectExisting
// always reports absent.
func (s *Strategy) RemoveExisting(ctx context.Context, identity string) error {
	return nil
}

// Apply implements engine.Strategy. A missing values file or an unregistered
// repository alias is a terminal precondition failure; a missing target
// namespace is created, never a failure.
func (s *Strategy) Apply(ctx context.Context, req *engine.DeploymentRequest) error {
	spec := req.Helm
	s.namespace = spec.Namespace

	if spec.ValuesFile != "" {
		if _, err := os.Stat(spec.ValuesFile); err != nil {
			return engine.NewPreconditionError(
				fmt.Sprintf("values file %q does not exist", spec.ValuesFile), err).
				WithIdentity(req.Identity).WithCode(engine.ErrCodeNotFound)
		}
	}

	if alias, ok := repoAlias(spec.Chart); ok {
		registered, err := s.repoRegistered(ctx, alias)
		if err != nil {
			return engine.NewApplyError("failed to list helm repositories", err).
				WithIdentity(req.Identity)
		}
		if !registered {
			return engine.NewPreconditionError(
				fmt.Sprintf("helm repository alias %q is not registered", alias), nil).
				WithIdentity(req.Identity).WithCode(engine.ErrCodeNotFound)
		}
		update, err := s.runner.Run(ctx, "helm", "repo", "update", alias)
		if err != nil || !update.Succeeded() {
			return engine.NewApplyError(
				fmt.Sprintf("failed to refresh helm repository %q", alias),
				runErr(update, err)).WithIdentity(req.Identity)
		}
	}

	if err := s.ensureNamespace(ctx, spec.Namespace); err != nil {
		return engine.NewApplyError(
			fmt.Sprintf("failed to ensure namespace %q", spec.Namespace), err).
			WithIdentity(req.Identity)
	}

	args := []string{"upgrade", "--install", req.Identity, spec.Chart,
		"--namespace", spec.Namespace}
	if spec.ValuesFile != "" {
		args = append(args, "-f", spec.ValuesFile)
	}
	args = append(args, spec.ExtraArgs...)

	install, err := s.runner.Run(ctx, "helm", args...)
	if err != nil {
		return engine.NewApplyError("helm upgrade --install failed", err).
			WithIdentity(req.Identity)
	}
	if !install.Succeeded() {
		return engine.NewApplyError(
			"helm upgrade --install failed", fmt.Errorf("%s", install.CombinedTail(10))).
			WithIdentity(req.Identity)
	}

	s.logger.Info().
		Str("release", req.Identity).
		Str("chart", spec.Chart).
		Str("namespace", spec.Namespace).
		Msg("Release installed or upgraded")
	return nil
}

// PollVerify implements engine.Strategy: query the release status, then wait
// on every owned workload's rollout within the per-workload bound.
func (s *Strategy) PollVerify(ctx context.Context, identity string) (engine.RuntimeState, error) {
	s.lastDiag = ""

	status, err := s.releaseStatus(ctx, identity)
	if err != nil {
		return engine.StatePresentUnknown, engine.NewVerifyError(
			"failed to query release status", err).WithIdentity(identity)
	}
	switch status {
	case "deployed":
	case "":
		return engine.StateAbsent, nil
	case "failed":
		return engine.StatePresentStopped, nil
	default:
		return engine.StatePresentUnknown, nil
	}

	if err := s.waitForWorkloads(ctx, identity); err != nil {
		return engine.StatePresentStopped, engine.NewVerifyError(
			"release workloads did not converge", err).
			WithIdentity(identity).WithCode(engine.ErrCodeNotConverged)
	}
	return engine.StatePresentRunning, nil
}

// SettleDelay implements engine.Strategy.
func (s *Strategy) SettleDelay() time.Duration {
	return settleDelay
}

// Diagnostics implements engine.Strategy: the failing workload description
// and pod log tail captured during the last verification pass.
func (s *Strategy) Diagnostics(ctx context.Context, identity string, maxLines int) string {
	return runner.Tail(s.lastDiag, maxLines)
}

// releaseStatus returns helm's own status string for the release, or empty
// when the release does not exist.
func (s *Strategy) releaseStatus(ctx context.Context, identity string) (string, error) {
	result, err := s.runner.Run(ctx, "helm", "status", identity,
		"--namespace", s.namespace, "-o", "json")
	if err != nil {
		return "", err
	}
	if !result.Succeeded() {
		if strings.Contains(result.Stderr, "not found") {
			return "", nil
		}
		return "", fmt.Errorf("helm status failed: %s", result.CombinedTail(5))
	}

	var payload struct {
		Info struct {
			Status string `json:"status"`
		} `json:"info"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &payload); err != nil {
		return "", fmt.Errorf("failed to parse helm status output: %w", err)
	}
	return payload.Info.Status, nil
}

// repoRegistered reports whether the alias appears in helm's repository list.
func (s *Strategy) repoRegistered(ctx context.Context, alias string) (bool, error) {
	result, err := s.runner.Run(ctx, "helm", "repo", "list", "-o", "json")
	if err != nil {
		return false, err
	}
	if !result.Succeeded() {
		// helm exits non-zero when no repositories are configured at all.
		return false, nil
	}

	var repos []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(result.Stdout), &repos); err != nil {
		return false, fmt.Errorf("failed to parse helm repo list output: %w", err)
	}
	for _, r := range repos {
		if r.Name == alias {
			return true, nil
		}
	}
	return false, nil
}

// repoAlias extracts the repository alias from a repo/chart reference.
// Filesystem chart paths never carry an alias.
func repoAlias(chart string) (string, bool) {
	if strings.HasPrefix(chart, "/") || strings.HasPrefix(chart, ".") {
		return "", false
	}
	if _, err := os.Stat(chart); err == nil {
		return "", false
	}
	idx := strings.Index(chart, "/")
	if idx <= 0 {
		return "", false
	}
	return chart[:idx], true
}

func runErr(result *runner.Result, err error) error {
	if err != nil {
		return err
	}
	if result != nil {
		return fmt.Errorf("%s", result.CombinedTail(5))
	}
	return nil
}
