package engine

import (
	"context"
	"time"
)

// Strategy is the reconciliation capability set one backing technology
// implements. The engine drives any strategy through the same lifecycle and
// never inspects backing-runtime detail beyond attaching it to messages.
type Strategy interface {
	// Kind returns the deployment kind this strategy serves.
	Kind() Kind

	// DetectExisting reports the runtime's current state for the identity.
	// It must be a fresh read, never cached. A strategy whose apply
	// primitive is itself idempotent may report StateAbsent unconditionally
	// to opt out of the teardown phase.
	DetectExisting(ctx context.Context, identity string) (RuntimeState, error)

	// RemoveExisting tears down a present instance completely. Partial
	// cleanup (stopped but not removed) must be reported as failure.
	RemoveExisting(ctx context.Context, identity string) error

	// Apply executes the creation or update action for the request.
	Apply(ctx context.Context, req *DeploymentRequest) error

	// PollVerify performs one verification pass and reports the observed
	// state. The engine repeats it up to its probe budget, separated by
	// SettleDelay. A pass may itself block on the backing system's own
	// convergence bounds.
	PollVerify(ctx context.Context, identity string) (RuntimeState, error)

	// SettleDelay is the pause before each verification probe, absorbing
	// normal startup latency.
	SettleDelay() time.Duration

	// Diagnostics returns up to maxLines of recent backing-runtime output
	// for the identity, best-effort, for attachment to a failed outcome.
	Diagnostics(ctx context.Context, identity string, maxLines int) string
}

// Reporter is the collector sink the engine mirrors lifecycle transitions
// to. Sends are best-effort: a returned error is logged at warning level
// and never affects the reconciliation outcome.
type Reporter interface {
	// Send emits one stage/status/message triple.
	Send(ctx context.Context, stage string, status ReportStatus, message string) error
}

// NopReporter discards every event. Useful for tests and for runs with
// reporting disabled.
type NopReporter struct{}

// Send implements Reporter.
func (NopReporter) Send(ctx context.Context, stage string, status ReportStatus, message string) error {
	return nil
}
