// Package engine implements the deployment reconciliation core.
//
// The engine drives one deployment strategy at a time through a fixed
// lifecycle: detect an existing instance, tear it down if present, apply the
// strategy's creation or update action, then verify the post-apply state with
// a bounded poll. The result is classified into a single DeploymentOutcome so
// one pipeline and one reporting contract cover every backing technology.
//
// Strategies implement the capability set in the Strategy interface. The
// engine never inspects backing-runtime detail beyond attaching diagnostic
// text to outcome messages, which keeps it testable against a fake strategy.
//
// Failure taxonomy:
//
//   - precondition: raised before any mutating runtime interaction
//   - teardown: an existing instance could not be removed; apply is skipped
//   - apply: the creation or update action failed
//   - verify: the post-apply state never reached running within the bound
//   - reporting: collector send failure; never fatal
//
// Every class except reporting is terminal for its request. Retries, if any,
// are the caller's responsibility for a whole new invocation.
package engine
