// Package pipeline sequences one orchestrator invocation through its fixed
// stage order: collection, reconciliation, validation, cleanup, summary.
//
// The sequencer owns everything around the reconciliation engine: admission
// through the policy engine, strategy selection against the probed host
// capabilities, journaling, report fan-out, and the operator-facing
// execution log. Per-unit failures are recorded and the run continues;
// cleanup and the summary always execute.
package pipeline
