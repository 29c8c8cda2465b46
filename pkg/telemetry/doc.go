// Package telemetry provides the observability stack for the orchestrator:
// structured logging on zerolog, OpenTelemetry tracing, and Prometheus
// metrics on a private registry.
//
// The defaults suit a one-shot CLI: the engineering log is always on,
// tracing and metrics are opt-in. Disabled components degrade to no-ops, so
// callers record unconditionally.
package telemetry
