// Package stores persists the local run journal: one row per invocation,
// plus the stage events and reconciliation outcomes produced during it.
// The journal is a single-process SQLite database with embedded schema
// migrations; history is pruned by run age during cleanup.
package stores
