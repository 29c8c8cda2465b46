package stores

import (
	"context"
	"time"

	"github.com/openberth/berth/pkg/engine"
)

// RunStatus is the lifecycle state of one orchestrator invocation.
type RunStatus string

const (
	// RunStatusRunning marks an invocation in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted marks an invocation where every unit converged.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed marks an invocation with at least one failed unit or
	// an aborted pipeline.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled marks an invocation interrupted by a signal.
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one orchestrator invocation in the journal.
type Run struct {
	// ID is the run's unique identifier.
	ID string `json:"id"`

	// HostIP is the reported target address.
	HostIP string `json:"host_ip"`

	// HostPort is the reported target port.
	HostPort int `json:"host_port"`

	// HostType is the kind filter the run was invoked with.
	HostType string `json:"host_type"`

	// Status is the run's lifecycle state.
	Status RunStatus `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is set when the run reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error carries the pipeline-level failure, if any.
	Error *string `json:"error,omitempty"`
}

// StageEvent is one lifecycle phase transition recorded during a run.
type StageEvent struct {
	// ID is the auto-assigned row identifier.
	ID int64 `json:"id"`

	// RunID ties the event to its run.
	RunID string `json:"run_id"`

	// Identity is the deployment unit the event belongs to.
	Identity string `json:"identity"`

	// Kind is the unit's deployment kind.
	Kind string `json:"kind"`

	// Stage is the lifecycle phase.
	Stage string `json:"stage"`

	// Status is the phase result (started, success, failure).
	Status string `json:"status"`

	// Message is free-text detail.
	Message string `json:"message,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// DeploymentRecord is the journalled outcome of one reconciliation.
type DeploymentRecord struct {
	// ID is the auto-assigned row identifier.
	ID int64 `json:"id"`

	// RunID ties the record to its run.
	RunID string `json:"run_id"`

	// Kind is the deployment kind.
	Kind string `json:"kind"`

	// Identity is the deployment unit name.
	Identity string `json:"identity"`

	// Status is the overall result.
	Status string `json:"status"`

	// Stage is the lifecycle phase reached.
	Stage string `json:"stage"`

	// Message is the outcome detail, including any diagnostic tail.
	Message string `json:"message,omitempty"`

	// FinalState is the runtime state observed after verification.
	FinalState string `json:"final_state"`

	// StartedAt is when the reconciliation began.
	StartedAt time.Time `json:"started_at"`

	// DurationMS is the reconciliation wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Store is the journal persistence interface.
type Store interface {
	// Init opens the database connection.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Close releases the database connection.
	Close() error

	// CreateRun records a new invocation.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun marks a run terminal with an optional pipeline error.
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg *string) error

	// GetRun fetches one run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest-first.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// AppendStageEvent records one phase transition.
	AppendStageEvent(ctx context.Context, event *StageEvent) error

	// ListStageEventsByRun returns a run's events in order.
	ListStageEventsByRun(ctx context.Context, runID string) ([]*StageEvent, error)

	// RecordOutcome journals one reconciliation outcome.
	RecordOutcome(ctx context.Context, runID string, outcome *engine.DeploymentOutcome) error

	// ListOutcomesByRun returns a run's outcomes in recorded order.
	ListOutcomesByRun(ctx context.Context, runID string) ([]*DeploymentRecord, error)

	// PruneBefore removes runs (and their events and outcomes) started
	// before the cutoff. Returns the number of runs removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// HealthCheck verifies the connection is usable.
	HealthCheck(ctx context.Context) error
}
