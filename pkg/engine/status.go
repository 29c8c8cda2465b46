package engine

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which backing technology a deployment unit targets.
type Kind string

const (
	// KindContainer deploys a container through the host's container engine.
	KindContainer Kind = "container"

	// KindService deploys an OS-level background service through the host's
	// service manager (unit-based or legacy init).
	KindService Kind = "service"

	// KindHelmRelease deploys a Helm-managed Kubernetes release.
	KindHelmRelease Kind = "helm"
)

// Validate checks if the deployment kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindContainer, KindService, KindHelmRelease:
		return nil
	default:
		return fmt.Errorf("invalid deployment kind: %s", k)
	}
}

// RuntimeState describes a backing runtime's current knowledge of a
// deployment identity. It is read fresh at the start of each reconciliation
// and never cached across runs.
type RuntimeState string

const (
	// StateAbsent indicates the runtime has no instance for the identity.
	StateAbsent RuntimeState = "absent"

	// StatePresentStopped indicates an instance exists but is not running.
	StatePresentStopped RuntimeState = "present-stopped"

	// StatePresentRunning indicates an instance exists and is running.
	StatePresentRunning RuntimeState = "present-running"

	// StatePresentUnknown indicates an instance exists but its liveness
	// could not be determined.
	StatePresentUnknown RuntimeState = "present-unknown"
)

// IsPresent returns true if the runtime holds any instance for the identity,
// running or not.
func (s RuntimeState) IsPresent() bool {
	return s == StatePresentStopped || s == StatePresentRunning || s == StatePresentUnknown
}

// Validate checks if the runtime state is valid.
func (s RuntimeState) Validate() error {
	switch s {
	case StateAbsent, StatePresentStopped, StatePresentRunning, StatePresentUnknown:
		return nil
	default:
		return fmt.Errorf("invalid runtime state: %s", s)
	}
}

// Status represents the overall result of one reconciliation attempt.
type Status string

const (
	// StatusSuccess indicates all lifecycle phases completed and the final
	// state was verified running.
	StatusSuccess Status = "success"

	// StatusFailure indicates a lifecycle phase failed terminally.
	StatusFailure Status = "failure"
)

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusSuccess, StatusFailure:
		return nil
	default:
		return fmt.Errorf("invalid status: %s", s)
	}
}

// Stage identifies the reconciliation lifecycle phase an outcome reached.
type Stage string

const (
	// StagePrecondition covers failures raised before any mutating runtime
	// interaction (missing tool, missing file, bad permission, rejected
	// request).
	StagePrecondition Stage = "precondition"

	// StageTeardown covers removal of a pre-existing instance.
	StageTeardown Stage = "teardown"

	// StageApply covers the strategy's creation or update action.
	StageApply Stage = "apply"

	// StageVerify covers the bounded post-apply verification poll. A
	// successful outcome always reports StageVerify.
	StageVerify Stage = "verify"
)

// Validate checks if the stage is valid.
func (s Stage) Validate() error {
	switch s {
	case StagePrecondition, StageTeardown, StageApply, StageVerify:
		return nil
	default:
		return fmt.Errorf("invalid stage: %s", s)
	}
}

// ReportStatus is the status vocabulary of the remote collector contract.
type ReportStatus string

const (
	// ReportStarted marks the beginning of a reconciliation or pipeline stage.
	ReportStarted ReportStatus = "started"

	// ReportSuccess marks a phase or stage that completed successfully.
	ReportSuccess ReportStatus = "success"

	// ReportFailure marks a phase or stage that failed.
	ReportFailure ReportStatus = "failure"

	// ReportCompleted marks the end of a whole pipeline run.
	ReportCompleted ReportStatus = "completed"
)

// Validate checks if the report status is valid.
func (s ReportStatus) Validate() error {
	switch s {
	case ReportStarted, ReportSuccess, ReportFailure, ReportCompleted:
		return nil
	default:
		return fmt.Errorf("invalid report status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RuntimeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RuntimeState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RuntimeState(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}
