package engine

import (
	"path/filepath"
	"strings"
	"time"
)

// DeploymentRequest is the immutable description of one deployment unit.
// It is constructed once per invocation from caller input and never mutated
// after construction. Exactly one of the kind-specific parameter bags is
// populated, matching Kind.
type DeploymentRequest struct {
	// Kind selects the backing technology.
	Kind Kind `json:"kind"`

	// Identity is the unit's name, unique within its kind's namespace for
	// the lifetime of one host (container name, service name, release name).
	Identity string `json:"identity"`

	// Container holds the parameter bag for KindContainer requests.
	Container *ContainerSpec `json:"container,omitempty"`

	// Service holds the parameter bag for KindService requests.
	Service *ServiceSpec `json:"service,omitempty"`

	// Helm holds the parameter bag for KindHelmRelease requests.
	Helm *HelmSpec `json:"helm,omitempty"`
}

// ContainerSpec describes a container deployment as flat scalar parameters.
type ContainerSpec struct {
	// Image is the image reference to pull and run.
	Image string `json:"image"`

	// Ports are host:container publish specs passed through to the runtime.
	Ports []string `json:"ports,omitempty"`

	// Env is the environment injected into the container. Values are
	// redacted from all logged command text.
	Env map[string]string `json:"env,omitempty"`

	// Volumes are host:container mount specs.
	Volumes []string `json:"volumes,omitempty"`

	// ExtraArgs are additional run arguments appended verbatim.
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// ServiceSpec describes an OS-level background service deployment.
type ServiceSpec struct {
	// ExecPath is the absolute path of the executable to run.
	ExecPath string `json:"exec_path"`

	// User is the account the service runs as.
	User string `json:"user"`

	// WorkDir is the working directory for the service process.
	WorkDir string `json:"work_dir,omitempty"`

	// Args are arguments passed to the executable.
	Args []string `json:"args,omitempty"`

	// Description is the free-text description embedded in the rendered
	// unit or init script.
	Description string `json:"description,omitempty"`
}

// HelmSpec describes a Helm-managed Kubernetes release deployment.
type HelmSpec struct {
	// Chart is the chart reference: a repo/chart alias form or a
	// filesystem path.
	Chart string `json:"chart"`

	// Namespace is the target namespace. Created if missing.
	Namespace string `json:"namespace"`

	// ValuesFile is an optional values file path. If set and absent on
	// disk, apply fails before the install primitive is invoked.
	ValuesFile string `json:"values_file,omitempty"`

	// ExtraArgs are additional install arguments appended verbatim.
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// Validate checks the request is well-formed for its kind. Violations are
// precondition-class errors; nothing has touched a backing runtime yet.
func (r *DeploymentRequest) Validate() error {
	if r == nil {
		return NewPreconditionError("request is nil", nil).WithCode(ErrCodeValidation)
	}
	if err := r.Kind.Validate(); err != nil {
		return NewPreconditionError("invalid deployment kind", err).WithCode(ErrCodeValidation)
	}
	if strings.TrimSpace(r.Identity) == "" {
		return NewPreconditionError("deployment identity is required", nil).WithCode(ErrCodeValidation)
	}

	switch r.Kind {
	case KindContainer:
		if r.Container == nil {
			return NewPreconditionError("container parameters are required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
		if r.Container.Image == "" {
			return NewPreconditionError("container image is required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
	case KindService:
		if r.Service == nil {
			return NewPreconditionError("service parameters are required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
		if r.Service.ExecPath == "" {
			return NewPreconditionError("service exec path is required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
		if !filepath.IsAbs(r.Service.ExecPath) {
			return NewPreconditionError("service exec path must be absolute", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
		if r.Service.User == "" {
			return NewPreconditionError("service user is required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
	case KindHelmRelease:
		if r.Helm == nil {
			return NewPreconditionError("helm parameters are required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
		if r.Helm.Chart == "" {
			return NewPreconditionError("helm chart reference is required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
		if r.Helm.Namespace == "" {
			return NewPreconditionError("helm target namespace is required", nil).
				WithIdentity(r.Identity).WithCode(ErrCodeValidation)
		}
	}
	return nil
}

// DeploymentOutcome is the result of one reconciliation attempt. Produced
// exactly once per DeploymentRequest per invocation.
type DeploymentOutcome struct {
	// Kind is the request's deployment kind.
	Kind Kind `json:"kind"`

	// Identity is the request's deployment identity.
	Identity string `json:"identity"`

	// Status is the overall result.
	Status Status `json:"status"`

	// Stage is the lifecycle phase reached. On failure it names the phase
	// that failed; on success it is always the verify phase.
	Stage Stage `json:"stage"`

	// Message is free text sufficient to diagnose a failed phase. Verify
	// failures carry a diagnostic tail from the backing runtime.
	Message string `json:"message"`

	// FinalState is the runtime state observed after the verification poll
	// completed or timed out. Only trusted at that point.
	FinalState RuntimeState `json:"final_state"`

	// StartedAt is when the reconciliation began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total reconciliation wall time.
	Duration time.Duration `json:"duration"`
}

// Succeeded returns true if the reconciliation reached a verified running state.
func (o *DeploymentOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}
