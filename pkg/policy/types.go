package policy

import (
	"time"

	"github.com/openberth/berth/pkg/engine"
)

// Severity grades a policy violation.
type Severity string

const (
	// SeverityWarning marks findings that are surfaced but do not block a
	// deployment.
	SeverityWarning Severity = "warning"

	// SeverityError marks findings that block the deployment before any
	// runtime interaction.
	SeverityError Severity = "error"
)

// Policy is one admission rule with its Rego source.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego is the policy source. Rules emit deny entries; each entry
	// carries its own severity.
	Rego string `json:"rego"`

	// Severity applies to deny entries that do not state their own.
	Severity Severity `json:"severity"`

	// Enabled toggles evaluation.
	Enabled bool `json:"enabled"`

	// Tags group related policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation is one finding against a deployment request.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Identity is the deployment unit the finding applies to.
	Identity string `json:"identity,omitempty"`

	// Message is the human-readable finding.
	Message string `json:"message"`

	// Severity grades the finding.
	Severity Severity `json:"severity"`
}

// Result is the admission decision for one deployment request.
type Result struct {
	// Allowed is false when any error-severity violation was found.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking findings, surfaced in the run output.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies names every policy consulted.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is the evaluation timestamp.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document handed to Rego evaluation.
type Input struct {
	// Request is the deployment unit under admission.
	Request *engine.DeploymentRequest `json:"request"`

	// Context carries run-level facts the rules may consult.
	Context *Context `json:"context"`
}

// Context is run-level information for policy rules.
type Context struct {
	// HostIP is the reported target address.
	HostIP string `json:"host_ip,omitempty"`

	// HostType is the kind filter the run was invoked with.
	HostType string `json:"host_type,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
