// Package policy provides Rego-based admission control for deployment
// requests.
//
// Every request is evaluated before its strategy touches a backing runtime.
// Rules live in "deny" sets; each deny entry becomes a finding with a
// severity. Error-severity findings block the deployment (it fails in the
// precondition phase), warning-severity findings are surfaced in the run
// output but do not block.
//
// A built-in rule set ships with the binary: identity naming, container
// image pinning, privileged-container and control-socket guards, service
// exec-path hygiene, and helm namespace checks. Operators extend the set by
// dropping .rego files into the configured policy directory; the loader can
// watch that directory and recompile on change.
//
// Policy input shape:
//
//	{
//	  "request": { "kind": "...", "identity": "...", "container": {...} },
//	  "context": { "host_ip": "...", "host_type": "...", "timestamp": "..." }
//	}
package policy
