package policy

// BuiltinPolicies returns the admission rules shipped with the binary. They
// run before any backing-runtime interaction; operator policies from the
// policy directory are evaluated alongside them.
func BuiltinPolicies() []Policy {
	return []Policy{
		identityNamingPolicy(),
		imageHygienePolicy(),
		containerSafetyPolicy(),
		serviceExecPolicy(),
		helmNamespacePolicy(),
	}
}

// identityNamingPolicy enforces deployment identity naming conventions.
func identityNamingPolicy() Policy {
	return Policy{
		Name:        "identity-naming",
		Description: "Deployment identities must be lowercase DNS-style labels",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		Rego: `package berth.policies.naming

import rego.v1

deny contains violation if {
	name := input.request.identity
	lower(name) != name
	violation := {
		"message": sprintf("identity %q must be lowercase", [name]),
		"severity": "error",
		"identity": name,
	}
}

deny contains violation if {
	name := input.request.identity
	not regex.match("^[a-z0-9][a-z0-9-]*$", name)
	violation := {
		"message": sprintf("identity %q must start with an alphanumeric and contain only lowercase letters, digits, and hyphens", [name]),
		"severity": "error",
		"identity": name,
	}
}

deny contains violation if {
	name := input.request.identity
	regex.match("-$", name)
	violation := {
		"message": sprintf("identity %q must not end with a hyphen", [name]),
		"severity": "error",
		"identity": name,
	}
}

deny contains violation if {
	name := input.request.identity
	count(name) > 63
	violation := {
		"message": sprintf("identity %q must not exceed 63 characters", [name]),
		"severity": "error",
		"identity": name,
	}
}`,
	}
}

// imageHygienePolicy discourages unpinned container images.
func imageHygienePolicy() Policy {
	return Policy{
		Name:        "image-hygiene",
		Description: "Container images should be pinned to an explicit, non-latest tag",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"container", "images"},
		Rego: `package berth.policies.images

import rego.v1

deny contains violation if {
	input.request.kind == "container"
	image := input.request.container.image
	not contains(image, ":")
	not contains(image, "@")
	violation := {
		"message": sprintf("image %q has no tag and will float with the registry default", [image]),
		"severity": "warning",
		"identity": input.request.identity,
	}
}

deny contains violation if {
	input.request.kind == "container"
	image := input.request.container.image
	endswith(image, ":latest")
	violation := {
		"message": sprintf("image %q uses the latest tag; pin a version for repeatable runs", [image]),
		"severity": "warning",
		"identity": input.request.identity,
	}
}`,
	}
}

// containerSafetyPolicy blocks privileged containers and host control-socket
// mounts.
func containerSafetyPolicy() Policy {
	return Policy{
		Name:        "container-safety",
		Description: "Blocks privileged containers and docker control socket mounts",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"container", "safety"},
		Rego: `package berth.policies.containers

import rego.v1

deny contains violation if {
	input.request.kind == "container"
	some arg in input.request.container.extra_args
	arg == "--privileged"
	violation := {
		"message": "privileged containers are not allowed",
		"severity": "error",
		"identity": input.request.identity,
	}
}

deny contains violation if {
	input.request.kind == "container"
	some volume in input.request.container.volumes
	contains(volume, "/var/run/docker.sock")
	violation := {
		"message": sprintf("volume %q mounts the docker control socket", [volume]),
		"severity": "error",
		"identity": input.request.identity,
	}
}

deny contains violation if {
	input.request.kind == "container"
	some arg in input.request.container.extra_args
	startswith(arg, "--pid")
	contains(arg, "host")
	violation := {
		"message": "sharing the host PID namespace is not allowed",
		"severity": "error",
		"identity": input.request.identity,
	}
}`,
	}
}

// serviceExecPolicy checks host service parameters.
func serviceExecPolicy() Policy {
	return Policy{
		Name:        "service-exec",
		Description: "Service executables must use absolute paths; running as root is discouraged",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"service"},
		Rego: `package berth.policies.services

import rego.v1

deny contains violation if {
	input.request.kind == "service"
	path := input.request.service.exec_path
	not startswith(path, "/")
	violation := {
		"message": sprintf("exec path %q must be absolute", [path]),
		"severity": "error",
		"identity": input.request.identity,
	}
}

deny contains violation if {
	input.request.kind == "service"
	input.request.service.user == "root"
	violation := {
		"message": "service runs as root; prefer a dedicated service account",
		"severity": "warning",
		"identity": input.request.identity,
	}
}`,
	}
}

// helmNamespacePolicy validates the target namespace name.
func helmNamespacePolicy() Policy {
	return Policy{
		Name:        "helm-namespace",
		Description: "Helm release namespaces must be valid DNS labels outside kube-system",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"helm"},
		Rego: `package berth.policies.helm

import rego.v1

deny contains violation if {
	input.request.kind == "helm"
	ns := input.request.helm.namespace
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", ns)
	violation := {
		"message": sprintf("namespace %q is not a valid DNS label", [ns]),
		"severity": "error",
		"identity": input.request.identity,
	}
}

deny contains violation if {
	input.request.kind == "helm"
	input.request.helm.namespace == "kube-system"
	violation := {
		"message": "releases must not target the kube-system namespace",
		"severity": "error",
		"identity": input.request.identity,
	}
}`,
	}
}
