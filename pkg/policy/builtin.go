package policy

// BuiltinPolicies returns the preflight policies shipped with the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		conflictingServicesPolicy(),
		supportedEnvironmentPolicy(),
		serviceNamingPolicy(),
	}
}

// conflictingServicesPolicy rejects selections that co-enable services known
// to fight over the same port or backend.
func conflictingServicesPolicy() Policy {
	return Policy{
		Name:        "conflicting-services",
		Description: "Rejects service selections that co-enable conflicting pairs",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"preflight", "selection"},
		Rego: `package devlab.policies.conflicts

import rego.v1

# Pairs of services that cannot run on the same host.
conflicting_pairs := [
	["rabbit", "zeromq"],
	["mysql", "postgresql"],
	["rabbit", "qpid"],
	["qpid", "zeromq"],
]

deny contains violation if {
	some pair in conflicting_pairs
	pair[0] in input.services
	pair[1] in input.services
	violation := {
		"message": sprintf("Services %s and %s conflict and cannot be enabled together", [pair[0], pair[1]]),
		"severity": "error",
	}
}
`,
	}
}

// supportedEnvironmentPolicy requires a supported distro unless the operator
// sets the force override.
func supportedEnvironmentPolicy() Policy {
	return Policy{
		Name:        "supported-environment",
		Description: "Blocks runs on unsupported distros unless the force override is set",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"preflight", "environment"},
		Rego: `package devlab.policies.environment

import rego.v1

deny contains violation if {
	not input.environment.supported
	not input.overrides.force
	violation := {
		"message": sprintf("Distro %s is not supported; set the force override to proceed anyway", [input.environment.distro]),
		"severity": "error",
	}
}

deny contains violation if {
	not input.environment.supported
	input.overrides.force
	violation := {
		"message": sprintf("Distro %s is not supported; proceeding because force is set", [input.environment.distro]),
		"severity": "warning",
	}
}
`,
	}
}

// serviceNamingPolicy flags service tokens that do not follow conventions.
func serviceNamingPolicy() Policy {
	return Policy{
		Name:        "service-naming",
		Description: "Flags service tokens that are not lowercase alphanumeric",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"preflight", "naming"},
		Rego: `package devlab.policies.naming

import rego.v1

deny contains violation if {
	some service in input.services
	not regex.match("^[a-z][a-z0-9-]*$", service)
	violation := {
		"message": sprintf("Service token %q does not follow naming conventions", [service]),
		"severity": "warning",
	}
}
`,
	}
}
