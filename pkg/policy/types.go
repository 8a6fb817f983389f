package policy

import "time"

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that abort the run before any
	// mutation.
	SeverityError Severity = "error"
)

// Policy represents a preflight rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the outcome of a preflight evaluation.
type Result struct {
	// Allowed indicates whether provisioning may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Environment describes the host the run targets.
type Environment struct {
	// OS is the operating system, e.g. "linux".
	OS string `json:"os"`

	// Distro is the distribution identifier, e.g. "ubuntu-24.04".
	Distro string `json:"distro"`

	// Supported reports whether the distro is on the supported list.
	Supported bool `json:"supported"`
}

// Input is the document policies evaluate against.
type Input struct {
	// Services are the resolved, enabled service tokens.
	Services []string `json:"services"`

	// Overrides are explicit operator override flags, e.g. "force".
	Overrides map[string]bool `json:"overrides,omitempty"`

	// Environment describes the target host.
	Environment Environment `json:"environment"`
}
