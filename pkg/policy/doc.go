// Package policy provides Open Policy Agent (OPA) preflight checks.
//
// Policies are Rego modules evaluated against the resolved service selection,
// operator overrides, and the target environment before any resource is
// mutated. A deny with error severity aborts the run with zero mutation;
// warning denies are reported but do not block.
//
// Built-in policies cover conflicting co-enabled service pairs and
// unsupported distros without an explicit force override. Additional
// policies can be loaded from .rego files or YAML definitions carrying
// inline Rego.
package policy
