// Package selection implements the service selection algebra: typed service
// tokens, meta-group expansion, explicit negation, and mutual-exclusion group
// validation. Resolution is two-phase (expand, then subtract) so a negation
// always wins over any meta-group that would re-include the token. The result
// is an immutable SelectionSet computed exactly once per run.
package selection
