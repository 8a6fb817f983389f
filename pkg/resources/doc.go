// Package resources manages idempotent external resource lifecycles.
//
// Every kind exposes EnsureAbsent and EnsurePresent, with EnsurePresent
// defined as EnsureAbsent followed by creation. Callers never check for
// existence first; repeated EnsurePresent calls converge on one resource
// with no duplicates or orphaned artifacts. Host mutation goes through the
// Runner abstraction so the same managers work over local exec or SSH.
package resources
