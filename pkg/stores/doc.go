// Package stores persists supervision sessions, their tasks, and run events
// in SQLite. Sessions and tasks must outlive the orchestrator process, so the
// registry lives on disk rather than in memory.
package stores
