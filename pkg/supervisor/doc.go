// Package supervisor launches and tracks long-running service processes.
//
// A Session groups every supervised task of one orchestration run. Spawned
// tasks are detached into their own process group and keep running after the
// orchestrator exits, so operators can inspect or stop them later. Session
// and task state is persisted in the registry store, which is also how a
// second run detects a conflicting active session.
package supervisor
