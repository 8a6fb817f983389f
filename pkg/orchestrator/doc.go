// Package orchestrator drives one provisioning run end to end: it resolves
// the service selection once, runs the policy preflight, opens a supervision
// session, and executes a fixed sequence of stages. Stage failures abort the
// run immediately; there is no rollback. Re-running is safe only from a fully
// torn-down environment, which is what the teardown path produces.
package orchestrator
