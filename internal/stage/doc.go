// Package stage defines the unit of deployment work and the ordered registry
// of stages the orchestrator walks.
//
// An [Action] performs one stage and reports a [Result]. Actions must be
// idempotent and never touch the persisted deployment state; recording
// outcomes is the orchestrator's job.
package stage
