// Package orchestrator runs the stage registry against the persisted
// deployment state.
//
// Each invocation initializes the state document if needed, takes the
// deployment lock, and resumes at the first stage that is not completed.
// Every transition is committed to disk before the next step, so a crash or
// reboot at any point resumes from the last committed write. A stage that
// asks for a reboot is recorded as completed together with the reboot flag,
// the boot trigger is armed, and the host restarts; the boot-time invocation
// runs in resume mode, validates the rebooted stage and continues.
package orchestrator
