package models

// WorkerRole identifies what kind of agent session a worker slot runs.
type WorkerRole string

const (
	// RoleCoding runs an implementation session over a feature batch.
	RoleCoding WorkerRole = "coding"
	// RoleTesting runs a verification session over completed features.
	RoleTesting WorkerRole = "testing"
	// RoleInitializer runs the one-shot project bootstrap session.
	RoleInitializer WorkerRole = "initializer"
)

// Valid returns true if the role is a known value.
func (r WorkerRole) Valid() bool {
	switch r {
	case RoleCoding, RoleTesting, RoleInitializer:
		return true
	default:
		return false
	}
}

// WorkerState represents the lifecycle state of a worker slot.
type WorkerState string

const (
	// WorkerIdle indicates the slot hosts no process.
	WorkerIdle WorkerState = "idle"
	// WorkerStarting indicates the process has been launched but has
	// produced no output yet.
	WorkerStarting WorkerState = "starting"
	// WorkerRunning indicates the process is producing output.
	WorkerRunning WorkerState = "running"
	// WorkerFinishing indicates a graceful stop was requested and the
	// process is wrapping up.
	WorkerFinishing WorkerState = "finishing"
	// WorkerExited indicates the process has exited and awaits harvest.
	WorkerExited WorkerState = "exited"
)

// Active returns true while the slot occupies a process-count ceiling slot.
func (s WorkerState) Active() bool {
	switch s {
	case WorkerStarting, WorkerRunning, WorkerFinishing:
		return true
	default:
		return false
	}
}

// Outcome is the parsed terminal status of an agent session.
// Agent stdout is an untrusted stream; anything this core cannot
// interpret maps to OutcomeUnknown rather than an error.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeCrashed Outcome = "crashed"
	OutcomeUnknown Outcome = "unknown"
)

// RunStatus represents the orchestrator-wide shutdown state machine.
type RunStatus string

const (
	// RunStopped is the initial and terminal state with no slots active.
	RunStopped RunStatus = "stopped"
	// RunRunning is normal operation.
	RunRunning RunStatus = "running"
	// RunFinishing means a soft stop was requested and in-flight
	// sessions are draining.
	RunFinishing RunStatus = "finishing"
	// RunCrashed means the run hit an unrecoverable condition.
	RunCrashed RunStatus = "crashed"
)

// StopReason records how a run reached RunStopped, so observers can
// distinguish "finished" from "cut short".
type StopReason string

const (
	// StopCompleted means the run ran out of work.
	StopCompleted StopReason = "completed"
	// StopDrained means a soft stop let in-flight work finish.
	StopDrained StopReason = "drained"
	// StopOperator means a hard stop tore the process tree down.
	StopOperator StopReason = "stopped_by_operator"
)
