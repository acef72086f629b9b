// Package governance implements the task/plan/run/verification workflow:
// an agent proposes a plan against a task, a human approves or rejects it,
// the agent executes the approved plan as a run and reports completion with
// evidence that seeds verification records.
package governance

import (
	"corese/pkg/fault"
	"corese/pkg/persistence"
)

// validTaskTransitions defines the task state machine.
//
// Plan rejection returns the task to in_progress rather than backlog: the
// assignment is retained and the agent revises its plan. There is no
// modeled transition back to backlog.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTaskTransitions = map[string][]string{
	persistence.TaskStatusBacklog: {
		persistence.TaskStatusInProgress, // agent claims the task
		persistence.TaskStatusReview,     // plan submitted straight from backlog
	},
	persistence.TaskStatusInProgress: {
		persistence.TaskStatusReview, // plan submitted
		persistence.TaskStatusDone,   // completion reported
	},
	persistence.TaskStatusReview: {
		persistence.TaskStatusInProgress, // plan approved (execution starts) or rejected (revise)
	},
	persistence.TaskStatusDone: {
		// Terminal state - no outgoing transitions
	},
}

// validPlanTransitions defines the plan state machine.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validPlanTransitions = map[string][]string{
	persistence.PlanStatusPending: {
		persistence.PlanStatusApproved,
		persistence.PlanStatusRejected,
	},
	persistence.PlanStatusApproved: {
		persistence.PlanStatusExecuted,
	},
	persistence.PlanStatusRejected: {
		// Terminal state - the agent submits a new plan instead
	},
	persistence.PlanStatusExecuted: {
		// Terminal state
	},
}

// validRunTransitions defines the run state machine. The failed state is a
// deliberate addition over completed-only: an aborted execution needs a
// terminal state of its own so the task can be released for another try.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validRunTransitions = map[string][]string{
	persistence.RunStatusRunning: {
		persistence.RunStatusCompleted,
		persistence.RunStatusFailed,
	},
	persistence.RunStatusCompleted: {
		// Terminal state
	},
	persistence.RunStatusFailed: {
		// Terminal state
	},
}

func isValidTransition(table map[string][]string, from, to string) bool {
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TaskTransition validates a task status change, returning InvalidState
// for an illegal move.
func TaskTransition(task *persistence.Task, to string) error {
	if !isValidTransition(validTaskTransitions, task.Status, to) {
		return fault.InvalidState("task", task.ID, task.Status,
			"cannot transition to "+to)
	}
	return nil
}

// PlanTransition validates a plan status change.
func PlanTransition(plan *persistence.Plan, to string) error {
	if !isValidTransition(validPlanTransitions, plan.Status, to) {
		return fault.InvalidState("plan", plan.ID, plan.Status,
			"cannot transition to "+to)
	}
	return nil
}

// RunTransition validates a run status change.
func RunTransition(run *persistence.Run, to string) error {
	if !isValidTransition(validRunTransitions, run.Status, to) {
		return fault.InvalidState("run", run.ID, run.Status,
			"cannot transition to "+to)
	}
	return nil
}

// IsTerminalTaskState reports whether a task status has no outgoing
// transitions.
func IsTerminalTaskState(status string) bool {
	return len(validTaskTransitions[status]) == 0
}
