package governance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"corese/pkg/fault"
	"corese/pkg/persistence"
)

func TestTaskTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		valid    bool
	}{
		{persistence.TaskStatusBacklog, persistence.TaskStatusInProgress, true},
		{persistence.TaskStatusBacklog, persistence.TaskStatusReview, true},
		{persistence.TaskStatusInProgress, persistence.TaskStatusReview, true},
		{persistence.TaskStatusReview, persistence.TaskStatusInProgress, true},
		{persistence.TaskStatusInProgress, persistence.TaskStatusDone, true},
		{persistence.TaskStatusBacklog, persistence.TaskStatusDone, false},
		{persistence.TaskStatusReview, persistence.TaskStatusDone, false},
		{persistence.TaskStatusDone, persistence.TaskStatusInProgress, false},
		// No modeled path back to backlog
		{persistence.TaskStatusReview, persistence.TaskStatusBacklog, false},
		{persistence.TaskStatusInProgress, persistence.TaskStatusBacklog, false},
	}

	for _, tc := range cases {
		task := &persistence.Task{ID: "t1", Status: tc.from}
		err := TaskTransition(task, tc.to)
		if tc.valid {
			assert.NoError(t, err, "%s -> %s should be valid", tc.from, tc.to)
		} else {
			var invalid *fault.InvalidStateError
			assert.True(t, errors.As(err, &invalid), "%s -> %s should be invalid", tc.from, tc.to)
		}
	}
}

func TestPlanTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		valid    bool
	}{
		{persistence.PlanStatusPending, persistence.PlanStatusApproved, true},
		{persistence.PlanStatusPending, persistence.PlanStatusRejected, true},
		{persistence.PlanStatusApproved, persistence.PlanStatusExecuted, true},
		{persistence.PlanStatusPending, persistence.PlanStatusExecuted, false},
		{persistence.PlanStatusRejected, persistence.PlanStatusApproved, false},
		{persistence.PlanStatusExecuted, persistence.PlanStatusApproved, false},
	}

	for _, tc := range cases {
		plan := &persistence.Plan{ID: "p1", Status: tc.from}
		err := PlanTransition(plan, tc.to)
		if tc.valid {
			assert.NoError(t, err, "%s -> %s should be valid", tc.from, tc.to)
		} else {
			assert.Error(t, err, "%s -> %s should be invalid", tc.from, tc.to)
		}
	}
}

func TestRunTransitions(t *testing.T) {
	running := &persistence.Run{ID: "r1", Status: persistence.RunStatusRunning}
	assert.NoError(t, RunTransition(running, persistence.RunStatusCompleted))
	assert.NoError(t, RunTransition(running, persistence.RunStatusFailed))

	completed := &persistence.Run{ID: "r1", Status: persistence.RunStatusCompleted}
	assert.Error(t, RunTransition(completed, persistence.RunStatusRunning))
	assert.Error(t, RunTransition(completed, persistence.RunStatusFailed))
}

func TestIsTerminalTaskState(t *testing.T) {
	assert.True(t, IsTerminalTaskState(persistence.TaskStatusDone))
	assert.False(t, IsTerminalTaskState(persistence.TaskStatusBacklog))
	assert.False(t, IsTerminalTaskState(persistence.TaskStatusReview))
}
