package governance

import (
	"fmt"
	"strings"

	"corese/pkg/fault"
	"corese/pkg/ledger"
	"corese/pkg/logx"
	"corese/pkg/pathfind"
	"corese/pkg/persistence"
)

// sourceSystem tags every ledger event the workflow writes.
const sourceSystem = "governance"

// precedentResultLimit caps precedent lookups.
const precedentResultLimit = 5

// Workflow drives the task/plan/run lifecycle. All operations are
// self-contained units of work against the shared store; there is no
// background scheduler.
type Workflow struct {
	store  *persistence.Store
	paths  *pathfind.Engine
	events *ledger.Ledger
	logger *logx.Logger
}

// NewWorkflow wires the workflow to its store, pathfinding engine, and
// event ledger.
func NewWorkflow(store *persistence.Store, paths *pathfind.Engine, events *ledger.Ledger) *Workflow {
	return &Workflow{
		store:  store,
		paths:  paths,
		events: events,
		logger: logx.NewLogger("governance"),
	}
}

// CreateTask adds a task to the backlog.
func (w *Workflow) CreateTask(task *persistence.Task) (*persistence.Task, error) {
	if task.Status == "" {
		task.Status = persistence.TaskStatusBacklog
	}
	if task.AssigneeType == "" {
		task.AssigneeType = persistence.AssigneeAgent
	}
	if err := w.store.InsertTask(task); err != nil {
		return nil, err
	}
	if _, err := w.events.RecordEvent(task.ProjectID, sourceSystem, "task", task.ID,
		persistence.EventCreated, persistence.DiffPayload{
			Details: map[string]any{"title": task.Title},
		}); err != nil {
		w.logger.Warn("failed to record task creation event: %v", err)
	}
	return task, nil
}

// CheckAssignedTasks returns tasks assigned to the agent or unassigned,
// in the given statuses (default backlog and in_progress), ordered by
// priority then creation time.
func (w *Workflow) CheckAssignedTasks(projectID, agentID string, statuses []string) ([]*persistence.Task, error) {
	if len(statuses) == 0 {
		statuses = []string{persistence.TaskStatusBacklog, persistence.TaskStatusInProgress}
	}
	return w.store.GetTasksByFilter(&persistence.TaskFilter{
		ProjectID:    projectID,
		AssigneeType: persistence.AssigneeAgent,
		AssigneeID:   agentID,
		Statuses:     statuses,
	})
}

// SubmitPlanInput carries the two mutually exclusive plan modes: explicit
// steps, or a goal node for auto-planning from the task's context node.
//
//nolint:govet // struct alignment optimization not critical for this type
type SubmitPlanInput struct {
	TaskID               string
	ProposedBy           string
	Rationale            string
	Steps                []persistence.PlanStep
	GoalNodeID           string
	AllowedRelationTypes []string
	MaxWeight            float64
}

// SubmitPlan persists a pending plan for a task and moves the task to
// review. With a goal node and a task context node, the plan's steps are
// synthesized from the shortest path between them and the rationale gains
// a suffix naming the traversal and its total weight. When pathfinding
// fails, manual steps serve as the fallback; with neither, the submission
// fails outright.
func (w *Workflow) SubmitPlan(projectID string, input SubmitPlanInput) (*persistence.Plan, error) {
	if input.TaskID == "" {
		return nil, fault.MissingParams("task_id")
	}
	task, err := w.store.GetTask(input.TaskID)
	if err != nil {
		return nil, err
	}
	if err := TaskTransition(task, persistence.TaskStatusReview); err != nil {
		return nil, err
	}

	plan := &persistence.Plan{
		TaskID:     task.ID,
		ProposedBy: input.ProposedBy,
		Rationale:  input.Rationale,
		Steps:      input.Steps,
	}

	if input.GoalNodeID != "" && task.ContextNodeID != "" {
		path, pathErr := w.paths.FindShortestPath(projectID, task.ContextNodeID, input.GoalNodeID,
			pathfind.Options{
				AllowedRelationTypes: input.AllowedRelationTypes,
				MaxWeight:            input.MaxWeight,
			})
		switch {
		case pathErr == nil && path != nil:
			plan.Steps = synthesizeSteps(path)
			plan.PlannedTraversal = traversalIDs(path)
			plan.Rationale = input.Rationale + traversalRationale(path)
		case len(input.Steps) > 0:
			plan.Rationale = input.Rationale +
				" (auto-planning found no path; falling back to manual steps)"
			w.logger.Warn("auto-planning failed for task %s, using manual steps: %v", task.ID, pathErr)
		case pathErr != nil:
			return nil, fmt.Errorf("auto-planning failed and no manual steps given: %w", pathErr)
		default:
			return nil, fmt.Errorf("no path from context node %s to goal node %s and no manual steps given",
				task.ContextNodeID, input.GoalNodeID)
		}
	} else if len(plan.Steps) == 0 {
		return nil, fault.MissingParams("steps")
	}

	if err := w.store.InsertPlan(plan); err != nil {
		return nil, err
	}
	if err := w.store.UpdateTaskStatus(task.ID, persistence.TaskStatusReview); err != nil {
		return nil, err
	}

	w.recordStatusChange(projectID, "plan", plan.ID, "", persistence.PlanStatusPending)
	w.recordStatusChange(projectID, "task", task.ID, task.Status, persistence.TaskStatusReview)
	w.logger.Info("plan %s submitted for task %s (%d steps)", plan.ID, task.ID, len(plan.Steps))
	return plan, nil
}

// synthesizeSteps turns a computed path into one execution step per node.
func synthesizeSteps(path *pathfind.Path) []persistence.PlanStep {
	steps := make([]persistence.PlanStep, 0, len(path.Steps))
	for i, hop := range path.Steps {
		step := persistence.PlanStep{
			StepNumber: i + 1,
			Tool:       "traverseGraphEdge",
			Action:     fmt.Sprintf("Traverse to %s", nodeLabel(hop)),
			Args: map[string]any{
				"node_id": hop.NodeID,
				"edge_id": hop.EdgeID,
			},
		}
		if i == 0 {
			step.Tool = "startAtNode"
			step.Action = fmt.Sprintf("Start at %s", nodeLabel(hop))
			step.Args = map[string]any{"node_id": hop.NodeID}
		}
		steps = append(steps, step)
	}
	return steps
}

func traversalIDs(path *pathfind.Path) []string {
	ids := make([]string, 0, len(path.Steps))
	for _, hop := range path.Steps {
		ids = append(ids, hop.NodeID)
	}
	return ids
}

// traversalRationale renders the auto-planning suffix: the node sequence
// and the total weight to two decimals.
func traversalRationale(path *pathfind.Path) string {
	names := make([]string, 0, len(path.Steps))
	for _, hop := range path.Steps {
		names = append(names, nodeLabel(hop))
	}
	return fmt.Sprintf(" [auto-planned traversal %s, total weight %.2f]",
		strings.Join(names, " -> "), path.TotalWeight)
}

func nodeLabel(hop pathfind.Step) string {
	if hop.Node != nil && hop.Node.Name != "" {
		return hop.Node.Name
	}
	return hop.NodeID
}

// PlanStatus is the reviewable view of a plan: its current state, whether
// it may execute, and the status history from the ledger.
type PlanStatus struct {
	Plan       *persistence.Plan      `json:"plan"`
	CanExecute bool                   `json:"can_execute"`
	History    []ledger.TimelineEntry `json:"history"`
}

// CheckPlanStatus returns a plan's current status plus its approval
// history, derived from status_changed events rather than a separate
// review table.
func (w *Workflow) CheckPlanStatus(projectID, planID string) (*PlanStatus, error) {
	plan, err := w.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	history, err := w.events.BuildTimeline(projectID, []string{planID}, nil, nil)
	if err != nil {
		return nil, err
	}
	return &PlanStatus{
		Plan:       plan,
		CanExecute: plan.Status == persistence.PlanStatusApproved,
		History:    history,
	}, nil
}

// ApprovePlan records a human approval. Only a pending plan can be
// approved; a concurrent double-review loses the conditional update and
// surfaces as InvalidState.
func (w *Workflow) ApprovePlan(projectID, planID, reviewedBy, feedback string) (*persistence.Plan, error) {
	return w.reviewPlan(projectID, planID, persistence.PlanStatusApproved, reviewedBy, feedback)
}

// RejectPlan records a human rejection and returns the owning task to
// in_progress so the agent can revise and resubmit. The assignment is
// kept; rejection does not push work back to the backlog.
func (w *Workflow) RejectPlan(projectID, planID, reviewedBy, feedback string) (*persistence.Plan, error) {
	plan, err := w.reviewPlan(projectID, planID, persistence.PlanStatusRejected, reviewedBy, feedback)
	if err != nil {
		return nil, err
	}

	task, err := w.store.GetTask(plan.TaskID)
	if err != nil {
		return nil, err
	}
	if err := TaskTransition(task, persistence.TaskStatusInProgress); err == nil {
		if err := w.store.UpdateTaskStatus(task.ID, persistence.TaskStatusInProgress); err != nil {
			return nil, err
		}
		w.recordStatusChange(projectID, "task", task.ID, task.Status, persistence.TaskStatusInProgress)
	}
	return plan, nil
}

func (w *Workflow) reviewPlan(projectID, planID, newStatus, reviewedBy, feedback string) (*persistence.Plan, error) {
	plan, err := w.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if err := PlanTransition(plan, newStatus); err != nil {
		return nil, err
	}

	applied, err := w.store.ReviewPlan(planID, newStatus, reviewedBy, feedback)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a review race since the read above.
		current, _ := w.store.GetPlan(planID)
		state := persistence.PlanStatusPending
		if current != nil {
			state = current.Status
		}
		return nil, fault.InvalidState("plan", planID, state, "already reviewed")
	}

	w.recordStatusChange(projectID, "plan", planID, persistence.PlanStatusPending, newStatus)
	w.logger.Info("plan %s %s by %s", planID, newStatus, reviewedBy)
	return w.store.GetPlan(planID)
}

// StartRun begins executing an approved plan. The approved to executed
// flip is a conditional update on the plan's status, so two concurrent
// starts cannot both create a run.
func (w *Workflow) StartRun(projectID, taskID, planID string) (*persistence.Run, error) {
	plan, err := w.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if plan.TaskID != taskID {
		return nil, fault.InvalidState("plan", planID, plan.Status,
			"plan does not belong to task "+taskID)
	}
	if err := PlanTransition(plan, persistence.PlanStatusExecuted); err != nil {
		return nil, err
	}
	task, err := w.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	swapped, err := w.store.MarkPlanExecuted(planID)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, fault.InvalidState("plan", planID, plan.Status, "already executed")
	}

	run := &persistence.Run{TaskID: taskID, PlanID: planID}
	if err := w.store.InsertRun(run); err != nil {
		return nil, err
	}

	if task.Status != persistence.TaskStatusInProgress {
		if err := TaskTransition(task, persistence.TaskStatusInProgress); err != nil {
			return nil, err
		}
		if err := w.store.UpdateTaskStatus(taskID, persistence.TaskStatusInProgress); err != nil {
			return nil, err
		}
		w.recordStatusChange(projectID, "task", taskID, task.Status, persistence.TaskStatusInProgress)
	}

	w.recordStatusChange(projectID, "plan", planID, persistence.PlanStatusApproved, persistence.PlanStatusExecuted)
	w.recordStatusChange(projectID, "run", run.ID, "", persistence.RunStatusRunning)
	w.logger.Info("run %s started for task %s (plan %s)", run.ID, taskID, planID)
	return run, nil
}

// LogDecision appends an audit record of agent reasoning. Confidence
// defaults to 0.8 when omitted. Traces are never read back for control
// flow.
func (w *Workflow) LogDecision(trace *persistence.DecisionTrace) (*persistence.DecisionTrace, error) {
	if trace.RunID == "" || trace.DecisionType == "" || trace.Reasoning == "" {
		var missing []string
		if trace.RunID == "" {
			missing = append(missing, "run_id")
		}
		if trace.DecisionType == "" {
			missing = append(missing, "decision_type")
		}
		if trace.Reasoning == "" {
			missing = append(missing, "reasoning")
		}
		return nil, fault.MissingParams(missing...)
	}
	if _, err := w.store.GetRun(trace.RunID); err != nil {
		return nil, err
	}
	if err := w.store.InsertDecisionTrace(trace); err != nil {
		return nil, err
	}
	return trace, nil
}

// CompleteTask marks the run completed with its artifacts, seeds one
// pending verification per acceptance criterion (a structural placeholder
// for later review, not a pass/fail judgment), and sets the task done.
// The task's title is recorded as a precedent pattern.
func (w *Workflow) CompleteTask(projectID, taskID, runID string, artifacts, actualTraversal []string) ([]*persistence.Verification, error) {
	task, err := w.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	run, err := w.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.TaskID != taskID {
		return nil, fault.InvalidState("run", runID, run.Status,
			"run does not belong to task "+taskID)
	}
	if err := RunTransition(run, persistence.RunStatusCompleted); err != nil {
		return nil, err
	}
	if err := TaskTransition(task, persistence.TaskStatusDone); err != nil {
		return nil, err
	}

	finished, err := w.store.FinishRun(runID, persistence.RunStatusCompleted, "", artifacts, actualTraversal)
	if err != nil {
		return nil, err
	}
	if !finished {
		return nil, fault.InvalidState("run", runID, run.Status, "already finished")
	}

	verifications := make([]*persistence.Verification, 0, len(task.AcceptanceCriteria))
	for i, criterion := range task.AcceptanceCriteria {
		v := &persistence.Verification{
			TaskID:        taskID,
			RunID:         runID,
			CriterionID:   fmt.Sprintf("AC-%d", i+1),
			CriterionText: criterion,
			VerifiedBy:    "auto",
			Status:        persistence.VerificationPending,
		}
		if err := w.store.InsertVerification(v); err != nil {
			return nil, err
		}
		verifications = append(verifications, v)
	}

	if err := w.store.UpdateTaskStatus(taskID, persistence.TaskStatusDone); err != nil {
		return nil, err
	}
	if err := w.store.RecordPrecedentSuccess(projectID, task.Title); err != nil {
		w.logger.Warn("failed to record precedent for task %s: %v", taskID, err)
	}

	w.recordStatusChange(projectID, "run", runID, persistence.RunStatusRunning, persistence.RunStatusCompleted)
	w.recordStatusChange(projectID, "task", taskID, task.Status, persistence.TaskStatusDone)
	w.logger.Info("task %s completed via run %s (%d verifications seeded)", taskID, runID, len(verifications))
	return verifications, nil
}

// FailRun records a run failure and returns the owning task to
// in_progress so the work can be retried with a fresh plan.
func (w *Workflow) FailRun(projectID, runID, reason string) (*persistence.Run, error) {
	run, err := w.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if err := RunTransition(run, persistence.RunStatusFailed); err != nil {
		return nil, err
	}

	finished, err := w.store.FinishRun(runID, persistence.RunStatusFailed, reason, nil, nil)
	if err != nil {
		return nil, err
	}
	if !finished {
		return nil, fault.InvalidState("run", runID, run.Status, "already finished")
	}

	task, err := w.store.GetTask(run.TaskID)
	if err == nil && task.Status != persistence.TaskStatusInProgress {
		if TaskTransition(task, persistence.TaskStatusInProgress) == nil {
			if err := w.store.UpdateTaskStatus(task.ID, persistence.TaskStatusInProgress); err != nil {
				return nil, err
			}
			w.recordStatusChange(projectID, "task", task.ID, task.Status, persistence.TaskStatusInProgress)
		}
	}

	w.recordStatusChange(projectID, "run", runID, persistence.RunStatusRunning, persistence.RunStatusFailed)
	w.logger.Warn("run %s failed: %s", runID, reason)
	return w.store.GetRun(runID)
}

// QueryPrecedents matches the pattern as a substring against stored
// precedents, ranked by historical success count, top 5. This is an
// explicit heuristic, not semantic retrieval.
func (w *Workflow) QueryPrecedents(projectID, pattern string) ([]*persistence.Precedent, error) {
	return w.store.QueryPrecedents(projectID, pattern, precedentResultLimit)
}

// Verifications returns a task's verification records.
func (w *Workflow) Verifications(taskID string) ([]*persistence.Verification, error) {
	return w.store.GetVerificationsByTask(taskID)
}

func (w *Workflow) recordStatusChange(projectID, entityType, entityID, oldStatus, newStatus string) {
	if _, err := w.events.RecordStatusChanged(projectID, sourceSystem, entityType, entityID, oldStatus, newStatus); err != nil {
		w.logger.Warn("failed to record status change for %s %s: %v", entityType, entityID, err)
	}
}
