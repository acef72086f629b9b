package tools

import (
	"context"
	"fmt"

	"corese/pkg/governance"
	"corese/pkg/persistence"
)

// planStepsFromArgs parses the steps argument, an array of step objects.
func planStepsFromArgs(args map[string]any) ([]persistence.PlanStep, error) {
	raw, ok := args["steps"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter steps must be an array of step objects")
	}

	steps := make([]persistence.PlanStep, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parameter steps[%d] must be an object", i)
		}
		step := persistence.PlanStep{StepNumber: i + 1}
		if action, ok := obj["action"].(string); ok {
			step.Action = action
		}
		if tool, ok := obj["tool"].(string); ok {
			step.Tool = tool
		}
		if stepArgs, ok := obj["args"].(map[string]any); ok {
			step.Args = stepArgs
		}
		if expected, ok := obj["expected_output"].(string); ok {
			step.ExpectedOutput = expected
		}
		if n, ok := obj["step_number"].(float64); ok {
			step.StepNumber = int(n)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func governanceTools(svc *Service) []Tool {
	return []Tool{
		{
			Definition: ToolDefinition{
				Name:        "createTask",
				Description: "Add a governed task to the project backlog",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":          {Type: "string"},
						"title":               {Type: "string"},
						"description":         {Type: "string"},
						"assignee_type":       {Type: "string", Enum: []string{persistence.AssigneeAgent, persistence.AssigneeHuman}},
						"assignee_id":         {Type: "string"},
						"context_node_id":     {Type: "string", Description: "Graph node anchoring the task's context"},
						"acceptance_criteria": {Type: "array", Items: &Property{Type: "string"}},
						"priority":            {Type: "number"},
					},
					Required: []string{"project_id", "title"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				task := &persistence.Task{}
				var err error
				if task.ProjectID, err = strArg(args, "project_id"); err != nil {
					return nil, err
				}
				if task.Title, err = strArg(args, "title"); err != nil {
					return nil, err
				}
				if task.Description, err = strArg(args, "description"); err != nil {
					return nil, err
				}
				if task.AssigneeType, err = strArg(args, "assignee_type"); err != nil {
					return nil, err
				}
				if task.AssigneeID, err = strArg(args, "assignee_id"); err != nil {
					return nil, err
				}
				if task.ContextNodeID, err = strArg(args, "context_node_id"); err != nil {
					return nil, err
				}
				if task.AcceptanceCriteria, err = strSliceArg(args, "acceptance_criteria"); err != nil {
					return nil, err
				}
				if task.Priority, err = intArg(args, "priority"); err != nil {
					return nil, err
				}
				return svc.Workflow.CreateTask(task)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "checkAssignedTasks",
				Description: "Tasks assigned to the calling agent or unassigned, by priority",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"agent_id":   {Type: "string", Description: "Defaults to the calling actor"},
						"statuses":   {Type: "array", Items: &Property{Type: "string"}},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				agentID, err := strArg(args, "agent_id")
				if err != nil {
					return nil, err
				}
				if agentID == "" {
					agentID = actor.ID
				}
				statuses, err := strSliceArg(args, "statuses")
				if err != nil {
					return nil, err
				}

				tasks, err := svc.Workflow.CheckAssignedTasks(projectID, agentID, statuses)
				if err != nil {
					return nil, err
				}
				return map[string]any{"tasks": tasks, "count": len(tasks)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "submitPlan",
				Description: "Propose a plan for a task, either with explicit steps or auto-planned toward a goal node",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":             {Type: "string"},
						"task_id":                {Type: "string"},
						"rationale":              {Type: "string"},
						"steps":                  {Type: "array", Items: &Property{Type: "object"}},
						"goal_node_id":           {Type: "string", Description: "Auto-plan from the task's context node to this node"},
						"allowed_relation_types": {Type: "array", Items: &Property{Type: "string"}},
						"max_weight":             {Type: "number"},
					},
					Required: []string{"project_id", "task_id", "rationale"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				input := governance.SubmitPlanInput{ProposedBy: actor.ID}
				var err error
				if input.TaskID, err = strArg(args, "task_id"); err != nil {
					return nil, err
				}
				if input.Rationale, err = strArg(args, "rationale"); err != nil {
					return nil, err
				}
				if input.GoalNodeID, err = strArg(args, "goal_node_id"); err != nil {
					return nil, err
				}
				if input.AllowedRelationTypes, err = strSliceArg(args, "allowed_relation_types"); err != nil {
					return nil, err
				}
				if input.MaxWeight, err = floatArg(args, "max_weight"); err != nil {
					return nil, err
				}
				if input.Steps, err = planStepsFromArgs(args); err != nil {
					return nil, err
				}
				return svc.Workflow.SubmitPlan(projectID, input)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "checkPlanStatus",
				Description: "Current plan status, approval history, and whether it can execute",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"plan_id":    {Type: "string"},
					},
					Required: []string{"project_id", "plan_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				planID, _ := strArg(args, "plan_id")
				return svc.Workflow.CheckPlanStatus(projectID, planID)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "approvePlan",
				Description: "Approve a pending plan for execution",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"plan_id":    {Type: "string"},
						"feedback":   {Type: "string"},
					},
					Required: []string{"project_id", "plan_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				planID, _ := strArg(args, "plan_id")
				feedback, _ := strArg(args, "feedback")
				return svc.Workflow.ApprovePlan(projectID, planID, actor.ID, feedback)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "rejectPlan",
				Description: "Reject a pending plan; the task returns to in_progress for a revised submission",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"plan_id":    {Type: "string"},
						"feedback":   {Type: "string"},
					},
					Required: []string{"project_id", "plan_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				planID, _ := strArg(args, "plan_id")
				feedback, _ := strArg(args, "feedback")
				return svc.Workflow.RejectPlan(projectID, planID, actor.ID, feedback)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "startRun",
				Description: "Begin executing an approved plan",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"task_id":    {Type: "string"},
						"plan_id":    {Type: "string"},
					},
					Required: []string{"project_id", "task_id", "plan_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				taskID, _ := strArg(args, "task_id")
				planID, _ := strArg(args, "plan_id")
				return svc.Workflow.StartRun(projectID, taskID, planID)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "logDecision",
				Description: "Append an audit record of agent reasoning during a run",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"run_id": {Type: "string"},
						"decision_type": {
							Type: "string",
							Enum: []string{
								persistence.DecisionPathSelection, persistence.DecisionToolChoice,
								persistence.DecisionParameterSelection, persistence.DecisionTermination,
							},
						},
						"reasoning":          {Type: "string"},
						"context_snapshot":   {Type: "object"},
						"options_considered": {Type: "array", Items: &Property{Type: "string"}},
						"selected_option":    {Type: "string"},
						"confidence":         {Type: "number", Description: "0 to 1, default 0.8"},
					},
					Required: []string{"run_id", "decision_type", "reasoning"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				trace := &persistence.DecisionTrace{}
				var err error
				if trace.RunID, err = strArg(args, "run_id"); err != nil {
					return nil, err
				}
				if trace.DecisionType, err = strArg(args, "decision_type"); err != nil {
					return nil, err
				}
				if trace.Reasoning, err = strArg(args, "reasoning"); err != nil {
					return nil, err
				}
				if trace.ContextSnapshot, err = mapArg(args, "context_snapshot"); err != nil {
					return nil, err
				}
				if trace.OptionsConsidered, err = strSliceArg(args, "options_considered"); err != nil {
					return nil, err
				}
				if trace.SelectedOption, err = strArg(args, "selected_option"); err != nil {
					return nil, err
				}
				if trace.Confidence, err = floatArg(args, "confidence"); err != nil {
					return nil, err
				}
				return svc.Workflow.LogDecision(trace)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "completeTask",
				Description: "Report completion with evidence; seeds pending verifications per acceptance criterion",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":       {Type: "string"},
						"task_id":          {Type: "string"},
						"run_id":           {Type: "string"},
						"artifacts":        {Type: "array", Items: &Property{Type: "string"}},
						"actual_traversal": {Type: "array", Items: &Property{Type: "string"}},
					},
					Required: []string{"project_id", "task_id", "run_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				taskID, _ := strArg(args, "task_id")
				runID, _ := strArg(args, "run_id")
				artifacts, err := strSliceArg(args, "artifacts")
				if err != nil {
					return nil, err
				}
				traversal, err := strSliceArg(args, "actual_traversal")
				if err != nil {
					return nil, err
				}

				verifications, err := svc.Workflow.CompleteTask(projectID, taskID, runID, artifacts, traversal)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"task_id":       taskID,
					"run_id":        runID,
					"verifications": verifications,
				}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "failRun",
				Description: "Record a run failure; the task returns to in_progress",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"run_id":     {Type: "string"},
						"reason":     {Type: "string"},
					},
					Required: []string{"project_id", "run_id", "reason"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				runID, _ := strArg(args, "run_id")
				reason, _ := strArg(args, "reason")
				return svc.Workflow.FailRun(projectID, runID, reason)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "queryPrecedents",
				Description: "Substring match against completed task patterns, ranked by success count, top 5",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":   {Type: "string"},
						"task_pattern": {Type: "string"},
					},
					Required: []string{"project_id", "task_pattern"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				pattern, _ := strArg(args, "task_pattern")
				precedents, err := svc.Workflow.QueryPrecedents(projectID, pattern)
				if err != nil {
					return nil, err
				}
				return map[string]any{"precedents": precedents, "count": len(precedents)}, nil
			},
		},
	}
}
