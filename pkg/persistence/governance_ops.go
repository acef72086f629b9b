package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"corese/pkg/fault"
)

// InsertTask stores a new governance task.
func (s *Store) InsertTask(task *Task) error {
	if task.ID == "" {
		task.ID = NewID()
	}
	if task.Status == "" {
		task.Status = TaskStatusBacklog
	}
	task.CreatedAt = time.Now().UTC()

	criteria, err := marshalJSON(task.AcceptanceCriteria)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, project_id, title, description, status,
			assignee_type, assignee_id, context_node_id, acceptance_criteria,
			priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.ProjectID, task.Title, task.Description, task.Status,
		task.AssigneeType, task.AssigneeID, task.ContextNodeID, criteria,
		task.Priority, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(taskID string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, description, status, assignee_type,
		       assignee_id, context_node_id, acceptance_criteria, priority, created_at
		FROM tasks WHERE id = ?
	`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("task", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return task, nil
}

// UpdateTaskStatus writes a task's status. Transition legality is enforced
// by the governance layer before this is called.
func (s *Store) UpdateTaskStatus(taskID, status string) error {
	result, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, status, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task status for %s: %w", taskID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fault.NotFound("task", taskID)
	}
	return nil
}

// GetTasksByFilter returns tasks ordered by priority (high first) then
// creation time. An AssigneeID filter also matches unassigned tasks, which
// is how agents discover claimable work.
func (s *Store) GetTasksByFilter(filter *TaskFilter) ([]*Task, error) {
	query := `
		SELECT id, project_id, title, description, status, assignee_type,
		       assignee_id, context_node_id, acceptance_criteria, priority, created_at
		FROM tasks WHERE project_id = ?`
	args := []any{filter.ProjectID}

	if filter.AssigneeType != "" {
		query += " AND assignee_type = ?"
		args = append(args, filter.AssigneeType)
	}
	if filter.AssigneeID != "" {
		query += " AND (assignee_id = ? OR assignee_id IS NULL OR assignee_id = '')"
		args = append(args, filter.AssigneeID)
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status IN (%s)", inPlaceholders(len(filter.Statuses)))
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}

	query += " ORDER BY priority DESC, created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tasks, nil
}

// InsertPlan stores a new plan in pending state.
func (s *Store) InsertPlan(plan *Plan) error {
	if plan.ID == "" {
		plan.ID = NewID()
	}
	if plan.Status == "" {
		plan.Status = PlanStatusPending
	}
	plan.CreatedAt = time.Now().UTC()

	steps, err := marshalJSON(plan.Steps)
	if err != nil {
		return err
	}
	traversal, err := marshalJSON(plan.PlannedTraversal)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO plans (id, task_id, proposed_by, rationale, steps,
			planned_traversal, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.ID, plan.TaskID, plan.ProposedBy, plan.Rationale, steps,
		traversal, plan.Status, plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", plan.ID, err)
	}
	return nil
}

// GetPlan returns a plan by id.
func (s *Store) GetPlan(planID string) (*Plan, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, proposed_by, rationale, steps, planned_traversal,
		       status, reviewed_by, reviewed_at, review_feedback, created_at, executed_at
		FROM plans WHERE id = ?
	`, planID)

	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("plan", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", planID, err)
	}
	return plan, nil
}

// ReviewPlan records an approval or rejection, conditional on the plan
// still being pending. Returns false when the plan was not pending, so
// concurrent double-review degrades to a no-op for the loser.
func (s *Store) ReviewPlan(planID, newStatus, reviewedBy, feedback string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE plans SET status = ?, reviewed_by = ?, reviewed_at = ?, review_feedback = ?
		WHERE id = ? AND status = ?
	`, newStatus, reviewedBy, time.Now().UTC(), feedback, planID, PlanStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to review plan %s: %w", planID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// MarkPlanExecuted flips approved -> executed with a compare-and-swap on
// status, closing the double-execution race.
func (s *Store) MarkPlanExecuted(planID string) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE plans SET status = ?, executed_at = ?
		WHERE id = ? AND status = ?
	`, PlanStatusExecuted, time.Now().UTC(), planID, PlanStatusApproved)
	if err != nil {
		return false, fmt.Errorf("failed to mark plan %s executed: %w", planID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// InsertRun stores a new run in running state.
func (s *Store) InsertRun(run *Run) error {
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.StartedAt = time.Now().UTC()

	artifacts, err := marshalJSON(run.Artifacts)
	if err != nil {
		return err
	}
	traversal, err := marshalJSON(run.ActualTraversal)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, task_id, plan_id, status, failure_reason,
			artifacts, actual_traversal, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, run.PlanID, run.Status, run.FailureReason,
		artifacts, traversal, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, task_id, plan_id, status, failure_reason, artifacts,
		       actual_traversal, started_at, completed_at
		FROM runs WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// FinishRun records a run's terminal state, conditional on it still
// running. Returns false when the run was already terminal.
func (s *Store) FinishRun(runID, status, failureReason string, artifacts, actualTraversal []string) (bool, error) {
	artifactsBlob, err := marshalJSON(artifacts)
	if err != nil {
		return false, err
	}
	traversalBlob, err := marshalJSON(actualTraversal)
	if err != nil {
		return false, err
	}

	result, err := s.db.Exec(`
		UPDATE runs SET status = ?, failure_reason = ?, artifacts = ?,
			actual_traversal = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, status, failureReason, artifactsBlob, traversalBlob, time.Now().UTC(),
		runID, RunStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// InsertVerification stores one evidence-review record.
func (s *Store) InsertVerification(v *Verification) error {
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.Status == "" {
		v.Status = VerificationPending
	}
	v.VerifiedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO verifications (id, task_id, run_id, criterion_id,
			criterion_text, evidence_type, evidence_ref, verified_by, status, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.TaskID, v.RunID, v.CriterionID, v.CriterionText,
		v.EvidenceType, v.EvidenceRef, v.VerifiedBy, v.Status, v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("failed to insert verification %s: %w", v.ID, err)
	}
	return nil
}

// GetVerificationsByTask returns a task's verifications in criterion order.
func (s *Store) GetVerificationsByTask(taskID string) ([]*Verification, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, run_id, criterion_id, criterion_text,
		       evidence_type, evidence_ref, verified_by, status, verified_at
		FROM verifications WHERE task_id = ?
		ORDER BY criterion_id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications for task %s: %w", taskID, err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var verifications []*Verification
	for rows.Next() {
		v := &Verification{}
		var evidenceType, evidenceRef sql.NullString
		err := rows.Scan(&v.ID, &v.TaskID, &v.RunID, &v.CriterionID,
			&v.CriterionText, &evidenceType, &evidenceRef, &v.VerifiedBy,
			&v.Status, &v.VerifiedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		v.EvidenceType = evidenceType.String
		v.EvidenceRef = evidenceRef.String
		verifications = append(verifications, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return verifications, nil
}

// InsertDecisionTrace appends one audit record. Traces are never updated.
func (s *Store) InsertDecisionTrace(trace *DecisionTrace) error {
	if trace.ID == "" {
		trace.ID = NewID()
	}
	if trace.Confidence == 0 {
		trace.Confidence = DefaultDecisionConfidence
	}
	trace.Timestamp = time.Now().UTC()

	contextSnapshot, err := marshalJSON(trace.ContextSnapshot)
	if err != nil {
		return err
	}
	options, err := marshalJSON(trace.OptionsConsidered)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO decision_traces (id, run_id, decision_type, context_snapshot,
			options_considered, selected_option, reasoning, confidence, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trace.ID, trace.RunID, trace.DecisionType, contextSnapshot, options,
		trace.SelectedOption, trace.Reasoning, trace.Confidence, trace.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert decision trace %s: %w", trace.ID, err)
	}
	return nil
}

// RecordPrecedentSuccess bumps the success counter for a pattern, creating
// the row on first use.
func (s *Store) RecordPrecedentSuccess(projectID, pattern string) error {
	_, err := s.db.Exec(`
		INSERT INTO precedents (id, project_id, pattern, success_count, last_used_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(project_id, pattern) DO UPDATE SET
			success_count = success_count + 1,
			last_used_at = excluded.last_used_at
	`, NewID(), projectID, pattern, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record precedent %q: %w", pattern, err)
	}
	return nil
}

// QueryPrecedents returns patterns containing the given substring, ranked
// by historical success count. This is a heuristic lookup, not semantic
// retrieval.
func (s *Store) QueryPrecedents(projectID, pattern string, limit int) ([]*Precedent, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, pattern, success_count, last_used_at
		FROM precedents
		WHERE project_id = ? AND pattern LIKE '%' || ? || '%'
		ORDER BY success_count DESC, last_used_at DESC
		LIMIT ?
	`, projectID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query precedents: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var precedents []*Precedent
	for rows.Next() {
		p := &Precedent{}
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Pattern, &p.SuccessCount, &p.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan precedent: %w", err)
		}
		precedents = append(precedents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return precedents, nil
}

func scanTask(row scanner) (*Task, error) {
	task := &Task{}
	var description, assigneeID, contextNodeID, criteria sql.NullString
	err := row.Scan(&task.ID, &task.ProjectID, &task.Title, &description,
		&task.Status, &task.AssigneeType, &assigneeID, &contextNodeID,
		&criteria, &task.Priority, &task.CreatedAt)
	if err != nil {
		return nil, err
	}
	task.Description = description.String
	task.AssigneeID = assigneeID.String
	task.ContextNodeID = contextNodeID.String
	if err := unmarshalJSON(criteria.String, &task.AcceptanceCriteria); err != nil {
		return nil, err
	}
	return task, nil
}

func scanPlan(row scanner) (*Plan, error) {
	plan := &Plan{}
	var rationale, steps, traversal, reviewedBy, feedback sql.NullString
	var reviewedAt, executedAt sql.NullTime
	err := row.Scan(&plan.ID, &plan.TaskID, &plan.ProposedBy, &rationale,
		&steps, &traversal, &plan.Status, &reviewedBy, &reviewedAt,
		&feedback, &plan.CreatedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	plan.Rationale = rationale.String
	plan.ReviewedBy = reviewedBy.String
	plan.ReviewFeedback = feedback.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		plan.ReviewedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		plan.ExecutedAt = &t
	}
	if err := unmarshalJSON(steps.String, &plan.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(traversal.String, &plan.PlannedTraversal); err != nil {
		return nil, err
	}
	return plan, nil
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var failureReason, artifacts, traversal sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.TaskID, &run.PlanID, &run.Status,
		&failureReason, &artifacts, &traversal, &run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := unmarshalJSON(artifacts.String, &run.Artifacts); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(traversal.String, &run.ActualTraversal); err != nil {
		return nil, err
	}
	return run, nil
}
