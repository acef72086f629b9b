package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"corese/pkg/fault"
)

// Helper function to create a new database for each test.
func createTestStore(t *testing.T) (*Store, func()) {
	tempDir, err := os.MkdirTemp("", "persistence_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")

	db, err := InitializeDatabase(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	store := NewStore(db)
	cleanup := func() {
		store.Close()
		os.RemoveAll(tempDir)
	}

	return store, cleanup
}

func mustCreateNode(t *testing.T, store *Store, projectID, nodeType, name string) *Node {
	t.Helper()
	node := &Node{
		ProjectID: projectID,
		Type:      nodeType,
		Name:      name,
	}
	if err := store.CreateNode(node); err != nil {
		t.Fatalf("Failed to create node %s: %v", name, err)
	}
	return node
}

func TestGraphOperations(t *testing.T) {
	t.Run("NodeCRUD", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		node := &Node{
			ProjectID:   "proj-1",
			Type:        "Requirement",
			Name:        "REQ-001",
			Description: "The system shall persist nodes",
			Subsystem:   "storage",
			Metadata:    map[string]any{"source": "import"},
		}

		if err := store.CreateNode(node); err != nil {
			t.Fatalf("Failed to create node: %v", err)
		}
		if node.ID == "" {
			t.Fatal("Expected generated node ID")
		}

		retrieved, err := store.GetNode("proj-1", node.ID)
		if err != nil {
			t.Fatalf("Failed to get node: %v", err)
		}
		if retrieved.Name != "REQ-001" {
			t.Errorf("Expected name REQ-001, got %q", retrieved.Name)
		}
		if retrieved.Metadata["source"] != "import" {
			t.Errorf("Expected metadata to round-trip, got %v", retrieved.Metadata)
		}

		retrieved.Status = "approved"
		if err := store.UpdateNode(retrieved); err != nil {
			t.Fatalf("Failed to update node: %v", err)
		}

		updated, err := store.GetNode("proj-1", node.ID)
		if err != nil {
			t.Fatalf("Failed to re-get node: %v", err)
		}
		if updated.Status != "approved" {
			t.Errorf("Expected status approved, got %q", updated.Status)
		}

		// Reads are project scoped
		if _, err := store.GetNode("other-proj", node.ID); err == nil {
			t.Error("Expected NotFound for wrong project")
		}

		if err := store.DeleteNode("proj-1", node.ID); err != nil {
			t.Fatalf("Failed to delete node: %v", err)
		}

		_, err = store.GetNode("proj-1", node.ID)
		var notFound *fault.NotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("Expected NotFoundError after delete, got %v", err)
		}
	})

	t.Run("DeleteNodeCascadesEdges", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		a := mustCreateNode(t, store, "proj-1", "Component", "A")
		b := mustCreateNode(t, store, "proj-1", "Component", "B")
		c := mustCreateNode(t, store, "proj-1", "Component", "C")

		edges := []*Edge{
			{ProjectID: "proj-1", FromNodeID: a.ID, ToNodeID: b.ID, RelationType: "depends_on"},
			{ProjectID: "proj-1", FromNodeID: c.ID, ToNodeID: b.ID, RelationType: "connects_to"},
			{ProjectID: "proj-1", FromNodeID: a.ID, ToNodeID: c.ID, RelationType: "depends_on"},
		}
		for _, e := range edges {
			if err := store.CreateEdge(e); err != nil {
				t.Fatalf("Failed to create edge: %v", err)
			}
		}

		// Deleting B must remove both edges touching it, in the same
		// transaction, and leave the A->C edge alone.
		if err := store.DeleteNode("proj-1", b.ID); err != nil {
			t.Fatalf("Failed to delete node: %v", err)
		}

		remaining, err := store.GetEdgesByFilter(&EdgeFilter{ProjectID: "proj-1"})
		if err != nil {
			t.Fatalf("Failed to list edges: %v", err)
		}
		if len(remaining) != 1 {
			t.Fatalf("Expected 1 edge after cascade, got %d", len(remaining))
		}
		if remaining[0].FromNodeID != a.ID || remaining[0].ToNodeID != c.ID {
			t.Errorf("Wrong surviving edge: %s -> %s", remaining[0].FromNodeID, remaining[0].ToNodeID)
		}
	})

	t.Run("EdgeDefaultsAndEndpointChecks", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		a := mustCreateNode(t, store, "proj-1", "Interface", "I1")
		b := mustCreateNode(t, store, "proj-1", "Interface", "I2")

		edge := &Edge{
			ProjectID:    "proj-1",
			FromNodeID:   a.ID,
			ToNodeID:     b.ID,
			RelationType: "connects_to",
		}
		if err := store.CreateEdge(edge); err != nil {
			t.Fatalf("Failed to create edge: %v", err)
		}

		retrieved, err := store.GetEdge("proj-1", edge.ID)
		if err != nil {
			t.Fatalf("Failed to get edge: %v", err)
		}
		if retrieved.Weight != 1.0 {
			t.Errorf("Expected default weight 1.0, got %v", retrieved.Weight)
		}

		bad := &Edge{
			ProjectID:    "proj-1",
			FromNodeID:   a.ID,
			ToNodeID:     "no-such-node",
			RelationType: "connects_to",
		}
		err = store.CreateEdge(bad)
		var notFound *fault.NotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("Expected NotFoundError for missing endpoint, got %v", err)
		}
	})

	t.Run("NodeFilterCombinesWithAND", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		n1 := mustCreateNode(t, store, "proj-1", "Requirement", "REQ-1")
		n1.Subsystem = "power"
		if err := store.UpdateNode(n1); err != nil {
			t.Fatalf("Failed to update node: %v", err)
		}
		n2 := mustCreateNode(t, store, "proj-1", "Requirement", "REQ-2")
		n2.Subsystem = "comms"
		if err := store.UpdateNode(n2); err != nil {
			t.Fatalf("Failed to update node: %v", err)
		}
		mustCreateNode(t, store, "proj-1", "Test", "TEST-1")

		nodes, err := store.GetNodesByFilter(&NodeFilter{
			ProjectID:  "proj-1",
			Types:      []string{"Requirement"},
			Subsystems: []string{"power"},
		})
		if err != nil {
			t.Fatalf("Failed to filter nodes: %v", err)
		}
		if len(nodes) != 1 || nodes[0].Name != "REQ-1" {
			t.Errorf("Expected exactly REQ-1, got %d nodes", len(nodes))
		}

		counts, err := store.CountNodesByType("proj-1")
		if err != nil {
			t.Fatalf("Failed to count nodes: %v", err)
		}
		if counts["Requirement"] != 2 || counts["Test"] != 1 {
			t.Errorf("Unexpected counts: %v", counts)
		}
	})

	t.Run("FilterCountIgnoresPagination", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		mustCreateNode(t, store, "proj-1", "Requirement", "REQ-1")
		mustCreateNode(t, store, "proj-1", "Requirement", "REQ-2")
		mustCreateNode(t, store, "proj-1", "Test", "TEST-1")

		filter := &NodeFilter{
			ProjectID: "proj-1",
			Types:     []string{"Requirement"},
			Limit:     1,
		}
		nodes, err := store.GetNodesByFilter(filter)
		if err != nil {
			t.Fatalf("Failed to filter nodes: %v", err)
		}
		if len(nodes) != 1 {
			t.Fatalf("Expected 1 node on the page, got %d", len(nodes))
		}

		total, err := store.CountNodesByFilter(filter)
		if err != nil {
			t.Fatalf("Failed to count filtered nodes: %v", err)
		}
		if total != 2 {
			t.Errorf("Expected filtered total 2, got %d", total)
		}
	})
}

func TestEventOperations(t *testing.T) {
	t.Run("InsertAndFilter", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		base := time.Now().UTC().Add(-time.Hour)
		for i, eventType := range []string{EventCreated, EventUpdated, EventDeleted} {
			event := &Event{
				ProjectID:    "proj-1",
				SourceSystem: "importer",
				EntityType:   "Requirement",
				EntityID:     "node-1",
				EventType:    eventType,
				Timestamp:    base.Add(time.Duration(i) * time.Minute),
			}
			if err := store.InsertEvent(event); err != nil {
				t.Fatalf("Failed to insert event: %v", err)
			}
		}

		events, err := store.GetEventsByFilter(&EventFilter{ProjectID: "proj-1"})
		if err != nil {
			t.Fatalf("Failed to query events: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("Expected 3 events, got %d", len(events))
		}
		// Newest first
		if events[0].EventType != EventDeleted {
			t.Errorf("Expected newest event first, got %q", events[0].EventType)
		}

		updates, err := store.GetEventsByFilter(&EventFilter{
			ProjectID:  "proj-1",
			EventTypes: []string{EventUpdated},
		})
		if err != nil {
			t.Fatalf("Failed to query updates: %v", err)
		}
		if len(updates) != 1 {
			t.Errorf("Expected 1 update event, got %d", len(updates))
		}
	})

	t.Run("PurgeEventsBefore", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		old := &Event{
			ProjectID:    "proj-1",
			SourceSystem: "importer",
			EntityType:   "Requirement",
			EntityID:     "node-1",
			EventType:    EventCreated,
			Timestamp:    time.Now().UTC().Add(-48 * time.Hour),
		}
		recent := &Event{
			ProjectID:    "proj-1",
			SourceSystem: "importer",
			EntityType:   "Requirement",
			EntityID:     "node-1",
			EventType:    EventUpdated,
			Timestamp:    time.Now().UTC(),
		}
		if err := store.InsertEvent(old); err != nil {
			t.Fatalf("Failed to insert old event: %v", err)
		}
		if err := store.InsertEvent(recent); err != nil {
			t.Fatalf("Failed to insert recent event: %v", err)
		}

		purged, err := store.PurgeEventsBefore("proj-1", time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("Failed to purge events: %v", err)
		}
		if purged != 1 {
			t.Errorf("Expected 1 purged event, got %d", purged)
		}

		events, err := store.GetEventsByFilter(&EventFilter{ProjectID: "proj-1"})
		if err != nil {
			t.Fatalf("Failed to query events: %v", err)
		}
		if len(events) != 1 || events[0].EventType != EventUpdated {
			t.Errorf("Expected only the recent event to survive, got %d", len(events))
		}
	})
}

func TestChangeSetOperations(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	event := &Event{
		ProjectID:    "proj-1",
		SourceSystem: "importer",
		EntityType:   "Requirement",
		EntityID:     "node-1",
		EventType:    EventCreated,
		Timestamp:    time.Now().UTC(),
	}
	if err := store.InsertEvent(event); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	cs := &ChangeSet{
		ProjectID: "proj-1",
		Anchor:    "commit:abc123",
		Label:     "initial import",
	}
	if err := store.InsertChangeSet(cs, []string{event.ID}); err != nil {
		t.Fatalf("Failed to insert change set: %v", err)
	}

	// Same anchor again must violate the UNIQUE constraint; get-or-create
	// callers look up by anchor first and fall back to the existing row.
	dup := &ChangeSet{ProjectID: "proj-1", Anchor: "commit:abc123"}
	if err := store.InsertChangeSet(dup, nil); err == nil {
		t.Error("Expected uniqueness violation for duplicate anchor")
	}

	found, err := store.GetChangeSetByAnchor("proj-1", "commit:abc123")
	if err != nil {
		t.Fatalf("Failed to get change set by anchor: %v", err)
	}
	if found.ID != cs.ID {
		t.Errorf("Expected original change set %s, got %s", cs.ID, found.ID)
	}

	events, err := store.GetChangeSetEvents(cs.ID)
	if err != nil {
		t.Fatalf("Failed to get change set events: %v", err)
	}
	if len(events) != 1 || events[0].ID != event.ID {
		t.Errorf("Expected 1 attached event, got %d", len(events))
	}
}

func TestGovernanceOperations(t *testing.T) {
	t.Run("TaskLifecycle", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		task := &Task{
			ProjectID:          "proj-1",
			Title:              "Wire telemetry bus",
			AssigneeType:       AssigneeAgent,
			AcceptanceCriteria: []string{"bus publishes", "subscriber receives"},
			Priority:           2,
		}
		if err := store.InsertTask(task); err != nil {
			t.Fatalf("Failed to insert task: %v", err)
		}

		retrieved, err := store.GetTask(task.ID)
		if err != nil {
			t.Fatalf("Failed to get task: %v", err)
		}
		if retrieved.Status != TaskStatusBacklog {
			t.Errorf("Expected backlog default, got %q", retrieved.Status)
		}
		if len(retrieved.AcceptanceCriteria) != 2 {
			t.Errorf("Expected 2 criteria, got %d", len(retrieved.AcceptanceCriteria))
		}

		if err := store.UpdateTaskStatus(task.ID, TaskStatusInProgress); err != nil {
			t.Fatalf("Failed to update task status: %v", err)
		}

		err = store.UpdateTaskStatus("no-such-task", TaskStatusDone)
		var notFound *fault.NotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("Expected NotFoundError, got %v", err)
		}
	})

	t.Run("TaskFilterMatchesUnassigned", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		mine := &Task{ProjectID: "proj-1", Title: "mine", AssigneeType: AssigneeAgent, AssigneeID: "agent-1", Priority: 1}
		unassigned := &Task{ProjectID: "proj-1", Title: "open", AssigneeType: AssigneeAgent, Priority: 5}
		other := &Task{ProjectID: "proj-1", Title: "theirs", AssigneeType: AssigneeAgent, AssigneeID: "agent-2"}
		for _, task := range []*Task{mine, unassigned, other} {
			if err := store.InsertTask(task); err != nil {
				t.Fatalf("Failed to insert task: %v", err)
			}
		}

		tasks, err := store.GetTasksByFilter(&TaskFilter{
			ProjectID:    "proj-1",
			AssigneeType: AssigneeAgent,
			AssigneeID:   "agent-1",
			Statuses:     []string{TaskStatusBacklog, TaskStatusInProgress},
		})
		if err != nil {
			t.Fatalf("Failed to filter tasks: %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("Expected own + unassigned tasks, got %d", len(tasks))
		}
		// Higher priority first
		if tasks[0].Title != "open" {
			t.Errorf("Expected priority ordering, got %q first", tasks[0].Title)
		}
	})

	t.Run("PlanReviewAndExecuteCAS", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		task := &Task{ProjectID: "proj-1", Title: "t", AssigneeType: AssigneeAgent}
		if err := store.InsertTask(task); err != nil {
			t.Fatalf("Failed to insert task: %v", err)
		}

		plan := &Plan{
			TaskID:     task.ID,
			ProposedBy: "agent-1",
			Rationale:  "shortest dependency chain",
			Steps:      []PlanStep{{StepNumber: 1, Action: "inspect", Tool: "getNode"}},
		}
		if err := store.InsertPlan(plan); err != nil {
			t.Fatalf("Failed to insert plan: %v", err)
		}

		ok, err := store.ReviewPlan(plan.ID, PlanStatusApproved, "reviewer-1", "looks right")
		if err != nil {
			t.Fatalf("Failed to review plan: %v", err)
		}
		if !ok {
			t.Fatal("Expected first review to win")
		}

		// Second review loses the race
		ok, err = store.ReviewPlan(plan.ID, PlanStatusRejected, "reviewer-2", "")
		if err != nil {
			t.Fatalf("Review error: %v", err)
		}
		if ok {
			t.Error("Expected second review to be a no-op")
		}

		ok, err = store.MarkPlanExecuted(plan.ID)
		if err != nil {
			t.Fatalf("Failed to mark executed: %v", err)
		}
		if !ok {
			t.Fatal("Expected approved plan to become executed")
		}

		// Double execution must fail the swap
		ok, err = store.MarkPlanExecuted(plan.ID)
		if err != nil {
			t.Fatalf("Execute error: %v", err)
		}
		if ok {
			t.Error("Expected second execution swap to fail")
		}

		final, err := store.GetPlan(plan.ID)
		if err != nil {
			t.Fatalf("Failed to get plan: %v", err)
		}
		if final.Status != PlanStatusExecuted {
			t.Errorf("Expected executed, got %q", final.Status)
		}
		if final.ReviewedBy != "reviewer-1" {
			t.Errorf("Expected reviewer-1, got %q", final.ReviewedBy)
		}
		if final.ExecutedAt == nil {
			t.Error("Expected executed_at to be set")
		}
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		task := &Task{ProjectID: "proj-1", Title: "t", AssigneeType: AssigneeAgent}
		if err := store.InsertTask(task); err != nil {
			t.Fatalf("Failed to insert task: %v", err)
		}
		plan := &Plan{TaskID: task.ID, ProposedBy: "agent-1", Steps: []PlanStep{{StepNumber: 1, Action: "noop"}}}
		if err := store.InsertPlan(plan); err != nil {
			t.Fatalf("Failed to insert plan: %v", err)
		}

		run := &Run{TaskID: task.ID, PlanID: plan.ID}
		if err := store.InsertRun(run); err != nil {
			t.Fatalf("Failed to insert run: %v", err)
		}

		retrieved, err := store.GetRun(run.ID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if retrieved.Status != RunStatusRunning {
			t.Errorf("Expected running, got %q", retrieved.Status)
		}

		ok, err := store.FinishRun(run.ID, RunStatusCompleted, "", []string{"report.md"}, []string{"n1", "n2"})
		if err != nil {
			t.Fatalf("Failed to finish run: %v", err)
		}
		if !ok {
			t.Fatal("Expected finish to apply")
		}

		// Terminal runs stay terminal
		ok, err = store.FinishRun(run.ID, RunStatusFailed, "late failure", nil, nil)
		if err != nil {
			t.Fatalf("Finish error: %v", err)
		}
		if ok {
			t.Error("Expected second finish to be a no-op")
		}

		done, err := store.GetRun(run.ID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if done.Status != RunStatusCompleted || done.CompletedAt == nil {
			t.Errorf("Expected completed run, got %q", done.Status)
		}
		if len(done.ActualTraversal) != 2 {
			t.Errorf("Expected traversal to round-trip, got %v", done.ActualTraversal)
		}
	})

	t.Run("Precedents", func(t *testing.T) {
		store, cleanup := createTestStore(t)
		defer cleanup()

		for i := 0; i < 3; i++ {
			if err := store.RecordPrecedentSuccess("proj-1", "refactor storage layer"); err != nil {
				t.Fatalf("Failed to record precedent: %v", err)
			}
		}
		if err := store.RecordPrecedentSuccess("proj-1", "add storage metrics"); err != nil {
			t.Fatalf("Failed to record precedent: %v", err)
		}

		precedents, err := store.QueryPrecedents("proj-1", "storage", 5)
		if err != nil {
			t.Fatalf("Failed to query precedents: %v", err)
		}
		if len(precedents) != 2 {
			t.Fatalf("Expected 2 precedents, got %d", len(precedents))
		}
		if precedents[0].Pattern != "refactor storage layer" || precedents[0].SuccessCount != 3 {
			t.Errorf("Expected success ranking, got %+v", precedents[0])
		}

		none, err := store.QueryPrecedents("proj-1", "no such pattern", 5)
		if err != nil {
			t.Fatalf("Failed to query precedents: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("Expected no matches, got %d", len(none))
		}
	})
}
