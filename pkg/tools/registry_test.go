package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corese/pkg/fault"
	"corese/pkg/governance"
	"corese/pkg/ledger"
	"corese/pkg/metrics"
	"corese/pkg/pathfind"
	"corese/pkg/persistence"
	"corese/pkg/rules"
)

func createTestRegistry(t *testing.T) (*Registry, *Service, func()) {
	tempDir, err := os.MkdirTemp("", "tools_test")
	require.NoError(t, err)

	db, err := persistence.InitializeDatabase(filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)

	store := persistence.NewStore(db)
	paths := pathfind.NewEngine(store)
	events := ledger.New(store)
	svc := &Service{
		Store:    store,
		Paths:    paths,
		Rules:    rules.NewEngine(store),
		Ledger:   events,
		Workflow: governance.NewWorkflow(store, paths, events),
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tempDir)
	}
	return NewRegistry(svc), svc, cleanup
}

// decode unpacks the single text block of an envelope into out.
func decode(t *testing.T, result *Result, out any) {
	t.Helper()
	require.Len(t, result.Content, 1)
	require.Equal(t, "text", result.Content[0].Type)
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), out))
}

var testActor = Actor{ID: "agent-1", Type: "agent"}

func TestCallEnvelopeShape(t *testing.T) {
	registry, _, cleanup := createTestRegistry(t)
	defer cleanup()

	result, err := registry.Call(context.Background(), "createNode", map[string]any{
		"project_id": "proj-1",
		"type":       "Requirement",
		"name":       "REQ-001",
	}, testActor)
	require.NoError(t, err)

	var node persistence.Node
	decode(t, result, &node)
	assert.Equal(t, "REQ-001", node.Name)
	assert.NotEmpty(t, node.ID)
}

func TestCallReportsAllMissingParams(t *testing.T) {
	registry, _, cleanup := createTestRegistry(t)
	defer cleanup()

	// Validation runs before the handler and collects every missing key
	result, err := registry.Call(context.Background(), "createNode", map[string]any{
		"name": "REQ-001",
	}, testActor)
	require.NoError(t, err)

	var payload map[string]string
	decode(t, result, &payload)
	assert.Contains(t, payload["error"], "project_id")
	assert.Contains(t, payload["error"], "type")
}

func TestCallHandlerErrorInsideEnvelope(t *testing.T) {
	registry, _, cleanup := createTestRegistry(t)
	defer cleanup()

	result, err := registry.Call(context.Background(), "getNode", map[string]any{
		"project_id": "proj-1",
		"node_id":    "no-such-node",
	}, testActor)
	require.NoError(t, err) // transport-level success

	var payload map[string]string
	decode(t, result, &payload)
	assert.Contains(t, payload["error"], "not found")
}

func TestCallRecordsMetrics(t *testing.T) {
	registry, svc, cleanup := createTestRegistry(t)
	defer cleanup()

	m := metrics.New()
	svc.Metrics = m
	registry = NewRegistry(svc)

	_, err := registry.Call(context.Background(), "createNode", map[string]any{
		"project_id": "proj-1", "type": "Component", "name": "Battery",
	}, testActor)
	require.NoError(t, err)

	// Validation failures count under the error status.
	_, err = registry.Call(context.Background(), "createNode", nil, testActor)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `corese_tool_calls_total{status="ok",tool="createNode"} 1`)
	assert.Contains(t, body, `corese_tool_calls_total{status="error",tool="createNode"} 1`)
}

func TestCallUnknownTool(t *testing.T) {
	registry, _, cleanup := createTestRegistry(t)
	defer cleanup()

	_, err := registry.Call(context.Background(), "noSuchTool", nil, testActor)
	var notFound *fault.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestDefinitionsSorted(t *testing.T) {
	registry, _, cleanup := createTestRegistry(t)
	defer cleanup()

	defs := registry.Definitions()
	require.NotEmpty(t, defs)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].Name, defs[i].Name)
	}

	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		names[def.Name] = true
	}
	for _, required := range []string{
		"createNode", "getNode", "updateNode", "deleteNode",
		"createEdge", "getEdge", "updateEdge", "deleteEdge",
		"getNodesByFilter", "getEdgesByFilter", "getGraphStats",
		"findShortestPath", "findMultiplePaths", "getNeighbors",
		"scoreTraversalPlan", "runConsistencyChecks",
		"recordEvent", "getEventsByFilter", "buildTimeline",
		"buildChangeSet", "recomputeChangeSetStats",
		"createTask", "checkAssignedTasks", "submitPlan", "checkPlanStatus",
		"approvePlan", "rejectPlan", "startRun", "logDecision",
		"completeTask", "failRun", "queryPrecedents",
	} {
		assert.True(t, names[required], "missing tool %s", required)
	}
}

func TestGraphMutationsRecordEvents(t *testing.T) {
	registry, svc, cleanup := createTestRegistry(t)
	defer cleanup()

	ctx := context.Background()
	result, err := registry.Call(ctx, "createNode", map[string]any{
		"project_id": "proj-1", "type": "Component", "name": "PSU",
	}, testActor)
	require.NoError(t, err)
	var node persistence.Node
	decode(t, result, &node)

	_, err = registry.Call(ctx, "updateNode", map[string]any{
		"project_id": "proj-1", "node_id": node.ID, "status": "active",
	}, testActor)
	require.NoError(t, err)

	_, err = registry.Call(ctx, "deleteNode", map[string]any{
		"project_id": "proj-1", "node_id": node.ID,
	}, testActor)
	require.NoError(t, err)

	events, err := svc.Ledger.Events(&persistence.EventFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, persistence.EventDeleted, events[0].EventType)
	assert.Equal(t, persistence.EventUpdated, events[1].EventType)
	assert.Equal(t, persistence.EventCreated, events[2].EventType)
	assert.Contains(t, events[1].DiffPayload.FieldsChanged, "status")
}

func TestPathToolNoPathResult(t *testing.T) {
	registry, _, cleanup := createTestRegistry(t)
	defer cleanup()

	ctx := context.Background()
	var a, b persistence.Node
	result, err := registry.Call(ctx, "createNode", map[string]any{
		"project_id": "proj-1", "type": "Component", "name": "A",
	}, testActor)
	require.NoError(t, err)
	decode(t, result, &a)
	result, err = registry.Call(ctx, "createNode", map[string]any{
		"project_id": "proj-1", "type": "Component", "name": "B",
	}, testActor)
	require.NoError(t, err)
	decode(t, result, &b)

	result, err = registry.Call(ctx, "findShortestPath", map[string]any{
		"project_id":     "proj-1",
		"start_node_id":  a.ID,
		"target_node_id": b.ID,
	}, testActor)
	require.NoError(t, err)

	var payload map[string]any
	decode(t, result, &payload)
	assert.Equal(t, false, payload["found"])
}

func TestSubmitPlanToolAutoPlans(t *testing.T) {
	registry, svc, cleanup := createTestRegistry(t)
	defer cleanup()

	ctx := context.Background()
	nodes := map[string]string{}
	for _, name := range []string{"A", "B", "C"} {
		var node persistence.Node
		result, err := registry.Call(ctx, "createNode", map[string]any{
			"project_id": "proj-1", "type": "Component", "name": name,
		}, testActor)
		require.NoError(t, err)
		decode(t, result, &node)
		nodes[name] = node.ID
	}
	for _, link := range []struct {
		from, to string
		weight   float64
	}{{"A", "B", 1.0}, {"B", "C", 2.0}} {
		_, err := registry.Call(ctx, "createEdge", map[string]any{
			"project_id":    "proj-1",
			"from_node_id":  nodes[link.from],
			"to_node_id":    nodes[link.to],
			"relation_type": "depends_on",
			"weight":        link.weight,
		}, testActor)
		require.NoError(t, err)
	}

	task, err := svc.Workflow.CreateTask(&persistence.Task{
		ProjectID: "proj-1", Title: "reach C", ContextNodeID: nodes["A"],
	})
	require.NoError(t, err)

	result, err := registry.Call(ctx, "submitPlan", map[string]any{
		"project_id":   "proj-1",
		"task_id":      task.ID,
		"rationale":    "cheapest route",
		"goal_node_id": nodes["C"],
	}, testActor)
	require.NoError(t, err)

	var plan persistence.Plan
	decode(t, result, &plan)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "startAtNode", plan.Steps[0].Tool)
	assert.Contains(t, plan.Rationale, "3.00")
	assert.Equal(t, "agent-1", plan.ProposedBy)
}
