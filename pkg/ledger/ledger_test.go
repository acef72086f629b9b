package ledger

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corese/pkg/metrics"
	"corese/pkg/persistence"
)

func createTestLedger(t *testing.T) (*Ledger, *persistence.Store, func()) {
	tempDir, err := os.MkdirTemp("", "ledger_test")
	require.NoError(t, err)

	db, err := persistence.InitializeDatabase(filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)

	store := persistence.NewStore(db)
	cleanup := func() {
		store.Close()
		os.RemoveAll(tempDir)
	}
	return New(store), store, cleanup
}

func TestComputeDiff(t *testing.T) {
	t.Run("IdenticalObjectsYieldEmptyDiff", func(t *testing.T) {
		snapshot := map[string]any{
			"name":     "REQ-001",
			"status":   "approved",
			"metadata": map[string]any{"rev": 3},
		}
		diff := ComputeDiff(snapshot, snapshot)
		assert.Empty(t, diff.FieldsChanged)
		assert.Empty(t, diff.Details)
	})

	t.Run("UnionOfKeys", func(t *testing.T) {
		before := map[string]any{"name": "REQ-001", "owner": "alice"}
		after := map[string]any{"name": "REQ-001", "status": "approved"}

		diff := ComputeDiff(before, after)
		// owner removed, status added, name unchanged
		assert.Equal(t, []string{"owner", "status"}, diff.FieldsChanged)

		ownerChange := diff.Details["owner"].(map[string]any)
		assert.Equal(t, "alice", ownerChange["old"])
		assert.Nil(t, ownerChange["new"])
	})

	t.Run("NestedValuesCompareSerialized", func(t *testing.T) {
		before := map[string]any{"metadata": map[string]any{"rev": 1}}
		after := map[string]any{"metadata": map[string]any{"rev": 2}}
		diff := ComputeDiff(before, after)
		assert.Equal(t, []string{"metadata"}, diff.FieldsChanged)
	})
}

func TestTypedRecordHelpers(t *testing.T) {
	ledger, _, cleanup := createTestLedger(t)
	defer cleanup()

	node := &persistence.Node{
		ID: "n1", ProjectID: "proj-1", Type: "Requirement", Name: "REQ-001",
	}

	created, err := ledger.RecordNodeCreated("importer", node)
	require.NoError(t, err)
	assert.Equal(t, persistence.EventCreated, created.EventType)
	assert.Equal(t, "Requirement", created.EntityType)
	assert.Equal(t, "REQ-001", created.DiffPayload.After["name"])

	after := *node
	after.Status = "approved"
	updated, err := ledger.RecordNodeUpdated("importer", node, &after)
	require.NoError(t, err)
	assert.Contains(t, updated.DiffPayload.FieldsChanged, "status")

	edge := &persistence.Edge{
		ID: "e1", ProjectID: "proj-1", FromNodeID: "n1", ToNodeID: "n2",
		RelationType: "traces_to", Weight: 1,
	}
	linked, err := ledger.RecordEdgeCreated("importer", edge)
	require.NoError(t, err)
	assert.Equal(t, persistence.EventLinked, linked.EventType)
	assert.Equal(t, persistence.EntityTypeEdge, linked.EntityType)

	statusEvent, err := ledger.RecordStatusChanged("proj-1", "governance", "task", "t1", "backlog", "in_progress")
	require.NoError(t, err)
	assert.Equal(t, persistence.EventStatusChanged, statusEvent.EventType)
}

func TestRecordEventRecordsMetrics(t *testing.T) {
	l, _, cleanup := createTestLedger(t)
	defer cleanup()

	m := metrics.New()
	l.SetMetrics(m)

	_, err := l.RecordEvent("proj-1", "test", "Requirement", "req-1",
		persistence.EventCreated, persistence.DiffPayload{})
	require.NoError(t, err)
	_, err = l.RecordEvent("proj-1", "test", "Requirement", "req-1",
		persistence.EventUpdated, persistence.DiffPayload{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `corese_ledger_events_total{event_type="created"} 1`)
	assert.Contains(t, body, `corese_ledger_events_total{event_type="updated"} 1`)
}

func TestBuildTimeline(t *testing.T) {
	ledger, _, cleanup := createTestLedger(t)
	defer cleanup()

	node := &persistence.Node{ID: "n1", ProjectID: "proj-1", Type: "Component", Name: "PSU"}
	_, err := ledger.RecordNodeCreated("importer", node)
	require.NoError(t, err)

	after := *node
	after.Owner = "bob"
	after.Status = "active"
	_, err = ledger.RecordNodeUpdated("editor", node, &after)
	require.NoError(t, err)

	_, err = ledger.RecordStatusChanged("proj-1", "governance", "Component", "n1", "draft", "active")
	require.NoError(t, err)

	timeline, err := ledger.BuildTimeline("proj-1", []string{"n1"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, timeline, 3)

	// Newest first
	assert.Equal(t, "Status changed from draft to active", timeline[0].Summary)
	assert.Equal(t, "Updated owner, status", timeline[1].Summary)
	assert.Equal(t, "Created Component PSU", timeline[2].Summary)
}

func TestChangeSetGetOrCreate(t *testing.T) {
	ledger, _, cleanup := createTestLedger(t)
	defer cleanup()

	node := &persistence.Node{ID: "n1", ProjectID: "proj-1", Type: "Requirement", Name: "REQ-001"}
	first, err := ledger.RecordNodeCreated("importer", node)
	require.NoError(t, err)

	cs, err := ledger.GetOrCreateChangeSet("proj-1", "commit:abc", "import", []*persistence.Event{first})
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Stats.TotalEvents)

	// A later event matching the anchor must NOT be absorbed: requesting
	// the same anchor returns the existing set unchanged.
	after := *node
	after.Status = "approved"
	second, err := ledger.RecordNodeUpdated("editor", node, &after)
	require.NoError(t, err)

	again, err := ledger.GetOrCreateChangeSet("proj-1", "commit:abc", "import",
		[]*persistence.Event{first, second})
	require.NoError(t, err)
	assert.Equal(t, cs.ID, again.ID)
	assert.Equal(t, 1, again.Stats.TotalEvents)
}

func TestChangeSetStats(t *testing.T) {
	events := []*persistence.Event{
		{EntityType: "Requirement", EntityID: "n1", EventType: persistence.EventCreated},
		{EntityType: "Requirement", EntityID: "n1", EventType: persistence.EventUpdated,
			DiffPayload: persistence.DiffPayload{Details: map[string]any{"domain": "power"}}},
		{EntityType: "Component", EntityID: "n2", EventType: persistence.EventCreated},
		{EntityType: persistence.EntityTypeEdge, EntityID: "e1", EventType: persistence.EventLinked},
	}

	stats := ComputeStats(events)
	assert.Equal(t, 4, stats.TotalEvents)
	assert.Equal(t, 2, stats.CountsByType["Requirement"])
	assert.Equal(t, 2, stats.CountsByEventType[persistence.EventCreated])
	assert.Equal(t, 1, stats.CountsByDomain["power"])
	assert.Equal(t, 2, stats.AffectedNodes)
	assert.Equal(t, 1, stats.AffectedEdges)
}

func TestAttachDetachRecomputesStats(t *testing.T) {
	ledger, store, cleanup := createTestLedger(t)
	defer cleanup()

	node := &persistence.Node{ID: "n1", ProjectID: "proj-1", Type: "Requirement", Name: "REQ-001"}
	first, err := ledger.RecordNodeCreated("importer", node)
	require.NoError(t, err)
	second, err := ledger.RecordStatusChanged("proj-1", "governance", "Requirement", "n1", "draft", "approved")
	require.NoError(t, err)

	cs, err := ledger.GetOrCreateChangeSet("proj-1", "sprint-1", "", []*persistence.Event{first})
	require.NoError(t, err)

	require.NoError(t, ledger.AttachEvent(cs.ID, second.ID))
	updated, err := store.GetChangeSetByAnchor("proj-1", "sprint-1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Stats.TotalEvents)

	require.NoError(t, ledger.DetachEvent(cs.ID, second.ID))
	updated, err = store.GetChangeSetByAnchor("proj-1", "sprint-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Stats.TotalEvents)
}

func TestWindowChangeSet(t *testing.T) {
	ledger, _, cleanup := createTestLedger(t)
	defer cleanup()

	node := &persistence.Node{ID: "n1", ProjectID: "proj-1", Type: "Requirement", Name: "REQ-001"}
	_, err := ledger.RecordNodeCreated("importer", node)
	require.NoError(t, err)

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)

	cs, err := ledger.BuildWindowChangeSet("proj-1", start, end, "last sweep")
	require.NoError(t, err)
	assert.Equal(t, WindowAnchor(start, end), cs.Anchor)
	assert.Equal(t, 1, cs.Stats.TotalEvents)
}
