package pathfind

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corese/pkg/metrics"
	"corese/pkg/persistence"
)

func createTestEngine(t *testing.T) (*Engine, *persistence.Store, func()) {
	tempDir, err := os.MkdirTemp("", "pathfind_test")
	require.NoError(t, err)

	db, err := persistence.InitializeDatabase(filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)

	store := persistence.NewStore(db)
	cleanup := func() {
		store.Close()
		os.RemoveAll(tempDir)
	}
	return NewEngine(store), store, cleanup
}

func addNode(t *testing.T, store *persistence.Store, nodeType, name string) *persistence.Node {
	t.Helper()
	node := &persistence.Node{ProjectID: "proj-1", Type: nodeType, Name: name}
	require.NoError(t, store.CreateNode(node))
	return node
}

func addEdge(t *testing.T, store *persistence.Store, from, to *persistence.Node, relation string, weight float64, bidirectional bool) *persistence.Edge {
	t.Helper()
	edge := &persistence.Edge{
		ProjectID:     "proj-1",
		FromNodeID:    from.ID,
		ToNodeID:      to.ID,
		RelationType:  relation,
		Weight:        weight,
		Bidirectional: bidirectional,
	}
	require.NoError(t, store.CreateEdge(edge))
	return edge
}

// Diamond graph: A->B->D costs 1+1=2, A->C->D costs 3+0.5=3.5.
func buildDiamond(t *testing.T, store *persistence.Store) (a, b, c, d *persistence.Node) {
	a = addNode(t, store, "Component", "A")
	b = addNode(t, store, "Component", "B")
	c = addNode(t, store, "Component", "C")
	d = addNode(t, store, "Component", "D")
	addEdge(t, store, a, b, "depends_on", 1.0, false)
	addEdge(t, store, b, d, "depends_on", 1.0, false)
	addEdge(t, store, a, c, "depends_on", 3.0, false)
	addEdge(t, store, c, d, "depends_on", 0.5, false)
	return a, b, c, d
}

func TestFindShortestPath(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a, b, _, d := buildDiamond(t, store)

	path, err := engine.FindShortestPath("proj-1", a.ID, d.ID, Options{})
	require.NoError(t, err)
	require.NotNil(t, path)

	assert.Equal(t, 2.0, path.TotalWeight)
	require.Len(t, path.Steps, 3)
	assert.Equal(t, a.ID, path.Steps[0].NodeID)
	assert.Equal(t, b.ID, path.Steps[1].NodeID)
	assert.Equal(t, d.ID, path.Steps[2].NodeID)

	// Cumulative weight counts edges consumed before reaching each step
	assert.Equal(t, 0.0, path.Steps[0].CumulativeWeight)
	assert.Equal(t, 1.0, path.Steps[1].CumulativeWeight)
	assert.Equal(t, 2.0, path.Steps[2].CumulativeWeight)

	// Full records are attached
	assert.Equal(t, "A", path.Steps[0].Node.Name)
	assert.NotNil(t, path.Steps[1].Edge)
	assert.Empty(t, path.Steps[0].EdgeID)
}

func TestFindShortestPathDeterministic(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a, _, _, d := buildDiamond(t, store)

	first, err := engine.FindShortestPath("proj-1", a.ID, d.ID, Options{})
	require.NoError(t, err)
	require.NotNil(t, first)

	for i := 0; i < 10; i++ {
		again, err := engine.FindShortestPath("proj-1", a.ID, d.ID, Options{})
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, first.TotalWeight, again.TotalWeight)
		for j := range first.Steps {
			assert.Equal(t, first.Steps[j].NodeID, again.Steps[j].NodeID)
		}
	}
}

func TestFindShortestPathNoPathIsNil(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a := addNode(t, store, "Component", "A")
	b := addNode(t, store, "Component", "B")
	// No edges at all

	path, err := engine.FindShortestPath("proj-1", a.ID, b.ID, Options{})
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestFindShortestPathMaxWeight(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a, _, _, d := buildDiamond(t, store)

	// Cheapest route costs 2.0; with the threshold below that, the search
	// cannot reach D at all and must return nil rather than exceed it.
	path, err := engine.FindShortestPath("proj-1", a.ID, d.ID, Options{MaxWeight: 1.5})
	require.NoError(t, err)
	assert.Nil(t, path)

	path, err = engine.FindShortestPath("proj-1", a.ID, d.ID, Options{MaxWeight: 2.0})
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.LessOrEqual(t, path.TotalWeight, 2.0)
}

func TestFindShortestPathBidirectional(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a := addNode(t, store, "Component", "A")
	b := addNode(t, store, "Component", "B")
	addEdge(t, store, a, b, "connects_to", 1.0, true)

	// Reverse traversal over the bidirectional edge
	path, err := engine.FindShortestPath("proj-1", b.ID, a.ID, Options{})
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, 1.0, path.TotalWeight)

	// DirectedOnly suppresses the reverse arc
	path, err = engine.FindShortestPath("proj-1", b.ID, a.ID, Options{DirectedOnly: true})
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestFindShortestPathFilters(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a := addNode(t, store, "Component", "A")
	hub := addNode(t, store, "Bus", "HUB")
	b := addNode(t, store, "Component", "B")
	addEdge(t, store, a, hub, "connects_to", 0.1, false)
	addEdge(t, store, hub, b, "connects_to", 0.1, false)
	addEdge(t, store, a, b, "depends_on", 5.0, false)

	// Avoiding the hub forces the direct dependency edge
	path, err := engine.FindShortestPath("proj-1", a.ID, b.ID, Options{AvoidNodeTypes: []string{"Bus"}})
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, 5.0, path.TotalWeight)

	// Restricting relation types to connects_to forces the hub route
	path, err = engine.FindShortestPath("proj-1", a.ID, b.ID, Options{AllowedRelationTypes: []string{"connects_to"}})
	require.NoError(t, err)
	require.NotNil(t, path)
	require.Len(t, path.Steps, 3)
	assert.Equal(t, hub.ID, path.Steps[1].NodeID)
}

func TestNeighborsSortedByWeight(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	center := addNode(t, store, "Component", "CENTER")
	heavy := addNode(t, store, "Component", "HEAVY")
	light := addNode(t, store, "Component", "LIGHT")
	inbound := addNode(t, store, "Component", "IN")
	addEdge(t, store, center, heavy, "depends_on", 9.0, false)
	addEdge(t, store, center, light, "depends_on", 0.5, false)
	addEdge(t, store, inbound, center, "depends_on", 2.0, false)

	neighbors, err := engine.Neighbors("proj-1", center.ID, DirectionBoth, Options{})
	require.NoError(t, err)
	require.Len(t, neighbors, 3)
	assert.Equal(t, "LIGHT", neighbors[0].Node.Name)
	assert.Equal(t, "IN", neighbors[1].Node.Name)
	assert.Equal(t, "HEAVY", neighbors[2].Node.Name)
	assert.Equal(t, DirectionIn, neighbors[1].Direction)

	outOnly, err := engine.Neighbors("proj-1", center.ID, DirectionOut, Options{})
	require.NoError(t, err)
	require.Len(t, outOnly, 2)

	_, err = engine.Neighbors("proj-1", center.ID, "sideways", Options{})
	assert.Error(t, err)
}

func TestFindShortestPathRecordsMetrics(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()
	a, _, _, d := buildDiamond(t, store)
	lone := addNode(t, store, "Component", "LONE")

	m := metrics.New()
	engine.SetMetrics(m)

	path, err := engine.FindShortestPath("proj-1", a.ID, d.ID, Options{})
	require.NoError(t, err)
	require.NotNil(t, path)

	path, err = engine.FindShortestPath("proj-1", a.ID, lone.ID, Options{})
	require.NoError(t, err)
	require.Nil(t, path)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `corese_path_searches_total{outcome="found"} 1`)
	assert.Contains(t, body, `corese_path_searches_total{outcome="not_found"} 1`)
}

func TestNeighborsFollowBidirectionalEdges(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a := addNode(t, store, "Component", "A")
	b := addNode(t, store, "Component", "B")
	addEdge(t, store, b, a, "depends_on", 1.0, true)

	// The edge is stored B->A but bidirectional, so pathfinding can cross
	// it A->B; neighbor discovery must agree.
	path, err := engine.FindShortestPath("proj-1", a.ID, b.ID, Options{})
	require.NoError(t, err)
	require.NotNil(t, path)

	out, err := engine.Neighbors("proj-1", a.ID, DirectionOut, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Node.Name)
	assert.Equal(t, DirectionOut, out[0].Direction)

	in, err := engine.Neighbors("proj-1", b.ID, DirectionIn, Options{})
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, "A", in[0].Node.Name)

	// Under both directions a bidirectional edge shows up twice, once per
	// orientation.
	both, err := engine.Neighbors("proj-1", a.ID, DirectionBoth, Options{})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	// DirectedOnly restores strict orientation.
	strict, err := engine.Neighbors("proj-1", a.ID, DirectionOut, Options{DirectedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, strict)
}

func TestScoreTraversalPlanCollectsAllIssues(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a := addNode(t, store, "Component", "A")
	b := addNode(t, store, "Component", "B")
	c := addNode(t, store, "Component", "C")
	addEdge(t, store, a, b, "depends_on", 1.5, false)
	// No B->C edge

	score, err := engine.ScoreTraversalPlan("proj-1", []string{a.ID, b.ID, c.ID, "ghost-node"})
	require.NoError(t, err)

	assert.False(t, score.Feasible)
	// Missing node + two missing edges, reported together
	assert.Len(t, score.Issues, 3)
	assert.Equal(t, 1.5, score.EstimatedCost)

	good, err := engine.ScoreTraversalPlan("proj-1", []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.True(t, good.Feasible)
	assert.Empty(t, good.Issues)
	assert.Equal(t, 1.5, good.EstimatedCost)
}

func TestFindMultiplePathsReturnsAtMostOne(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	a, _, _, d := buildDiamond(t, store)

	paths, err := engine.FindMultiplePaths("proj-1", a.ID, d.ID, 3, Options{})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, 2.0, paths[0].TotalWeight)

	none, err := engine.FindMultiplePaths("proj-1", d.ID, a.ID, 1, Options{})
	require.NoError(t, err)
	assert.Nil(t, none)
}
