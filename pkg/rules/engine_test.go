package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corese/pkg/persistence"
)

func createTestEngine(t *testing.T) (*Engine, *persistence.Store, func()) {
	tempDir, err := os.MkdirTemp("", "rules_test")
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

func addEdge(t *testing.T, store *persistence.Store, from, to *persistence.Node, relation string) {
	t.Helper()
	edge := &persistence.Edge{
		ProjectID:    "proj-1",
		FromNodeID:   from.ID,
		ToNodeID:     to.ID,
		RelationType: relation,
	}
	require.NoError(t, store.CreateEdge(edge))
}

func TestAllocationConsistency(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	unallocated := addNode(t, store, "Requirement", "REQ-LOOSE")
	allocated := addNode(t, store, "Requirement", "REQ-BOUND")
	component := addNode(t, store, "Component", "PSU")
	addEdge(t, store, allocated, component, RelationAllocatedTo)

	result, err := engine.Run("proj-1", RunOptions{RuleIDs: []string{"allocation_consistency"}})
	require.NoError(t, err)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, unallocated.ID, result.Violations[0].NodeID)
	assert.Equal(t, SeverityError, result.Violations[0].Severity)

	// Allocating the loose requirement clears the violation
	addEdge(t, store, unallocated, component, RelationAllocatedTo)
	result, err = engine.Run("proj-1", RunOptions{RuleIDs: []string{"allocation_consistency"}})
	require.NoError(t, err)
	assert.Empty(t, result.Violations)
}

func TestRequirementTrace(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	traced := addNode(t, store, "Requirement", "REQ-T")
	untraced := addNode(t, store, "Requirement", "REQ-U")
	test := addNode(t, store, "Test", "TC-1")
	addEdge(t, store, traced, test, RelationVerifiedBy)

	result, err := engine.Run("proj-1", RunOptions{RuleIDs: []string{"requirement_trace"}})
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, untraced.ID, result.Violations[0].NodeID)
}

func TestInterfaceConnectivity(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	good := addNode(t, store, "Interface", "IF-GOOD")
	dangling := addNode(t, store, "Interface", "IF-DANGLING")
	a := addNode(t, store, "Component", "A")
	b := addNode(t, store, "Component", "B")
	addEdge(t, store, a, good, RelationConnectsTo)
	addEdge(t, store, good, b, RelationConnectsTo)
	addEdge(t, store, a, dangling, RelationConnectsTo)

	result, err := engine.Run("proj-1", RunOptions{RuleIDs: []string{"interface_connectivity"}})
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, dangling.ID, result.Violations[0].NodeID)
	assert.Contains(t, result.Violations[0].Message, "has 1")
}

func TestRunIsolatesFailingRules(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	addNode(t, store, "Requirement", "REQ-1")

	engine.Register(Rule{
		ID:       "always_panics",
		Severity: SeverityError,
		Check: func(*Context) ([]Violation, error) {
			panic("boom")
		},
	})
	engine.Register(Rule{
		ID:       "always_errors",
		Severity: SeverityError,
		Check: func(*Context) ([]Violation, error) {
			return nil, errors.New("backing store unavailable")
		},
	})

	result, err := engine.Run("proj-1", RunOptions{
		RuleIDs: []string{"always_panics", "always_errors", "allocation_consistency"},
	})
	require.NoError(t, err)

	// The failing rules are skipped, the healthy rule still reports
	assert.Equal(t, []string{"allocation_consistency"}, result.RulesRun)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "allocation_consistency", result.Violations[0].RuleID)
}

func TestViolationSummary(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	addNode(t, store, "Requirement", "REQ-1") // orphan + untraced + unallocated
	addNode(t, store, "Test", "TC-1")         // orphan + verifies nothing

	result, err := engine.Run("proj-1", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, len(result.Violations), result.Summary.Total)
	assert.Equal(t, 2, result.Summary.BySeverity[SeverityError])
	assert.Equal(t, 1, result.Summary.BySeverity[SeverityWarning])
	assert.Equal(t, 2, result.Summary.BySeverity[SeverityInfo])
	assert.Equal(t, 1, result.Summary.ByRule["allocation_consistency"])
	assert.Equal(t, 2, result.Summary.ByRule["orphan_nodes"])
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	addNode(t, store, "Requirement", "REQ-1")

	engine.SetDisabled("orphan_nodes", true)
	engine.SetDisabled("verification_coverage", true)

	result, err := engine.Run("proj-1", RunOptions{})
	require.NoError(t, err)
	assert.NotContains(t, result.RulesRun, "orphan_nodes")
	for _, v := range result.Violations {
		assert.NotEqual(t, "orphan_nodes", v.RuleID)
	}

	engine.SetDisabled("orphan_nodes", false)
	result, err = engine.Run("proj-1", RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, result.RulesRun, "orphan_nodes")
}

func TestDomainFilter(t *testing.T) {
	engine, store, cleanup := createTestEngine(t)
	defer cleanup()

	addNode(t, store, "Requirement", "REQ-1")

	result, err := engine.Run("proj-1", RunOptions{Domain: "traceability"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"requirement_trace", "allocation_consistency"}, result.RulesRun)
}
