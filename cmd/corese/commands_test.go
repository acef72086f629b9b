package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corese/pkg/logx"
	"corese/pkg/rules"
)

func TestOpenEngineAppliesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "corese.yaml")
	body := fmt.Sprintf(`
database:
  path: %s
logging:
  level: debug
rules:
  disabled:
    - orphan_nodes
`, filepath.Join(dir, "test.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	defer logx.SetDebug(false, nil)

	eng, err := openEngine(cfgPath)
	require.NoError(t, err)
	defer eng.close()

	// level: debug switches the logger's debug output on.
	assert.True(t, logx.IsDebugEnabledForDomain("pathfind"))

	// The disabled rule stays out of check runs.
	result, err := eng.rules.Run("proj-1", rules.RunOptions{})
	require.NoError(t, err)
	assert.NotContains(t, result.RulesRun, "orphan_nodes")
	assert.Contains(t, result.RulesRun, "requirement_trace")

	// Metrics are shared across the wired components.
	require.NotNil(t, eng.metrics)
}
