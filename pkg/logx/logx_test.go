package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainFiltering(t *testing.T) {
	t.Cleanup(func() { SetDebug(false, nil) })

	SetDebug(false, nil)
	assert.False(t, IsDebugEnabledForDomain("rules"))

	SetDebug(true, nil)
	assert.True(t, IsDebugEnabledForDomain("rules"))
	assert.True(t, IsDebugEnabledForDomain("ledger"))

	SetDebug(true, []string{"rules", " ledger "})
	assert.True(t, IsDebugEnabledForDomain("rules"))
	assert.True(t, IsDebugEnabledForDomain("ledger"))
	assert.False(t, IsDebugEnabledForDomain("pathfind"))
}

func TestLoggerComponent(t *testing.T) {
	logger := NewLogger("graphstore")
	assert.Equal(t, "graphstore", logger.Component())

	// Smoke test that logging does not panic at any level.
	logger.Info("node %s created", "n1")
	logger.Warn("edge weight %.2f below zero", -1.0)
	logger.Error("store unavailable")
	logger.Debug("suppressed unless DEBUG is set")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "no-op"))
	assert.Error(t, Wrap(assert.AnError, "context"))
}
