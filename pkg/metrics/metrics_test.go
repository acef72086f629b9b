package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAndHandler(t *testing.T) {
	m := New()

	m.RecordToolCall("createNode", "ok", 5*time.Millisecond)
	m.RecordSearch("found", 2*time.Millisecond)
	m.RecordEvent("created")
	m.RecordRuleRun(map[string]map[string]int{
		"orphan_nodes": {"info": 2},
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `corese_tool_calls_total{status="ok",tool="createNode"} 1`)
	assert.Contains(t, body, `corese_path_searches_total{outcome="found"} 1`)
	assert.Contains(t, body, `corese_ledger_events_total{event_type="created"} 1`)
	assert.Contains(t, body, `corese_rule_violations_total{rule="orphan_nodes",severity="info"} 2`)
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	m := New()

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(),
		`corese_http_requests_total{endpoint="/teapot",method="GET",status_code="418"} 1`)
}

// Two instances must not collide on metric registration.
func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordEvent("created")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), `corese_ledger_events_total{event_type="created"} 1`)
}
