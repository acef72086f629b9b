// Package webapi serves the read-only HTTP query surface: graph stats and
// listings, the event ledger, consistency check results, and change sets.
// Mutations go through the tool layer, never through HTTP.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"corese/pkg/ledger"
	"corese/pkg/logx"
	"corese/pkg/metrics"
	"corese/pkg/persistence"
	"corese/pkg/rules"
)

// Pagination bounds for list endpoints.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

const shutdownTimeout = 5 * time.Second

// Server exposes the query endpoints over a plain net/http mux.
type Server struct {
	store   *persistence.Store
	events  *ledger.Ledger
	rules   *rules.Engine
	metrics *metrics.Metrics
	logger  *logx.Logger

	httpServer *http.Server
}

// NewServer creates a query server over the given engine components.
// metrics may be nil; the /metrics endpoint and request instrumentation are
// skipped in that case.
func NewServer(store *persistence.Store, events *ledger.Ledger, ruleEngine *rules.Engine, m *metrics.Metrics) *Server {
	return &Server{
		store:   store,
		events:  events,
		rules:   ruleEngine,
		metrics: m,
		logger:  logx.NewLogger("webapi"),
	}
}

// RegisterRoutes attaches all endpoints to the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/graph/stats", s.handleGraphStats)
	mux.HandleFunc("/graph/nodes", s.handleGraphNodes)
	mux.HandleFunc("/graph/edges", s.handleGraphEdges)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/events/stats", s.handleEventStats)
	mux.HandleFunc("/rules/violations", s.handleRuleViolations)
	mux.HandleFunc("/rules/stats", s.handleRuleStats)
	mux.HandleFunc("/change-sets", s.handleChangeSets)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
}

// Handler returns the fully wired HTTP handler, with request metrics when
// metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	if s.metrics != nil {
		return s.metrics.Middleware(mux)
	}
	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Query API listening on %s", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	}
}

// pageResponse is the envelope every list endpoint returns.
type pageResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	nodeCounts, err := s.store.CountNodesByType(projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	edgeCounts, err := s.store.CountEdgesByRelationType(projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]any{
		"node_count":             sumCounts(nodeCounts),
		"edge_count":             sumCounts(edgeCounts),
		"nodes_by_type":          nodeCounts,
		"edges_by_relation_type": edgeCounts,
	})
}

func (s *Server) handleGraphNodes(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	q := r.URL.Query()
	filter := &persistence.NodeFilter{
		ProjectID:  projectID,
		Types:      q["type"],
		Subsystems: q["subsystem"],
		Statuses:   q["status"],
		Owner:      q.Get("owner"),
		Limit:      limit,
		Offset:     offset,
	}
	nodes, err := s.store.GetNodesByFilter(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	total, err := s.store.CountNodesByFilter(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, pageResponse{Items: nodes, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGraphEdges(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	q := r.URL.Query()
	filter := &persistence.EdgeFilter{
		ProjectID:     projectID,
		RelationTypes: q["relation_type"],
		SourceSystems: q["source_system"],
		Limit:         limit,
		Offset:        offset,
	}
	edges, err := s.store.GetEdgesByFilter(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	total, err := s.store.CountEdgesByFilter(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, pageResponse{Items: edges, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	q := r.URL.Query()
	filter := &persistence.EventFilter{
		ProjectID:    projectID,
		SourceSystem: q.Get("source_system"),
		EntityType:   q.Get("entity_type"),
		EventTypes:   q["event_type"],
		Limit:        limit,
		Offset:       offset,
	}
	if since, err := timeParam(q.Get("since")); err != nil {
		s.writeBadRequest(w, "invalid since timestamp, expected RFC3339")
		return
	} else if since != nil {
		filter.Since = since
	}
	if until, err := timeParam(q.Get("until")); err != nil {
		s.writeBadRequest(w, "invalid until timestamp, expected RFC3339")
		return
	} else if until != nil {
		filter.Until = until
	}

	events, err := s.events.Events(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	total, err := s.store.CountEventsByFilter(filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, pageResponse{Items: events, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	counts, err := s.events.EventCounts(projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]any{
		"total":         sumCounts(counts),
		"by_event_type": counts,
	})
}

func (s *Server) handleRuleViolations(w http.ResponseWriter, r *http.Request) {
	result, ok := s.runRules(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleRuleStats(w http.ResponseWriter, r *http.Request) {
	result, ok := s.runRules(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, map[string]any{
		"summary":   result.Summary,
		"rules_run": result.RulesRun,
	})
}

func (s *Server) runRules(w http.ResponseWriter, r *http.Request) (*rules.Result, bool) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return nil, false
	}

	q := r.URL.Query()
	opts := rules.RunOptions{
		Domain:  q.Get("domain"),
		RuleIDs: q["rule_id"],
	}
	result, err := s.rules.Run(projectID, opts)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}

	if s.metrics != nil {
		byRule := make(map[string]map[string]int)
		for _, v := range result.Violations {
			if byRule[v.RuleID] == nil {
				byRule[v.RuleID] = make(map[string]int)
			}
			byRule[v.RuleID][v.Severity]++
		}
		s.metrics.RecordRuleRun(byRule)
	}

	return result, true
}

func (s *Server) handleChangeSets(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)

	sets, err := s.events.ListChangeSets(projectID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}

	total, err := s.store.CountChangeSets(projectID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, pageResponse{Items: sets, Total: total, Limit: limit, Offset: offset})
}

// requireProject enforces GET with a project_id query parameter.
func (s *Server) requireProject(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		s.writeBadRequest(w, "project_id query parameter is required")
		return "", false
	}
	return projectID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("Request failed: %v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	// Ignore error - operation should not fail due to encode error
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	// Ignore error - operation should not fail due to encode error
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// pagination parses limit and offset, clamping to the allowed range.
func pagination(r *http.Request) (limit, offset int) {
	limit = DefaultPageLimit
	offset = 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func timeParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
