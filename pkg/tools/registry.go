package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"corese/pkg/fault"
	"corese/pkg/governance"
	"corese/pkg/ledger"
	"corese/pkg/logx"
	"corese/pkg/metrics"
	"corese/pkg/pathfind"
	"corese/pkg/persistence"
	"corese/pkg/rules"
)

// Service bundles the engines the tools operate on.
type Service struct {
	Store    *persistence.Store
	Paths    *pathfind.Engine
	Rules    *rules.Engine
	Ledger   *ledger.Ledger
	Workflow *governance.Workflow
	Metrics  *metrics.Metrics // optional; nil disables call instrumentation
}

// Registry holds every registered tool and dispatches calls.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	logger  *logx.Logger
	metrics *metrics.Metrics
}

// NewRegistry builds a registry with the full tool set wired to the given
// service.
func NewRegistry(svc *Service) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		logger:  logx.NewLogger("tools"),
		metrics: svc.Metrics,
	}
	for _, tool := range graphTools(svc) {
		r.Register(tool)
	}
	for _, tool := range traversalTools(svc) {
		r.Register(tool)
	}
	for _, tool := range eventTools(svc) {
		r.Register(tool)
	}
	for _, tool := range governanceTools(svc) {
		r.Register(tool)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
}

// Definitions returns every tool definition, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call dispatches a tool invocation. Schema validation happens before the
// handler runs: every missing required argument is collected and reported
// together. Stricter than plain JSON-Schema required semantics, an empty
// string or explicit null for a required argument also counts as missing;
// no tool here accepts "" as a meaningful value, and agents that send one
// invariably meant to omit the key. Handler errors come back inside the
// envelope as {"error": msg} so the transport layer never has to
// distinguish them.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, actor Actor) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.NotFound("tool", name)
	}

	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()

	var missing []string
	for _, required := range tool.Definition.InputSchema.Required {
		if raw, present := args[required]; !present || raw == nil || raw == "" {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		r.recordCall(name, "error", start)
		return errorEnvelope(fault.MissingParams(missing...)), nil
	}

	value, err := tool.Exec(ctx, args, actor)
	if err != nil {
		r.logger.Debug("tool %s failed: %v", name, err)
		r.recordCall(name, "error", start)
		return errorEnvelope(err), nil
	}
	r.recordCall(name, "ok", start)
	return envelope(value)
}

func (r *Registry) recordCall(name, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordToolCall(name, status, time.Since(start))
}

// envelope wraps a handler result in the single-text-block response form.
func envelope(value any) (*Result, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return errorEnvelope(fmt.Errorf("failed to serialize result: %w", err)), nil
	}
	return &Result{Content: []ContentBlock{{Type: "text", Text: string(data)}}}, nil
}

func errorEnvelope(err error) *Result {
	data, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		data = []byte(`{"error":"internal serialization failure"}`)
	}
	return &Result{Content: []ContentBlock{{Type: "text", Text: string(data)}}}
}
