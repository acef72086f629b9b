// Package rules audits a project graph for consistency violations. Rules
// only read the graph; they never mutate it, so a batch is safe to run
// concurrently with other readers.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"corese/pkg/logx"
	"corese/pkg/persistence"
)

// Severity levels for violations.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Violation is one consistency finding.
type Violation struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	NodeID   string `json:"node_id,omitempty"`
	NodeName string `json:"node_name,omitempty"`
	Message  string `json:"message"`
}

// Context gives a rule read access to the graph under audit.
type Context struct {
	ProjectID string
	Store     *persistence.Store
}

// CheckFunc evaluates one rule against a project.
type CheckFunc func(rc *Context) ([]Violation, error)

// Rule is one registered consistency check.
//
//nolint:govet // struct alignment optimization not critical for this type
type Rule struct {
	ID          string
	Description string
	Severity    string
	Domain      string
	Check       CheckFunc
}

// Summary tallies a batch's violations.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	ByRule     map[string]int `json:"by_rule"`
}

// Result is the outcome of one consistency run.
type Result struct {
	Violations []Violation `json:"violations"`
	Summary    Summary     `json:"summary"`
	RulesRun   []string    `json:"rules_run"`
}

// RunOptions narrow a batch to a domain or an explicit rule subset.
type RunOptions struct {
	Domain  string
	RuleIDs []string
}

// Engine owns its rule registry. Each engine instance is independent;
// there is no process-wide registry to race on.
type Engine struct {
	store    *persistence.Store
	logger   *logx.Logger
	mu       sync.RWMutex
	rules    map[string]Rule
	disabled map[string]bool
}

// NewEngine returns an engine with the built-in rules registered.
func NewEngine(store *persistence.Store) *Engine {
	e := &Engine{
		store:    store,
		logger:   logx.NewLogger("rules"),
		rules:    make(map[string]Rule),
		disabled: make(map[string]bool),
	}
	for _, rule := range builtinRules() {
		e.Register(rule)
	}
	return e
}

// Register adds or replaces a rule.
func (e *Engine) Register(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
}

// SetDisabled flips a rule's enablement. Config hot-reload calls this when
// the rules section changes.
func (e *Engine) SetDisabled(ruleID string, disabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled[ruleID] = disabled
}

// RuleIDs returns the registered rule ids, sorted.
func (e *Engine) RuleIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// selectRules resolves the batch to run, in deterministic order.
func (e *Engine) selectRules(opts RunOptions) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var ids []string
	if len(opts.RuleIDs) > 0 {
		ids = append(ids, opts.RuleIDs...)
	} else {
		for id := range e.rules {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var selected []Rule
	for _, id := range ids {
		rule, ok := e.rules[id]
		if !ok {
			e.logger.Warn("unknown rule id %s requested, skipping", id)
			continue
		}
		if e.disabled[id] {
			continue
		}
		if opts.Domain != "" && rule.Domain != opts.Domain {
			continue
		}
		selected = append(selected, rule)
	}
	return selected
}

// Run executes the selected rules sequentially against a project. A rule
// that errors or panics is logged and skipped; the batch continues with the
// remaining rules and the failed rule contributes no violations.
func (e *Engine) Run(projectID string, opts RunOptions) (*Result, error) {
	rc := &Context{ProjectID: projectID, Store: e.store}
	result := &Result{Violations: []Violation{}}

	for _, rule := range e.selectRules(opts) {
		violations, err := e.runOne(rule, rc)
		if err != nil {
			e.logger.Error("rule %s failed: %v", rule.ID, err)
			continue
		}
		result.RulesRun = append(result.RulesRun, rule.ID)
		result.Violations = append(result.Violations, violations...)
	}

	result.Summary = computeViolationSummary(result.Violations)
	return result, nil
}

// runOne isolates a single rule execution, converting panics to errors.
func (e *Engine) runOne(rule Rule, rc *Context) (violations []Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			violations = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Check(rc)
}

// computeViolationSummary tallies violations by severity and rule.
func computeViolationSummary(violations []Violation) Summary {
	summary := Summary{
		Total:      len(violations),
		BySeverity: map[string]int{},
		ByRule:     map[string]int{},
	}
	for _, v := range violations {
		summary.BySeverity[v.Severity]++
		summary.ByRule[v.RuleID]++
	}
	return summary
}
