// Package pathfind computes weighted traversals over a project graph. It
// reads the graph through the persistence layer and never mutates it, so
// independent searches are safe to run in parallel.
package pathfind

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"corese/pkg/fault"
	"corese/pkg/logx"
	"corese/pkg/metrics"
	"corese/pkg/persistence"
)

// defaultMaxIterations bounds Dijkstra when no depth limit is given.
const defaultMaxIterations = 10000

// Options narrow the traversal space for a single search.
//
//nolint:govet // struct alignment optimization not critical for this type
type Options struct {
	AllowedRelationTypes []string
	AvoidNodeTypes       []string
	MaxWeight            float64 // 0 means unbounded
	MaxDepth             int     // 0 means unbounded
	DirectedOnly         bool    // ignore the bidirectional flag on edges
}

// Step is one hop of a computed path. CumulativeWeight is the sum of edge
// weights consumed strictly before this step, so the start step is 0.
//
//nolint:govet // struct alignment optimization not critical for this type
type Step struct {
	NodeID           string            `json:"node_id"`
	Node             *persistence.Node `json:"node,omitempty"`
	EdgeID           string            `json:"edge_id,omitempty"`
	Edge             *persistence.Edge `json:"edge,omitempty"`
	CumulativeWeight float64           `json:"cumulative_weight"`
}

// Path is a complete traversal from start to target.
type Path struct {
	Steps       []Step  `json:"steps"`
	TotalWeight float64 `json:"total_weight"`
}

// Engine runs searches against a store.
type Engine struct {
	store   *persistence.Store
	logger  *logx.Logger
	metrics *metrics.Metrics
}

// NewEngine returns a pathfinding engine backed by the given store.
func NewEngine(store *persistence.Store) *Engine {
	return &Engine{
		store:  store,
		logger: logx.NewLogger("pathfind"),
	}
}

// SetMetrics enables search instrumentation. Nil leaves searches unrecorded.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// arc is one traversable direction of an edge.
type arc struct {
	to     string
	edgeID string
	weight float64
}

// graphView is the in-memory adjacency built for one search.
type graphView struct {
	adjacency map[string][]arc
	edges     map[string]*persistence.Edge
	nodes     map[string]*persistence.Node
}

// loadGraph materializes the project's adjacency, honoring relation-type
// and node-type filters. Edges flagged bidirectional get a reverse arc with
// the same weight unless DirectedOnly is set.
func (e *Engine) loadGraph(projectID string, opts Options) (*graphView, error) {
	nodes, err := e.store.GetNodesByFilter(&persistence.NodeFilter{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}

	avoided := make(map[string]bool, len(opts.AvoidNodeTypes))
	for _, nodeType := range opts.AvoidNodeTypes {
		avoided[nodeType] = true
	}

	view := &graphView{
		adjacency: make(map[string][]arc),
		edges:     make(map[string]*persistence.Edge),
		nodes:     make(map[string]*persistence.Node, len(nodes)),
	}
	for _, node := range nodes {
		if avoided[node.Type] {
			continue
		}
		view.nodes[node.ID] = node
	}

	edges, err := e.store.GetEdgesByFilter(&persistence.EdgeFilter{
		ProjectID:     projectID,
		RelationTypes: opts.AllowedRelationTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}

	for _, edge := range edges {
		// Arcs into or out of an avoided node are dropped with it.
		if view.nodes[edge.FromNodeID] == nil || view.nodes[edge.ToNodeID] == nil {
			continue
		}
		view.edges[edge.ID] = edge
		view.adjacency[edge.FromNodeID] = append(view.adjacency[edge.FromNodeID],
			arc{to: edge.ToNodeID, edgeID: edge.ID, weight: edge.Weight})
		if edge.Bidirectional && !opts.DirectedOnly {
			view.adjacency[edge.ToNodeID] = append(view.adjacency[edge.ToNodeID],
				arc{to: edge.FromNodeID, edgeID: edge.ID, weight: edge.Weight})
		}
	}

	// Deterministic expansion order regardless of query ordering.
	for _, arcs := range view.adjacency {
		sort.Slice(arcs, func(i, j int) bool {
			if arcs[i].weight != arcs[j].weight {
				return arcs[i].weight < arcs[j].weight
			}
			return arcs[i].to < arcs[j].to
		})
	}

	return view, nil
}

// frontierItem is a priority-queue entry.
type frontierItem struct {
	nodeID   string
	distance float64
}

// frontier is a binary min-heap over cumulative distance, breaking ties by
// node id so search order is deterministic.
type frontier []frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].distance != f[j].distance {
		return f[i].distance < f[j].distance
	}
	return f[i].nodeID < f[j].nodeID
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(frontierItem)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// FindShortestPath runs Dijkstra from start to target. A missing endpoint
// is NotFound; an unreachable target is a nil path with a nil error, and
// callers must branch on that explicitly.
func (e *Engine) FindShortestPath(projectID, startID, targetID string, opts Options) (path *Path, err error) {
	start := time.Now()
	defer func() {
		if e.metrics == nil || err != nil {
			return
		}
		outcome := "found"
		if path == nil {
			outcome = "not_found"
		}
		e.metrics.RecordSearch(outcome, time.Since(start))
	}()

	view, err := e.loadGraph(projectID, opts)
	if err != nil {
		return nil, err
	}
	if view.nodes[startID] == nil {
		return nil, fault.NotFound("node", startID)
	}
	if view.nodes[targetID] == nil {
		return nil, fault.NotFound("node", targetID)
	}

	maxIterations := defaultMaxIterations
	if opts.MaxDepth > 0 {
		maxIterations = opts.MaxDepth * 1000
	}

	distances := map[string]float64{startID: 0}
	predecessors := map[string]string{} // node -> previous node
	viaEdge := map[string]string{}      // node -> edge taken to reach it
	settled := map[string]bool{}

	pq := &frontier{{nodeID: startID, distance: 0}}
	heap.Init(pq)

	iterations := 0
	for pq.Len() > 0 {
		iterations++
		if iterations > maxIterations {
			// Best effort: stop with whatever distances are known.
			e.logger.Warn("search hit iteration cap %d for project %s", maxIterations, projectID)
			break
		}

		current := heap.Pop(pq).(frontierItem)
		if settled[current.nodeID] {
			continue
		}
		settled[current.nodeID] = true

		if current.nodeID == targetID {
			break
		}

		for _, a := range view.adjacency[current.nodeID] {
			if settled[a.to] {
				continue
			}
			candidate := current.distance + a.weight
			// maxWeight is a relax-time threshold, not a graph boundary.
			if opts.MaxWeight > 0 && candidate > opts.MaxWeight {
				continue
			}
			known, seen := distances[a.to]
			if !seen || candidate < known {
				distances[a.to] = candidate
				predecessors[a.to] = current.nodeID
				viaEdge[a.to] = a.edgeID
				heap.Push(pq, frontierItem{nodeID: a.to, distance: candidate})
			}
		}
	}

	if _, reached := distances[targetID]; !reached {
		e.logger.Debug("no path from %s to %s in project %s", startID, targetID, projectID)
		return nil, nil
	}

	return reconstructPath(view, startID, targetID, predecessors, viaEdge), nil
}

// reconstructPath walks predecessor pointers back to start and attaches the
// full node and edge records to each step.
func reconstructPath(view *graphView, startID, targetID string, predecessors, viaEdge map[string]string) *Path {
	var order []string
	for nodeID := targetID; ; nodeID = predecessors[nodeID] {
		order = append(order, nodeID)
		if nodeID == startID {
			break
		}
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	path := &Path{Steps: make([]Step, 0, len(order))}
	cumulative := 0.0
	for i, nodeID := range order {
		step := Step{NodeID: nodeID, Node: view.nodes[nodeID]}
		if i > 0 {
			edgeID := viaEdge[nodeID]
			step.EdgeID = edgeID
			step.Edge = view.edges[edgeID]
			cumulative += view.edges[edgeID].Weight
		}
		step.CumulativeWeight = cumulative
		path.Steps = append(path.Steps, step)
	}
	path.TotalWeight = cumulative
	return path
}

// FindMultiplePaths returns at most the single shortest path. K-shortest
// beyond k=1 is a known gap; requests for more are logged and truncated
// rather than silently extended.
func (e *Engine) FindMultiplePaths(projectID, startID, targetID string, k int, opts Options) ([]*Path, error) {
	if k > 1 {
		e.logger.Warn("k-shortest-paths beyond k=1 is not implemented; returning at most one path (k=%d requested)", k)
	}
	path, err := e.FindShortestPath(projectID, startID, targetID, opts)
	if err != nil {
		return nil, err
	}
	if path == nil {
		return nil, nil
	}
	return []*Path{path}, nil
}
