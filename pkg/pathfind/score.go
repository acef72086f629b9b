package pathfind

import (
	"fmt"

	"corese/pkg/persistence"
)

// PlanScore is the result of validating a caller-proposed traversal.
type PlanScore struct {
	Feasible      bool     `json:"feasible"`
	EstimatedCost float64  `json:"estimated_cost"`
	Issues        []string `json:"issues"`
}

// ScoreTraversalPlan checks that every node in the proposed path exists and
// that a directed edge connects each consecutive pair. All violations are
// collected rather than stopping at the first, so an agent gets one full
// report per round trip. Weights of the edges that do exist still sum into
// the estimated cost.
func (e *Engine) ScoreTraversalPlan(projectID string, nodeIDs []string) (*PlanScore, error) {
	score := &PlanScore{Issues: []string{}}
	if len(nodeIDs) == 0 {
		score.Issues = append(score.Issues, "path is empty")
		return score, nil
	}

	view, err := e.loadGraph(projectID, Options{})
	if err != nil {
		return nil, err
	}

	for _, nodeID := range nodeIDs {
		if view.nodes[nodeID] == nil {
			score.Issues = append(score.Issues, fmt.Sprintf("node %s does not exist", nodeID))
		}
	}

	for i := 0; i+1 < len(nodeIDs); i++ {
		edge := findDirectedEdge(view, nodeIDs[i], nodeIDs[i+1])
		if edge == nil {
			score.Issues = append(score.Issues,
				fmt.Sprintf("no edge from %s to %s", nodeIDs[i], nodeIDs[i+1]))
			continue
		}
		score.EstimatedCost += edge.Weight
	}

	score.Feasible = len(score.Issues) == 0
	return score, nil
}

// findDirectedEdge returns the cheapest arc from one node to another, or
// nil when none exists. Bidirectional edges count in both directions.
func findDirectedEdge(view *graphView, fromID, toID string) *persistence.Edge {
	for _, a := range view.adjacency[fromID] {
		if a.to == toID {
			return view.edges[a.edgeID] // arcs are weight sorted, first hit is cheapest
		}
	}
	return nil
}
