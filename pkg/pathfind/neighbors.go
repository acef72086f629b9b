package pathfind

import (
	"errors"
	"fmt"
	"sort"

	"corese/pkg/fault"
	"corese/pkg/persistence"
)

// Traversal directions for neighbor discovery.
const (
	DirectionOut  = "out"
	DirectionIn   = "in"
	DirectionBoth = "both"
)

// Neighbor is one reachable node plus the edge reaching it.
type Neighbor struct {
	Node      *persistence.Node `json:"node"`
	Edge      *persistence.Edge `json:"edge"`
	Direction string            `json:"direction"` // out or in, relative to the queried node
}

// Neighbors returns one-hop neighbors of a node, sorted ascending by edge
// weight. Lowest weight first is a contract: agents doing greedy
// exploration take the head of this list as the preferred next hop.
// Bidirectional edges appear under both directions.
func (e *Engine) Neighbors(projectID, nodeID, direction string, opts Options) ([]Neighbor, error) {
	switch direction {
	case DirectionOut, DirectionIn, DirectionBoth:
	case "":
		direction = DirectionBoth
	default:
		return nil, fmt.Errorf("invalid direction %q", direction)
	}

	if _, err := e.store.GetNode(projectID, nodeID); err != nil {
		return nil, err
	}

	avoided := make(map[string]bool, len(opts.AvoidNodeTypes))
	for _, nodeType := range opts.AvoidNodeTypes {
		avoided[nodeType] = true
	}

	var neighbors []Neighbor

	// reversed means the hop runs against the edge's stored orientation, so
	// it only exists when the edge is bidirectional.
	collect := func(filter *persistence.EdgeFilter, dir string, reversed bool) error {
		edges, err := e.store.GetEdgesByFilter(filter)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if reversed && !edge.Bidirectional {
				continue
			}
			otherID := edge.ToNodeID
			if edge.FromNodeID != nodeID {
				otherID = edge.FromNodeID
			}
			node, err := e.store.GetNode(projectID, otherID)
			if err != nil {
				var notFound *fault.NotFoundError
				if errors.As(err, &notFound) {
					continue // dangling reference, skip
				}
				return err
			}
			if avoided[node.Type] {
				continue
			}
			neighbors = append(neighbors, Neighbor{Node: node, Edge: edge, Direction: dir})
		}
		return nil
	}

	forward := &persistence.EdgeFilter{
		ProjectID:     projectID,
		FromNodeIDs:   []string{nodeID},
		RelationTypes: opts.AllowedRelationTypes,
	}
	backward := &persistence.EdgeFilter{
		ProjectID:     projectID,
		ToNodeIDs:     []string{nodeID},
		RelationTypes: opts.AllowedRelationTypes,
	}

	if direction == DirectionOut || direction == DirectionBoth {
		if err := collect(forward, DirectionOut, false); err != nil {
			return nil, err
		}
		if !opts.DirectedOnly {
			if err := collect(backward, DirectionOut, true); err != nil {
				return nil, err
			}
		}
	}
	if direction == DirectionIn || direction == DirectionBoth {
		if err := collect(backward, DirectionIn, false); err != nil {
			return nil, err
		}
		if !opts.DirectedOnly {
			if err := collect(forward, DirectionIn, true); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Edge.Weight != neighbors[j].Edge.Weight {
			return neighbors[i].Edge.Weight < neighbors[j].Edge.Weight
		}
		return neighbors[i].Node.ID < neighbors[j].Node.ID
	})

	return neighbors, nil
}
