package rules

import (
	"fmt"

	"corese/pkg/persistence"
)

// Relation types the built-in rules inspect.
const (
	RelationSatisfiedBy = "SATISFIED_BY"
	RelationVerifiedBy  = "VERIFIED_BY"
	RelationTracesTo    = "TRACES_TO"
	RelationConnectsTo  = "CONNECTS_TO"
	RelationAllocatedTo = "ALLOCATED_TO"
	RelationVerifies    = "VERIFIES"
)

// builtinRules is the fixed rule set registered on engine construction.
func builtinRules() []Rule {
	return []Rule{
		{
			ID:          "requirement_trace",
			Description: "every requirement needs at least one downstream trace or verification edge",
			Severity:    SeverityError,
			Domain:      "traceability",
			Check:       checkRequirementTrace,
		},
		{
			ID:          "interface_connectivity",
			Description: "every interface needs exactly two CONNECTS_TO endpoints",
			Severity:    SeverityError,
			Domain:      "connectivity",
			Check:       checkInterfaceConnectivity,
		},
		{
			ID:          "allocation_consistency",
			Description: "every requirement must be allocated to a component",
			Severity:    SeverityError,
			Domain:      "traceability",
			Check:       checkAllocationConsistency,
		},
		{
			ID:          "verification_coverage",
			Description: "every test should verify at least one artifact",
			Severity:    SeverityWarning,
			Domain:      "verification",
			Check:       checkVerificationCoverage,
		},
		{
			ID:          "orphan_nodes",
			Description: "nodes with no edges at all",
			Severity:    SeverityInfo,
			Domain:      "connectivity",
			Check:       checkOrphanNodes,
		},
	}
}

func checkRequirementTrace(rc *Context) ([]Violation, error) {
	requirements, err := rc.Store.GetNodesByFilter(&persistence.NodeFilter{
		ProjectID: rc.ProjectID,
		Types:     []string{"Requirement"},
	})
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, req := range requirements {
		edges, err := rc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
			ProjectID:     rc.ProjectID,
			FromNodeIDs:   []string{req.ID},
			RelationTypes: []string{RelationSatisfiedBy, RelationVerifiedBy, RelationTracesTo},
		})
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			violations = append(violations, Violation{
				RuleID:   "requirement_trace",
				Severity: SeverityError,
				NodeID:   req.ID,
				NodeName: req.Name,
				Message:  fmt.Sprintf("requirement %s has no downstream trace or verification edge", req.Name),
			})
		}
	}
	return violations, nil
}

func checkInterfaceConnectivity(rc *Context) ([]Violation, error) {
	interfaces, err := rc.Store.GetNodesByFilter(&persistence.NodeFilter{
		ProjectID: rc.ProjectID,
		Types:     []string{"Interface"},
	})
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, iface := range interfaces {
		outgoing, err := rc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
			ProjectID:     rc.ProjectID,
			FromNodeIDs:   []string{iface.ID},
			RelationTypes: []string{RelationConnectsTo},
		})
		if err != nil {
			return nil, err
		}
		incoming, err := rc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
			ProjectID:     rc.ProjectID,
			ToNodeIDs:     []string{iface.ID},
			RelationTypes: []string{RelationConnectsTo},
		})
		if err != nil {
			return nil, err
		}

		total := len(outgoing) + len(incoming)
		if total != 2 {
			violations = append(violations, Violation{
				RuleID:   "interface_connectivity",
				Severity: SeverityError,
				NodeID:   iface.ID,
				NodeName: iface.Name,
				Message:  fmt.Sprintf("interface %s has %d CONNECTS_TO endpoints, expected exactly 2", iface.Name, total),
			})
		}
	}
	return violations, nil
}

func checkAllocationConsistency(rc *Context) ([]Violation, error) {
	requirements, err := rc.Store.GetNodesByFilter(&persistence.NodeFilter{
		ProjectID: rc.ProjectID,
		Types:     []string{"Requirement"},
	})
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, req := range requirements {
		edges, err := rc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
			ProjectID:     rc.ProjectID,
			FromNodeIDs:   []string{req.ID},
			RelationTypes: []string{RelationAllocatedTo},
		})
		if err != nil {
			return nil, err
		}

		allocated := false
		for _, edge := range edges {
			target, err := rc.Store.GetNode(rc.ProjectID, edge.ToNodeID)
			if err != nil {
				continue
			}
			if target.Type == "Component" {
				allocated = true
				break
			}
		}
		if !allocated {
			violations = append(violations, Violation{
				RuleID:   "allocation_consistency",
				Severity: SeverityError,
				NodeID:   req.ID,
				NodeName: req.Name,
				Message:  fmt.Sprintf("requirement %s is not allocated to any component", req.Name),
			})
		}
	}
	return violations, nil
}

func checkVerificationCoverage(rc *Context) ([]Violation, error) {
	tests, err := rc.Store.GetNodesByFilter(&persistence.NodeFilter{
		ProjectID: rc.ProjectID,
		Types:     []string{"Test"},
	})
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, test := range tests {
		edges, err := rc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
			ProjectID:     rc.ProjectID,
			FromNodeIDs:   []string{test.ID},
			RelationTypes: []string{RelationVerifies},
		})
		if err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			violations = append(violations, Violation{
				RuleID:   "verification_coverage",
				Severity: SeverityWarning,
				NodeID:   test.ID,
				NodeName: test.Name,
				Message:  fmt.Sprintf("test %s does not verify any artifact", test.Name),
			})
		}
	}
	return violations, nil
}

func checkOrphanNodes(rc *Context) ([]Violation, error) {
	nodes, err := rc.Store.GetNodesByFilter(&persistence.NodeFilter{ProjectID: rc.ProjectID})
	if err != nil {
		return nil, err
	}
	edges, err := rc.Store.GetEdgesByFilter(&persistence.EdgeFilter{ProjectID: rc.ProjectID})
	if err != nil {
		return nil, err
	}

	connected := make(map[string]bool, len(edges)*2)
	for _, edge := range edges {
		connected[edge.FromNodeID] = true
		connected[edge.ToNodeID] = true
	}

	var violations []Violation
	for _, node := range nodes {
		if !connected[node.ID] {
			violations = append(violations, Violation{
				RuleID:   "orphan_nodes",
				Severity: SeverityInfo,
				NodeID:   node.ID,
				NodeName: node.Name,
				Message:  fmt.Sprintf("node %s has no edges", node.Name),
			})
		}
	}
	return violations, nil
}
