package tools

import (
	"context"

	"corese/pkg/pathfind"
	"corese/pkg/rules"
)

func traversalOptions(args map[string]any) (pathfind.Options, error) {
	var opts pathfind.Options
	var err error
	if opts.AllowedRelationTypes, err = strSliceArg(args, "allowed_relation_types"); err != nil {
		return opts, err
	}
	if opts.AvoidNodeTypes, err = strSliceArg(args, "avoid_node_types"); err != nil {
		return opts, err
	}
	if opts.MaxWeight, err = floatArg(args, "max_weight"); err != nil {
		return opts, err
	}
	if opts.MaxDepth, err = intArg(args, "max_depth"); err != nil {
		return opts, err
	}
	directed, err := boolArg(args, "directed_only")
	if err != nil {
		return opts, err
	}
	opts.DirectedOnly = directed
	return opts, nil
}

func traversalProperties() map[string]Property {
	return map[string]Property{
		"project_id":             {Type: "string"},
		"allowed_relation_types": {Type: "array", Items: &Property{Type: "string"}},
		"avoid_node_types":       {Type: "array", Items: &Property{Type: "string"}},
		"max_weight":             {Type: "number", Description: "Cumulative weight threshold"},
		"max_depth":              {Type: "number", Description: "Bounds the search iteration cap"},
		"directed_only":          {Type: "boolean", Description: "Ignore the bidirectional flag on edges"},
	}
}

func traversalTools(svc *Service) []Tool {
	return []Tool{
		{
			Definition: ToolDefinition{
				Name:        "findShortestPath",
				Description: "Compute the lowest-weight path between two nodes; returns found=false when no path exists",
				InputSchema: InputSchema{
					Type: "object",
					Properties: mergeProperties(traversalProperties(), map[string]Property{
						"start_node_id":  {Type: "string"},
						"target_node_id": {Type: "string"},
					}),
					Required: []string{"project_id", "start_node_id", "target_node_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				startID, _ := strArg(args, "start_node_id")
				targetID, _ := strArg(args, "target_node_id")
				opts, err := traversalOptions(args)
				if err != nil {
					return nil, err
				}

				path, err := svc.Paths.FindShortestPath(projectID, startID, targetID, opts)
				if err != nil {
					return nil, err
				}
				if path == nil {
					// A valid null result, not an error.
					return map[string]any{"found": false}, nil
				}
				return map[string]any{"found": true, "path": path}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "findMultiplePaths",
				Description: "Return up to k lowest-weight paths (currently at most one)",
				InputSchema: InputSchema{
					Type: "object",
					Properties: mergeProperties(traversalProperties(), map[string]Property{
						"start_node_id":  {Type: "string"},
						"target_node_id": {Type: "string"},
						"k":              {Type: "number"},
					}),
					Required: []string{"project_id", "start_node_id", "target_node_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				startID, _ := strArg(args, "start_node_id")
				targetID, _ := strArg(args, "target_node_id")
				k, err := intArg(args, "k")
				if err != nil {
					return nil, err
				}
				if k <= 0 {
					k = 1
				}
				opts, err := traversalOptions(args)
				if err != nil {
					return nil, err
				}

				paths, err := svc.Paths.FindMultiplePaths(projectID, startID, targetID, k, opts)
				if err != nil {
					return nil, err
				}
				return map[string]any{"paths": paths, "count": len(paths)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getNeighbors",
				Description: "One-hop neighbor discovery, sorted ascending by edge weight",
				InputSchema: InputSchema{
					Type: "object",
					Properties: mergeProperties(traversalProperties(), map[string]Property{
						"node_id": {Type: "string"},
						"direction": {
							Type:        "string",
							Description: "Edge direction relative to the node",
							Enum:        []string{pathfind.DirectionOut, pathfind.DirectionIn, pathfind.DirectionBoth},
						},
					}),
					Required: []string{"project_id", "node_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				nodeID, _ := strArg(args, "node_id")
				direction, _ := strArg(args, "direction")
				opts, err := traversalOptions(args)
				if err != nil {
					return nil, err
				}

				neighbors, err := svc.Paths.Neighbors(projectID, nodeID, direction, opts)
				if err != nil {
					return nil, err
				}
				return map[string]any{"neighbors": neighbors, "count": len(neighbors)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "scoreTraversalPlan",
				Description: "Validate a proposed node sequence and estimate its cost; reports every issue at once",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"path":       {Type: "array", Items: &Property{Type: "string"}, Description: "Node ids in traversal order"},
					},
					Required: []string{"project_id", "path"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				nodeIDs, err := strSliceArg(args, "path")
				if err != nil {
					return nil, err
				}
				return svc.Paths.ScoreTraversalPlan(projectID, nodeIDs)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "runConsistencyChecks",
				Description: "Audit the project graph with the registered consistency rules",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"domain":     {Type: "string", Description: "Restrict to one rule domain"},
						"rule_ids":   {Type: "array", Items: &Property{Type: "string"}},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				domain, _ := strArg(args, "domain")
				ruleIDs, err := strSliceArg(args, "rule_ids")
				if err != nil {
					return nil, err
				}
				return svc.Rules.Run(projectID, rules.RunOptions{Domain: domain, RuleIDs: ruleIDs})
			},
		},
	}
}
