package tools

import (
	"context"

	"corese/pkg/persistence"
)

// defaultSource tags ledger events when the caller names no source system.
const defaultSource = "api"

func eventSource(args map[string]any, actor Actor) string {
	if source, err := strArg(args, "source_system"); err == nil && source != "" {
		return source
	}
	if actor.ID != "" {
		return actor.ID
	}
	return defaultSource
}

func nodeProperties() map[string]Property {
	return map[string]Property{
		"project_id":    {Type: "string", Description: "Project the node belongs to"},
		"type":          {Type: "string", Description: "Node type (Requirement, Component, Test, Interface, ...)"},
		"name":          {Type: "string", Description: "Human-readable node name"},
		"description":   {Type: "string"},
		"status":        {Type: "string"},
		"subsystem":     {Type: "string"},
		"owner":         {Type: "string"},
		"external_refs": {Type: "object", Description: "Free-form references to external systems"},
		"metadata":      {Type: "object", Description: "Free-form metadata blob"},
		"source_system": {Type: "string", Description: "Source system recorded on the change event"},
	}
}

func graphTools(svc *Service) []Tool {
	return []Tool{
		{
			Definition: ToolDefinition{
				Name:        "createNode",
				Description: "Create a typed node in the project graph",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: nodeProperties(),
					Required:   []string{"project_id", "type", "name"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				node, err := nodeFromArgs(args)
				if err != nil {
					return nil, err
				}
				if err := svc.Store.CreateNode(node); err != nil {
					return nil, err
				}
				if _, err := svc.Ledger.RecordNodeCreated(eventSource(args, actor), node); err != nil {
					return nil, err
				}
				return node, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getNode",
				Description: "Fetch a node by id",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"node_id":    {Type: "string"},
					},
					Required: []string{"project_id", "node_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				nodeID, _ := strArg(args, "node_id")
				return svc.Store.GetNode(projectID, nodeID)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "updateNode",
				Description: "Update fields of an existing node",
				InputSchema: InputSchema{
					Type: "object",
					Properties: mergeProperties(nodeProperties(), map[string]Property{
						"node_id": {Type: "string", Description: "Node to update"},
					}),
					Required: []string{"project_id", "node_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				nodeID, _ := strArg(args, "node_id")

				before, err := svc.Store.GetNode(projectID, nodeID)
				if err != nil {
					return nil, err
				}
				after := *before
				if err := applyNodeArgs(&after, args); err != nil {
					return nil, err
				}
				if err := svc.Store.UpdateNode(&after); err != nil {
					return nil, err
				}
				if _, err := svc.Ledger.RecordNodeUpdated(eventSource(args, actor), before, &after); err != nil {
					return nil, err
				}
				return &after, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "deleteNode",
				Description: "Delete a node and every edge referencing it",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":    {Type: "string"},
						"node_id":       {Type: "string"},
						"source_system": {Type: "string"},
					},
					Required: []string{"project_id", "node_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				nodeID, _ := strArg(args, "node_id")

				node, err := svc.Store.GetNode(projectID, nodeID)
				if err != nil {
					return nil, err
				}
				cascaded, err := edgesTouching(svc, projectID, nodeID)
				if err != nil {
					return nil, err
				}
				if err := svc.Store.DeleteNode(projectID, nodeID); err != nil {
					return nil, err
				}

				source := eventSource(args, actor)
				for _, edge := range cascaded {
					if _, err := svc.Ledger.RecordEdgeDeleted(source, edge); err != nil {
						return nil, err
					}
				}
				if _, err := svc.Ledger.RecordNodeDeleted(source, node); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": nodeID, "cascaded_edges": len(cascaded)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "createEdge",
				Description: "Create a directed, weighted edge between two nodes",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":    {Type: "string"},
						"from_node_id":  {Type: "string"},
						"to_node_id":    {Type: "string"},
						"relation_type": {Type: "string"},
						"weight":        {Type: "number", Description: "Traversal cost, default 1.0"},
						"bidirectional": {Type: "boolean"},
						"metadata":      {Type: "object"},
						"source_system": {Type: "string"},
					},
					Required: []string{"project_id", "from_node_id", "to_node_id", "relation_type"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				edge, err := edgeFromArgs(args)
				if err != nil {
					return nil, err
				}
				if err := svc.Store.CreateEdge(edge); err != nil {
					return nil, err
				}
				if _, err := svc.Ledger.RecordEdgeCreated(eventSource(args, actor), edge); err != nil {
					return nil, err
				}
				return edge, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getEdge",
				Description: "Fetch an edge by id",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"edge_id":    {Type: "string"},
					},
					Required: []string{"project_id", "edge_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				edgeID, _ := strArg(args, "edge_id")
				return svc.Store.GetEdge(projectID, edgeID)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "updateEdge",
				Description: "Update an edge's weight, direction, or metadata",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":    {Type: "string"},
						"edge_id":       {Type: "string"},
						"weight":        {Type: "number"},
						"bidirectional": {Type: "boolean"},
						"metadata":      {Type: "object"},
						"source_system": {Type: "string"},
					},
					Required: []string{"project_id", "edge_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				edgeID, _ := strArg(args, "edge_id")

				edge, err := svc.Store.GetEdge(projectID, edgeID)
				if err != nil {
					return nil, err
				}
				before := *edge
				if _, present := args["weight"]; present {
					if edge.Weight, err = floatArg(args, "weight"); err != nil {
						return nil, err
					}
				}
				if _, present := args["bidirectional"]; present {
					if edge.Bidirectional, err = boolArg(args, "bidirectional"); err != nil {
						return nil, err
					}
				}
				if _, present := args["metadata"]; present {
					if edge.Metadata, err = mapArg(args, "metadata"); err != nil {
						return nil, err
					}
				}
				if err := svc.Store.UpdateEdge(edge); err != nil {
					return nil, err
				}
				if _, err := svc.Ledger.RecordEdgeUpdated(eventSource(args, actor), &before, edge); err != nil {
					return nil, err
				}
				return edge, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "deleteEdge",
				Description: "Delete an edge by id",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":    {Type: "string"},
						"edge_id":       {Type: "string"},
						"source_system": {Type: "string"},
					},
					Required: []string{"project_id", "edge_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, actor Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				edgeID, _ := strArg(args, "edge_id")

				edge, err := svc.Store.GetEdge(projectID, edgeID)
				if err != nil {
					return nil, err
				}
				if err := svc.Store.DeleteEdge(projectID, edgeID); err != nil {
					return nil, err
				}
				if _, err := svc.Ledger.RecordEdgeDeleted(eventSource(args, actor), edge); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": edgeID}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getNodesByFilter",
				Description: "Query nodes; all given criteria combine with AND",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"types":      {Type: "array", Items: &Property{Type: "string"}},
						"subsystems": {Type: "array", Items: &Property{Type: "string"}},
						"statuses":   {Type: "array", Items: &Property{Type: "string"}},
						"ids":        {Type: "array", Items: &Property{Type: "string"}},
						"owner":      {Type: "string"},
						"limit":      {Type: "number"},
						"offset":     {Type: "number"},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				filter, err := nodeFilterFromArgs(args)
				if err != nil {
					return nil, err
				}
				nodes, err := svc.Store.GetNodesByFilter(filter)
				if err != nil {
					return nil, err
				}
				return map[string]any{"nodes": nodes, "count": len(nodes)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getEdgesByFilter",
				Description: "Query edges; all given criteria combine with AND",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":     {Type: "string"},
						"from_node_ids":  {Type: "array", Items: &Property{Type: "string"}},
						"to_node_ids":    {Type: "array", Items: &Property{Type: "string"}},
						"relation_types": {Type: "array", Items: &Property{Type: "string"}},
						"source_systems": {Type: "array", Items: &Property{Type: "string"}},
						"limit":          {Type: "number"},
						"offset":         {Type: "number"},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				filter, err := edgeFilterFromArgs(args)
				if err != nil {
					return nil, err
				}
				edges, err := svc.Store.GetEdgesByFilter(filter)
				if err != nil {
					return nil, err
				}
				return map[string]any{"edges": edges, "count": len(edges)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getGraphStats",
				Description: "Node counts by type and edge counts by relation type",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				nodeCounts, err := svc.Store.CountNodesByType(projectID)
				if err != nil {
					return nil, err
				}
				edgeCounts, err := svc.Store.CountEdgesByRelationType(projectID)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"nodes_by_type":          nodeCounts,
					"edges_by_relation_type": edgeCounts,
				}, nil
			},
		},
	}
}

func mergeProperties(base, extra map[string]Property) map[string]Property {
	merged := make(map[string]Property, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func nodeFromArgs(args map[string]any) (*persistence.Node, error) {
	node := &persistence.Node{}
	if err := applyNodeArgs(node, args); err != nil {
		return nil, err
	}
	projectID, err := strArg(args, "project_id")
	if err != nil {
		return nil, err
	}
	node.ProjectID = projectID
	return node, nil
}

// applyNodeArgs copies the node fields present in args onto the record,
// leaving absent fields untouched.
func applyNodeArgs(node *persistence.Node, args map[string]any) error {
	setters := []struct {
		key string
		dst *string
	}{
		{"type", &node.Type},
		{"name", &node.Name},
		{"description", &node.Description},
		{"status", &node.Status},
		{"subsystem", &node.Subsystem},
		{"owner", &node.Owner},
	}
	for _, s := range setters {
		if _, present := args[s.key]; !present {
			continue
		}
		value, err := strArg(args, s.key)
		if err != nil {
			return err
		}
		*s.dst = value
	}
	if _, present := args["external_refs"]; present {
		refs, err := mapArg(args, "external_refs")
		if err != nil {
			return err
		}
		node.ExternalRefs = refs
	}
	if _, present := args["metadata"]; present {
		metadata, err := mapArg(args, "metadata")
		if err != nil {
			return err
		}
		node.Metadata = metadata
	}
	return nil
}

func edgeFromArgs(args map[string]any) (*persistence.Edge, error) {
	edge := &persistence.Edge{}
	var err error
	if edge.ProjectID, err = strArg(args, "project_id"); err != nil {
		return nil, err
	}
	if edge.FromNodeID, err = strArg(args, "from_node_id"); err != nil {
		return nil, err
	}
	if edge.ToNodeID, err = strArg(args, "to_node_id"); err != nil {
		return nil, err
	}
	if edge.RelationType, err = strArg(args, "relation_type"); err != nil {
		return nil, err
	}
	if edge.SourceSystem, err = strArg(args, "source_system"); err != nil {
		return nil, err
	}
	if edge.Weight, err = floatArg(args, "weight"); err != nil {
		return nil, err
	}
	if edge.Bidirectional, err = boolArg(args, "bidirectional"); err != nil {
		return nil, err
	}
	if edge.Metadata, err = mapArg(args, "metadata"); err != nil {
		return nil, err
	}
	return edge, nil
}

func nodeFilterFromArgs(args map[string]any) (*persistence.NodeFilter, error) {
	filter := &persistence.NodeFilter{}
	var err error
	if filter.ProjectID, err = strArg(args, "project_id"); err != nil {
		return nil, err
	}
	if filter.Types, err = strSliceArg(args, "types"); err != nil {
		return nil, err
	}
	if filter.Subsystems, err = strSliceArg(args, "subsystems"); err != nil {
		return nil, err
	}
	if filter.Statuses, err = strSliceArg(args, "statuses"); err != nil {
		return nil, err
	}
	if filter.IDs, err = strSliceArg(args, "ids"); err != nil {
		return nil, err
	}
	if filter.Owner, err = strArg(args, "owner"); err != nil {
		return nil, err
	}
	if filter.Limit, err = intArg(args, "limit"); err != nil {
		return nil, err
	}
	if filter.Offset, err = intArg(args, "offset"); err != nil {
		return nil, err
	}
	return filter, nil
}

func edgeFilterFromArgs(args map[string]any) (*persistence.EdgeFilter, error) {
	filter := &persistence.EdgeFilter{}
	var err error
	if filter.ProjectID, err = strArg(args, "project_id"); err != nil {
		return nil, err
	}
	if filter.FromNodeIDs, err = strSliceArg(args, "from_node_ids"); err != nil {
		return nil, err
	}
	if filter.ToNodeIDs, err = strSliceArg(args, "to_node_ids"); err != nil {
		return nil, err
	}
	if filter.RelationTypes, err = strSliceArg(args, "relation_types"); err != nil {
		return nil, err
	}
	if filter.SourceSystems, err = strSliceArg(args, "source_systems"); err != nil {
		return nil, err
	}
	if filter.Limit, err = intArg(args, "limit"); err != nil {
		return nil, err
	}
	if filter.Offset, err = intArg(args, "offset"); err != nil {
		return nil, err
	}
	return filter, nil
}

func edgesTouching(svc *Service, projectID, nodeID string) ([]*persistence.Edge, error) {
	outgoing, err := svc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
		ProjectID:   projectID,
		FromNodeIDs: []string{nodeID},
	})
	if err != nil {
		return nil, err
	}
	incoming, err := svc.Store.GetEdgesByFilter(&persistence.EdgeFilter{
		ProjectID: projectID,
		ToNodeIDs: []string{nodeID},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(outgoing))
	var all []*persistence.Edge
	for _, edge := range append(outgoing, incoming...) {
		if seen[edge.ID] {
			continue // self-loops appear in both lists
		}
		seen[edge.ID] = true
		all = append(all, edge)
	}
	return all, nil
}
