package tools

import (
	"context"
	"fmt"
	"time"

	"corese/pkg/persistence"
)

func parseTimeArg(args map[string]any, key string) (*time.Time, error) {
	raw, err := strArg(args, key)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parameter %s must be an RFC3339 timestamp: %w", key, err)
	}
	return &t, nil
}

func eventTools(svc *Service) []Tool {
	return []Tool{
		{
			Definition: ToolDefinition{
				Name:        "recordEvent",
				Description: "Append one immutable event to the change ledger",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":    {Type: "string"},
						"source_system": {Type: "string"},
						"entity_type":   {Type: "string"},
						"entity_id":     {Type: "string"},
						"event_type": {
							Type: "string",
							Enum: []string{
								persistence.EventCreated, persistence.EventUpdated,
								persistence.EventDeleted, persistence.EventLinked,
								persistence.EventUnlinked, persistence.EventStatusChanged,
							},
						},
						"diff_payload": {Type: "object"},
					},
					Required: []string{"project_id", "source_system", "entity_type", "entity_id", "event_type"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				source, _ := strArg(args, "source_system")
				entityType, _ := strArg(args, "entity_type")
				entityID, _ := strArg(args, "entity_id")
				eventType, _ := strArg(args, "event_type")

				var diff persistence.DiffPayload
				if payload, err := mapArg(args, "diff_payload"); err != nil {
					return nil, err
				} else if payload != nil {
					if details, ok := payload["details"].(map[string]any); ok {
						diff.Details = details
					}
					if before, ok := payload["before"].(map[string]any); ok {
						diff.Before = before
					}
					if after, ok := payload["after"].(map[string]any); ok {
						diff.After = after
					}
				}

				return svc.Ledger.RecordEvent(projectID, source, entityType, entityID, eventType, diff)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "getEventsByFilter",
				Description: "Query ledger events, newest first",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":    {Type: "string"},
						"source_system": {Type: "string"},
						"entity_type":   {Type: "string"},
						"entity_ids":    {Type: "array", Items: &Property{Type: "string"}},
						"event_types":   {Type: "array", Items: &Property{Type: "string"}},
						"since":         {Type: "string", Description: "RFC3339 lower bound"},
						"until":         {Type: "string", Description: "RFC3339 upper bound"},
						"limit":         {Type: "number"},
						"offset":        {Type: "number"},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				filter := &persistence.EventFilter{}
				var err error
				if filter.ProjectID, err = strArg(args, "project_id"); err != nil {
					return nil, err
				}
				if filter.SourceSystem, err = strArg(args, "source_system"); err != nil {
					return nil, err
				}
				if filter.EntityType, err = strArg(args, "entity_type"); err != nil {
					return nil, err
				}
				if filter.EntityIDs, err = strSliceArg(args, "entity_ids"); err != nil {
					return nil, err
				}
				if filter.EventTypes, err = strSliceArg(args, "event_types"); err != nil {
					return nil, err
				}
				if filter.Since, err = parseTimeArg(args, "since"); err != nil {
					return nil, err
				}
				if filter.Until, err = parseTimeArg(args, "until"); err != nil {
					return nil, err
				}
				if filter.Limit, err = intArg(args, "limit"); err != nil {
					return nil, err
				}
				if filter.Offset, err = intArg(args, "offset"); err != nil {
					return nil, err
				}

				events, err := svc.Ledger.Events(filter)
				if err != nil {
					return nil, err
				}
				return map[string]any{"events": events, "count": len(events)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "buildTimeline",
				Description: "Human-readable change history for one or more entities",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id": {Type: "string"},
						"entity_ids": {Type: "array", Items: &Property{Type: "string"}},
						"since":      {Type: "string"},
						"until":      {Type: "string"},
					},
					Required: []string{"project_id", "entity_ids"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				entityIDs, err := strSliceArg(args, "entity_ids")
				if err != nil {
					return nil, err
				}
				since, err := parseTimeArg(args, "since")
				if err != nil {
					return nil, err
				}
				until, err := parseTimeArg(args, "until")
				if err != nil {
					return nil, err
				}

				timeline, err := svc.Ledger.BuildTimeline(projectID, entityIDs, since, until)
				if err != nil {
					return nil, err
				}
				return map[string]any{"timeline": timeline, "count": len(timeline)}, nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "buildChangeSet",
				Description: "Get or create a change set by anchor; an existing anchor returns the stored set unchanged",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"project_id":   {Type: "string"},
						"anchor":       {Type: "string", Description: "Explicit anchor; omit to derive one from the time window"},
						"label":        {Type: "string"},
						"window_start": {Type: "string", Description: "RFC3339, required without an explicit anchor"},
						"window_end":   {Type: "string", Description: "RFC3339, required without an explicit anchor"},
					},
					Required: []string{"project_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				projectID, _ := strArg(args, "project_id")
				anchor, _ := strArg(args, "anchor")
				label, _ := strArg(args, "label")
				start, err := parseTimeArg(args, "window_start")
				if err != nil {
					return nil, err
				}
				end, err := parseTimeArg(args, "window_end")
				if err != nil {
					return nil, err
				}

				if anchor == "" {
					if start == nil || end == nil {
						return nil, fmt.Errorf("either anchor or both window_start and window_end are required")
					}
					return svc.Ledger.BuildWindowChangeSet(projectID, *start, *end, label)
				}

				events, err := svc.Ledger.Events(&persistence.EventFilter{
					ProjectID: projectID,
					Since:     start,
					Until:     end,
				})
				if err != nil {
					return nil, err
				}
				return svc.Ledger.GetOrCreateChangeSet(projectID, anchor, label, events)
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "recomputeChangeSetStats",
				Description: "Rebuild a change set's stats from its current event memberships",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"change_set_id": {Type: "string"},
					},
					Required: []string{"change_set_id"},
				},
			},
			Exec: func(_ context.Context, args map[string]any, _ Actor) (any, error) {
				changeSetID, _ := strArg(args, "change_set_id")
				stats, err := svc.Ledger.RecomputeStats(changeSetID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"change_set_id": changeSetID, "stats": stats}, nil
			},
		},
	}
}
