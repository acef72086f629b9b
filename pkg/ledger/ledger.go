// Package ledger maintains the append-only event record for a project and
// aggregates events into change sets. Events are immutable once written;
// the only sanctioned removal is an explicit retention sweep.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"corese/pkg/logx"
	"corese/pkg/metrics"
	"corese/pkg/persistence"
)

// Ledger records and queries change events.
type Ledger struct {
	store   *persistence.Store
	logger  *logx.Logger
	metrics *metrics.Metrics
}

// New returns a ledger backed by the given store.
func New(store *persistence.Store) *Ledger {
	return &Ledger{
		store:  store,
		logger: logx.NewLogger("ledger"),
	}
}

// SetMetrics enables append instrumentation. Nil leaves appends unrecorded.
func (l *Ledger) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// RecordEvent appends one immutable row. The typed helpers below are the
// preferred entry points; they compute the diff payload for you.
func (l *Ledger) RecordEvent(projectID, source, entityType, entityID, eventType string, diff persistence.DiffPayload) (*persistence.Event, error) {
	event := &persistence.Event{
		ProjectID:    projectID,
		SourceSystem: source,
		EntityType:   entityType,
		EntityID:     entityID,
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		DiffPayload:  diff,
	}
	if err := l.store.InsertEvent(event); err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordEvent(eventType)
	}
	return event, nil
}

// RecordNodeCreated logs a node creation with the full record as the
// after-image.
func (l *Ledger) RecordNodeCreated(source string, node *persistence.Node) (*persistence.Event, error) {
	return l.RecordEvent(node.ProjectID, source, node.Type, node.ID,
		persistence.EventCreated, persistence.DiffPayload{After: toSnapshot(node)})
}

// RecordNodeUpdated logs a node update with a field-level diff.
func (l *Ledger) RecordNodeUpdated(source string, before, after *persistence.Node) (*persistence.Event, error) {
	diff := ComputeDiff(toSnapshot(before), toSnapshot(after))
	return l.RecordEvent(after.ProjectID, source, after.Type, after.ID,
		persistence.EventUpdated, diff)
}

// RecordNodeDeleted logs a node deletion with the last known record as the
// before-image.
func (l *Ledger) RecordNodeDeleted(source string, node *persistence.Node) (*persistence.Event, error) {
	return l.RecordEvent(node.ProjectID, source, node.Type, node.ID,
		persistence.EventDeleted, persistence.DiffPayload{Before: toSnapshot(node)})
}

// RecordEdgeCreated logs an edge creation as a linked event under the edge
// sentinel entity type.
func (l *Ledger) RecordEdgeCreated(source string, edge *persistence.Edge) (*persistence.Event, error) {
	return l.RecordEvent(edge.ProjectID, source, persistence.EntityTypeEdge, edge.ID,
		persistence.EventLinked, persistence.DiffPayload{After: toSnapshot(edge)})
}

// RecordEdgeUpdated logs an edge update with a field-level diff.
func (l *Ledger) RecordEdgeUpdated(source string, before, after *persistence.Edge) (*persistence.Event, error) {
	diff := ComputeDiff(toSnapshot(before), toSnapshot(after))
	return l.RecordEvent(after.ProjectID, source, persistence.EntityTypeEdge, after.ID,
		persistence.EventUpdated, diff)
}

// RecordEdgeDeleted logs an edge removal as an unlinked event.
func (l *Ledger) RecordEdgeDeleted(source string, edge *persistence.Edge) (*persistence.Event, error) {
	return l.RecordEvent(edge.ProjectID, source, persistence.EntityTypeEdge, edge.ID,
		persistence.EventUnlinked, persistence.DiffPayload{Before: toSnapshot(edge)})
}

// RecordStatusChanged logs a status transition for any entity.
func (l *Ledger) RecordStatusChanged(projectID, source, entityType, entityID, oldStatus, newStatus string) (*persistence.Event, error) {
	diff := persistence.DiffPayload{
		FieldsChanged: []string{"status"},
		Details: map[string]any{
			"status": map[string]any{"old": oldStatus, "new": newStatus},
		},
	}
	return l.RecordEvent(projectID, source, entityType, entityID,
		persistence.EventStatusChanged, diff)
}

// Events returns ledger rows matching the filter, newest first.
func (l *Ledger) Events(filter *persistence.EventFilter) ([]*persistence.Event, error) {
	return l.store.GetEventsByFilter(filter)
}

// EventCounts returns per-event-type totals for a project.
func (l *Ledger) EventCounts(projectID string) (map[string]int, error) {
	return l.store.CountEventsByType(projectID)
}

// PurgeBefore removes events older than the cutoff. This is the only
// mutation of the ledger and exists for retention sweeps.
func (l *Ledger) PurgeBefore(projectID string, cutoff time.Time) (int64, error) {
	return l.store.PurgeEventsBefore(projectID, cutoff)
}

// TimelineEntry is one human-readable line of an entity's history.
//
//nolint:govet // struct alignment optimization not critical for this type
type TimelineEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	EventType  string    `json:"event_type"`
	Summary    string    `json:"summary"`
}

// BuildTimeline maps events for the given entities and window into
// one-line summaries, newest first.
func (l *Ledger) BuildTimeline(projectID string, entityIDs []string, since, until *time.Time) ([]TimelineEntry, error) {
	events, err := l.store.GetEventsByFilter(&persistence.EventFilter{
		ProjectID: projectID,
		EntityIDs: entityIDs,
		Since:     since,
		Until:     until,
	})
	if err != nil {
		return nil, err
	}

	timeline := make([]TimelineEntry, 0, len(events))
	for _, event := range events {
		timeline = append(timeline, TimelineEntry{
			Timestamp:  event.Timestamp,
			EventID:    event.ID,
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			EventType:  event.EventType,
			Summary:    summarizeEvent(event),
		})
	}
	return timeline, nil
}

// summarizeEvent renders one pulse line per event type.
func summarizeEvent(event *persistence.Event) string {
	switch event.EventType {
	case persistence.EventCreated:
		return fmt.Sprintf("Created %s %s", event.EntityType, entityLabel(event))
	case persistence.EventUpdated:
		if len(event.DiffPayload.FieldsChanged) > 0 {
			return fmt.Sprintf("Updated %s", strings.Join(event.DiffPayload.FieldsChanged, ", "))
		}
		return fmt.Sprintf("Updated %s %s", event.EntityType, entityLabel(event))
	case persistence.EventDeleted:
		return fmt.Sprintf("Deleted %s %s", event.EntityType, entityLabel(event))
	case persistence.EventLinked:
		return "Linked to another artifact"
	case persistence.EventUnlinked:
		return "Unlinked from another artifact"
	case persistence.EventStatusChanged:
		if change, ok := event.DiffPayload.Details["status"].(map[string]any); ok {
			return fmt.Sprintf("Status changed from %v to %v", change["old"], change["new"])
		}
		return "Status changed"
	default:
		return fmt.Sprintf("%s %s", event.EventType, entityLabel(event))
	}
}

// entityLabel prefers the recorded name over the raw id.
func entityLabel(event *persistence.Event) string {
	for _, snapshot := range []map[string]any{event.DiffPayload.After, event.DiffPayload.Before} {
		if name, ok := snapshot["name"].(string); ok && name != "" {
			return name
		}
	}
	return event.EntityID
}
