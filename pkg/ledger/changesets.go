package ledger

import (
	"errors"
	"fmt"
	"time"

	"corese/pkg/fault"
	"corese/pkg/persistence"
)

// WindowAnchor derives the canonical anchor string for a time-window
// change set.
func WindowAnchor(start, end time.Time) string {
	return fmt.Sprintf("time_window_%s_to_%s",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

// GetOrCreateChangeSet returns the project's change set for an anchor,
// creating it from the given events on first request. An existing set is
// returned unchanged: it does not absorb newly matching events, so the
// first writer pins the set's contents.
func (l *Ledger) GetOrCreateChangeSet(projectID, anchor, label string, events []*persistence.Event) (*persistence.ChangeSet, error) {
	existing, err := l.store.GetChangeSetByAnchor(projectID, anchor)
	if err == nil {
		return existing, nil
	}
	var notFound *fault.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	cs := &persistence.ChangeSet{
		ProjectID: projectID,
		Anchor:    anchor,
		Label:     label,
		Stats:     ComputeStats(events),
	}
	eventIDs := make([]string, 0, len(events))
	for _, event := range events {
		eventIDs = append(eventIDs, event.ID)
	}

	if err := l.store.InsertChangeSet(cs, eventIDs); err != nil {
		// Lost the creation race; the winner's set is authoritative.
		if winner, getErr := l.store.GetChangeSetByAnchor(projectID, anchor); getErr == nil {
			return winner, nil
		}
		return nil, err
	}

	l.logger.Info("created change set %s (anchor %s, %d events)", cs.ID, anchor, len(events))
	return cs, nil
}

// BuildWindowChangeSet aggregates a project's events inside a time window
// under the canonical window anchor.
func (l *Ledger) BuildWindowChangeSet(projectID string, start, end time.Time, label string) (*persistence.ChangeSet, error) {
	anchor := WindowAnchor(start, end)

	events, err := l.store.GetEventsByFilter(&persistence.EventFilter{
		ProjectID: projectID,
		Since:     &start,
		Until:     &end,
	})
	if err != nil {
		return nil, err
	}

	return l.GetOrCreateChangeSet(projectID, anchor, label, events)
}

// ComputeStats derives change-set statistics from an event list. Stats are
// always computed from scratch; nothing patches them incrementally.
func ComputeStats(events []*persistence.Event) persistence.ChangeSetStats {
	stats := persistence.ChangeSetStats{
		TotalEvents:       len(events),
		CountsByType:      map[string]int{},
		CountsByEventType: map[string]int{},
		CountsByDomain:    map[string]int{},
	}

	nodes := map[string]bool{}
	edges := map[string]bool{}
	for _, event := range events {
		stats.CountsByType[event.EntityType]++
		stats.CountsByEventType[event.EventType]++
		if domain, ok := event.DiffPayload.Details["domain"].(string); ok && domain != "" {
			stats.CountsByDomain[domain]++
		}
		if event.EntityType == persistence.EntityTypeEdge {
			edges[event.EntityID] = true
		} else {
			nodes[event.EntityID] = true
		}
	}
	stats.AffectedNodes = len(nodes)
	stats.AffectedEdges = len(edges)
	return stats
}

// RecomputeStats rebuilds a change set's stats from its current event
// memberships. Attach and detach do not trigger this; every code path that
// changes membership must call it explicitly.
func (l *Ledger) RecomputeStats(changeSetID string) (persistence.ChangeSetStats, error) {
	events, err := l.store.GetChangeSetEvents(changeSetID)
	if err != nil {
		return persistence.ChangeSetStats{}, err
	}

	stats := ComputeStats(events)
	if err := l.store.UpdateChangeSetStats(changeSetID, stats); err != nil {
		return persistence.ChangeSetStats{}, err
	}
	return stats, nil
}

// AttachEvent adds an event to a change set and recomputes stats.
func (l *Ledger) AttachEvent(changeSetID, eventID string) error {
	if err := l.store.AttachEventToChangeSet(changeSetID, eventID); err != nil {
		return err
	}
	_, err := l.RecomputeStats(changeSetID)
	return err
}

// DetachEvent removes an event from a change set and recomputes stats.
func (l *Ledger) DetachEvent(changeSetID, eventID string) error {
	if err := l.store.DetachEventFromChangeSet(changeSetID, eventID); err != nil {
		return err
	}
	_, err := l.RecomputeStats(changeSetID)
	return err
}

// ListChangeSets returns a project's change sets, newest first.
func (l *Ledger) ListChangeSets(projectID string, limit, offset int) ([]*persistence.ChangeSet, error) {
	return l.store.ListChangeSets(projectID, limit, offset)
}
