package persistence

import (
	"fmt"
	"time"
)

// InsertEvent appends one immutable row to the ledger. There is no update
// companion on purpose.
func (s *Store) InsertEvent(event *Event) error {
	if event.ID == "" {
		event.ID = NewID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	diffPayload, err := marshalJSON(event.DiffPayload)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, project_id, source_system, entity_type,
			entity_id, event_type, timestamp, diff_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.ProjectID, event.SourceSystem, event.EntityType,
		event.EntityID, event.EventType, event.Timestamp, diffPayload)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}
	return nil
}

// GetEventsByFilter returns ledger events newest first.
// eventFilterClause builds the WHERE tail shared by the list and count
// queries.
func eventFilterClause(filter *EventFilter) (string, []any) {
	query := " WHERE project_id = ?"
	args := []any{filter.ProjectID}

	if filter.SourceSystem != "" {
		query += " AND source_system = ?"
		args = append(args, filter.SourceSystem)
	}
	if filter.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if len(filter.EntityIDs) > 0 {
		query += fmt.Sprintf(" AND entity_id IN (%s)", inPlaceholders(len(filter.EntityIDs)))
		for _, id := range filter.EntityIDs {
			args = append(args, id)
		}
	}
	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type IN (%s)", inPlaceholders(len(filter.EventTypes)))
		for _, et := range filter.EventTypes {
			args = append(args, et)
		}
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filter.Until)
	}
	return query, args
}

func (s *Store) GetEventsByFilter(filter *EventFilter) ([]*Event, error) {
	clause, args := eventFilterClause(filter)
	query := `
		SELECT id, project_id, source_system, entity_type, entity_id,
		       event_type, timestamp, diff_payload
		FROM events` + clause

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

// CountEventsByFilter returns how many events match the filter, ignoring its
// pagination fields. Pairs with GetEventsByFilter for page totals.
func (s *Store) CountEventsByFilter(filter *EventFilter) (int, error) {
	clause, args := eventFilterClause(filter)
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events"+clause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountEventsByType returns event counts grouped by event type.
func (s *Store) CountEventsByType(projectID string) (map[string]int, error) {
	return s.countGrouped(`SELECT event_type, COUNT(*) FROM events WHERE project_id = ? GROUP BY event_type`, projectID)
}

// PurgeEventsBefore deletes events older than the cutoff. This retention
// sweep is the only sanctioned deletion path for ledger rows; membership
// rows in change sets are removed alongside.
func (s *Store) PurgeEventsBefore(projectID string, cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() // Ignore rollback errors
		}
	}()

	if _, err = tx.Exec(`
		DELETE FROM change_set_events WHERE event_id IN (
			SELECT id FROM events WHERE project_id = ? AND timestamp < ?
		)
	`, projectID, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge change set memberships: %w", err)
	}

	result, execErr := tx.Exec(`DELETE FROM events WHERE project_id = ? AND timestamp < ?`, projectID, cutoff)
	if execErr != nil {
		err = fmt.Errorf("failed to purge events: %w", execErr)
		return 0, err
	}

	purged, raErr := result.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("failed to get rows affected: %w", raErr)
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("purged %d events before %s for project %s", purged, cutoff.Format(time.RFC3339), projectID)
	return purged, nil
}

func scanEvent(row scanner) (*Event, error) {
	event := &Event{}
	var diffPayload string
	err := row.Scan(
		&event.ID, &event.ProjectID, &event.SourceSystem, &event.EntityType,
		&event.EntityID, &event.EventType, &event.Timestamp, &diffPayload,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(diffPayload, &event.DiffPayload); err != nil {
		return nil, err
	}
	return event, nil
}
