package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"corese/pkg/fault"
)

// GetChangeSetByAnchor returns the change set with the given anchor, or a
// NotFound error.
func (s *Store) GetChangeSetByAnchor(projectID, anchor string) (*ChangeSet, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, anchor, label, stats, created_at
		FROM change_sets WHERE project_id = ? AND anchor = ?
	`, projectID, anchor)

	cs, err := scanChangeSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("change set", anchor)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change set %s: %w", anchor, err)
	}
	return cs, nil
}

// InsertChangeSet stores a change set and its event memberships atomically.
// The (project_id, anchor) uniqueness constraint makes concurrent creation
// first-writer-wins; losers should re-read by anchor.
func (s *Store) InsertChangeSet(cs *ChangeSet, eventIDs []string) error {
	if cs.ID == "" {
		cs.ID = NewID()
	}
	cs.CreatedAt = time.Now().UTC()

	stats, err := marshalJSON(cs.Stats)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() // Ignore rollback errors
		}
	}()

	if _, err = tx.Exec(`
		INSERT INTO change_sets (id, project_id, anchor, label, stats, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cs.ID, cs.ProjectID, cs.Anchor, cs.Label, stats, cs.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert change set %s: %w", cs.Anchor, err)
	}

	for _, eventID := range eventIDs {
		if _, err = tx.Exec(`
			INSERT OR IGNORE INTO change_set_events (change_set_id, event_id) VALUES (?, ?)
		`, cs.ID, eventID); err != nil {
			return fmt.Errorf("failed to attach event %s: %w", eventID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetChangeSetEvents returns the events attached to a change set, newest first.
func (s *Store) GetChangeSetEvents(changeSetID string) ([]*Event, error) {
	rows, err := s.db.Query(`
		SELECT e.id, e.project_id, e.source_system, e.entity_type, e.entity_id,
		       e.event_type, e.timestamp, e.diff_payload
		FROM events e
		JOIN change_set_events cse ON cse.event_id = e.id
		WHERE cse.change_set_id = ?
		ORDER BY e.timestamp DESC, e.id DESC
	`, changeSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change set events: %w", err)
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

// AttachEventToChangeSet adds one membership row. Callers must follow up
// with a stats recompute; membership changes never patch stats implicitly.
func (s *Store) AttachEventToChangeSet(changeSetID, eventID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO change_set_events (change_set_id, event_id) VALUES (?, ?)
	`, changeSetID, eventID)
	if err != nil {
		return fmt.Errorf("failed to attach event %s to change set %s: %w", eventID, changeSetID, err)
	}
	return nil
}

// DetachEventFromChangeSet removes one membership row.
func (s *Store) DetachEventFromChangeSet(changeSetID, eventID string) error {
	_, err := s.db.Exec(`
		DELETE FROM change_set_events WHERE change_set_id = ? AND event_id = ?
	`, changeSetID, eventID)
	if err != nil {
		return fmt.Errorf("failed to detach event %s from change set %s: %w", eventID, changeSetID, err)
	}
	return nil
}

// UpdateChangeSetStats overwrites the stored stats blob.
func (s *Store) UpdateChangeSetStats(changeSetID string, stats ChangeSetStats) error {
	blob, err := marshalJSON(stats)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`UPDATE change_sets SET stats = ? WHERE id = ?`, blob, changeSetID)
	if err != nil {
		return fmt.Errorf("failed to update change set stats: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fault.NotFound("change set", changeSetID)
	}
	return nil
}

// ListChangeSets returns a project's change sets, newest first.
func (s *Store) ListChangeSets(projectID string, limit, offset int) ([]*ChangeSet, error) {
	query := `
		SELECT id, project_id, anchor, label, stats, created_at
		FROM change_sets WHERE project_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change sets: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var sets []*ChangeSet
	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change set: %w", err)
		}
		sets = append(sets, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sets, nil
}

// CountChangeSets returns the number of change sets recorded for a project.
func (s *Store) CountChangeSets(projectID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM change_sets WHERE project_id = ?", projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count change sets: %w", err)
	}
	return count, nil
}

func scanChangeSet(row scanner) (*ChangeSet, error) {
	cs := &ChangeSet{}
	var label, stats sql.NullString
	err := row.Scan(&cs.ID, &cs.ProjectID, &cs.Anchor, &label, &stats, &cs.CreatedAt)
	if err != nil {
		return nil, err
	}
	cs.Label = label.String
	if err := unmarshalJSON(stats.String, &cs.Stats); err != nil {
		return nil, err
	}
	return cs, nil
}
