package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"corese/pkg/fault"
)

// inPlaceholders builds "?,?,...,?" for IN clauses.
func inPlaceholders(n int) string {
	placeholders := strings.Repeat("?,", n)
	return placeholders[:len(placeholders)-1]
}

// CreateNode inserts a node. The id is generated when empty.
func (s *Store) CreateNode(node *Node) error {
	if node.ID == "" {
		node.ID = NewID()
	}
	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now
	if node.Metadata == nil {
		node.Metadata = map[string]any{}
	}

	externalRefs, err := marshalJSON(node.ExternalRefs)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(node.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO nodes (id, project_id, type, name, description, status,
			subsystem, owner, external_refs, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, node.ID, node.ProjectID, node.Type, node.Name, node.Description,
		node.Status, node.Subsystem, node.Owner, externalRefs, metadata,
		node.CreatedAt, node.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
	}
	return nil
}

// UpdateNode overwrites the mutable fields of an existing node.
func (s *Store) UpdateNode(node *Node) error {
	node.UpdatedAt = time.Now().UTC()

	externalRefs, err := marshalJSON(node.ExternalRefs)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(node.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE nodes SET type = ?, name = ?, description = ?, status = ?,
			subsystem = ?, owner = ?, external_refs = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND project_id = ?
	`, node.Type, node.Name, node.Description, node.Status, node.Subsystem,
		node.Owner, externalRefs, metadata, node.UpdatedAt, node.ID, node.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", node.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fault.NotFound("node", node.ID)
	}
	return nil
}

// GetNode returns a node by id within a project.
func (s *Store) GetNode(projectID, nodeID string) (*Node, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, type, name, description, status, subsystem,
		       owner, external_refs, metadata, created_at, updated_at
		FROM nodes WHERE id = ? AND project_id = ?
	`, nodeID, projectID)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("node", nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", nodeID, err)
	}
	return node, nil
}

// DeleteNode removes a node and, in the same transaction, every edge that
// references it. Cascade semantics are a hard requirement of the data model.
func (s *Store) DeleteNode(projectID, nodeID string) error {
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
		DELETE FROM edges WHERE project_id = ? AND (from_node_id = ? OR to_node_id = ?)
	`, projectID, nodeID, nodeID); err != nil {
		return fmt.Errorf("failed to cascade edges of node %s: %w", nodeID, err)
	}

	var result sql.Result
	result, err = tx.Exec(`DELETE FROM nodes WHERE id = ? AND project_id = ?`, nodeID, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}

	rowsAffected, raErr := result.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("failed to get rows affected: %w", raErr)
		return err
	}
	if rowsAffected == 0 {
		err = fault.NotFound("node", nodeID)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateEdge inserts an edge after verifying both endpoints exist in the
// same project. Weight defaults to 1.0.
func (s *Store) CreateEdge(edge *Edge) error {
	if edge.ID == "" {
		edge.ID = NewID()
	}
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}
	if edge.Weight < 0 {
		return fmt.Errorf("edge weight must be >= 0, got %f", edge.Weight)
	}
	edge.CreatedAt = time.Now().UTC()

	for _, endpoint := range []string{edge.FromNodeID, edge.ToNodeID} {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM nodes WHERE id = ? AND project_id = ?`,
			endpoint, edge.ProjectID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fault.NotFound("node", endpoint)
		}
		if err != nil {
			return fmt.Errorf("failed to check endpoint %s: %w", endpoint, err)
		}
	}

	weightMetadata, err := marshalJSON(edge.WeightMetadata)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(edge.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO edges (id, project_id, from_node_id, to_node_id, relation_type,
			source_system, weight, bidirectional, weight_metadata, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, edge.ID, edge.ProjectID, edge.FromNodeID, edge.ToNodeID, edge.RelationType,
		edge.SourceSystem, edge.Weight, edge.Bidirectional, weightMetadata,
		metadata, edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert edge %s: %w", edge.ID, err)
	}
	return nil
}

// GetEdge returns an edge by id within a project.
func (s *Store) GetEdge(projectID, edgeID string) (*Edge, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, from_node_id, to_node_id, relation_type,
		       source_system, weight, bidirectional, weight_metadata, metadata, created_at
		FROM edges WHERE id = ? AND project_id = ?
	`, edgeID, projectID)

	edge, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("edge", edgeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge %s: %w", edgeID, err)
	}
	return edge, nil
}

// UpdateEdge overwrites the mutable fields of an existing edge.
func (s *Store) UpdateEdge(edge *Edge) error {
	if edge.Weight < 0 {
		return fmt.Errorf("edge weight must be >= 0, got %f", edge.Weight)
	}

	weightMetadata, err := marshalJSON(edge.WeightMetadata)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(edge.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(`
		UPDATE edges SET relation_type = ?, source_system = ?, weight = ?,
			bidirectional = ?, weight_metadata = ?, metadata = ?
		WHERE id = ? AND project_id = ?
	`, edge.RelationType, edge.SourceSystem, edge.Weight, edge.Bidirectional,
		weightMetadata, metadata, edge.ID, edge.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to update edge %s: %w", edge.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fault.NotFound("edge", edge.ID)
	}
	return nil
}

// DeleteEdge removes a single edge.
func (s *Store) DeleteEdge(projectID, edgeID string) error {
	result, err := s.db.Exec(`DELETE FROM edges WHERE id = ? AND project_id = ?`, edgeID, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete edge %s: %w", edgeID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fault.NotFound("edge", edgeID)
	}
	return nil
}

// nodeFilterClause builds the WHERE tail shared by the list and count
// queries, so both always agree on what matches.
func nodeFilterClause(filter *NodeFilter) (string, []any) {
	query := " WHERE project_id = ?"
	args := []any{filter.ProjectID}

	if len(filter.Types) > 0 {
		query += fmt.Sprintf(" AND type IN (%s)", inPlaceholders(len(filter.Types)))
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if len(filter.Subsystems) > 0 {
		query += fmt.Sprintf(" AND subsystem IN (%s)", inPlaceholders(len(filter.Subsystems)))
		for _, sub := range filter.Subsystems {
			args = append(args, sub)
		}
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status IN (%s)", inPlaceholders(len(filter.Statuses)))
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(" AND id IN (%s)", inPlaceholders(len(filter.IDs)))
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Owner != "" {
		query += " AND owner = ?"
		args = append(args, filter.Owner)
	}
	return query, args
}

// GetNodesByFilter returns nodes matching the filter, ordered by creation
// time for stable pagination.
func (s *Store) GetNodesByFilter(filter *NodeFilter) ([]*Node, error) {
	clause, args := nodeFilterClause(filter)
	query := `
		SELECT id, project_id, type, name, description, status, subsystem,
		       owner, external_refs, metadata, created_at, updated_at
		FROM nodes` + clause

	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return nodes, nil
}

// edgeFilterClause mirrors nodeFilterClause for the edges table.
func edgeFilterClause(filter *EdgeFilter) (string, []any) {
	query := " WHERE project_id = ?"
	args := []any{filter.ProjectID}

	if len(filter.FromNodeIDs) > 0 {
		query += fmt.Sprintf(" AND from_node_id IN (%s)", inPlaceholders(len(filter.FromNodeIDs)))
		for _, id := range filter.FromNodeIDs {
			args = append(args, id)
		}
	}
	if len(filter.ToNodeIDs) > 0 {
		query += fmt.Sprintf(" AND to_node_id IN (%s)", inPlaceholders(len(filter.ToNodeIDs)))
		for _, id := range filter.ToNodeIDs {
			args = append(args, id)
		}
	}
	if len(filter.RelationTypes) > 0 {
		query += fmt.Sprintf(" AND relation_type IN (%s)", inPlaceholders(len(filter.RelationTypes)))
		for _, rt := range filter.RelationTypes {
			args = append(args, rt)
		}
	}
	if len(filter.SourceSystems) > 0 {
		query += fmt.Sprintf(" AND source_system IN (%s)", inPlaceholders(len(filter.SourceSystems)))
		for _, src := range filter.SourceSystems {
			args = append(args, src)
		}
	}
	return query, args
}

// GetEdgesByFilter returns edges matching the filter.
func (s *Store) GetEdgesByFilter(filter *EdgeFilter) ([]*Edge, error) {
	clause, args := edgeFilterClause(filter)
	query := `
		SELECT id, project_id, from_node_id, to_node_id, relation_type,
		       source_system, weight, bidirectional, weight_metadata, metadata, created_at
		FROM edges` + clause

	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var edges []*Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return edges, nil
}

// CountNodesByFilter returns how many nodes match the filter, ignoring its
// pagination fields. Pairs with GetNodesByFilter for page totals.
func (s *Store) CountNodesByFilter(filter *NodeFilter) (int, error) {
	clause, args := nodeFilterClause(filter)
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM nodes"+clause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// CountEdgesByFilter returns how many edges match the filter, ignoring its
// pagination fields.
func (s *Store) CountEdgesByFilter(filter *EdgeFilter) (int, error) {
	clause, args := edgeFilterClause(filter)
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM edges"+clause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

// CountNodesByType returns node counts grouped by type for a project.
func (s *Store) CountNodesByType(projectID string) (map[string]int, error) {
	return s.countGrouped(`SELECT type, COUNT(*) FROM nodes WHERE project_id = ? GROUP BY type`, projectID)
}

// CountEdgesByRelationType returns edge counts grouped by relation type.
func (s *Store) CountEdgesByRelationType(projectID string) (map[string]int, error) {
	return s.countGrouped(`SELECT relation_type, COUNT(*) FROM edges WHERE project_id = ? GROUP BY relation_type`, projectID)
}

func (s *Store) countGrouped(query string, args ...any) (map[string]int, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	node := &Node{}
	var description, status, subsystem, owner, externalRefs, metadata sql.NullString
	err := row.Scan(
		&node.ID, &node.ProjectID, &node.Type, &node.Name, &description,
		&status, &subsystem, &owner, &externalRefs, &metadata,
		&node.CreatedAt, &node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	node.Description = description.String
	node.Status = status.String
	node.Subsystem = subsystem.String
	node.Owner = owner.String
	if err := unmarshalJSON(externalRefs.String, &node.ExternalRefs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata.String, &node.Metadata); err != nil {
		return nil, err
	}
	return node, nil
}

func scanEdge(row scanner) (*Edge, error) {
	edge := &Edge{}
	var sourceSystem, weightMetadata, metadata sql.NullString
	err := row.Scan(
		&edge.ID, &edge.ProjectID, &edge.FromNodeID, &edge.ToNodeID,
		&edge.RelationType, &sourceSystem, &edge.Weight, &edge.Bidirectional,
		&weightMetadata, &metadata, &edge.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	edge.SourceSystem = sourceSystem.String
	if err := unmarshalJSON(weightMetadata.String, &edge.WeightMetadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata.String, &edge.Metadata); err != nil {
		return nil, err
	}
	return edge, nil
}
