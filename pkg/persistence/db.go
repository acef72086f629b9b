package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"corese/pkg/logx"
)

// InitializeDatabase opens the SQLite database, applies pragmas, and brings
// the schema up to the current version. Idempotent and safe to call on an
// existing database file.
func InitializeDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// Store provides all database operations. One Store wraps one connection;
// construct it once at startup and pass it to the engines that need it.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewStore creates a Store around an initialized database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}
}

// DB exposes the underlying connection for callers that need raw queries
// (the web API's aggregate endpoints).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// marshalJSON serializes a value for a TEXT column, mapping nil/empty to a
// NULL-able empty string.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a TEXT column into out; empty input is a no-op.
func unmarshalJSON(data string, out any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}
	return nil
}
