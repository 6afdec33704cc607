package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteManager implements DatabaseManager over modernc.org/sqlite. A
// single open connection is kept (SetMaxOpenConns(1)) so that the
// transactions BindingStore opens with Begin are serialized the way
// spec section 5 requires, without needing an external lock.
type SQLiteManager struct {
	db *sql.DB
}

// NewSQLiteManager opens (and creates, if missing) the sqlite database at
// path. Use ":memory:" for ephemeral/test databases.
func NewSQLiteManager(path string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLiteManager{db: db}, nil
}

// Exec runs a statement that doesn't return rows.
func (m *SQLiteManager) Exec(query string, args ...interface{}) error {
	_, err := m.db.Exec(query, args...)
	return err
}

// ExecWithResult runs a statement and returns its sql.Result (for
// LastInsertId/RowsAffected).
func (m *SQLiteManager) ExecWithResult(query string, args ...interface{}) (sql.Result, error) {
	return m.db.Exec(query, args...)
}

// Query runs a query returning multiple rows.
func (m *SQLiteManager) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return m.db.Query(query, args...)
}

// QueryRow runs a query expected to return at most one row, scanning its
// columns into dest.
func (m *SQLiteManager) QueryRow(query string, dest []interface{}, args ...interface{}) error {
	return m.db.QueryRow(query, args...).Scan(dest...)
}

// Begin starts a new transaction directly against the underlying *sql.DB,
// for callers (BindingStore) that need more control than Exec/Query give.
func (m *SQLiteManager) Begin() (*sql.Tx, error) {
	return m.db.Begin()
}

// Close closes the underlying database connection.
func (m *SQLiteManager) Close() error {
	return m.db.Close()
}
