package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newGRUUToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

const pathSeparator = "\x1e"

// SQLiteBindingStore implements BindingStore and GRUUStore over a
// DatabaseManager, giving the Location Service Core the same storage
// engine (modernc.org/sqlite) the rest of xylitol2 already uses for user
// accounts. A single shared connection plus BEGIN/COMMIT transactions give
// the strict serializability spec section 5 requires.
type SQLiteBindingStore struct {
	db DatabaseManager
}

// NewSQLiteBindingStore creates the bindings/gruu_entries tables if
// missing and returns a store ready for use.
func NewSQLiteBindingStore(db DatabaseManager) (*SQLiteBindingStore, error) {
	s := &SQLiteBindingStore{db: db}
	if err := s.initializeTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBindingStore) initializeTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bindings (
			aor TEXT NOT NULL,
			contact_uri TEXT NOT NULL,
			contact_uri_str TEXT NOT NULL,
			class TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			never INTEGER NOT NULL DEFAULT 0,
			call_id TEXT NOT NULL,
			cseq INTEGER NOT NULL,
			priority INTEGER NOT NULL DEFAULT 100,
			registration_time INTEGER NOT NULL DEFAULT 0,
			instance_id TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (aor, contact_uri_str)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_contact_uri_str ON bindings(contact_uri_str)`,
		`CREATE TABLE IF NOT EXISTS gruu_entries (
			aor TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			token TEXT NOT NULL,
			PRIMARY KEY (aor, instance_id)
		)`,
	}
	for _, q := range queries {
		if err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to initialize binding store schema: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside one serializable transaction. A non-nil error
// from fn (including a sipError raised deep in the Wildcard Handler or
// Per-Contact Updater) rolls the transaction back and is returned
// unchanged, leaving no partial changes persisted.
func (s *SQLiteBindingStore) WithTx(fn func(tx BindingTx) error) error {
	db, ok := s.db.(interface{ Begin() (*sql.Tx, error) })
	if !ok {
		return fmt.Errorf("database manager does not support transactions")
	}

	sqlTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &sqliteBindingTx{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByAOR returns a non-transactional snapshot of all bindings for aor.
func (s *SQLiteBindingStore) ListByAOR(aor string) ([]*Binding, error) {
	rows, err := s.db.Query(bindingSelectColumns+` FROM bindings WHERE aor = ?`, aor)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings for %s: %w", aor, err)
	}
	defer rows.Close()
	return scanBindings(rows)
}

// GetByContactURI returns the first AOR whose bindings include uri.
func (s *SQLiteBindingStore) GetByContactURI(uri string) (string, bool, error) {
	var aor string
	err := s.db.QueryRow(`SELECT aor FROM bindings WHERE contact_uri_str = ? LIMIT 1`, []interface{}{&aor}, uri)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up contact %s: %w", uri, err)
	}
	return aor, true, nil
}

const bindingSelectColumns = `SELECT aor, contact_uri, contact_uri_str, class, expires_at, never, call_id, cseq, priority, registration_time, instance_id, path`

func scanBindings(rows *sql.Rows) ([]*Binding, error) {
	var out []*Binding
	for rows.Next() {
		b, err := scanBindingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBindingRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*Binding, error) {
	var (
		b              Binding
		expiresAtUnix  int64
		neverInt       int
		registeredUnix int64
		pathJoined     string
	)
	if err := scanner.Scan(&b.AOR, &b.ContactURI, &b.ContactURIStr, &b.Class, &expiresAtUnix, &neverInt,
		&b.CallID, &b.CSeq, &b.Flags.Priority, &registeredUnix, &b.Flags.InstanceID, &pathJoined); err != nil {
		return nil, fmt.Errorf("failed to scan binding row: %w", err)
	}
	b.Never = neverInt != 0
	if !b.Never {
		b.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	}
	b.Flags.RegistrationTime = time.Unix(registeredUnix, 0).UTC()
	if pathJoined != "" {
		b.Flags.Path = strings.Split(pathJoined, pathSeparator)
	}
	return &b, nil
}

type sqliteBindingTx struct {
	tx *sql.Tx
}

func (t *sqliteBindingTx) Get(aor, contactURIStr string) (*Binding, bool, error) {
	rows, err := t.tx.Query(bindingSelectColumns+` FROM bindings WHERE aor = ? AND contact_uri_str = ?`, aor, contactURIStr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up binding: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	b, err := scanBindingRow(rows)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *sqliteBindingTx) ListByAOR(aor string) ([]*Binding, error) {
	rows, err := t.tx.Query(bindingSelectColumns+` FROM bindings WHERE aor = ?`, aor)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings for %s: %w", aor, err)
	}
	defer rows.Close()
	return scanBindings(rows)
}

func (t *sqliteBindingTx) Upsert(b *Binding) error {
	var expiresAtUnix int64
	var neverInt int
	if b.Never {
		neverInt = 1
	} else {
		expiresAtUnix = b.ExpiresAt.Unix()
	}

	_, err := t.tx.Exec(`
		INSERT INTO bindings (aor, contact_uri, contact_uri_str, class, expires_at, never, call_id, cseq, priority, registration_time, instance_id, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aor, contact_uri_str) DO UPDATE SET
			contact_uri = excluded.contact_uri,
			class = excluded.class,
			expires_at = excluded.expires_at,
			never = excluded.never,
			call_id = excluded.call_id,
			cseq = excluded.cseq,
			priority = excluded.priority,
			registration_time = excluded.registration_time,
			instance_id = excluded.instance_id,
			path = excluded.path
	`,
		b.AOR, b.ContactURI, b.ContactURIStr, string(b.Class), expiresAtUnix, neverInt,
		b.CallID, b.CSeq, b.Flags.Priority, b.Flags.RegistrationTime.Unix(), b.Flags.InstanceID,
		strings.Join(b.Flags.Path, pathSeparator),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert binding: %w", err)
	}
	return nil
}

func (t *sqliteBindingTx) Delete(aor, contactURIStr string) error {
	_, err := t.tx.Exec(`DELETE FROM bindings WHERE aor = ? AND contact_uri_str = ?`, aor, contactURIStr)
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	return nil
}

// --- GRUUStore ---

func (s *SQLiteBindingStore) FetchOrNone(aor, instanceID string) (*GRUUEntry, error) {
	var token string
	err := s.db.QueryRow(`SELECT token FROM gruu_entries WHERE aor = ? AND instance_id = ?`, []interface{}{&token}, aor, instanceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gruu entry: %w", err)
	}
	return &GRUUEntry{AOR: aor, InstanceID: instanceID, Token: token}, nil
}

// CreateIfNotExists returns the existing GRUU entry for (aor, instanceID)
// or mints a fresh opaque token and persists it. Entries are never
// removed by this core (spec section 3, "GRUU lifecycle").
func (s *SQLiteBindingStore) CreateIfNotExists(aor, instanceID string) (*GRUUEntry, error) {
	if existing, err := s.FetchOrNone(aor, instanceID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	token := newGRUUToken()
	if err := s.db.Exec(`INSERT OR IGNORE INTO gruu_entries (aor, instance_id, token) VALUES (?, ?, ?)`, aor, instanceID, token); err != nil {
		return nil, fmt.Errorf("failed to create gruu entry: %w", err)
	}

	return s.FetchOrNone(aor, instanceID)
}

// --- legacy RegistrationDB compatibility ---

// Store upserts a dynamic binding with a default priority and no Path,
// for callers that predate the Per-Contact Updater (spec section 10,
// "Registrar facade for routing consumers").
func (s *SQLiteBindingStore) Store(contact *RegistrarContact) error {
	return s.WithTx(func(tx BindingTx) error {
		return tx.Upsert(&Binding{
			AOR:           contact.AOR,
			ContactURI:    contact.URI,
			ContactURIStr: contact.URI,
			Class:         ClassDynamic,
			ExpiresAt:     contact.Expires,
			CallID:        contact.CallID,
			CSeq:          contact.CSeq,
			Flags: BindingFlags{
				Priority:         100,
				RegistrationTime: time.Now().UTC(),
			},
		})
	})
}

// Retrieve returns all non-expired dynamic bindings for aor as the legacy
// RegistrarContact view.
func (s *SQLiteBindingStore) Retrieve(aor string) ([]*RegistrarContact, error) {
	bindings, err := s.ListByAOR(aor)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []*RegistrarContact
	for _, b := range bindings {
		if b.Class != ClassDynamic {
			continue
		}
		if !b.Never && !b.ExpiresAt.After(now) {
			continue
		}
		out = append(out, &RegistrarContact{
			AOR:     b.AOR,
			URI:     b.ContactURI,
			Expires: b.ExpiresAt,
			CallID:  b.CallID,
			CSeq:    b.CSeq,
		})
	}
	return out, nil
}

// Delete removes a single binding by its contact URI.
func (s *SQLiteBindingStore) Delete(aor, contactURI string) error {
	return s.WithTx(func(tx BindingTx) error {
		return tx.Delete(aor, contactURI)
	})
}

// CleanupExpired removes every dynamic binding whose expiry has passed.
func (s *SQLiteBindingStore) CleanupExpired() error {
	return s.db.Exec(`DELETE FROM bindings WHERE class = ? AND never = 0 AND expires_at < ?`,
		string(ClassDynamic), time.Now().UTC().Unix())
}
