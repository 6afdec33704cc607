package database

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// SIPUserManager implements UserManager over a DatabaseManager. Passwords
// are stored as the RFC2617 HA1 digest (md5(username:realm:password)) so
// internal/auth's digest authenticator can use PasswordHash directly as
// HA1 without ever seeing the cleartext password again.
type SIPUserManager struct {
	db DatabaseManager
}

// NewSIPUserManager creates the users table if missing and returns a
// manager ready for use.
func NewSIPUserManager(db DatabaseManager) (*SIPUserManager, error) {
	m := &SIPUserManager{db: db}
	if err := m.initializeTable(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SIPUserManager) initializeTable() error {
	query := `CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		realm TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(username, realm)
	)`
	if err := m.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// GeneratePasswordHash computes the HA1 digest for (username, realm, password).
func (m *SIPUserManager) GeneratePasswordHash(username, realm, password string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", username, realm, password)))
	return hex.EncodeToString(sum[:])
}

// CreateUser registers a new account, enabled by default.
func (m *SIPUserManager) CreateUser(username, realm, password string) error {
	hash := m.GeneratePasswordHash(username, realm, password)
	err := m.db.Exec(`INSERT INTO users (username, realm, password_hash, enabled, created_at) VALUES (?, ?, ?, 1, ?)`,
		username, realm, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create user %s@%s: %w", username, realm, err)
	}
	return nil
}

// AuthenticateUser checks a cleartext password against the stored HA1.
// Callers doing SIP digest authentication should prefer GetUser plus
// auth.DigestAuthenticator.ValidateCredentials instead, since this never
// sees the challenge/response exchange.
func (m *SIPUserManager) AuthenticateUser(username, realm, password string) bool {
	user, err := m.GetUser(username, realm)
	if err != nil || user == nil || !user.Enabled {
		return false
	}
	return user.PasswordHash == m.GeneratePasswordHash(username, realm, password)
}

// UpdatePassword replaces a user's stored HA1 digest.
func (m *SIPUserManager) UpdatePassword(username, realm, newPassword string) error {
	hash := m.GeneratePasswordHash(username, realm, newPassword)
	err := m.db.Exec(`UPDATE users SET password_hash = ? WHERE username = ? AND realm = ?`, hash, username, realm)
	if err != nil {
		return fmt.Errorf("failed to update password for %s@%s: %w", username, realm, err)
	}
	return nil
}

// UpdateUser persists the enabled flag and password hash of an existing user.
func (m *SIPUserManager) UpdateUser(user *User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	err := m.db.Exec(`UPDATE users SET password_hash = ?, enabled = ? WHERE username = ? AND realm = ?`,
		user.PasswordHash, user.Enabled, user.Username, user.Realm)
	if err != nil {
		return fmt.Errorf("failed to update user %s@%s: %w", user.Username, user.Realm, err)
	}
	return nil
}

// DeleteUser removes an account.
func (m *SIPUserManager) DeleteUser(username, realm string) error {
	err := m.db.Exec(`DELETE FROM users WHERE username = ? AND realm = ?`, username, realm)
	if err != nil {
		return fmt.Errorf("failed to delete user %s@%s: %w", username, realm, err)
	}
	return nil
}

// ListUsers returns every account, ordered by username.
func (m *SIPUserManager) ListUsers() ([]*User, error) {
	rows, err := m.db.Query(`SELECT id, username, realm, password_hash, enabled, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Realm, &u.PasswordHash, &u.Enabled, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// GetUser fetches one account by (username, realm); returns (nil, nil) if
// no such account exists.
func (m *SIPUserManager) GetUser(username, realm string) (*User, error) {
	var u User
	dest := []interface{}{&u.ID, &u.Username, &u.Realm, &u.PasswordHash, &u.Enabled, &u.CreatedAt}
	err := m.db.QueryRow(`SELECT id, username, realm, password_hash, enabled, created_at FROM users WHERE username = ? AND realm = ?`,
		dest, username, realm)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s@%s: %w", username, realm, err)
	}
	return &u, nil
}
