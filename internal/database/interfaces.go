package database

import (
	"database/sql"
	"time"
)

// DatabaseManager provides low-level access to the underlying SQL database.
// The user store and the binding store in internal/database both speak this
// interface so every table in the server lives behind the same thin layer
// over database/sql.
type DatabaseManager interface {
	Exec(query string, args ...interface{}) error
	ExecWithResult(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, dest []interface{}, args ...interface{}) error
	Begin() (*sql.Tx, error)
	Close() error
}

// BindingClass distinguishes UA-managed registrations from static routes
// that this core only reads.
type BindingClass string

const (
	ClassDynamic BindingClass = "dynamic"
	ClassStatic  BindingClass = "static"
)

// BindingFlags carries the typed attributes of a Binding described in
// spec section 3: priority, registration time, optional instance-id and
// optional Path vector.
type BindingFlags struct {
	Priority         int
	RegistrationTime time.Time
	InstanceID       string
	Path             []string
}

// Binding is one row mapping an Address-of-Record to a reachable contact.
type Binding struct {
	AOR           string
	ContactURI    string
	ContactURIStr string
	Class         BindingClass
	ExpiresAt     time.Time
	Never         bool
	CallID        string
	CSeq          uint32
	Flags         BindingFlags
}

// GRUUEntry is the persistent (AOR, instance-id) -> opaque token mapping
// created lazily at first registration of a new UA instance.
type GRUUEntry struct {
	AOR        string
	InstanceID string
	Token      string
}

// BindingStore is the transactional, persistent key/value store over
// AOR -> set of Bindings, indexed by contact URI for reverse lookup.
// All mutation driven by one REGISTER runs inside a single WithTx call.
type BindingStore interface {
	WithTx(fn func(tx BindingTx) error) error

	// ListByAOR returns a read-only snapshot, acceptable for routing
	// decisions (spec section 5, "Reads ... are non-transactional
	// snapshots").
	ListByAOR(aor string) ([]*Binding, error)

	// GetByContactURI returns the first AOR whose bindings include uri.
	GetByContactURI(uri string) (string, bool, error)
}

// BindingTx is the set of operations available inside one BindingStore
// transaction.
type BindingTx interface {
	Get(aor, contactURIStr string) (*Binding, bool, error)
	ListByAOR(aor string) ([]*Binding, error)
	Upsert(b *Binding) error
	Delete(aor, contactURIStr string) error
}

// GRUUStore is the GRUU Registry of spec section 3: created on demand,
// never deleted by this core.
type GRUUStore interface {
	FetchOrNone(aor, instanceID string) (*GRUUEntry, error)
	CreateIfNotExists(aor, instanceID string) (*GRUUEntry, error)
}

// --- legacy compatibility surface, kept for the rest of the server ---

// RegistrarContact is the flattened view of a dynamic Binding used by
// call-routing consumers (internal/proxy, internal/handlers) that only
// care about "where is this AOR reachable".
type RegistrarContact struct {
	AOR    string
	URI    string
	Expires time.Time
	CallID string
	CSeq   uint32
}

// RegistrationDB is the narrow storage interface the original,
// pre-Location-Service-Core registrar used. BindingStore satisfies richer
// transactional needs; RegistrationDB remains for anything that only
// needs single-shot store/retrieve/delete, and is implemented by
// SQLiteBindingStore as a thin wrapper around WithTx.
type RegistrationDB interface {
	Store(contact *RegistrarContact) error
	Retrieve(aor string) ([]*RegistrarContact, error)
	Delete(aor, contactURI string) error
	CleanupExpired() error
}

// User is a registrar account, authenticated via RFC2617 digest.
type User struct {
	ID           int
	Username     string
	Realm        string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
}

// UserManager manages accounts backed by the database.
type UserManager interface {
	CreateUser(username, realm, password string) error
	AuthenticateUser(username, realm, password string) bool
	UpdatePassword(username, realm, newPassword string) error
	UpdateUser(user *User) error
	DeleteUser(username, realm string) error
	ListUsers() ([]*User, error)
	GeneratePasswordHash(username, realm, password string) string
	GetUser(username, realm string) (*User, error)
}
