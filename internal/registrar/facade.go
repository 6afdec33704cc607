package registrar

import (
	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/logging"
)

// Registrar is the legacy, store-level interface the rest of the
// server (internal/proxy, internal/handlers) was
// already written against: "where is this AOR reachable" without any
// of the REGISTER processing semantics the Engine owns.
type Registrar interface {
	Register(contact *database.RegistrarContact, expires int) error
	Unregister(aor string) error
	FindContacts(aor string) ([]*database.RegistrarContact, error)
	CleanupExpired()
}

// Facade adapts the Location Service Core's storage layer to the
// legacy Registrar interface, so call-routing consumers that only
// need the flattened RegistrarContact view keep working unchanged
// while REGISTER requests themselves flow through Engine.ProcessRegister.
type Facade struct {
	storage database.RegistrationDB
	logger  logging.Logger
}

// NewFacade builds a Facade over the same storage backing an Engine.
func NewFacade(storage database.RegistrationDB, logger logging.Logger) *Facade {
	return &Facade{storage: storage, logger: logger}
}

// Register stores or removes a contact directly, bypassing the CSeq
// ordering and Path/GRUU handling the Engine applies to REGISTER
// requests. Retained for callers (call routing, tests) that only need
// a flat contact record.
func (f *Facade) Register(contact *database.RegistrarContact, expires int) error {
	if expires < 0 {
		return errInvalidExpires
	}
	if expires == 0 {
		return f.storage.Delete(contact.AOR, contact.URI)
	}
	return f.storage.Store(contact)
}

// Unregister removes every contact registered for aor.
func (f *Facade) Unregister(aor string) error {
	contacts, err := f.storage.Retrieve(aor)
	if err != nil {
		return err
	}
	for _, contact := range contacts {
		if err := f.storage.Delete(aor, contact.URI); err != nil {
			f.logger.Error("failed to delete contact during unregister",
				logging.Field{Key: "aor", Value: aor},
				logging.Field{Key: "contact", Value: contact.URI},
				logging.Field{Key: "error", Value: err})
		}
	}
	return nil
}

// FindContacts retrieves all currently registered contacts for aor.
func (f *Facade) FindContacts(aor string) ([]*database.RegistrarContact, error) {
	return f.storage.Retrieve(aor)
}

// CleanupExpired sweeps expired dynamic bindings from the store.
func (f *Facade) CleanupExpired() {
	if err := f.storage.CleanupExpired(); err != nil {
		f.logger.Error("failed to cleanup expired contacts", logging.Field{Key: "error", Value: err})
	}
}

type invalidExpiresError struct{}

func (invalidExpiresError) Error() string { return "invalid expires value" }

var errInvalidExpires = invalidExpiresError{}
