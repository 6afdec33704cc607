package registrar

import (
	"time"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/logging"
	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/sipuri"
)

// requestContact is one parsed, non-wildcard Contact header value
// together with the CSeq/Call-ID context of the REGISTER that carried
// it, ready for the Per-Contact Updater.
type requestContact struct {
	uri        string
	instanceID string
	hasExpires bool
	expires    int
}

// applyContacts implements spec section 4.3: iterate the request's
// contacts in order, inside tx, deciding insert/refresh/replace/remove
// for each.
func (e *Engine) applyContacts(tx database.BindingTx, aor, callID string, cseq uint32, contacts []requestContact, headerExpires []int, maxRegisterTime int, path pathResult) error {
	for _, c := range contacts {
		existing, found, err := tx.Get(aor, c.uri)
		if err != nil {
			return newSIPError(parser.StatusServerInternalError, "failed to look up binding")
		}

		var contactExpires *int
		if c.hasExpires {
			v := c.expires
			contactExpires = &v
		}

		if !found {
			exp := effective(headerExpires, contactExpires, maxRegisterTime)
			if err := e.registerContact(tx, aor, c, exp, callID, cseq, path); err != nil {
				return err
			}
			continue
		}

		sameCallID := existing.CallID == callID
		switch {
		case sameCallID && cseq <= existing.CSeq:
			return newSIPError(parser.StatusForbidden, "Request out of order, contained old CSeq number")
		case sameCallID:
			exp := effective(headerExpires, contactExpires, maxRegisterTime)
			if perContact(headerExpires, contactExpires) == 0 {
				if err := tx.Delete(aor, c.uri); err != nil {
					return newSIPError(parser.StatusServerInternalError, "failed to remove binding")
				}
				continue
			}
			if err := e.registerContact(tx, aor, c, exp, callID, cseq, path); err != nil {
				return err
			}
		default:
			if perContact(headerExpires, contactExpires) == 0 {
				if err := tx.Delete(aor, c.uri); err != nil {
					return newSIPError(parser.StatusServerInternalError, "failed to remove binding")
				}
				continue
			}
			exp := effective(headerExpires, contactExpires, maxRegisterTime)
			if err := e.registerContact(tx, aor, c, exp, callID, cseq, path); err != nil {
				return err
			}
		}
	}
	return nil
}

const defaultPriority = 100

// registerContact is the shared operation of spec section 4.5: it
// upserts one binding and, if the contact advertised a quoted
// +sip.instance, ensures a GRUU entry exists for it.
func (e *Engine) registerContact(tx database.BindingTx, aor string, c requestContact, expiresIn int, callID string, cseq uint32, path pathResult) error {
	now := time.Now().UTC()

	flags := database.BindingFlags{
		Priority:         defaultPriority,
		RegistrationTime: now,
	}
	if c.instanceID != "" {
		flags.InstanceID = c.instanceID
		if _, err := e.gruuStore.CreateIfNotExists(aor, c.instanceID); err != nil {
			return newSIPError(parser.StatusServerInternalError, "failed to create GRUU entry")
		}
	}
	if len(path.vector) > 0 {
		flags.Path = path.vector
	}

	binding := &database.Binding{
		AOR:           aor,
		ContactURI:    c.uri,
		ContactURIStr: c.uri,
		Class:         database.ClassDynamic,
		ExpiresAt:     now.Add(time.Duration(expiresIn) * time.Second),
		CallID:        callID,
		CSeq:          cseq,
		Flags:         flags,
	}
	if err := tx.Upsert(binding); err != nil {
		return newSIPError(parser.StatusServerInternalError, "failed to store binding")
	}
	return nil
}

// parseRequestContacts turns the request's raw Contact header values
// into requestContacts, reporting whether a wildcard contact is
// present. A non-quoted +sip.instance value is ignored per spec
// section 4.5.
func parseRequestContacts(raw []string, logger logging.Logger) (contacts []requestContact, wildcard bool, err error) {
	for _, value := range raw {
		c, perr := sipuri.ParseContact(value)
		if perr != nil {
			return nil, false, newSIPError(parser.StatusBadRequest, "Invalid Contact header")
		}
		if c.Wildcard {
			wildcard = true
			continue
		}
		rc := requestContact{uri: c.URI}
		if instanceID, ok := sipuri.QuotedInstanceID(c.Params); ok {
			rc.instanceID = instanceID
		} else if _, present := c.Params["+sip.instance"]; present {
			logger.Debug("ignoring non-quoted +sip.instance contact parameter")
		}
		if expires, ok := sipuri.ExpiresParam(c.Params); ok {
			rc.hasExpires = true
			rc.expires = expires
		}
		contacts = append(contacts, rc)
	}
	return contacts, wildcard, nil
}
