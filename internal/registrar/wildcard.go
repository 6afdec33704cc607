package registrar

import (
	"strconv"
	"strings"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/logging"
	"github.com/zurustar/sipregistrar/internal/parser"
)

// handleWildcard implements spec section 4.2: validation, then removal
// of every dynamic binding that passes the wildcard removal gate,
// inside the transaction tx. hasOtherContacts reports whether the
// request carried any contact besides the wildcard; the table in spec
// section 4.2 checks that last, after every Expires-header validation.
func (e *Engine) handleWildcard(tx database.BindingTx, aor, callID string, cseq uint32, expiresHeaders []string, hasOtherContacts bool) error {
	if len(expiresHeaders) == 0 {
		return newSIPError(parser.StatusBadRequest, "Wildcard without Expires header")
	}
	if len(expiresHeaders) > 1 {
		return newSIPError(parser.StatusBadRequest, "Wildcard with more than one expires parameter")
	}
	n, err := strconv.Atoi(strings.TrimSpace(expiresHeaders[0]))
	if err != nil || n != 0 {
		return newSIPError(parser.StatusBadRequest, "Wildcard with non-zero contact expires parameter")
	}
	if hasOtherContacts {
		return newSIPError(parser.StatusBadRequest, "Wildcard present but not alone, invalid (RFC3261 10.3 #6)")
	}

	existing, err := tx.ListByAOR(aor)
	if err != nil {
		return newSIPError(parser.StatusServerInternalError, "failed to list bindings")
	}

	for _, b := range existing {
		if b.Class != database.ClassDynamic {
			e.logger.Debug("wildcard deregister skipping static binding", logging.Field{Key: "aor", Value: aor})
			continue
		}
		same := b.CallID == callID
		higher := cseq > b.CSeq
		switch {
		case same && !higher:
			return newSIPError(parser.StatusForbidden, "Request out of order, contained old CSeq number")
		case (same && higher) || !same:
			if err := tx.Delete(b.AOR, b.ContactURIStr); err != nil {
				return newSIPError(parser.StatusServerInternalError, "failed to remove binding")
			}
		}
	}
	return nil
}
