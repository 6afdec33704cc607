// Package registrar implements the Location Service Core: REGISTER
// validation, the wildcard and per-contact binding state machines,
// Path (RFC 3327) and GRUU (draft-ietf-sip-gruu) handling, and the
// read-only query surface the surrounding proxy uses for routing.
package registrar

import (
	"fmt"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/parser"
)

// RoleTag distinguishes a registrar acting as the first-hop edge proxy
// for a UA (outgoingProxy, RFC 3327 terms) from one simply relaying an
// already-proxied REGISTER (incomingProxy).
type RoleTag string

const (
	RoleIncomingProxy RoleTag = "incomingProxy"
	RoleOutgoingProxy RoleTag = "outgoingProxy"
)

// AuthOutcome is the five-way result of asking the authentication
// collaborator whether a request may register its target AOR.
type AuthOutcome int

const (
	AuthOK AuthOutcome = iota
	AuthStale
	AuthForbidden
	AuthNoMatch
	AuthNone
)

// AuthDecider is the authentication/authorization collaborator this
// core delegates to; it never touches digest mechanics or the user
// database directly (those stay out of scope per spec section 1).
type AuthDecider interface {
	// CanRegister answers "may the credentials on request register
	// toURI". It never returns a sipError: authentication failures are
	// reported as outcomes, not response codes, so the Orchestrator can
	// apply the distinct challenge/denial treatment each outcome needs.
	CanRegister(request *parser.SIPMessage, toURI string) (AuthOutcome, *database.User, error)

	// Challenge builds a fresh authentication challenge response,
	// stale=true when the previous nonce expired.
	Challenge(request *parser.SIPMessage, stale bool) (*parser.SIPMessage, error)
}

// ResponseSender is the minimal transaction-handle surface this core
// needs; transaction.Transaction already satisfies it.
type ResponseSender interface {
	SendResponse(response *parser.SIPMessage) error
}

// sipError is the internal error taxonomy of spec section 7: every
// policy rejection raised while applying a REGISTER carries a status,
// a reason phrase, and optional extra response headers.
type sipError struct {
	Status       int
	Reason       string
	ExtraHeaders map[string][]string
}

func (e *sipError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Reason)
}

func newSIPError(status int, reason string) *sipError {
	return &sipError{Status: status, Reason: reason}
}

func (e *sipError) withHeader(name, value string) *sipError {
	if e.ExtraHeaders == nil {
		e.ExtraHeaders = make(map[string][]string)
	}
	e.ExtraHeaders[name] = append(e.ExtraHeaders[name], value)
	return e
}

// asSIPError unwraps err into a *sipError, if that's what it is.
func asSIPError(err error) (*sipError, bool) {
	se, ok := err.(*sipError)
	return se, ok
}
