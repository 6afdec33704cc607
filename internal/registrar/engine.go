package registrar

import (
	"strings"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/gruu"
	"github.com/zurustar/sipregistrar/internal/homedomain"
	"github.com/zurustar/sipregistrar/internal/logging"
	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/sipuri"
)

// Config is the process-global, read-only-at-request-time
// configuration of spec section 5 and section 6.
type Config struct {
	ExperimentalGRUUEnable bool
	AllowProxyInsertedPath bool
	MaxRegisterTime        int
	RecordRouteURI         string
}

// Engine is the Location Service Core: the Register Orchestrator bound
// to its collaborators (Binding Store, GRUU Registry, GRUU factory,
// homedomain oracle, authentication).
type Engine struct {
	store       database.BindingStore
	gruuStore   database.GRUUStore
	gruuFactory gruu.Factory
	homedomain  homedomain.Oracle
	auth        AuthDecider
	logger      logging.Logger
	cfg         Config
}

// NewEngine wires the Location Service Core to its collaborators.
func NewEngine(store database.BindingStore, gruuStore database.GRUUStore, gruuFactory gruu.Factory, oracle homedomain.Oracle, auth AuthDecider, logger logging.Logger, cfg Config) *Engine {
	return &Engine{
		store:       store,
		gruuStore:   gruuStore,
		gruuFactory: gruuFactory,
		homedomain:  oracle,
		auth:        auth,
		logger:      logger,
		cfg:         cfg,
	}
}

// ProcessRegister implements spec section 4.1, the Register
// Orchestrator entry point. It returns handled=false, meaning
// "not_homedomain" — the surrounding proxy should forward the request
// — without ever touching txn. Every other outcome, including every
// rejection, is handled entirely here: a response or a challenge is
// sent on txn and handled=true is returned.
func (e *Engine) ProcessRegister(request *parser.SIPMessage, txn ResponseSender, logTag, logDescription string, role RoleTag) (handled bool, err error) {
	if !e.homedomain.IsHomedomain(sipuri.Host(request.GetRequestURI())) {
		return false, nil
	}

	if se := e.checkRequiredExtensions(request); se != nil {
		return true, txn.SendResponse(errorResponse(request, se))
	}

	request.RemoveHeader(parser.HeaderRecordRoute)

	toHeader := request.GetHeader(parser.HeaderTo)
	aor, aorErr := sipuri.ParseAOR(toHeader)
	if aorErr != nil {
		return true, txn.SendResponse(errorResponse(request, newSIPError(parser.StatusBadRequest, "Invalid To header")))
	}

	outcome, user, authErr := e.auth.CanRegister(request, toHeader)
	if authErr != nil {
		e.logger.Error("authentication collaborator failed", logging.Field{Key: "error", Value: authErr}, logging.Field{Key: "tag", Value: logTag})
		return true, txn.SendResponse(errorResponse(request, newSIPError(parser.StatusServerInternalError, "authentication failure")))
	}

	switch outcome {
	case AuthOK:
		// continue below
	case AuthStale:
		resp, cerr := e.auth.Challenge(request, true)
		if cerr != nil {
			return true, cerr
		}
		return true, txn.SendResponse(resp)
	case AuthForbidden:
		e.logger.Info("register forbidden", logging.Field{Key: "user", Value: userLogValue(user)}, logging.Field{Key: "address", Value: aor})
		return true, txn.SendResponse(errorResponse(request, newSIPError(parser.StatusForbidden, "Forbidden")))
	case AuthNoMatch:
		e.logger.Info("register invalid address", logging.Field{Key: "user", Value: userLogValue(user)}, logging.Field{Key: "address", Value: aor})
		return true, txn.SendResponse(errorResponse(request, newSIPError(parser.StatusNotFound, "Not Found")))
	default: // AuthNone
		if request.GetHeader(parser.HeaderAuthorization) == "" {
			e.logger.Debug("register unauthenticated, no Authorization header", logging.Field{Key: "tag", Value: logTag})
		} else {
			e.logger.Info("register unauthenticated", logging.Field{Key: "tag", Value: logTag})
		}
		resp, cerr := e.auth.Challenge(request, false)
		if cerr != nil {
			return true, cerr
		}
		return true, txn.SendResponse(resp)
	}

	resp, applyErr := e.applyUpdate(request, aor, role)
	if applyErr != nil {
		if se, ok := asSIPError(applyErr); ok {
			return true, txn.SendResponse(errorResponse(request, se))
		}
		e.logger.Error("register internal failure", logging.Field{Key: "error", Value: applyErr}, logging.Field{Key: "tag", Value: logTag})
		return true, txn.SendResponse(errorResponse(request, newSIPError(parser.StatusServerInternalError, "Server Internal Error")))
	}

	e.logger.Info("register ok", logging.Field{Key: "user", Value: userLogValue(user)}, logging.Field{Key: "aor", Value: aor}, logging.Field{Key: "description", Value: logDescription})
	return true, txn.SendResponse(resp)
}

// checkRequiredExtensions implements spec section 4.1 step 2: any
// Require token other than "path" (always honored) or "gruu" (honored
// iff experimental_gruu_enable) is rejected with 420, listing exactly
// the rejected tokens in original order.
func (e *Engine) checkRequiredExtensions(request *parser.SIPMessage) *sipError {
	required := sipuri.SplitTokenList(request.GetHeaders(parser.HeaderRequire))
	var rejected []string
	for _, token := range required {
		switch {
		case strings.EqualFold(token, "path"):
		case strings.EqualFold(token, "gruu") && e.cfg.ExperimentalGRUUEnable:
		default:
			rejected = append(rejected, token)
		}
	}
	if len(rejected) == 0 {
		return nil
	}
	se := newSIPError(parser.StatusBadExtension, "Bad Extension")
	for _, token := range rejected {
		se = se.withHeader(parser.HeaderUnsupported, token)
	}
	return se
}

// applyUpdate is spec section 4.1 step 5: the wildcard/per-contact
// mutation (when the request carries contacts), followed by the
// Response Composer reading back the post-state. A REGISTER with no
// Contact header at all is a pure registration query (spec section 10
// supplement): it skips mutation and still gets a full Response
// Composer pass over current bindings.
func (e *Engine) applyUpdate(request *parser.SIPMessage, aor string, role RoleTag) (*parser.SIPMessage, error) {
	path, perr := e.buildPathVector(request, role)
	if perr != nil {
		return nil, perr
	}

	rawContacts := request.GetHeaders(parser.HeaderContact)
	if len(rawContacts) == 0 {
		return e.composeResponse(request, aor, path)
	}

	contacts, wildcard, perr := parseRequestContacts(rawContacts, e.logger)
	if perr != nil {
		return nil, perr
	}

	callID := request.GetHeader(parser.HeaderCallID)
	cseq, cerr := sipuri.ParseCSeq(request.GetHeader(parser.HeaderCSeq))
	if cerr != nil {
		return nil, newSIPError(parser.StatusBadRequest, "Invalid CSeq header")
	}

	headerExpires := parseHeaderExpires(request.GetHeaders(parser.HeaderExpires))

	txErr := e.store.WithTx(func(tx database.BindingTx) error {
		if wildcard {
			return e.handleWildcard(tx, aor, callID, cseq, request.GetHeaders(parser.HeaderExpires), len(contacts) > 0)
		}
		return e.applyContacts(tx, aor, callID, cseq, contacts, headerExpires, e.cfg.MaxRegisterTime, path)
	})
	if txErr != nil {
		return nil, txErr
	}

	return e.composeResponse(request, aor, path)
}

func parseHeaderExpires(raw []string) []int {
	var out []int
	for _, v := range raw {
		if n, ok := sipuri.ExpiresParam(map[string]string{"expires": v}); ok {
			out = append(out, n)
		}
	}
	return out
}

func userLogValue(user *database.User) string {
	if user == nil {
		return ""
	}
	return user.Username + "@" + user.Realm
}
