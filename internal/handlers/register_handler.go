package handlers

import (
	"github.com/zurustar/sipregistrar/internal/logging"
	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/registrar"
	"github.com/zurustar/sipregistrar/internal/transaction"
)

// RegisterHandler dispatches REGISTER requests to the Location
// Service Core. Everything RFC 3261 section 10 requires — wildcard
// deregistration, CSeq ordering, Path/GRUU handling, the response
// itself — lives in registrar.Engine; this handler only bridges the
// transport-facing transaction.Transaction to it.
type RegisterHandler struct {
	engine *registrar.Engine
	role   registrar.RoleTag
	logger logging.Logger
}

// NewRegisterHandler creates a REGISTER handler bound to engine. role
// is this node's Path Vector Builder role (spec section 4.4); nodes
// acting as the UA's first-hop edge proxy should pass RoleOutgoingProxy.
func NewRegisterHandler(engine *registrar.Engine, role registrar.RoleTag, logger logging.Logger) *RegisterHandler {
	return &RegisterHandler{engine: engine, role: role, logger: logger}
}

// CanHandle returns true if this handler can process the given method
func (h *RegisterHandler) CanHandle(method string) bool {
	return method == parser.MethodREGISTER
}

// HandleRequest processes REGISTER requests
func (h *RegisterHandler) HandleRequest(req *parser.SIPMessage, txn transaction.Transaction) error {
	h.logger.Debug("Handling REGISTER request")

	handled, err := h.engine.ProcessRegister(req, txn, txn.GetID(), "REGISTER", h.role)
	if err != nil {
		return err
	}
	if !handled {
		// not_homedomain: nothing emitted here, the surrounding proxy
		// is responsible for forwarding this request onward.
		h.logger.Debug("REGISTER target is not a homedomain, leaving unhandled")
	}
	return nil
}
