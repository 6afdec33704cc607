package registrar

import (
	"fmt"
	"time"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/sipuri"
)

// composeResponse implements spec section 4.6: always 200 OK with a
// Date header, the Path echo when applicable, and a Contact line per
// current dynamic binding (with GRUU parameters when negotiated).
func (e *Engine) composeResponse(request *parser.SIPMessage, aor string, path pathResult) (*parser.SIPMessage, error) {
	response := parser.NewResponseMessage(parser.StatusOK, parser.GetReasonPhraseForCode(parser.StatusOK))
	copyDialogHeaders(request, response)
	response.SetHeader(parser.HeaderDate, time.Now().UTC().Format(time.RFC1123))

	if path.present {
		for _, p := range path.vector {
			response.AddHeader(parser.HeaderPath, p)
		}
	}

	bindings, err := e.store.ListByAOR(aor)
	if err != nil {
		return nil, newSIPError(parser.StatusServerInternalError, "failed to read back bindings")
	}

	supported := sipuri.SplitTokenList(request.GetHeaders(parser.HeaderSupported))
	gruuNegotiated := e.cfg.ExperimentalGRUUEnable && containsFold(supported, "gruu")
	toHeader := request.GetHeader(parser.HeaderTo)

	anyGRUU := false
	now := time.Now().UTC()
	for _, b := range bindings {
		if b.Class != database.ClassDynamic || b.Never {
			continue
		}
		remaining := int(b.ExpiresAt.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		value := fmt.Sprintf("<%s>;expires=%d", b.ContactURI, remaining)

		if gruuNegotiated && b.Flags.InstanceID != "" {
			entry, err := e.gruuStore.FetchOrNone(aor, b.Flags.InstanceID)
			if err == nil && entry != nil {
				url := e.gruuFactory.MakeURL(aor, b.Flags.InstanceID, entry.Token, toHeader)
				value += fmt.Sprintf(`;gruu="%s";+sip.instance="%s"`, url, b.Flags.InstanceID)
				anyGRUU = true
			}
		}
		response.AddHeader(parser.HeaderContact, value)
	}

	if anyGRUU {
		response.AddHeader(parser.HeaderRequire, "gruu")
	}
	response.SetHeader(parser.HeaderContentLength, "0")
	return response, nil
}

// errorResponse translates a sipError into a wire response, per spec
// section 7.
func errorResponse(request *parser.SIPMessage, se *sipError) *parser.SIPMessage {
	response := parser.NewResponseMessage(se.Status, se.Reason)
	copyDialogHeaders(request, response)
	for name, values := range se.ExtraHeaders {
		for _, v := range values {
			response.AddHeader(name, v)
		}
	}
	response.SetHeader(parser.HeaderContentLength, "0")
	return response
}

// copyDialogHeaders copies the headers every REGISTER response must
// echo back, in the order the teacher's own response builders use.
func copyDialogHeaders(request, response *parser.SIPMessage) {
	viaHeaders := request.GetHeaders(parser.HeaderVia)
	for _, via := range viaHeaders {
		response.AddHeader(parser.HeaderVia, via)
	}
	if from := request.GetHeader(parser.HeaderFrom); from != "" {
		response.SetHeader(parser.HeaderFrom, from)
	}
	if to := request.GetHeader(parser.HeaderTo); to != "" {
		response.SetHeader(parser.HeaderTo, to)
	}
	if callID := request.GetHeader(parser.HeaderCallID); callID != "" {
		response.SetHeader(parser.HeaderCallID, callID)
	}
	if cseq := request.GetHeader(parser.HeaderCSeq); cseq != "" {
		response.SetHeader(parser.HeaderCSeq, cseq)
	}
	response.SetHeader(parser.HeaderServer, "SIP-Server/1.0")
}
