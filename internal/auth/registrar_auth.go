package auth

import (
	"strings"

	"github.com/zurustar/sipregistrar/internal/database"
	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/registrar"
	"github.com/zurustar/sipregistrar/internal/sipuri"
)

// RegistrarAuthDecider adapts digest authentication and the user
// database to registrar.AuthDecider: the five-way CanRegister outcome
// the Register Orchestrator delegates to (spec section 4.1 step 4,
// section 6).
type RegistrarAuthDecider struct {
	digestAuth  DigestAuthenticator
	userManager database.UserManager
	realm       string
}

// NewRegistrarAuthDecider builds the collaborator Engine.ProcessRegister
// authenticates against.
func NewRegistrarAuthDecider(digestAuth DigestAuthenticator, userManager database.UserManager, realm string) *RegistrarAuthDecider {
	return &RegistrarAuthDecider{digestAuth: digestAuth, userManager: userManager, realm: realm}
}

// CanRegister implements registrar.AuthDecider.
func (a *RegistrarAuthDecider) CanRegister(request *parser.SIPMessage, toURI string) (registrar.AuthOutcome, *database.User, error) {
	authHeader := request.GetHeader(parser.HeaderAuthorization)
	if authHeader == "" {
		return registrar.AuthNone, nil, nil
	}

	creds, err := a.digestAuth.ParseAuthorizationHeader(authHeader)
	if err != nil {
		return registrar.AuthNone, nil, nil
	}

	if !a.digestAuth.ValidateNonce(creds.Nonce) {
		return registrar.AuthStale, nil, nil
	}

	user, err := a.userManager.GetUser(creds.Username, creds.Realm)
	if err != nil || user == nil {
		return registrar.AuthNoMatch, nil, nil
	}
	if !user.Enabled {
		return registrar.AuthForbidden, user, nil
	}

	valid, err := a.digestAuth.ValidateCredentials(authHeader, parser.MethodREGISTER, user)
	if err != nil || !valid {
		return registrar.AuthNone, user, nil
	}

	if !ownsAOR(user, toURI) {
		return registrar.AuthForbidden, user, nil
	}

	return registrar.AuthOK, user, nil
}

// Challenge implements registrar.AuthDecider.
func (a *RegistrarAuthDecider) Challenge(request *parser.SIPMessage, stale bool) (*parser.SIPMessage, error) {
	challenge, err := a.digestAuth.GenerateChallenge(a.realm)
	if err != nil {
		return nil, err
	}
	if stale {
		challenge = strings.Replace(challenge, "Digest ", "Digest stale=true, ", 1)
	}

	response := parser.NewResponseMessage(parser.StatusUnauthorized, parser.GetReasonPhraseForCode(parser.StatusUnauthorized))
	a.copyChallengeHeaders(request, response)
	response.SetHeader(parser.HeaderWWWAuthenticate, challenge)
	response.SetHeader(parser.HeaderContentLength, "0")
	return response, nil
}

// ownsAOR reports whether the authenticated user is the one named by
// the To-URI being registered: a user may only register their own AOR.
func ownsAOR(user *database.User, toURI string) bool {
	aor, err := sipuri.ParseAOR(toURI)
	if err != nil {
		return false
	}
	userPart := strings.TrimPrefix(strings.TrimPrefix(aor, "sips:"), "sip:")
	if idx := strings.IndexAny(userPart, "@;:?"); idx >= 0 && userPart[idx] == '@' {
		return strings.EqualFold(userPart[:idx], user.Username)
	}
	return false
}

func (a *RegistrarAuthDecider) copyChallengeHeaders(request, response *parser.SIPMessage) {
	for _, via := range request.GetHeaders(parser.HeaderVia) {
		response.AddHeader(parser.HeaderVia, via)
	}
	if from := request.GetHeader(parser.HeaderFrom); from != "" {
		response.SetHeader(parser.HeaderFrom, from)
	}
	if to := request.GetHeader(parser.HeaderTo); to != "" {
		if !strings.Contains(to, "tag=") {
			if tag, err := a.digestAuth.GenerateNonce(); err == nil {
				if len(tag) > 8 {
					tag = tag[:8]
				}
				to += ";tag=" + tag
			}
		}
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
