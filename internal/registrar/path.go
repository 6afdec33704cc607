package registrar

import (
	"strings"

	"github.com/zurustar/sipregistrar/internal/parser"
	"github.com/zurustar/sipregistrar/internal/sipuri"
)

// pathResult is what the Path Vector Builder hands back to both the
// Per-Contact/Wildcard update step (for the path flag to store) and the
// Response Composer (for the Path echo).
type pathResult struct {
	vector  []string
	present bool // true iff the request itself carried a Path header
}

// buildPathVector implements spec section 4.4. role decides whether
// this node's own Record-Route URI is prepended; recordRouteURI is
// read from configuration and may be empty when this node never acts
// as an outgoing edge proxy.
func (e *Engine) buildPathVector(request *parser.SIPMessage, role RoleTag) (pathResult, error) {
	rawPath := request.GetHeaders(parser.HeaderPath)

	if len(rawPath) == 0 {
		if role == RoleOutgoingProxy && e.cfg.RecordRouteURI != "" {
			return pathResult{vector: []string{e.cfg.RecordRouteURI}}, nil
		}
		return pathResult{}, nil
	}

	supported := sipuri.SplitTokenList(request.GetHeaders(parser.HeaderSupported))
	uaSupportsPath := containsFold(supported, "path")

	if !uaSupportsPath && !e.cfg.AllowProxyInsertedPath {
		return pathResult{}, newSIPError(parser.StatusExtensionRequired, "Extension Required").
			withHeader(parser.HeaderRequire, "path")
	}
	if !uaSupportsPath {
		e.logger.Debug("accepting proxy-inserted Path header without Supported: path override")
	}

	vector := append([]string(nil), rawPath...)
	if role == RoleOutgoingProxy && e.cfg.RecordRouteURI != "" {
		vector = append([]string{e.cfg.RecordRouteURI}, vector...)
	}
	return pathResult{vector: vector, present: true}, nil
}

func containsFold(tokens []string, want string) bool {
	for _, t := range tokens {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
