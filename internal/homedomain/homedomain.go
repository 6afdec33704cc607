// Package homedomain answers the one question the Register Orchestrator
// asks before anything else: is this request even ours to handle.
package homedomain

import "strings"

// Oracle decides whether a host is one this registrar is authoritative
// for.
type Oracle interface {
	IsHomedomain(host string) bool
}

// StaticOracle is a fixed, case-insensitive set of configured domains,
// mirroring how internal/config.Manager loads a static list from YAML
// rather than doing DNS/SRV discovery at request time.
type StaticOracle struct {
	domains map[string]struct{}
}

// NewStaticOracle builds an Oracle from a configured domain list.
func NewStaticOracle(domains []string) *StaticOracle {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[normalize(d)] = struct{}{}
	}
	return &StaticOracle{domains: set}
}

// IsHomedomain reports whether host (optionally with a ":port" suffix)
// matches one of the configured domains.
func (o *StaticOracle) IsHomedomain(host string) bool {
	host = normalize(host)
	if host == "" {
		return false
	}
	if _, ok := o.domains[host]; ok {
		return true
	}
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		_, ok := o.domains[host[:idx]]
		return ok
	}
	return false
}

func normalize(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
