// Package gruu builds draft-ietf-sip-gruu-06 style Globally Routable
// User-Agent URIs from an opaque token minted by the GRUU Registry
// (internal/database.GRUUStore). It owns none of the storage; it is
// pure URI construction, kept separate from the registry the same way
// spec section 6 separates "GRUU factory" from "Binding Store".
package gruu

import (
	"fmt"
)

// Factory builds public GRUU URLs for a (AOR, instance-id, token) triple.
type Factory interface {
	MakeURL(aor, instanceID, token, toHeader string) string
}

// URLFactory implements Factory by appending a gr= parameter to the
// AOR's own URI, which is what draft-ietf-sip-gruu-06 calls the "public
// GRUU".
type URLFactory struct{}

// NewURLFactory returns the default Factory.
func NewURLFactory() *URLFactory {
	return &URLFactory{}
}

// MakeURL returns "<aor-uri>;gr=<token>". toHeader is accepted (and not
// currently needed beyond the AOR already extracted from it) to keep the
// factory's signature aligned with spec section 4.6, where the caller
// always has the original To header on hand.
func (f *URLFactory) MakeURL(aor, instanceID, token, toHeader string) string {
	return fmt.Sprintf("%s;gr=%s", stripParams(aor), token)
}

func stripParams(uri string) string {
	for i, c := range uri {
		if c == ';' {
			return uri[:i]
		}
	}
	return uri
}
