package registrar

import "github.com/zurustar/sipregistrar/internal/database"

// QuerySurface is the read-only lookup API of spec section 4.8, used
// by the surrounding proxy for routing decisions.
type QuerySurface interface {
	GetUserWithContact(uri string) (string, bool)
	GetLocationsForUsers(aors []string) ([]*database.Binding, error)
	PrioritizeLocations(bindings []*database.Binding) []*database.Binding
	ToURL(b *database.Binding) string
}

// GetUserWithContact returns the first AOR whose bindings include uri.
func (e *Engine) GetUserWithContact(uri string) (string, bool) {
	aor, ok, err := e.store.GetByContactURI(uri)
	if err != nil || !ok {
		return "", false
	}
	return aor, true
}

// GetLocationsForUsers concatenates each AOR's bindings, preserving
// input order.
func (e *Engine) GetLocationsForUsers(aors []string) ([]*database.Binding, error) {
	var out []*database.Binding
	for _, aor := range aors {
		bindings, err := e.store.ListByAOR(aor)
		if err != nil {
			return nil, err
		}
		out = append(out, bindings...)
	}
	return out, nil
}

// PrioritizeLocations returns the subset of bindings sharing the
// minimum priority flag value, per spec section 4.8. If no entry
// carries a priority, the input is returned unchanged.
func (e *Engine) PrioritizeLocations(bindings []*database.Binding) []*database.Binding {
	hasAny := false
	min := 0
	for _, b := range bindings {
		if b.Flags.Priority == 0 {
			continue
		}
		if !hasAny || b.Flags.Priority < min {
			min = b.Flags.Priority
			hasAny = true
		}
	}
	if !hasAny {
		return bindings
	}
	var out []*database.Binding
	for _, b := range bindings {
		if b.Flags.Priority == min {
			out = append(out, b)
		}
	}
	return out
}

// ToURL returns the stored contact URI of b.
func (e *Engine) ToURL(b *database.Binding) string {
	return b.ContactURI
}
