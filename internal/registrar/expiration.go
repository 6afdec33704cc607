package registrar

// expirationNone is the sentinel "no per-contact or header expires
// value was present at all" of spec section 4.7.
const expirationNone = -1

const defaultExpires = 3600

// perContact resolves the expires value a single contact should use,
// preferring its own expires= parameter over the request-wide Expires
// header, per spec section 4.7.
func perContact(headerExpires []int, contactExpires *int) int {
	if contactExpires != nil {
		return *contactExpires
	}
	if len(headerExpires) == 1 {
		return headerExpires[0]
	}
	return expirationNone
}

// effective applies the default and the configured upper bound. No
// lower bound is enforced here: arbitrarily small nonzero values are
// accepted, and 0 is handled upstream as a deregistration before this
// is ever called.
func effective(headerExpires []int, contactExpires *int, maxRegisterTime int) int {
	p := perContact(headerExpires, contactExpires)
	if p == expirationNone {
		p = defaultExpires
	}
	if p > maxRegisterTime {
		p = maxRegisterTime
	}
	return p
}
