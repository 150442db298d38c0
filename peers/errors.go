package peers

import "errors"

// Rejection reasons returned to callers. Self-connections and
// policy-declined admissions are deliberate no-ops, not errors.
var (
	ErrAlreadyKnown    = errors.New("already known")
	ErrRequest         = errors.New("request error")
	ErrGenesisMismatch = errors.New("genesis header hash not valid")
	ErrRoleMismatch    = errors.New("peer is not an aehttpserver")
	ErrNotFound        = errors.New("not found")
)
