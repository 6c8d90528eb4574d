package models

import "errors"

// ErrInvariantViolation marks bookkeeping that should be impossible under correct
// sequencing, such as a pin count below one. It is never silently corrected.
var ErrInvariantViolation = errors.New("invariant violation")
