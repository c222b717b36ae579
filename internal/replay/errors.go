package replay

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnexpectedReply = errors.New("unexpected server reply")
	ErrMismatch        = errors.New("occupancy mismatch")
)
