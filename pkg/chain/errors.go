package chain

import "errors"

// Typed gateway failures. Callers are expected to branch with errors.Is:
// ErrUnavailable is an expected steady state (chain integration disabled or
// node unreachable), ErrRejected means the transaction reverted and must not
// be retried automatically, ErrTimeout means the confirmation wait expired
// and the transaction may or may not land later.
var (
	ErrUnavailable = errors.New("chain unavailable")
	ErrRejected    = errors.New("chain transaction rejected")
	ErrTimeout     = errors.New("chain confirmation timeout")
)
