package job

import "errors"

// Start() failures, per §4.7.1.
var (
	ErrUnknownStrategy   = errors.New("job: unknown strategy id")
	ErrInvalidParameters = errors.New("job: parameter out of declared schema range")
	ErrBadFilter         = errors.New("job: invalid universe filter")
	ErrCapacityExceeded  = errors.New("job: too many concurrent jobs")

	// ErrNotFound is returned by Progress/Result/Cancel for an unknown id.
	ErrNotFound = errors.New("job: not found")
	// ErrNotReady is returned by Result for a job still pending or running.
	ErrNotReady = errors.New("job: result not ready")
	// ErrAlreadyTerminal is returned by Cancel on a job already in a
	// terminal state.
	ErrAlreadyTerminal = errors.New("job: already terminal")
)
