package buslock

import "errors"

// Bus lock errors. Every error returned by this package wraps one of these, so callers
// can test with errors.Is.
var (
	// ErrInvalidArgument indicates a nil handle or a wait value other than WaitForever.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates the calling device is not in the state the operation
	// requires, e.g. releasing a bus it does not hold.
	ErrInvalidState = errors.New("invalid state")

	// ErrCapacityExhausted indicates no free device slot matches the request.
	ErrCapacityExhausted = errors.New("no free device slot")

	// ErrAllocationFailure indicates a device semaphore could not be created.
	ErrAllocationFailure = errors.New("semaphore allocation failed")
)
