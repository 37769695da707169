package syncq

import "errors"

var (
	// ErrNotFound is returned by a Backend when a key holds no value.
	ErrNotFound = errors.New("key not found")
	// ErrInvalidDomain is returned for a domain that is empty or too long to
	// be stored by every backend.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrStorageWrite wraps every failure to persist a queue. A submission
	// whose enqueue fails with it was not accepted.
	ErrStorageWrite = errors.New("error writing queue")
	// ErrDrainInFlight is returned by Drain when another drain of the same
	// domain is still running. The call did nothing.
	ErrDrainInFlight = errors.New("drain already in flight")
	// ErrNoDeliverer is returned when a domain has queued jobs but nothing
	// registered to deliver them.
	ErrNoDeliverer = errors.New("no deliverer for domain")
)
