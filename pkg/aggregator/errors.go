package aggregator

import "errors"

// Sentinel errors returned by Manager operations. Callers distinguish
// failure modes with errors.Is; messages carry the backend name and detail.
var (
	// ErrAlreadyMounted reports a mount attempt for a name that is already
	// mounted or currently mounting.
	ErrAlreadyMounted = errors.New("aggregator: server already mounted")

	// ErrNotMounted reports an operation against a name with no mounted
	// entry.
	ErrNotMounted = errors.New("aggregator: server not mounted")

	// ErrDisabled reports a mount attempt for a descriptor whose enabled
	// flag is off. The mount is skipped, not failed.
	ErrDisabled = errors.New("aggregator: server disabled")

	// ErrPrefixCollision reports that the computed prefix is already held
	// by another mounted backend.
	ErrPrefixCollision = errors.New("aggregator: prefix already in use")

	// ErrInvalidPrefix reports an explicitly configured prefix that
	// contains the namespace separator.
	ErrInvalidPrefix = errors.New("aggregator: invalid prefix")

	// ErrCapabilityUnavailable reports that the manager was built without
	// message coordination, which mounting requires.
	ErrCapabilityUnavailable = errors.New("aggregator: message coordination unavailable")

	// ErrBackendUnreachable reports a connect failure during mount.
	ErrBackendUnreachable = errors.New("aggregator: backend unreachable")

	// ErrBackendTimeout reports a backend that failed to answer a health
	// probe within its deadline.
	ErrBackendTimeout = errors.New("aggregator: backend timed out")

	// ErrBackendGone reports an operation that raced with the backend's
	// unmount or connection loss.
	ErrBackendGone = errors.New("aggregator: backend gone")
)
