package stream

import "errors"

var (
	// ErrSourceAcquisition is returned when a source could not resolve or
	// connect to its stream within its start attempts.
	ErrSourceAcquisition = errors.New("stream: failed to acquire source")

	// ErrResolveTimeout is returned when resolving a stream URL took longer
	// than the resolver's timeout.
	ErrResolveTimeout = errors.New("stream: timed out resolving stream URL")

	// ErrInvalidConfig reports a pool or source configuration that cannot work.
	ErrInvalidConfig = errors.New("stream: invalid configuration")
)
