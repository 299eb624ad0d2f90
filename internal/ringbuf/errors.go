package ringbuf

import "errors"

// Errors returned by RingBuffer operations. Callers distinguish them with
// errors.Is; the returned errors wrap these with request details.
var (
	// ErrInvalidArgument reports a negative length, an empty sequence, or an
	// index outside the readable window.
	ErrInvalidArgument = errors.New("ringbuf: invalid argument")

	// ErrCapacityExceeded reports a request larger than the buffer itself.
	ErrCapacityExceeded = errors.New("ringbuf: request is longer than the buffer capacity")

	// ErrInsufficientData reports a request larger than what is currently readable.
	ErrInsufficientData = errors.New("ringbuf: request is longer than the readable data")

	// ErrSequenceNotFound reports that FindSequence scanned the readable window
	// without a match.
	ErrSequenceNotFound = errors.New("ringbuf: sequence not found")

	// ErrFileExists is returned by FileSink.Prepare when the target exists and
	// overwriting was not requested.
	ErrFileExists = errors.New("ringbuf: file already exists")
)
