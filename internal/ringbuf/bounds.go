package ringbuf

// The helpers below are pure functions of the buffer geometry so they can be
// tested without a buffer. A window "wraps" when its last readable byte sits
// at a lower storage index than its first one.

// readBounds returns the storage indexes of the first and last readable
// bytes. ok is false when nothing is readable.
func readBounds(capacity, writeCursor, readable int) (first, last int, ok bool) {
	if readable <= 0 {
		return 0, 0, false
	}

	first = writeCursor - readable
	if first < 0 {
		first += capacity
	}

	last = writeCursor - 1
	if last < 0 {
		last = capacity - 1
	}

	return first, last, true
}

// stopIndex returns the storage index of the last byte of a span of length
// bytes that starts at start.
func stopIndex(capacity, start, length int) int {
	stop := start + length - 1
	if stop >= capacity {
		stop -= capacity
	}
	return stop
}

// withinReadBounds reports whether the span of length bytes starting at
// storage index start lies entirely inside the readable window.
func withinReadBounds(capacity, writeCursor, readable, start, length int) bool {
	if start < 0 || start >= capacity || length <= 0 || length > readable {
		return false
	}

	first, last, ok := readBounds(capacity, writeCursor, readable)
	if !ok {
		return false
	}
	stop := stopIndex(capacity, start, length)

	if first <= last {
		// Window is [first, last]; the span may not wrap.
		return start >= first && stop >= start && stop <= last
	}

	// Window is [first, capacity) followed by [0, last].
	switch {
	case start >= first:
		return stop >= start || stop <= last
	case start <= last:
		return stop >= start && stop <= last
	default:
		return false
	}
}

// distance returns how many bytes lie between storage index from and the
// write cursor, walking forward around the ring. A result of zero means from
// is the write cursor itself.
func distance(capacity, writeCursor, from int) int {
	return (writeCursor - from + capacity) % capacity
}
