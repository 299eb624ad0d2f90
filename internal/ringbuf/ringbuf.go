// Package ringbuf provides a fixed-capacity circular byte buffer with
// overwrite-oldest semantics, consuming and peeking reads, seeks and
// byte-sequence search.
//
// A RingBuffer tracks a write cursor and a readable length. The readable
// window is the readableLength bytes that end just before the write cursor;
// reads take from its front, appends extend its back and evict from its front
// once the buffer is full. An optional EvictionSink receives every byte that
// leaves the window unread, which is how the durable variant streams audio to
// disk.
package ringbuf

import (
	"bytes"
	"fmt"
	"sync"
)

// DefaultMatchChunk is the number of bytes compared at a time by FindSequence.
const DefaultMatchChunk = 1000

// EvictionSink receives bytes that are about to be overwritten while still
// unread, in stream order. It is called with the buffer lock held and must
// not call back into the buffer or retain p.
type EvictionSink interface {
	Evicted(p []byte)
}

// Option configures a RingBuffer.
type Option func(*RingBuffer)

// WithEvictionSink installs a sink for evicted bytes.
func WithEvictionSink(sink EvictionSink) Option {
	return func(b *RingBuffer) {
		b.sink = sink
	}
}

// WithMatchChunk overrides the comparison chunk used by FindSequence.
// Values below one are ignored.
func WithMatchChunk(n int) Option {
	return func(b *RingBuffer) {
		if n > 0 {
			b.matchChunk = n
		}
	}
}

// RingBuffer is a thread-safe circular byte buffer. The zero value is not
// usable; construct one with New or NewDurable.
type RingBuffer struct {
	mu sync.Mutex

	storage    []byte
	capacity   int
	cursor     int // next storage index to write
	readable   int
	sink       EvictionSink
	matchChunk int
}

// New creates a buffer holding at most capacity bytes.
func New(capacity int, opts ...Option) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidArgument, capacity)
	}

	b := &RingBuffer{
		storage:    make([]byte, capacity),
		capacity:   capacity,
		matchChunk: DefaultMatchChunk,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Capacity returns the fixed size of the buffer.
func (b *RingBuffer) Capacity() int {
	return b.capacity
}

// Len returns the number of unread bytes.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readable
}

// Storage returns a copy of the raw storage in index order.
func (b *RingBuffer) Storage() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.capacity)
	copy(out, b.storage)
	return out
}

// Append writes p at the write cursor. When p is longer than the buffer only
// its trailing Capacity() bytes are kept. Unread bytes pushed out of the
// window go to the eviction sink first, followed by any dropped prefix of p.
func (b *RingBuffer) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(p)
}

// Write implements io.Writer. It never fails.
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Read returns the oldest length unread bytes. When consume is true they are
// marked read.
func (b *RingBuffer) Read(length int, consume bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLengthLocked(length); err != nil {
		return nil, err
	}
	return b.readLocked(b.readStartLocked(), length, consume), nil
}

// ReadAll returns every unread byte.
func (b *RingBuffer) ReadAll(consume bool) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(b.readStartLocked(), b.readable, consume)
}

// ReadFromEnd returns the newest length bytes. Consuming marks everything up
// to the write cursor read, including older bytes that were not returned.
func (b *RingBuffer) ReadFromEnd(length int, consume bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLengthLocked(length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	out := b.copyLocked((b.cursor-length+b.capacity)%b.capacity, length)
	if consume {
		b.readable = 0
	}
	return out, nil
}

// ReadUpToRemaining reads from the front so that exactly length bytes stay
// readable. It returns an empty slice when Len() <= length.
func (b *RingBuffer) ReadUpToRemaining(length int, consume bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case length < 0:
		return nil, fmt.Errorf("%w: negative remaining length %d", ErrInvalidArgument, length)
	case length > b.capacity:
		return nil, fmt.Errorf("%w: remaining length %d, capacity %d", ErrCapacityExceeded, length, b.capacity)
	case b.readable <= length:
		return []byte{}, nil
	}
	return b.readLocked(b.readStartLocked(), b.readable-length, consume), nil
}

// Seek discards the oldest n unread bytes.
func (b *RingBuffer) Seek(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLengthLocked(n); err != nil {
		return err
	}
	b.readable -= n
	return nil
}

// SeekToEnd marks every byte read. Storage is left untouched.
func (b *RingBuffer) SeekToEnd() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readable = 0
}

// FindSequence returns the storage index of the first occurrence of seq in
// the readable window, searching from the oldest unread byte forward.
func (b *RingBuffer) FindSequence(seq []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findLocked(seq)
}

// SeekToSequence moves the read pointer to the start of the first match of seq.
func (b *RingBuffer) SeekToSequence(seq []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, err := b.findLocked(seq)
	if err != nil {
		return err
	}
	return b.seekToIndexLocked(idx)
}

// SeekPastSequence moves the read pointer just past the first match of seq.
func (b *RingBuffer) SeekPastSequence(seq []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, err := b.findLocked(seq)
	if err != nil {
		return err
	}
	if err := b.seekToIndexLocked(idx); err != nil {
		return err
	}
	b.readable -= len(seq)
	return nil
}

// WriteAll hands every unread byte to the eviction sink without consuming
// them. It does nothing when the buffer has no sink.
func (b *RingBuffer) WriteAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil || b.readable == 0 {
		return
	}
	b.sink.Evicted(b.copyLocked(b.readStartLocked(), b.readable))
}

func (b *RingBuffer) readStartLocked() int {
	return (b.cursor - b.readable + b.capacity) % b.capacity
}

func (b *RingBuffer) checkLengthLocked(length int) error {
	switch {
	case length < 0:
		return fmt.Errorf("%w: negative length %d", ErrInvalidArgument, length)
	case length > b.capacity:
		return fmt.Errorf("%w: length %d, capacity %d", ErrCapacityExceeded, length, b.capacity)
	case length > b.readable:
		return fmt.Errorf("%w: length %d, readable %d", ErrInsufficientData, length, b.readable)
	}
	return nil
}

func (b *RingBuffer) appendLocked(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.sink != nil {
		b.evictLocked(p)
	}
	if len(p) > b.capacity {
		p = p[len(p)-b.capacity:]
	}

	head := copy(b.storage[b.cursor:], p)
	copy(b.storage, p[head:])

	b.cursor = (b.cursor + len(p)) % b.capacity
	b.readable = min(b.readable+len(p), b.capacity)
}

// evictLocked passes to the sink whatever appending p is about to push out
// of the readable window.
func (b *RingBuffer) evictLocked(p []byte) {
	overflow := b.readable + len(p) - b.capacity
	if overflow <= 0 {
		return
	}

	if len(p) > b.capacity {
		if b.readable > 0 {
			b.sink.Evicted(b.copyLocked(b.readStartLocked(), b.readable))
		}
		b.sink.Evicted(p[:len(p)-b.capacity])
		return
	}
	b.sink.Evicted(b.copyLocked(b.readStartLocked(), overflow))
}

// copyLocked copies length bytes of storage starting at start, wrapping.
func (b *RingBuffer) copyLocked(start, length int) []byte {
	out := make([]byte, length)
	n := copy(out, b.storage[start:])
	copy(out[n:], b.storage)
	return out
}

func (b *RingBuffer) readLocked(start, length int, consume bool) []byte {
	if length == 0 {
		return []byte{}
	}
	out := b.copyLocked(start, length)
	if consume {
		next := stopIndex(b.capacity, start, length) + 1
		if next == b.capacity {
			next = 0
		}
		b.readable = distance(b.capacity, b.cursor, next)
	}
	return out
}

// seekToIndexLocked makes idx the first readable storage index.
func (b *RingBuffer) seekToIndexLocked(idx int) error {
	if !withinReadBounds(b.capacity, b.cursor, b.readable, idx, 1) {
		return fmt.Errorf("%w: index %d is outside the readable window", ErrInvalidArgument, idx)
	}

	n := distance(b.capacity, b.cursor, idx)
	if n == 0 {
		// idx is the cursor itself, which is readable only when the buffer is full.
		n = b.capacity
	}
	b.readable = n
	return nil
}

func (b *RingBuffer) findLocked(seq []byte) (int, error) {
	n := len(seq)
	switch {
	case n == 0:
		return -1, fmt.Errorf("%w: empty sequence", ErrInvalidArgument)
	case n > b.capacity:
		return -1, fmt.Errorf("%w: sequence length %d, capacity %d", ErrCapacityExceeded, n, b.capacity)
	case n > b.readable:
		return -1, fmt.Errorf("%w: sequence length %d, readable %d", ErrInsufficientData, n, b.readable)
	}

	start := b.readStartLocked()
	for off := 0; off+n <= b.readable; off++ {
		pos := start + off
		if pos >= b.capacity {
			pos -= b.capacity
		}
		if b.storage[pos] != seq[0] {
			continue
		}
		if b.matchAtLocked(pos, seq) {
			return pos, nil
		}
	}
	return -1, fmt.Errorf("%w: %d bytes searched for a %d-byte sequence", ErrSequenceNotFound, b.readable, n)
}

// matchAtLocked compares seq against storage starting at pos one chunk at a
// time, stopping at the first chunk that differs.
func (b *RingBuffer) matchAtLocked(pos int, seq []byte) bool {
	for done := 0; done < len(seq); {
		size := min(b.matchChunk, len(seq)-done)
		at := (pos + done) % b.capacity
		if !b.equalLocked(at, seq[done:done+size]) {
			return false
		}
		done += size
	}
	return true
}

func (b *RingBuffer) equalLocked(pos int, chunk []byte) bool {
	head := min(len(chunk), b.capacity-pos)
	if !bytes.Equal(b.storage[pos:pos+head], chunk[:head]) {
		return false
	}
	return bytes.Equal(b.storage[:len(chunk)-head], chunk[head:])
}
