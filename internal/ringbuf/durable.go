package ringbuf

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
)

// FileSink is an EvictionSink that appends evicted bytes to a file. Writing
// starts disabled; nothing reaches disk until SetWriteEnabled(true) and a
// path has been set.
//
// I/O failures are logged and counted but never returned: a recording must
// keep filling memory even when the disk goes away.
type FileSink struct {
	fs     afero.Fs
	logger *slog.Logger

	mu   sync.Mutex // guards path and serializes file appends
	path string

	enabled  atomic.Bool
	written  atomic.Int64
	failures atomic.Int64
}

// NewFileSink creates a sink writing through fs. A nil logger uses slog.Default().
func NewFileSink(fs afero.Fs, path string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		fs:     fs,
		path:   path,
		logger: logger.With("component", "filesink"),
	}
}

// NewDurable creates a RingBuffer that streams evicted bytes into sink.
func NewDurable(capacity int, sink *FileSink, opts ...Option) (*RingBuffer, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: durable buffer needs a file sink", ErrInvalidArgument)
	}
	return New(capacity, append([]Option{WithEvictionSink(sink)}, opts...)...)
}

// Path returns the file currently being appended to.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// SetPath switches the target file. Subsequent evictions go to the new file.
func (s *FileSink) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path != s.path {
		s.logger.Debug("Recording file changed", "from", s.path, "to", path)
	}
	s.path = path
}

// WriteEnabled reports whether evicted bytes are written to disk.
func (s *FileSink) WriteEnabled() bool {
	return s.enabled.Load()
}

// SetWriteEnabled toggles writing to disk.
func (s *FileSink) SetWriteEnabled(enabled bool) {
	if s.enabled.Swap(enabled) != enabled {
		s.logger.Debug("Recording file writes toggled", "enabled", enabled)
	}
}

// BytesWritten returns the total number of bytes appended to disk.
func (s *FileSink) BytesWritten() int64 {
	return s.written.Load()
}

// Failures returns the number of failed file operations.
func (s *FileSink) Failures() int64 {
	return s.failures.Load()
}

// Evicted implements EvictionSink.
func (s *FileSink) Evicted(p []byte) {
	if len(p) == 0 || !s.enabled.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		s.failures.Add(1)
		s.logger.Warn("Dropping evicted bytes, no recording file set", "bytes", len(p))
		return
	}

	f, err := s.fs.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("Failed to open recording file", "path", s.path, "error", err)
		return
	}

	n, err := f.Write(p)
	s.written.Add(int64(n))
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("Failed to write recording file", "path", s.path, "bytes", len(p), "error", err)
	}
	if err := f.Close(); err != nil {
		s.failures.Add(1)
		s.logger.Error("Failed to close recording file", "path", s.path, "error", err)
	}
}

// Prepare checks that path can be recorded to. An existing file is an
// ErrFileExists error unless overwrite is set, in which case it is removed.
// Writability is verified by creating and removing the file.
func (s *FileSink) Prepare(path string, overwrite bool) error {
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		s.logger.Info("Overwriting existing recording", "path", path)
		if err := s.fs.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("recording file %s is not writable: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to remove probe file %s: %w", path, err)
	}
	return nil
}
