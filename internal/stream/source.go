package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/radiorec/internal/ringbuf"
)

// Source is one live connection feeding its own ring buffer.
type Source interface {
	ID() string
	// Alive reports whether the fetch loop is still running.
	Alive() bool
	StartedAt() time.Time
	Buffer() *ringbuf.RingBuffer
	// Stop ends the fetch loop. It does not wait for it to exit.
	Stop()
}

// Source defaults.
const (
	DefaultSourceCapacity = 307200
	DefaultReadSize       = 8192
	DefaultStartAttempts  = 3
	DefaultRetryDelay     = time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
)

// SourceConfig configures a LiveSource.
type SourceConfig struct {
	// Page is handed to Resolver to obtain the stream URL.
	Page     string
	Resolver Resolver
	Dialer   Dialer

	Capacity int
	// Preroll is the number of leading bytes discarded before buffering.
	Preroll  int
	ReadSize int

	StartAttempts int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Logger *slog.Logger
}

func (c *SourceConfig) applyDefaults() error {
	if c.Resolver == nil {
		c.Resolver = StaticResolver{}
	}
	if c.Dialer == nil {
		c.Dialer = HTTPDialer{}
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultSourceCapacity
	}
	if c.ReadSize == 0 {
		c.ReadSize = DefaultReadSize
	}
	if c.StartAttempts == 0 {
		c.StartAttempts = DefaultStartAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	switch {
	case c.Capacity < 0:
		return fmt.Errorf("%w: source capacity must be positive", ErrInvalidConfig)
	case c.Preroll < 0:
		return fmt.Errorf("%w: preroll must not be negative", ErrInvalidConfig)
	case c.ReadSize < 0:
		return fmt.Errorf("%w: read size must be positive", ErrInvalidConfig)
	case c.StartAttempts < 0:
		return fmt.Errorf("%w: start attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// SourceStats is a point-in-time view of a source.
type SourceStats struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	StartedAt      time.Time `json:"started_at"`
	Alive          bool      `json:"alive"`
	BytesReceived  int64     `json:"bytes_received"`
	PrerollDropped int64     `json:"preroll_dropped"`
	Buffered       int       `json:"buffered"`
}

type sourceCounters struct {
	received atomic.Int64
	dropped  atomic.Int64
}

// LiveSource pulls a remote byte stream into a ring buffer on its own
// goroutine.
type LiveSource struct {
	id        string
	url       string
	startedAt time.Time
	preroll   int64
	readSize  int
	buffer    *ringbuf.RingBuffer
	logger    *slog.Logger

	body     io.ReadCloser
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	alive    atomic.Bool
	counters sourceCounters
}

// StartSource resolves and connects the stream, retrying with exponential
// backoff, then starts the fetch loop. The loop outlives ctx only if ctx is
// never cancelled; Stop ends it explicitly.
func StartSource(ctx context.Context, cfg SourceConfig) (*LiveSource, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	buffer, err := ringbuf.New(cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &LiveSource{
		id:       uuid.NewString(),
		preroll:  int64(cfg.Preroll),
		readSize: cfg.ReadSize,
		buffer:   buffer,
		done:     make(chan struct{}),
	}
	s.logger = cfg.Logger.With("component", "source", "source", s.id)

	fetchCtx, cancel := context.WithCancel(ctx)
	url, body, err := acquire(fetchCtx, cfg, s.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	s.url = url
	s.body = body
	s.cancel = cancel
	s.startedAt = time.Now()
	s.alive.Store(true)

	s.logger.Info("Stream source started", "url", url)
	go s.run(fetchCtx)
	return s, nil
}

// acquire resolves and dials the stream, retrying up to cfg.StartAttempts
// times with exponential backoff.
func acquire(ctx context.Context, cfg SourceConfig, logger *slog.Logger) (string, io.ReadCloser, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.StartAttempts; attempt++ {
		url, err := cfg.Resolver.Resolve(ctx, cfg.Page)
		if err == nil {
			var body io.ReadCloser
			body, err = cfg.Dialer.Dial(ctx, url)
			if err == nil {
				return url, body, nil
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt == cfg.StartAttempts {
			break
		}

		delay := backoff(attempt, cfg.RetryDelay, cfg.MaxRetryDelay)
		logger.Warn("Failed to acquire stream, retrying",
			"attempt", attempt,
			"max_attempts", cfg.StartAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", nil, fmt.Errorf("%w: %v", ErrSourceAcquisition, ctx.Err())
		}
	}
	return "", nil, fmt.Errorf("%w after %d attempts: %w", ErrSourceAcquisition, cfg.StartAttempts, lastErr)
}

// backoff returns base * 2^(attempt-1), capped at ceiling.
func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	return delay
}

func (s *LiveSource) run(ctx context.Context) {
	defer close(s.done)
	defer s.alive.Store(false)
	defer s.body.Close()

	buf := make([]byte, s.readSize)
	for {
		n, err := s.body.Read(buf)
		if n > 0 {
			s.ingest(buf[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			s.logger.Debug("Stream source stopped")
		case errors.Is(err, io.EOF):
			s.logger.Warn("Stream ended by server", "received", s.counters.received.Load())
		default:
			s.logger.Warn("Stream connection lost", "error", err, "received", s.counters.received.Load())
		}
		return
	}
}

// ingest drops what is left of the preroll window and buffers the rest.
func (s *LiveSource) ingest(p []byte) {
	s.counters.received.Add(int64(len(p)))

	if remaining := s.preroll - s.counters.dropped.Load(); remaining > 0 {
		skip := min(remaining, int64(len(p)))
		s.counters.dropped.Add(skip)
		p = p[skip:]
	}
	if len(p) > 0 {
		s.buffer.Append(p)
	}
}

// ID returns the source's UUID.
func (s *LiveSource) ID() string { return s.id }

// URL returns the resolved stream URL.
func (s *LiveSource) URL() string { return s.url }

// StartedAt returns when the connection was established.
func (s *LiveSource) StartedAt() time.Time { return s.startedAt }

// Alive reports whether the fetch loop is running.
func (s *LiveSource) Alive() bool { return s.alive.Load() }

// Buffer returns the source's ring buffer.
func (s *LiveSource) Buffer() *ringbuf.RingBuffer { return s.buffer }

// Done is closed once the fetch loop has exited.
func (s *LiveSource) Done() <-chan struct{} { return s.done }

// Stop cancels the request and closes the body so a blocked read returns.
func (s *LiveSource) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.body.Close()
	})
}

// Stats returns the source's counters.
func (s *LiveSource) Stats() SourceStats {
	return SourceStats{
		ID:             s.id,
		URL:            s.url,
		StartedAt:      s.startedAt,
		Alive:          s.Alive(),
		BytesReceived:  s.counters.received.Load(),
		PrerollDropped: s.counters.dropped.Load(),
		Buffered:       s.buffer.Len(),
	}
}
