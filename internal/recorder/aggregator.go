// Package recorder stitches the output of a stream pool into one continuous
// recording.
//
// The Aggregator drains the pool's primary source into its own, optionally
// durable, ring buffer. Each drain leaves SyncWindow bytes of lookahead in the
// source. When the pool fails over, the aggregator pulls part of that
// lookahead from the old source and then searches the new source for the tail
// of what it has recorded, so the recording continues without a gap or a
// repeated segment.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/radiorec/internal/ringbuf"
	"github.com/audiolibrelab/radiorec/internal/stream"
)

// Defaults.
const (
	DefaultCapacity           = 307200
	DefaultSyncWindow         = 50000
	DefaultFailoverDrainRatio = 0.3
)

// Pool is the part of stream.Pool the aggregator needs.
type Pool interface {
	Primary() stream.Source
	AddFailoverHandler(h stream.FailoverHandler) (remove func())
}

// Config configures an Aggregator.
type Config struct {
	Capacity int
	// SyncWindow is the lookahead left in the source on every drain and the
	// length of the sequence used to realign after a failover.
	SyncWindow int
	// FailoverDrainRatio is the share of SyncWindow pulled from a dying
	// source before realigning on its replacement.
	FailoverDrainRatio float64
	PollInterval       time.Duration
	// Sink makes the buffer durable. Nil keeps the recording in memory only.
	Sink   *ringbuf.FileSink
	Logger *slog.Logger
}

// Stats is a point-in-time view of the aggregator.
type Stats struct {
	Drained      int64  `json:"drained"`
	Failovers    int64  `json:"failovers"`
	ResyncHits   int64  `json:"resync_hits"`
	ResyncMisses int64  `json:"resync_misses"`
	Buffered     int    `json:"buffered"`
	Current      string `json:"current,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	WriteEnabled bool   `json:"write_enabled"`
	BytesWritten int64  `json:"bytes_written"`
}

// Aggregator drains a pool's primary source into one recording buffer.
type Aggregator struct {
	cfg    Config
	pool   Pool
	buffer *ringbuf.RingBuffer
	sink   *ringbuf.FileSink
	logger *slog.Logger

	// mu guards current and serializes draining against failover handling.
	// It is always taken after the pool's lock and before any buffer lock.
	mu      sync.Mutex
	current stream.Source

	removeHandler func()
	monitorStop   chan struct{}
	monitorDone   chan struct{}

	drained      atomic.Int64
	failovers    atomic.Int64
	resyncHits   atomic.Int64
	resyncMisses atomic.Int64
}

// New validates cfg and builds the recording buffer. The aggregator does
// nothing until Start.
func New(pool Pool, cfg Config) (*Aggregator, error) {
	if pool == nil {
		return nil, fmt.Errorf("aggregator needs a pool")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.SyncWindow == 0 {
		cfg.SyncWindow = DefaultSyncWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = stream.DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch {
	case cfg.SyncWindow < 0:
		return nil, fmt.Errorf("%w: sync window must be positive", stream.ErrInvalidConfig)
	case cfg.SyncWindow > cfg.Capacity:
		return nil, fmt.Errorf("%w: sync window %d exceeds recording capacity %d", stream.ErrInvalidConfig, cfg.SyncWindow, cfg.Capacity)
	case cfg.FailoverDrainRatio < 0 || cfg.FailoverDrainRatio > 1:
		return nil, fmt.Errorf("%w: failover drain ratio must be within [0, 1], got %g", stream.ErrInvalidConfig, cfg.FailoverDrainRatio)
	}

	var (
		buffer *ringbuf.RingBuffer
		err    error
	)
	if cfg.Sink != nil {
		buffer, err = ringbuf.NewDurable(cfg.Capacity, cfg.Sink)
	} else {
		buffer, err = ringbuf.New(cfg.Capacity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create recording buffer: %w", err)
	}

	return &Aggregator{
		cfg:    cfg,
		pool:   pool,
		buffer: buffer,
		sink:   cfg.Sink,
		logger: cfg.Logger.With("component", "aggregator"),
	}, nil
}

// Start registers for failover notifications and runs the drain loop until
// Stop or ctx is done.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.monitorStop != nil {
		a.mu.Unlock()
		return
	}
	a.monitorStop = make(chan struct{})
	a.monitorDone = make(chan struct{})
	stop, done := a.monitorStop, a.monitorDone
	a.mu.Unlock()

	// Registration takes the pool lock, so it happens outside ours.
	remove := a.pool.AddFailoverHandler(a)
	a.mu.Lock()
	a.removeHandler = remove
	a.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(a.cfg.PollInterval)
		defer ticker.Stop()

		a.logger.Info("Aggregator started", "sync_window", a.cfg.SyncWindow, "capacity", a.cfg.Capacity)
		for {
			select {
			case <-stop:
				a.logger.Info("Aggregator stopped")
				return
			case <-ctx.Done():
				a.logger.Info("Aggregator context done")
				return
			case <-ticker.C:
				a.Drain()
			}
		}
	}()
}

// Stop ends the drain loop and unregisters from the pool.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	stop, done, remove := a.monitorStop, a.monitorDone, a.removeHandler
	a.monitorStop, a.monitorDone, a.removeHandler = nil, nil, nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	if remove != nil {
		remove()
	}
}

// Drain moves everything but the last SyncWindow bytes from the current
// source into the recording.
func (a *Aggregator) Drain() {
	// Read the pool before taking our lock; the pool lock comes first.
	primary := a.pool.Primary()

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.current == nil:
		if primary == nil {
			return
		}
		a.logger.Debug("Draining first primary", "source", primary.ID())
		a.current = primary
	case primary != nil && primary != a.current && !a.current.Alive():
		// The primary changed without a notification reaching us.
		a.logger.Warn("Primary changed without failover notice", "old", a.current.ID(), "new", primary.ID())
		a.failoverLocked(a.current, primary)
	}

	data, err := a.current.Buffer().ReadUpToRemaining(a.cfg.SyncWindow, true)
	if err != nil {
		a.logger.Error("Failed to drain source", "source", a.current.ID(), "error", err)
		return
	}
	a.appendLocked(data)
}

// HandleFailover implements stream.FailoverHandler.
func (a *Aggregator) HandleFailover(old, new stream.Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failoverLocked(old, new)
}

func (a *Aggregator) failoverLocked(old, new stream.Source) {
	a.failovers.Add(1)
	a.resyncLocked(old, new)
	a.current = new
}

// resyncLocked pulls part of the old source's lookahead, then makes one
// attempt to position the new source just past what has been recorded.
func (a *Aggregator) resyncLocked(old, new stream.Source) {
	if old != nil {
		want := int(a.cfg.FailoverDrainRatio * float64(a.cfg.SyncWindow))
		if n := min(want, old.Buffer().Len()); n > 0 {
			data, err := old.Buffer().Read(n, true)
			if err != nil {
				a.logger.Error("Failed to drain retiring source", "source", old.ID(), "error", err)
			} else {
				a.appendLocked(data)
			}
		}
	}

	n := min(a.cfg.SyncWindow, a.buffer.Len())
	if n == 0 {
		a.logger.Info("Nothing recorded yet, switching source without realignment", "new", new.ID())
		return
	}

	tail, err := a.buffer.ReadFromEnd(n, false)
	if err != nil {
		a.resyncMisses.Add(1)
		a.logger.Error("Failed to read sync bytes", "error", err)
		return
	}

	if err := new.Buffer().SeekPastSequence(tail); err != nil {
		a.resyncMisses.Add(1)
		a.logger.Warn("Could not realign new source, recording may skip or repeat audio",
			"new", new.ID(),
			"sync_bytes", n,
			"available", new.Buffer().Len(),
			"error", err,
		)
		return
	}

	a.resyncHits.Add(1)
	a.logger.Info("Realigned new source", "new", new.ID(), "sync_bytes", n, "lookahead", new.Buffer().Len())
}

func (a *Aggregator) appendLocked(data []byte) {
	if len(data) == 0 {
		return
	}
	a.buffer.Append(data)
	a.drained.Add(int64(len(data)))
}

// Buffer returns the recording buffer.
func (a *Aggregator) Buffer() *ringbuf.RingBuffer {
	return a.buffer
}

// Durable reports whether the recording is backed by a file sink.
func (a *Aggregator) Durable() bool {
	return a.sink != nil
}

// SetFilePath switches the file evicted audio is appended to. It is a no-op
// for an in-memory aggregator.
func (a *Aggregator) SetFilePath(path string) {
	if a.sink != nil {
		a.sink.SetPath(path)
	}
}

// FilePath returns the current recording file.
func (a *Aggregator) FilePath() string {
	if a.sink == nil {
		return ""
	}
	return a.sink.Path()
}

// SetWriteEnabled toggles appending to the recording file.
func (a *Aggregator) SetWriteEnabled(enabled bool) {
	if a.sink != nil {
		a.sink.SetWriteEnabled(enabled)
	}
}

// WriteEnabled reports whether the recording file is being written.
func (a *Aggregator) WriteEnabled() bool {
	return a.sink != nil && a.sink.WriteEnabled()
}

// SeekToEnd discards everything recorded but not yet written.
func (a *Aggregator) SeekToEnd() {
	a.buffer.SeekToEnd()
}

// WriteAll flushes everything recorded but not yet written to the file,
// without consuming it.
func (a *Aggregator) WriteAll() {
	a.buffer.WriteAll()
}

// Prepare checks that path can be recorded to; see ringbuf.FileSink.Prepare.
func (a *Aggregator) Prepare(path string, overwrite bool) error {
	if a.sink == nil {
		return fmt.Errorf("aggregator is not durable")
	}
	return a.sink.Prepare(path, overwrite)
}

// Stats returns the aggregator's counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()

	stats := Stats{
		Drained:      a.drained.Load(),
		Failovers:    a.failovers.Load(),
		ResyncHits:   a.resyncHits.Load(),
		ResyncMisses: a.resyncMisses.Load(),
		Buffered:     a.buffer.Len(),
		FilePath:     a.FilePath(),
		WriteEnabled: a.WriteEnabled(),
	}
	if current != nil {
		stats.Current = current.ID()
	}
	if a.sink != nil {
		stats.BytesWritten = a.sink.BytesWritten()
	}
	return stats
}
