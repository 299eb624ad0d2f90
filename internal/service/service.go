// Package service runs a recording session: it splits the aggregator's
// output into hourly files, honours the start and end dates, and keeps the
// session manifest.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/radiorec/internal/recorder"
	"github.com/audiolibrelab/radiorec/internal/stream"
)

// RecordingStatus represents the current session state
type RecordingStatus string

const (
	StatusStandby   RecordingStatus = "STANDBY"
	StatusWaiting   RecordingStatus = "WAITING"
	StatusRecording RecordingStatus = "RECORDING"
	StatusFinished  RecordingStatus = "FINISHED"
	StatusError     RecordingStatus = "ERROR"
)

// Recorder is the durable side of recorder.Aggregator.
type Recorder interface {
	Prepare(path string, overwrite bool) error
	SetFilePath(path string)
	SetWriteEnabled(enabled bool)
	SeekToEnd()
	WriteAll()
	Stats() recorder.Stats
}

// PoolStatter reports the stream pool's members.
type PoolStatter interface {
	Stats() stream.PoolStats
}

type Config struct {
	Station   string
	Directory string
	Extension string
	Overwrite bool
	// Start and End are optional; zero means now and never.
	Start time.Time
	End   time.Time

	FS     afero.Fs
	Clock  Clock
	Logger *slog.Logger
}

// RecordingSession describes the file currently being written.
type RecordingSession struct {
	File        string    `json:"file"`
	StartTime   time.Time `json:"start_time"`
	IntervalEnd time.Time `json:"interval_end"`
}

// Status is the service state reported by the status server.
type Status struct {
	State      RecordingStatus   `json:"state"`
	Station    string            `json:"station,omitempty"`
	Start      *time.Time        `json:"start,omitempty"`
	End        *time.Time        `json:"end,omitempty"`
	Session    *RecordingSession `json:"session,omitempty"`
	Finished   int               `json:"finished_files"`
	Aggregator recorder.Stats    `json:"aggregator"`
	Pool       *stream.PoolStats `json:"pool,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
}

// RecordingService records hour by hour until its end date or until its
// context is cancelled.
type RecordingService struct {
	cfg    Config
	rec    Recorder
	pool   PoolStatter
	fs     afero.Fs
	clock  Clock
	logger *slog.Logger

	mu        sync.RWMutex
	state     RecordingStatus
	session   *RecordingSession
	finished  int
	lastError string
}

// New creates a recording service. pool may be nil.
func New(rec Recorder, pool PoolStatter, cfg Config) (*RecordingService, error) {
	if rec == nil {
		return nil, fmt.Errorf("recording service needs a recorder")
	}
	if cfg.Directory == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = "aac"
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Start.IsZero() && !cfg.End.IsZero() && !cfg.End.After(cfg.Start) {
		return nil, fmt.Errorf("end date %s is not after start date %s", cfg.End.Format(DateLayout), cfg.Start.Format(DateLayout))
	}
	if !cfg.End.IsZero() && cfg.End.Before(cfg.Clock.Now()) {
		return nil, fmt.Errorf("end date %s has already passed", cfg.End.Format(DateLayout))
	}

	return &RecordingService{
		cfg:    cfg,
		rec:    rec,
		pool:   pool,
		fs:     cfg.FS,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "service"),
		state:  StatusStandby,
	}, nil
}

// Run records until the end date or until ctx is cancelled. The file being
// written when the session ends is flushed and sealed in the manifest.
func (s *RecordingService) Run(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.cfg.Directory, 0755); err != nil {
		return s.fail(fmt.Errorf("failed to create output directory %s: %w", s.cfg.Directory, err))
	}

	if !s.cfg.Start.IsZero() {
		s.setState(StatusWaiting)
		s.logger.Info("Waiting for start date", "start", s.cfg.Start.Format(DateLayout))
		if !s.waitUntil(ctx, s.cfg.Start) {
			s.setState(StatusStandby)
			s.logger.Info("Session cancelled before the start date")
			return nil
		}
		// Audio buffered before the start date is not part of the recording
		s.rec.SeekToEnd()
	}

	if !s.cfg.End.IsZero() {
		s.logger.Info("Recording will end", "end", s.cfg.End.Format(DateLayout))
	}
	s.setState(StatusRecording)
	s.logger.Info("Recording started", "directory", s.cfg.Directory)

	var current *RecordingSession
	for {
		now := s.clock.Now()
		until, last := intervalEnd(now, s.cfg.End)

		next, err := s.begin(now, until)
		if err != nil {
			if current != nil {
				s.finish(current, now)
			}
			return s.fail(err)
		}
		if current == nil {
			s.rec.SetWriteEnabled(true)
		} else {
			s.seal(current, now)
		}
		current = next

		s.logger.Debug("Starting new interval", "file", current.File, "until", until.Format(DateLayout))
		if !s.waitUntil(ctx, until) {
			s.finish(current, s.clock.Now())
			s.setState(StatusFinished)
			s.logger.Info("Recording stopped")
			return nil
		}
		if last {
			s.finish(current, until)
			s.setState(StatusFinished)
			s.logger.Info("Recording finished at the end date")
			return nil
		}
	}
}

// begin points the recorder at the file for the interval starting at now.
func (s *RecordingService) begin(now, until time.Time) (*RecordingSession, error) {
	path, err := availablePath(s.fs, s.cfg.Directory, now, s.cfg.Extension, s.cfg.Overwrite)
	if err != nil {
		return nil, err
	}
	if err := s.rec.Prepare(path, s.cfg.Overwrite); err != nil {
		return nil, fmt.Errorf("cannot record to %s: %w", path, err)
	}
	s.rec.SetFilePath(path)

	session := &RecordingSession{File: path, StartTime: now, IntervalEnd: until}
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	return session, nil
}

// finish flushes the recording, stops writing and seals the last file.
func (s *RecordingService) finish(current *RecordingSession, end time.Time) {
	s.rec.WriteAll()
	s.rec.SetWriteEnabled(false)
	s.seal(current, end)

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

func (s *RecordingService) seal(session *RecordingSession, end time.Time) {
	entry, err := seal(s.fs, s.cfg.Directory, s.cfg.Station, session.File, session.StartTime, end)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("No audio was written for interval", "file", session.File)
			return
		}
		s.setLastError(fmt.Sprintf("Failed to seal %s: %v", filepath.Base(session.File), err))
		s.logger.Error("Failed to seal recording", "file", session.File, "error", err)
		return
	}

	s.mu.Lock()
	s.finished++
	s.mu.Unlock()
	s.logger.Info("Recording sealed", "file", entry.File, "size", formatBytes(entry.Size), "blake3", entry.BLAKE3)
}

// waitUntil blocks until t. It returns false when ctx ends first.
func (s *RecordingService) waitUntil(ctx context.Context, t time.Time) bool {
	for {
		d := t.Sub(s.clock.Now())
		if d <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(d):
		}
	}
}

// GetStatus returns the current session state
func (s *RecordingService) GetStatus() Status {
	s.mu.RLock()
	status := Status{
		State:     s.state,
		Station:   s.cfg.Station,
		Finished:  s.finished,
		LastError: s.lastError,
	}
	if s.session != nil {
		session := *s.session
		status.Session = &session
	}
	s.mu.RUnlock()

	if !s.cfg.Start.IsZero() {
		start := s.cfg.Start
		status.Start = &start
	}
	if !s.cfg.End.IsZero() {
		end := s.cfg.End
		status.End = &end
	}
	status.Aggregator = s.rec.Stats()
	if s.pool != nil {
		poolStats := s.pool.Stats()
		status.Pool = &poolStats
	}
	return status
}

// Directory returns the output directory.
func (s *RecordingService) Directory() string {
	return s.cfg.Directory
}

// FS returns the filesystem recordings are written to.
func (s *RecordingService) FS() afero.Fs {
	return s.fs
}

func (s *RecordingService) setState(state RecordingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *RecordingService) fail(err error) error {
	s.mu.Lock()
	s.state = StatusError
	s.lastError = err.Error()
	s.mu.Unlock()
	s.logger.Error("Recording session failed", "error", err)
	return err
}

// GetLastError returns the last error message (thread-safe)
func (s *RecordingService) GetLastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *RecordingService) setLastError(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
}
