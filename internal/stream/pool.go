package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// FailoverHandler is notified when the pool replaces a dead primary.
//
// HandleFailover is called with the pool lock held, before the pool's
// primary is reassigned, once per registered handler in registration order.
// old is the source being retired and is never nil; new is about to become
// the primary. Handlers must not call back into the pool.
type FailoverHandler interface {
	HandleFailover(old, new Source)
}

// FailoverFunc adapts a function to FailoverHandler.
type FailoverFunc func(old, new Source)

// HandleFailover implements FailoverHandler.
func (f FailoverFunc) HandleFailover(old, new Source) { f(old, new) }

// SourceFactory creates and starts a source.
type SourceFactory func(ctx context.Context) (Source, error)

// Pool defaults.
const (
	DefaultRedundancy   = 2
	DefaultPollInterval = 250 * time.Millisecond
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Redundancy is the number of standby sources kept beside the primary.
	Redundancy int
	// MaxRedundantAge retires standby sources older than this. Zero disables it.
	MaxRedundantAge time.Duration
	PollInterval    time.Duration
	Factory         SourceFactory
	Logger          *slog.Logger
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Primary     *SourceStats  `json:"primary,omitempty"`
	Redundant   []SourceStats `json:"redundant"`
	Failovers   int64         `json:"failovers"`
	Exhaustions int64         `json:"exhaustions"`
}

type handlerEntry struct {
	handler FailoverHandler
}

// Pool keeps one primary source and a set of redundant ones alive, and
// promotes a redundant source when the primary dies.
type Pool struct {
	cfg    PoolConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	primary   Source
	redundant []Source
	handlers  []*handlerEntry

	monitorStop   chan struct{}
	monitorDone   chan struct{}
	monitorCancel context.CancelFunc

	failovers   atomic.Int64
	exhaustions atomic.Int64
}

// NewPool validates cfg and returns a stopped pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: pool needs a source factory", ErrInvalidConfig)
	}
	if cfg.Redundancy < 1 {
		return nil, fmt.Errorf("%w: redundancy must be at least 1, got %d", ErrInvalidConfig, cfg.Redundancy)
	}
	if cfg.MaxRedundantAge < 0 {
		return nil, fmt.Errorf("%w: max redundant age must not be negative", ErrInvalidConfig)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pool{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "pool"),
		now:    time.Now,
	}, nil
}

// Start runs the maintenance loop until Stop is called or ctx is done. The
// first maintenance pass runs immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.monitorStop != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.monitorCancel = context.WithCancel(ctx)
	p.monitorStop = make(chan struct{})
	p.monitorDone = make(chan struct{})
	stop, done := p.monitorStop, p.monitorDone
	p.mu.Unlock()

	go func() {
		defer close(done)

		p.logger.Info("Stream pool started", "redundancy", p.cfg.Redundancy, "max_redundant_age", p.cfg.MaxRedundantAge)

		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		p.tick(ctx)
		for {
			select {
			case <-stop:
				p.logger.Info("Stream pool stopped")
				return
			case <-ctx.Done():
				p.logger.Info("Stream pool context done")
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop ends the maintenance loop and stops every source.
func (p *Pool) Stop() {
	p.mu.Lock()
	stop, done, cancel := p.monitorStop, p.monitorDone, p.monitorCancel
	p.monitorStop, p.monitorDone, p.monitorCancel = nil, nil, nil
	p.mu.Unlock()

	if stop != nil {
		cancel()
		close(stop)
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primary != nil {
		p.primary.Stop()
		p.primary = nil
	}
	for _, s := range p.redundant {
		s.Stop()
	}
	p.redundant = nil
}

// Primary returns the current primary, or nil before the first promotion.
func (p *Pool) Primary() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primary
}

// Redundant returns a copy of the standby sources.
func (p *Pool) Redundant() []Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Source(nil), p.redundant...)
}

// AddFailoverHandler registers h. The returned function unregisters it and
// must not be called from inside a handler.
func (p *Pool) AddFailoverHandler(h FailoverHandler) (remove func()) {
	entry := &handlerEntry{handler: h}

	p.mu.Lock()
	p.handlers = append(p.handlers, entry)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, e := range p.handlers {
				if e == entry {
					p.handlers = append(p.handlers[:i:i], p.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Stats returns a snapshot of the pool's members and counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	primary := p.primary
	redundant := append([]Source(nil), p.redundant...)
	p.mu.Unlock()

	stats := PoolStats{
		Redundant:   make([]SourceStats, 0, len(redundant)),
		Failovers:   p.failovers.Load(),
		Exhaustions: p.exhaustions.Load(),
	}
	if primary != nil {
		s := sourceStats(primary)
		stats.Primary = &s
	}
	for _, s := range redundant {
		stats.Redundant = append(stats.Redundant, sourceStats(s))
	}
	return stats
}

func sourceStats(s Source) SourceStats {
	if live, ok := s.(interface{ Stats() SourceStats }); ok {
		return live.Stats()
	}
	return SourceStats{
		ID:        s.ID(),
		StartedAt: s.StartedAt(),
		Alive:     s.Alive(),
		Buffered:  s.Buffer().Len(),
	}
}

func (p *Pool) tick(ctx context.Context) {
	p.prune()
	p.promote(ctx)
	p.refill(ctx)
}

// prune drops dead standby sources and retires the ones past their age.
func (p *Pool) prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.redundant[:0:0]
	for _, s := range p.redundant {
		if !s.Alive() {
			p.logger.Debug("Dropping dead redundant source", "source", s.ID())
			s.Stop()
			continue
		}
		kept = append(kept, s)
	}

	if p.cfg.MaxRedundantAge > 0 {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].StartedAt().Before(kept[j].StartedAt())
		})

		now := p.now()
		for len(kept) > 0 {
			oldest := kept[0]
			age := now.Sub(oldest.StartedAt())
			if age <= p.cfg.MaxRedundantAge {
				break
			}
			if p.cfg.Redundancy >= 2 && len(kept) < 2 {
				break
			}
			p.logger.Info("Refreshing aged redundant source", "source", oldest.ID(), "age", age.Round(time.Second))
			oldest.Stop()
			kept = kept[1:]
		}
	}

	p.redundant = kept
}

// promote replaces a missing or dead primary.
func (p *Pool) promote(ctx context.Context) {
	p.mu.Lock()
	if p.primary != nil && p.primary.Alive() {
		p.mu.Unlock()
		return
	}
	if next := p.takeBestRedundantLocked(); next != nil {
		p.assignLocked(next)
		p.mu.Unlock()
		return
	}
	first := p.primary == nil
	p.mu.Unlock()

	if !first {
		p.exhaustions.Add(1)
		p.logger.Warn("Stream pool exhausted, starting a new primary")
	}

	src, err := p.cfg.Factory(ctx)
	if err != nil {
		p.logger.Error("Failed to start primary source, retrying next tick", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primary != nil && p.primary.Alive() {
		p.redundant = append(p.redundant, src)
		return
	}
	p.assignLocked(src)
}

// takeBestRedundantLocked removes and returns the living standby source with
// the most buffered data.
func (p *Pool) takeBestRedundantLocked() Source {
	best := -1
	bestLen := -1
	for i, s := range p.redundant {
		if !s.Alive() {
			continue
		}
		if n := s.Buffer().Len(); n > bestLen {
			best, bestLen = i, n
		}
	}
	if best < 0 {
		return nil
	}

	next := p.redundant[best]
	p.redundant = append(p.redundant[:best:best], p.redundant[best+1:]...)
	return next
}

func (p *Pool) assignLocked(next Source) {
	old := p.primary
	if old != nil {
		p.logger.Warn("Primary source lost, failing over", "old", old.ID(), "new", next.ID())
		for _, e := range p.handlers {
			e.handler.HandleFailover(old, next)
		}
		old.Stop()
		p.failovers.Add(1)
	} else {
		p.logger.Info("Primary source assigned", "source", next.ID())
	}
	p.primary = next
}

// refill starts sources until the standby set is back at full redundancy.
func (p *Pool) refill(ctx context.Context) {
	p.mu.Lock()
	missing := p.cfg.Redundancy - len(p.redundant)
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		if ctx.Err() != nil {
			return
		}
		src, err := p.cfg.Factory(ctx)
		if err != nil {
			p.logger.Warn("Failed to start redundant source, retrying next tick", "error", err)
			return
		}

		p.mu.Lock()
		p.redundant = append(p.redundant, src)
		p.mu.Unlock()
		p.logger.Debug("Redundant source added", "source", src.ID())
	}
}
