package scheduler

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// EventFired and EventFailed are published on the bus for every processed
// reminder. Data is a small map (owner, id, kind, ...).
const (
	EventFired  = "reminder.fired"
	EventFailed = "reminder.failed"
)

type Config struct {
	// Tick is the due-scan interval. Fire precision is bounded by it.
	Tick time.Duration

	Workers   int
	QueueSize int

	// ProcessTimeout bounds one reminder's processing (lookups + delivery).
	ProcessTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 15 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 45 * time.Second
	}
	return c
}

// Service drives the firing loop: a ticker scans for due reminders, claims
// each into an in-flight set and hands it to a worker. The claim keeps two
// workers from processing the same (owner, id) at once; everything else runs
// concurrently.
type Service struct {
	cfg   Config
	cache *reminder.Cache
	proc  *reminder.Processor
	bus   eventbus.Bus
	log   logx.Logger

	notify chan struct{}
	queue  chan *reminder.Reminder

	claimMu  sync.Mutex
	inflight map[string]struct{}

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, cache *reminder.Cache, proc *reminder.Processor, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		cache:    cache,
		proc:     proc,
		bus:      bus,
		log:      log,
		notify:   make(chan struct{}, 1),
		queue:    make(chan *reminder.Reminder, cfg.QueueSize),
		inflight: map[string]struct{}{},
	}
}

// Notify nudges the scan loop to run before the next tick. Non-blocking;
// called after a reminder is created or edited so near-term fires don't wait
// a full tick.
func (s *Service) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		rtsup.WithCancelOnError(false),
	)

	s.sup.GoRestart0("scheduler.scan", s.scanLoop,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.Go0("scheduler.worker", s.workerLoop)
	}

	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.Tick),
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", s.cfg.QueueSize),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup := s.sup
	s.sup = nil
	wasRunning := s.running
	s.running = false
	s.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("scheduler stop timed out", logx.Err(err))
	}
	return nil
}

func (s *Service) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	// Run one scan immediately so a restart doesn't wait a tick to catch up
	// on overdue reminders.
	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		case <-s.notify:
			s.scan(ctx)
		}
	}
}

func (s *Service) scan(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.cache.Due(ctx, now)
	if err != nil {
		s.log.Warn("due scan failed", logx.Err(err))
		return
	}
	for _, r := range due {
		if !s.claim(r.Key()) {
			continue // already being processed
		}
		select {
		case s.queue <- r:
		case <-ctx.Done():
			s.release(r.Key())
			return
		default:
			// Queue full; release and let the next tick pick it up.
			s.release(r.Key())
			s.log.Warn("scheduler queue full; deferring",
				logx.Int64("owner", r.OwnerID), logx.Int("id", r.ID))
			return
		}
	}
}

func (s *Service) claim(key string) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) release(key string) {
	s.claimMu.Lock()
	delete(s.inflight, key)
	s.claimMu.Unlock()
}
