// Package scheduler triggers reconciliation passes on per-collection
// intervals. Each schedule skips a tick when its previous run is still
// in flight, so a slow upstream never stacks passes for one collection.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"nftwatch/internal/eventbus"
	logx "nftwatch/pkg/logx"
)

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	every   time.Duration
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running atomic.Bool
	spread  time.Duration
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	bus  eventbus.Bus
	c    *cron.Cron
	defs []*scheduleDef

	// runCtx is the lifetime handed to jobs; set by Start.
	runCtx context.Context
}

type ScheduleInfo struct {
	Name  string
	Every time.Duration
	Next  time.Time
	Prev  time.Time
}

func New(log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, bus: bus}
}

// Add registers an interval schedule. The first run gets a random startup
// spread so many collections with the same interval don't all fire at once.
// Must be called before Start.
func (s *Service) Add(name string, every, timeout time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return errors.New("scheduler: name required")
	}
	if every <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	if s.c != nil {
		return errors.New("scheduler: already started")
	}
	for _, d := range s.defs {
		if d.name == name {
			return errors.New("scheduler: duplicate schedule " + name)
		}
	}
	if timeout <= 0 {
		timeout = every
	}
	s.defs = append(s.defs, &scheduleDef{
		name:    name,
		every:   every,
		timeout: timeout,
		job:     job,
	})
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx = ctx
	s.c = cron.New()

	now := time.Now()
	for _, d := range s.defs {
		d := d
		sched, spread := intervalWithSpread(d.every, now, d.name)
		d.spread = spread
		d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.run(d) }))
		s.log.Debug("schedule registered",
			logx.String("name", d.name),
			logx.Duration("every", d.every),
			logx.Duration("spread", spread))
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for in-flight runs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) run(d *scheduleDef) {
	if !d.running.CompareAndSwap(false, true) {
		s.log.Debug("previous run still in flight, skipping tick",
			logx.String("name", d.name))
		return
	}
	defer d.running.Store(false)

	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	start := time.Now()
	if err := d.job(ctx); err != nil {
		s.log.Warn("scheduled run failed",
			logx.String("name", d.name),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Trace("scheduled run complete",
		logx.String("name", d.name),
		logx.Duration("took", time.Since(start)))
}

func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Every: d.every}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}
