// Package reminder periodically reminds participants of sent meetings who
// have not answered yet.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"meetsync/internal/metrics"
	"meetsync/internal/model"
	"meetsync/internal/notifier"
	"meetsync/internal/storage"
	logx "meetsync/pkg/logx"
)

// ErrSweepRunning is returned when a sweep is requested while one is in progress.
var ErrSweepRunning = errors.New("reminder: sweep already running")

type Config struct {
	Enabled     bool
	Schedule    string
	Timezone    string
	Concurrency int
}

const (
	DefaultSchedule    = "@every 24h"
	DefaultConcurrency = 4
)

// Reminder sends reminders for one meeting. *lifecycle.Service implements it.
type Reminder interface {
	SendReminders(ctx context.Context, meetingID string) (notifier.Result, error)
}

type Deps struct {
	Meetings storage.MeetingRepository
	Reminder Reminder
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

// Report summarizes one sweep.
type Report struct {
	Meetings int           `json:"meetings"`
	Reminded int           `json:"reminded"`
	Failed   int           `json:"failed"`
	Errors   []string      `json:"errors,omitempty"`
	Took     time.Duration `json:"took"`
}

type Service struct {
	meetings storage.MeetingRepository
	rem      Reminder
	metrics  *metrics.Metrics
	log      logx.Logger

	running atomic.Bool

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	ctx  context.Context
	last Report
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Service{
		meetings: d.Meetings,
		rem:      d.Reminder,
		metrics:  d.Metrics,
		log:      d.Log.With(logx.Component("reminder")),
		cfg:      withDefaults(cfg),
	}
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return cfg
}

// Run starts the schedule and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	return nil
}

// Start registers the sweep with a new cron. Sweeps run with ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Info("reminder sweep disabled")
		return nil
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	sched, err := spec.CronSchedule()
	if err != nil {
		return err
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Sweep(s.ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
			s.log.Warn("scheduled sweep failed", logx.Err(err))
		}
	}))
	c.Start()
	s.c = c
	s.log.Info("reminder schedule started", logx.String("schedule", spec.String()), logx.String("tz", loc.String()))
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("reminder timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Stop stops triggering and waits for a running sweep or ctx.
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
		s.log.Info("reminder schedule stopped")
	case <-ctx.Done():
		s.log.Warn("reminder stop timed out", logx.Err(ctx.Err()))
	}
}

// Apply swaps the config and restarts the schedule if it changed.
func (s *Service) Apply(cfg Config) error {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil || old == cfg {
		return nil
	}
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	return s.startLocked()
}

func (s *Service) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sweep reminds pending participants of every sent meeting, a bounded
// number of meetings at a time. Per-meeting failures are collected in the
// report and never stop the sweep.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrSweepRunning
	}
	defer s.running.Store(false)

	start := time.Now()
	meetings, err := s.meetings.ListByStatus(ctx, model.StatusSent)
	if err != nil {
		return Report{}, fmt.Errorf("list sent meetings: %w", err)
	}
	s.metrics.ReminderSweep()

	s.mu.Lock()
	limit := s.cfg.Concurrency
	s.mu.Unlock()

	var (
		mu  sync.Mutex
		rep = Report{Meetings: len(meetings)}
		g   errgroup.Group
	)
	g.SetLimit(limit)
	for _, m := range meetings {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := s.rem.SendReminders(ctx, m.ID)
			mu.Lock()
			defer mu.Unlock()
			rep.Reminded += len(res.Succeeded)
			rep.Failed += len(res.Failed)
			if err != nil {
				var it *model.InvalidTransitionError
				if errors.As(err, &it) {
					// Confirmed or cancelled since the listing.
					return nil
				}
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", m.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.Took = time.Since(start)

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()
	s.log.Info("reminder sweep finished",
		logx.Int("meetings", rep.Meetings),
		logx.Int("reminded", rep.Reminded),
		logx.Int("failed", rep.Failed),
		logx.Int("errors", len(rep.Errors)),
		logx.Duration("took", rep.Took))
	return rep, ctx.Err()
}
