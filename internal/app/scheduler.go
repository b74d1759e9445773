package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/pulse/internal/common"
)

// Monitoring cadence. The poll entry fires every minute and yields to
// blackout windows; the refresh entry re-walks the full catalog.
const (
	refreshSchedule   = "@every 1h"
	pollSchedule      = "@every 1m"
	heartbeatSchedule = "@every 5m"

	stopTimeout = 30 * time.Second
)

// Scheduler drives the monitoring loop: hourly catalog refreshes,
// minute tick polls and a periodic heartbeat. Startup order is one
// catalog refresh to completion, one immediate poll, then the timers.
type Scheduler struct {
	app       *App
	cron      *cron.Cron
	logger    *common.Logger
	blackouts []common.MinuteRange

	mu         sync.Mutex
	running    bool
	registered bool

	polls         atomic.Int64
	refreshes     atomic.Int64
	alerts        atomic.Int64
	blackoutSkips atomic.Int64
	lastPollMs    atomic.Int64
	lastRefreshMs atomic.Int64
}

// SchedulerStats is a point-in-time snapshot of scheduler activity,
// exposed on the status surface.
type SchedulerStats struct {
	Running       bool  `json:"running"`
	Polls         int64 `json:"polls"`
	Refreshes     int64 `json:"refreshes"`
	Alerts        int64 `json:"alerts"`
	BlackoutSkips int64 `json:"blackout_skips"`
	LastPollAt    int64 `json:"last_poll_at,omitempty"`    // ms epoch
	LastRefreshAt int64 `json:"last_refresh_at,omitempty"` // ms epoch
}

// NewScheduler creates the scheduler for an initialized App. Timers do
// not run until Start is called.
func NewScheduler(a *App) *Scheduler {
	return &Scheduler{
		app:       a,
		cron:      cron.New(),
		logger:    a.Logger,
		blackouts: a.Config.Monitor.BlackoutRanges(),
	}
}

// Start registers the cron entries and launches the startup sequence in
// the background: a full catalog refresh, one poll, then the timers.
// ctx bounds the startup sequence; cancelling it leaves the timers
// unstarted.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	if !s.registered {
		if err := s.register(); err != nil {
			s.mu.Unlock()
			return err
		}
		s.registered = true
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		s.runRefresh(ctx)
		if ctx.Err() != nil {
			return
		}
		s.runPoll(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.running {
			// Stopped during the startup sequence.
			return
		}
		s.cron.Start()
		s.logger.Info().
			Str("refresh", refreshSchedule).
			Str("poll", pollSchedule).
			Str("heartbeat", heartbeatSchedule).
			Msg("Scheduler timers started")
	}()

	return nil
}

func (s *Scheduler) register() error {
	if _, err := s.cron.AddFunc(refreshSchedule, s.wrap("catalog_refresh", s.runRefresh)); err != nil {
		return fmt.Errorf("failed to add refresh job: %w", err)
	}
	if _, err := s.cron.AddFunc(pollSchedule, s.wrap("tick_poll", s.runPoll)); err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}
	if _, err := s.cron.AddFunc(heartbeatSchedule, s.wrap("heartbeat", s.heartbeat)); err != nil {
		return fmt.Errorf("failed to add heartbeat job: %w", err)
	}
	return nil
}

// Stop halts the timers and waits for any running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running jobs")
	}
	s.logger.Info().Msg("Scheduler stopped")
}

// Stats returns the activity counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SchedulerStats{
		Running:       running,
		Polls:         s.polls.Load(),
		Refreshes:     s.refreshes.Load(),
		Alerts:        s.alerts.Load(),
		BlackoutSkips: s.blackoutSkips.Load(),
		LastPollAt:    s.lastPollMs.Load(),
		LastRefreshAt: s.lastRefreshMs.Load(),
	}
}

// wrap adapts a job for cron registration with panic recovery, so one
// bad cycle cannot take the process down.
func (s *Scheduler) wrap(name string, fn func(context.Context)) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("job", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Msg("PANIC RECOVERED in scheduled job")
			}
		}()
		fn(context.Background())
	}
}

// runRefresh walks the venue catalog and reconciles stored descriptors.
func (s *Scheduler) runRefresh(ctx context.Context) {
	if _, err := s.app.Catalog.Refresh(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Catalog refresh failed")
		return
	}
	s.refreshes.Add(1)
	s.lastRefreshMs.Store(time.Now().UnixMilli())
}

// runPoll samples every tracked market unless the current minute falls
// inside a blackout window.
func (s *Scheduler) runPoll(ctx context.Context) {
	if window, ok := s.inBlackout(time.Now()); ok {
		s.blackoutSkips.Add(1)
		s.logger.Debug().
			Int("minute", time.Now().Minute()).
			Str("window", fmt.Sprintf("%02d-%02d", window.Start, window.End)).
			Msg("Tick poll suppressed by blackout window")
		return
	}

	stats, err := s.app.Collector.PollTicks(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Tick poll failed")
		return
	}
	if stats == nil {
		// Previous poll still running; the collector logged the skip.
		return
	}
	s.polls.Add(1)
	s.alerts.Add(int64(stats.Alerts))
	s.lastPollMs.Store(time.Now().UnixMilli())
}

// inBlackout reports whether t's minute of hour falls inside any
// configured blackout window.
func (s *Scheduler) inBlackout(t time.Time) (common.MinuteRange, bool) {
	m := t.Minute()
	for _, r := range s.blackouts {
		if r.Contains(m) {
			return r, true
		}
	}
	return common.MinuteRange{}, false
}

// heartbeat logs a liveness line with uptime and activity counters.
func (s *Scheduler) heartbeat(ctx context.Context) {
	streams, err := s.app.Storage.StreamStorage().CountStreams(ctx)
	if err != nil {
		streams = -1
	}
	s.logger.Info().
		Str("uptime", time.Since(s.app.StartupTime).Round(time.Second).String()).
		Int("streams", streams).
		Int64("polls", s.polls.Load()).
		Int64("refreshes", s.refreshes.Load()).
		Int64("alerts", s.alerts.Load()).
		Int64("blackout_skips", s.blackoutSkips.Load()).
		Msg("Heartbeat")
}
