// Package jobs runs checking passes in the background.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"linkcheck/internal/coordinator"
	"linkcheck/internal/logger"
)

// ErrPassRunning is returned when a pass is requested while another runs.
var ErrPassRunning = errors.New("a checking pass is already running")

// Runner executes one checking pass.
type Runner interface {
	Run(ctx context.Context, req coordinator.PassRequest) (*coordinator.Statistics, error)
}

// Status describes the most recent pass.
type Status struct {
	Running bool                    `json:"running"`
	Last    *coordinator.Statistics `json:"last,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// Scheduler starts checking passes on a cron schedule or on demand, never
// more than one at a time.
type Scheduler struct {
	runner   Runner
	schedule string
	log      logger.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
	last    *coordinator.Statistics
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler returns a scheduler for runner. schedule is a standard cron
// expression or descriptor ("@every 24h"); empty disables scheduled passes.
func NewScheduler(runner Runner, schedule string, log logger.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{log})))

	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid check schedule %q: %w", schedule, err)
		}
	}
	return s, nil
}

// Start begins firing scheduled passes.
func (s *Scheduler) Start() {
	if s.schedule == "" {
		s.log.Info("Check schedule disabled")
		return
	}
	s.cron.Start()
	s.log.Info("Check scheduler started", logger.String("schedule", s.schedule))
}

// Stop halts the schedule, cancels a running pass and waits for it to end.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("Check scheduler stopped")
}

func (s *Scheduler) runScheduled() {
	if _, err := s.RunNow(s.ctx, coordinator.PassRequest{}); err != nil {
		if errors.Is(err, ErrPassRunning) {
			s.log.Info("Scheduled pass skipped, previous pass still running")
			return
		}
		s.log.Error("Scheduled pass failed", logger.Error(err))
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release(stats *coordinator.Statistics, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastErr = err
	if stats != nil {
		s.last = stats
	}
}

// RunNow runs a pass and waits for it.
func (s *Scheduler) RunNow(ctx context.Context, req coordinator.PassRequest) (*coordinator.Statistics, error) {
	if !s.acquire() {
		return nil, ErrPassRunning
	}
	stats, err := s.runner.Run(ctx, req)
	s.release(stats, err)
	return stats, err
}

// Trigger starts a pass in the background and returns immediately.
func (s *Scheduler) Trigger(req coordinator.PassRequest) error {
	if !s.acquire() {
		return ErrPassRunning
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		stats, err := s.runner.Run(s.ctx, req)
		if err != nil {
			s.log.Error("Triggered pass failed", logger.Error(err))
		}
		s.release(stats, err)
	}()
	return nil
}

// Status reports whether a pass is running and how the last one went.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running, Last: s.last}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// cronLogger routes cron's own messages through our logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, logger.Error(err))
}
