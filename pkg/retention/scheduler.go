package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start when the scheduler is active.
var ErrAlreadyRunning = errors.New("retention scheduler is already running")

// Runner is anything that can perform a prune pass.
type Runner interface {
	Prune(ctx context.Context) (int64, error)
}

// ScheduleConfig places the daily run.
type ScheduleConfig struct {
	// Hour and Minute of the daily run in Location. Default: 03:00
	Hour   int
	Minute int

	// Location for the wall-clock time. Default: time.Local
	Location *time.Location

	// RunOnStart triggers one pass as soon as the scheduler starts.
	RunOnStart bool
}

// RunStatus describes the most recent scheduled pass.
type RunStatus struct {
	At      time.Time
	Deleted int64
	Err     error
}

// Scheduler runs a Runner once a day.
type Scheduler struct {
	runner Runner
	cfg    ScheduleConfig
	clock  func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    RunStatus
	runs    int
}

// NewScheduler creates a scheduler for runner.
func NewScheduler(runner Runner, cfg ScheduleConfig, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Hour < 0 || cfg.Hour > 23 {
		cfg.Hour = 3
	}
	if cfg.Minute < 0 || cfg.Minute > 59 {
		cfg.Minute = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := applyOptions(opts)
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		clock:  o.clock,
		logger: logger.With(zap.String("component", "retention-scheduler")),
	}
}

// NextRun returns the first scheduled time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	}
	return next
}

// Start launches the schedule loop in the background. It returns
// ErrAlreadyRunning if the scheduler is active.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		s.loop(ctx)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Run blocks running the schedule until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	<-done
	return ctx.Err()
}

// Stop ends the loop, cancels an in-flight pass and waits for it to return.
// Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
}

// Last returns the status of the most recent pass and the number of passes
// run so far.
func (s *Scheduler) Last() (RunStatus, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info("retention scheduler started",
		zap.Int("hour", s.cfg.Hour),
		zap.Int("minute", s.cfg.Minute),
		zap.String("location", s.cfg.Location.String()))

	if s.cfg.RunOnStart {
		s.runOnce(ctx)
	}

	for {
		now := s.clock()
		next := s.NextRun(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("retention scheduler stopping")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	at := s.clock()
	n, err := s.runner.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled prune failed, will retry at next run", zap.Error(err))
	}

	s.mu.Lock()
	s.last = RunStatus{At: at, Deleted: n, Err: err}
	s.runs++
	s.mu.Unlock()
}
