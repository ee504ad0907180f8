/*
scheduler.go - Automated late-fee scheduler

PURPOSE:
  Periodically sweeps open bills and locks in late fees for bills that
  became overdue, so reports and reminders show the amount actually owed
  even when no one opens the bill.

DESIGN:
  - Schedule is a cron spec (robfig/cron), default "@hourly"
  - Runs once at start, then on schedule
  - A sweep still running when the next one is due is skipped
  - Every run is recorded in late_fee_runs for audit and UI display
  - Applying a fee is idempotent per bill, so overlapping manual and
    scheduled sweeps cannot double-charge

USAGE:
  scheduler := NewLateFeeScheduler(handler, "@hourly", loc, logger)
  scheduler.Start()
  // ... later, before closing the store
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ApplyLateFees endpoint (manual sweep)
  - billing/cashier.go: Cashier.ApplyLateFees
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LateFeeScheduler runs the late-fee sweep on a cron schedule.
type LateFeeScheduler struct {
	Handler  *Handler
	Spec     string
	Location *time.Location
	Enabled  bool
	Logger   *zap.Logger

	cron    *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	sweepMu sync.Mutex
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewLateFeeScheduler creates an enabled scheduler.
func NewLateFeeScheduler(handler *Handler, spec string, loc *time.Location, logger *zap.Logger) *LateFeeScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LateFeeScheduler{
		Handler:  handler,
		Spec:     spec,
		Location: loc,
		Enabled:  true,
		Logger:   logger.Named("scheduler"),
	}
}

// Start schedules the sweep and runs it once in the background.
func (s *LateFeeScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("late-fee scheduler disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	logger := cronLogger{s.Logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	entry, err := c.AddFunc(s.Spec, s.RunNow)
	if err != nil {
		s.cancel()
		return err
	}
	s.cron, s.entry = c, entry
	c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunNow()
	}()

	s.Logger.Info("late-fee scheduler started",
		zap.String("spec", s.Spec),
		zap.Time("next_run", c.Entry(entry).Next),
	)
	return nil
}

// Stop cancels a running sweep and waits for it to return.
func (s *LateFeeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cron = nil
	s.Logger.Info("late-fee scheduler stopped")
}

// RunNow sweeps as of today. It returns immediately if a sweep is already
// running.
func (s *LateFeeScheduler) RunNow() {
	if !s.sweepMu.TryLock() {
		s.Logger.Info("late-fee sweep already running, skipping")
		return
	}
	defer s.sweepMu.Unlock()

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.Handler.runLateFees(ctx, s.Handler.Cashier.Today()); err != nil {
		s.Logger.Error("late-fee sweep failed", zap.Error(err))
	}
}

// NextRun returns when the sweep runs next, or the zero time when stopped.
func (s *LateFeeScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
