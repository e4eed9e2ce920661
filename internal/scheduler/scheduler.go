// Package scheduler wires up the cron job that periodically triggers a scan
// of the whole portal catalog.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/model"
)

// Runner executes one scan.
type Runner interface {
	RunScan(ctx context.Context, portals []model.PortalDescriptor) (*model.ScanRun, error)
}

// Scheduler wraps robfig/cron and makes sure at most one scan runs at a
// time, whether it was started by a tick or by hand.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	portals []model.PortalDescriptor
	spec    string // cron spec, e.g. "@every 6h"
	logger  *zap.Logger

	ctx     context.Context
	running atomic.Bool
	wg      sync.WaitGroup

	mu   sync.RWMutex
	last *model.ScanRun
}

// New creates a Scheduler firing on spec.
func New(runner Runner, portals []model.PortalDescriptor, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
		runner:  runner,
		portals: portals,
		spec:    spec,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Start registers the job and starts the scheduler. It also runs one scan
// immediately so results exist without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc(s.spec, func() { s.Trigger() }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("cron started", zap.String("spec", s.spec), zap.Int("portals", len(s.portals)))

	s.Trigger()
	return nil
}

// Trigger starts a scan in the background. It returns false, and does
// nothing, when a scan is already in flight.
func (s *Scheduler) Trigger() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("scan still in flight, skipping trigger")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runScan(s.ctx)
	}()
	return true
}

// Running reports whether a scan is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Last returns the most recent finished run, or nil.
func (s *Scheduler) Last() *model.ScanRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Stop halts the cron and waits for an in-flight scan or ctx, whichever
// comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("cron stopped")
	case <-ctx.Done():
		s.logger.Warn("cron stopped with a scan still running", zap.Error(ctx.Err()))
	}
}

func (s *Scheduler) runScan(ctx context.Context) {
	s.logger.Info("scan cycle started")

	run, err := s.runner.RunScan(ctx, s.portals)
	if run != nil {
		s.mu.Lock()
		s.last = run
		s.mu.Unlock()
	}
	if err != nil {
		s.logger.Error("scan cycle failed", zap.Error(err))
		return
	}

	s.logger.Info("scan cycle complete",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("records", len(run.Records)))
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
