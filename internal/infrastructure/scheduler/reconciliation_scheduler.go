package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/reconciliation/internal/infrastructure/telemetry"
)

// RunExecutor fills a run with the outcome of each pending delivery
type RunExecutor interface {
	Execute(ctx context.Context, run *ReconciliationRun) error
}

// ExpiredCleaner removes stale verification entries. uuid.Nil means every store.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context, storeID uuid.UUID) (int64, error)
}

// ReconciliationSchedulerConfig holds configuration for the reconciliation scheduler
type ReconciliationSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool
	// Interval is the time between two scheduled runs
	Interval time.Duration
	// RunTimeout bounds a single run
	RunTimeout time.Duration
	// HistorySize is how many finished runs are kept in memory
	HistorySize int
	// CleanupInterval is the time between cache cleanups. Zero disables them.
	CleanupInterval time.Duration
	// CleanupTimeout bounds a single cleanup
	CleanupTimeout time.Duration
}

// DefaultReconciliationSchedulerConfig returns default configuration
func DefaultReconciliationSchedulerConfig() ReconciliationSchedulerConfig {
	return ReconciliationSchedulerConfig{
		Enabled:         true,
		Interval:        20 * time.Minute,
		RunTimeout:      15 * time.Minute,
		HistorySize:     100,
		CleanupInterval: time.Hour,
		CleanupTimeout:  5 * time.Minute,
	}
}

// Validate validates the configuration
func (c *ReconciliationSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("%w: run timeout must be positive", ErrInvalidConfig)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("%w: history size must be positive", ErrInvalidConfig)
	}
	if c.CleanupInterval < 0 || (c.CleanupInterval > 0 && c.CleanupTimeout <= 0) {
		return fmt.Errorf("%w: invalid cleanup schedule", ErrInvalidConfig)
	}
	return nil
}

// ReconciliationScheduler runs reconciliation on a fixed interval and
// periodically cleans the verification cache. At most one run is active at
// any time, whether scheduled or triggered.
type ReconciliationScheduler struct {
	config   ReconciliationSchedulerConfig
	executor RunExecutor
	cleaner  ExpiredCleaner
	metrics  *telemetry.ReconciliationMetrics
	logger   *zap.Logger
	now      func() time.Time

	cancel    context.CancelFunc
	runCtx    context.Context
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// runMu is held for the whole duration of a run
	runMu   sync.Mutex
	current *ReconciliationRun

	historyMu sync.RWMutex
	history   []*ReconciliationRun
}

// SchedulerOption configures a ReconciliationScheduler
type SchedulerOption func(*ReconciliationScheduler)

// WithCleaner enables the periodic cache cleanup
func WithCleaner(c ExpiredCleaner) SchedulerOption {
	return func(s *ReconciliationScheduler) {
		s.cleaner = c
	}
}

// WithSchedulerMetrics records run outcomes
func WithSchedulerMetrics(m *telemetry.ReconciliationMetrics) SchedulerOption {
	return func(s *ReconciliationScheduler) {
		s.metrics = m
	}
}

// WithSchedulerClock replaces time.Now
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *ReconciliationScheduler) {
		s.now = now
	}
}

// NewReconciliationScheduler creates a new reconciliation scheduler
func NewReconciliationScheduler(
	config ReconciliationSchedulerConfig,
	executor RunExecutor,
	logger *zap.Logger,
	opts ...SchedulerOption,
) (*ReconciliationScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &ReconciliationScheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		now:      time.Now,
		history:  make([]*ReconciliationRun, 0, config.HistorySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start starts the run and cleanup loops. The first run happens one
// interval after start.
func (s *ReconciliationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Reconciliation scheduler is disabled")
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runCtx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx)

	if s.cleaner != nil && s.config.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop(ctx)
	}

	s.logger.Info("Reconciliation scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval),
		zap.Bool("cleanup_enabled", s.cleaner != nil && s.config.CleanupInterval > 0),
	)
	return nil
}

// Stop cancels the active run and waits for the loops to exit
func (s *ReconciliationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Reconciliation scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Reconciliation scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *ReconciliationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *ReconciliationScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Reconciliation loop stopping")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, RunTriggerSchedule); err != nil {
				s.logger.Warn("Scheduled reconciliation run skipped", zap.Error(err))
			}
		}
	}
}

func (s *ReconciliationScheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Cache cleanup loop stopping")
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// RunOnce performs a run synchronously and returns its summary. It fails
// with ErrRunAlreadyInProgress instead of waiting for an active run.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context, trigger RunTrigger) (*ReconciliationRun, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunAlreadyInProgress
	}
	defer s.runMu.Unlock()

	run := NewReconciliationRun(trigger, s.now())
	s.setCurrent(run)

	s.execute(ctx, run)
	s.finish(run)
	return run.clone(), nil
}

// TriggerNow starts a run in the background and returns its ID. The run is
// tied to the scheduler's lifetime, not to ctx.
func (s *ReconciliationScheduler) TriggerNow(ctx context.Context) (uuid.UUID, error) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return uuid.Nil, ErrSchedulerNotRunning
	}
	if !s.runMu.TryLock() {
		s.mu.Unlock()
		return uuid.Nil, ErrRunAlreadyInProgress
	}
	runCtx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	run := NewReconciliationRun(RunTriggerManual, s.now())
	s.setCurrent(run)

	s.logger.Info("Triggering immediate reconciliation run", zap.String("run_id", run.ID.String()))

	go func() {
		defer s.wg.Done()
		defer s.runMu.Unlock()

		s.execute(runCtx, run)
		s.finish(run)
	}()
	return run.ID, nil
}

// execute runs the executor, recovering panics so the loop survives
func (s *ReconciliationScheduler) execute(ctx context.Context, run *ReconciliationRun) {
	log := s.logger.With(zap.String("run_id", run.ID.String()), zap.String("trigger", string(run.Trigger)))
	log.Info("Starting reconciliation run")

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Reconciliation run panicked", zap.Any("panic", r), zap.Stack("stack"))
			run.Fail(fmt.Errorf("panic: %v", r), s.now())
		}
		s.metrics.RecordRun(ctx, string(run.Status))
		log.Info("Reconciliation run finished",
			zap.String("status", string(run.Status)),
			zap.Duration("duration", run.Duration()),
			zap.Int("total", run.Total),
			zap.Int("reconciled", run.Reconciled),
			zap.Int("not_found", run.NotFound),
			zap.Int("failed", run.Failed),
			zap.Int("skipped", run.Skipped),
		)
	}()

	if err := s.executor.Execute(runCtx, run); err != nil {
		log.Error("Reconciliation run failed", zap.Error(err))
		run.Fail(err, s.now())
		return
	}
	if runCtx.Err() != nil {
		run.Cancel(s.now())
		return
	}
	run.Complete(s.now())
}

func (s *ReconciliationScheduler) executeCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, s.config.CleanupTimeout)
	defer cancel()

	startTime := time.Now()
	deleted, err := s.cleaner.CleanupExpired(cleanupCtx, uuid.Nil)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Verification cache cleanup failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Verification cache cleanup completed",
		zap.Duration("duration", duration),
		zap.Int64("deleted_count", deleted),
	)
}

func (s *ReconciliationScheduler) setCurrent(run *ReconciliationRun) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.current = run
}

// finish moves run from current to the history
func (s *ReconciliationScheduler) finish(run *ReconciliationRun) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.current = nil
	s.history = append(s.history, run.clone())
	if over := len(s.history) - s.config.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// History returns up to limit finished runs, newest first. limit <= 0
// returns the whole history.
func (s *ReconciliationScheduler) History(limit int) []*ReconciliationRun {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*ReconciliationRun, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i].clone())
	}
	return out
}

// FindRun returns a finished run by ID
func (s *ReconciliationScheduler) FindRun(id uuid.UUID) (*ReconciliationRun, bool) {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i].clone(), true
		}
	}
	return nil, false
}

// InProgress reports whether a run is active
func (s *ReconciliationScheduler) InProgress() bool {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	return s.current != nil
}
