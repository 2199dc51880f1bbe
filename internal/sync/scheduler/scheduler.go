// Package scheduler runs offline queue flushes in the background: on a
// fixed interval, when the platform reports connectivity came back, and on
// demand (e.g. app resume), with on-demand triggers rate limited.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/sync/connectivity"
	"github.com/kimhsiao/wishwell/backend/internal/sync/queue"
)

// Flusher is the queue operation the scheduler drives.
type Flusher interface {
	Flush(ctx context.Context) (queue.FlushResult, error)
}

// Scheduler manages background queue flushes.
type Scheduler struct {
	flusher       Flusher
	reported      *connectivity.Reported
	flushInterval time.Duration
	limiter       *rate.Limiter
	logger        *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu              sync.RWMutex
	runCtx          context.Context
	isRunning       bool
	isOnline        bool
	inFlight        int // flushes running, background and FlushNow
	lastFlushTime   time.Time
	lastResult      *queue.FlushResult
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	FlushInterval time.Duration // periodic flush interval (default: 1 minute)
	TriggerRate   float64       // on-demand triggers allowed per second (default: 0.2)
	TriggerBurst  int           // on-demand trigger burst (default: 1)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		FlushInterval: time.Minute,
		TriggerRate:   0.2,
		TriggerBurst:  1,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithReported makes SetOnlineStatus feed the given signal, which the
// queue's connectivity probe consults.
func WithReported(r *connectivity.Reported) Option {
	return func(s *Scheduler) { s.reported = r }
}

// NewScheduler creates a Scheduler for flusher.
func NewScheduler(flusher Flusher, config *SchedulerConfig, opts ...Option) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	interval := config.FlushInterval
	if interval <= 0 {
		interval = def.FlushInterval
	}
	limit := config.TriggerRate
	if limit <= 0 {
		limit = def.TriggerRate
	}
	burst := config.TriggerBurst
	if burst <= 0 {
		burst = def.TriggerBurst
	}

	s := &Scheduler{
		flusher:       flusher,
		flushInterval: interval,
		limiter:       rate.NewLimiter(rate.Limit(limit), burst),
		isOnline:      true, // Assume online initially
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Get()
	}
	s.logger = s.logger.With(map[string]interface{}{"component": "flush_scheduler"})
	return s
}

// Start starts the periodic flush loop. ctx bounds every flush the
// scheduler starts.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.runCtx = ctx
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.wg.Add(1)
	s.mu.Unlock()

	go s.periodicFlushLoop(ctx, stopCh)

	s.logger.Info("Flush scheduler started", map[string]interface{}{
		"interval_seconds": s.flushInterval.Seconds(),
	})
}

// Stop stops the scheduler and waits for a running flush to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	s.logger.Info("Flush scheduler stopped")
}

// SetOnlineStatus records the platform's connectivity signal. Going from
// offline to online triggers a flush.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	if s.reported != nil {
		s.reported.SetOnline(isOnline)
	}

	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	ctx := s.runCtx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	s.logger.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline && ctx != nil {
		s.start(ctx, "reconnect")
	}
}

func (s *Scheduler) periodicFlushLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.start(ctx, "interval")
		}
	}
}

// TriggerFlush starts a flush in the background for an app event such as
// resume. It returns false when the scheduler is stopped or offline, a
// flush is already running, or triggers are coming in too fast.
func (s *Scheduler) TriggerFlush(ctx context.Context) bool {
	if !s.IsOnline() {
		return false
	}
	if !s.limiter.Allow() {
		s.logger.Debug("Flush trigger rate limited")
		return false
	}
	return s.start(ctx, "trigger")
}

// start launches one background flush unless one is running.
func (s *Scheduler) start(ctx context.Context, reason string) bool {
	s.mu.Lock()
	if !s.isRunning || s.inFlight > 0 {
		s.mu.Unlock()
		return false
	}
	s.inFlight++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runFlush(ctx, reason)
	}()
	return true
}

// runFlush runs one flush; the caller has counted it in inFlight.
func (s *Scheduler) runFlush(ctx context.Context, reason string) {
	defer s.done()

	result, err := s.flusher.Flush(ctx)
	if err != nil {
		s.logger.ErrorWithCode("Scheduled flush failed", string(apperrors.Code(err)), err,
			map[string]interface{}{"reason": reason})
		return
	}
	s.record(result)

	s.logger.Debug("Scheduled flush completed", map[string]interface{}{
		"reason":    reason,
		"online":    result.Online,
		"posted":    result.Posted,
		"remaining": result.Remaining,
	})
}

func (s *Scheduler) done() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *Scheduler) record(result queue.FlushResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlushTime = time.Now()
	s.lastResult = &result
}

// FlushNow flushes synchronously, bypassing the trigger rate limit. It
// works whether or not the scheduler is running.
func (s *Scheduler) FlushNow(ctx context.Context) (queue.FlushResult, error) {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	defer s.done()

	result, err := s.flusher.Flush(ctx)
	if err != nil {
		return result, err
	}
	s.record(result)
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning       bool               `json:"isRunning"`
	IsOnline        bool               `json:"isOnline"`
	FlushInProgress bool               `json:"flushInProgress"`
	LastFlushTime   *time.Time         `json:"lastFlushTime,omitempty"`
	LastResult      *queue.FlushResult `json:"lastResult,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        s.isOnline,
		FlushInProgress: s.inFlight > 0,
	}
	if !s.lastFlushTime.IsZero() {
		t := s.lastFlushTime
		status.LastFlushTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	return status
}

// IsOnline returns the last reported connectivity.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
