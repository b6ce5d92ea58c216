// Package scheduler runs cron triggers on robfig/cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrSchedule is returned when a trigger cannot be registered. Callers treat it as fatal.
var ErrSchedule = errors.New("failed to schedule trigger")

// Job is run on every fire time with the scheduler's context.
type Job func(ctx context.Context)

type Scheduler interface {
	// Schedule registers job under key. An existing registration for key is an error;
	// call Unschedule first.
	Schedule(key, expression string, job Job) error
	Unschedule(key string)
	// NextFireTime returns the next fire time after now, or false if key is not scheduled.
	NextFireTime(key string) (time.Time, bool)
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether expression is a schedule the scheduler accepts.
func Validate(expression string) error {
	_, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	return nil
}

type entry struct {
	id       cron.EntryID
	schedule cron.Schedule
}

type CronScheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time

	mutex   sync.RWMutex
	entries map[string]entry
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewCronScheduler(logger *slog.Logger, location *time.Location) *CronScheduler {
	logger = logger.With("module", "scheduler")
	adapter := cronLogger{logger}

	if location == nil {
		location = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CronScheduler{
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(location),
			cron.WithChain(
				cron.SkipIfStillRunning(adapter),
				cron.Recover(adapter),
			),
		),
		now:     func() time.Time { return time.Now().In(location) },
		entries: make(map[string]entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *CronScheduler) Schedule(key, expression string, job Job) error {
	schedule, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrSchedule, key, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[key]; exists {
		return fmt.Errorf("%w %s: already scheduled", ErrSchedule, key)
	}

	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mutex.RLock()
		ctx := s.ctx
		s.mutex.RUnlock()

		s.logger.DebugContext(ctx, "Firing scheduled job", "key", key)
		job(ctx)
	}))

	s.entries[key] = entry{id: id, schedule: schedule}

	s.logger.Info("Scheduled job", "key", key, "cron", expression, "entry_id", id)

	return nil
}

func (s *CronScheduler) Unschedule(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, exists := s.entries[key]
	if !exists {
		return
	}

	s.cron.Remove(e.id)
	delete(s.entries, key)

	s.logger.Info("Unscheduled job", "key", key)
}

func (s *CronScheduler) NextFireTime(key string) (time.Time, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, exists := s.entries[key]
	if !exists {
		return time.Time{}, false
	}

	return e.schedule.Next(s.now()), true
}

// Start begins firing jobs. Jobs receive a context derived from ctx.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	jobs := len(s.entries)
	s.mutex.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "jobs", jobs)
}

// Stop stops firing and waits for running jobs until ctx is done.
func (s *CronScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mutex.RLock()
	cancel := s.cancel
	s.mutex.RUnlock()

	if cancel != nil {
		defer cancel()
	}

	select {
	case <-done.Done():
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
