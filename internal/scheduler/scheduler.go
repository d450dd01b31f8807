// Package scheduler runs named time-based jobs for apps: fixed intervals,
// one-shot delays, and daily/hourly/cron-style wall-clock schedules. All
// timing goes through a clockwork.Clock so tests drive it with a fake clock.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"homeapps/internal/metrics"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Scheduler owns all scheduled jobs.
type Scheduler struct {
	clock    clockwork.Clock
	logger   *zap.Logger
	timezone *time.Location

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
	wg      sync.WaitGroup
}

type job struct {
	name string
	stop chan struct{}
}

// NewScheduler creates a scheduler. Wall-clock schedules are evaluated in
// the given timezone.
func NewScheduler(clock clockwork.Clock, timezone *time.Location, logger *zap.Logger) *Scheduler {
	if timezone == nil {
		timezone = time.Local
	}
	return &Scheduler{
		clock:    clock,
		logger:   logger.Named("scheduler"),
		timezone: timezone,
		jobs:     make(map[string]*job),
	}
}

// RunEvery runs fn every interval, starting one interval from now.
func (s *Scheduler) RunEvery(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.add(name, fn, false, func(now time.Time) time.Duration {
		return interval
	})
}

// RunIn runs fn once after delay, then removes the job.
func (s *Scheduler) RunIn(name string, delay time.Duration, fn func()) error {
	if delay < 0 {
		return fmt.Errorf("job %s: delay cannot be negative", name)
	}
	return s.add(name, fn, true, func(now time.Time) time.Duration {
		return delay
	})
}

// RunHourly runs fn at the top of every hour.
func (s *Scheduler) RunHourly(name string, fn func()) error {
	return s.add(name, fn, false, func(now time.Time) time.Duration {
		// Build the next top of the hour from wall-clock components;
		// Truncate works on absolute time and lands off the hour in
		// half-hour-offset timezones.
		local := now.In(s.timezone)
		next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour()+1, 0, 0, 0, s.timezone)
		return next.Sub(local)
	})
}

// RunDaily runs fn every day at hour:minute.
func (s *Scheduler) RunDaily(name string, hour, minute int, fn func()) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("job %s: invalid time %02d:%02d", name, hour, minute)
	}
	return s.add(name, fn, false, func(now time.Time) time.Duration {
		return untilNextDaily(now.In(s.timezone), hour, minute)
	})
}

// RunCron runs fn at hour:minute on the weekdays the spec allows.
func (s *Scheduler) RunCron(name string, spec CronSpec, fn func()) error {
	days, err := spec.weekdays()
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	if spec.Hour < 0 || spec.Hour > 23 || spec.Minute < 0 || spec.Minute > 59 {
		return fmt.Errorf("job %s: invalid time %02d:%02d", name, spec.Hour, spec.Minute)
	}
	return s.add(name, fn, false, func(now time.Time) time.Duration {
		return untilNextCron(now.In(s.timezone), spec.Hour, spec.Minute, days)
	})
}

// add registers a job and starts its run loop. nextDelay is re-evaluated
// after every run.
func (s *Scheduler) add(name string, fn func(), oneShot bool, nextDelay func(now time.Time) time.Duration) error {
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("job %s: fn cannot be nil", name)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s already scheduled", name)
	}
	j := &job{name: name, stop: make(chan struct{})}
	s.jobs[name] = j
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug("Job scheduled", zap.String("job", name), zap.Bool("one_shot", oneShot))

	go s.runLoop(j, fn, oneShot, nextDelay)
	return nil
}

func (s *Scheduler) runLoop(j *job, fn func(), oneShot bool, nextDelay func(now time.Time) time.Duration) {
	defer s.wg.Done()

	for {
		timer := s.clock.NewTimer(nextDelay(s.clock.Now()))

		select {
		case <-j.stop:
			timer.Stop()
			return
		case <-timer.Chan():
		}

		metrics.SchedulerRuns.WithLabelValues(j.name).Inc()
		s.runJob(j.name, fn)

		if oneShot {
			s.remove(j.name)
			return
		}
	}
}

// runJob invokes fn, recovering panics so one bad job cannot take down the
// scheduler.
func (s *Scheduler) runJob(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked",
				zap.String("job", name),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// Cancel stops and removes a job by name.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if ok {
		close(j.stop)
		s.logger.Debug("Job cancelled", zap.String("job", name))
	}
}

func (s *Scheduler) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the names of all scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Stop cancels all jobs and waits for run loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	for _, j := range jobs {
		close(j.stop)
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// untilNextDaily returns the duration from now until the next hour:minute
// wall-clock occurrence.
func untilNextDaily(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next.Sub(now)
}

// untilNextCron returns the duration from now until the next hour:minute
// occurrence on an allowed weekday.
func untilNextCron(now time.Time, hour, minute int, days map[time.Weekday]bool) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	for i := 0; i < 8; i++ {
		if next.After(now) && days[next.Weekday()] {
			return next.Sub(now)
		}
		next = time.Date(next.Year(), next.Month(), next.Day()+1, hour, minute, 0, 0, next.Location())
	}
	// Unreachable with a non-empty day set; fall back to 24h.
	return 24 * time.Hour
}
