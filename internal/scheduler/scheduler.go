// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner removes expired archives and reports how many it removed.
type Pruner interface {
	Prune(now time.Time) (int, error)
}

// Scheduler runs housekeeping jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:  time.Now,
	}
}

// ValidSchedule reports whether schedule parses.
func ValidSchedule(schedule string) error {
	_, err := cronParser.Parse(schedule)
	return err
}

// Add registers fn under name.
func (s *Scheduler) Add(name, schedule string, fn func()) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		slog.Debug("cron firing job", "name", name)
		fn()
	}); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	slog.Info("scheduled job", "name", name, "schedule", schedule)
	return nil
}

// AddRetention prunes archives with p on schedule.
func (s *Scheduler) AddRetention(schedule string, p Pruner) error {
	return s.Add("archive-retention", schedule, func() {
		n, err := p.Prune(s.now())
		if err != nil {
			slog.Warn("archive pruning incomplete", "removed", n, "error", err)
			return
		}
		if n > 0 {
			slog.Info("pruned archives", "removed", n)
		}
	})
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the ticker and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
