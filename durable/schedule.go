package durable

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler computes the next run time for a WorkflowDefinition.Schedule
// string, which is either a 5-field cron expression or an "@every
// <duration>" interval. Unlike robfig/cron's own Cron type, Scheduler
// doesn't run a dispatch loop itself: Worker.RunScheduler polls it and
// enqueues a WorkItem when a definition comes due, keeping delivery on the same
// Queue as everything else.
type Scheduler struct {
	parser cron.Parser
}

// NewScheduler builds a Scheduler using the standard 5-field cron format
// (minute hour day-of-month month day-of-week).
func NewScheduler() *Scheduler {
	return &Scheduler{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Next returns the next time expr fires after from. expr may be a cron
// expression or "@every <duration>" (e.g. "@every 90s").
func (s *Scheduler) Next(expr string, from time.Time) (time.Time, error) {
	if interval, ok, err := parseEvery(expr); err != nil {
		return time.Time{}, err
	} else if ok {
		return from.Add(interval), nil
	}

	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("durable: parse schedule %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// parseEvery handles "@every <duration>" directly: robfig/cron supports
// this too, but only inside its own Cron scheduler loop, which Scheduler
// deliberately doesn't use.
func parseEvery(expr string) (time.Duration, bool, error) {
	const prefix = "@every "
	if !strings.HasPrefix(expr, prefix) {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimPrefix(expr, prefix))
	if err != nil {
		return 0, true, fmt.Errorf("durable: parse interval %q: %w", expr, err)
	}
	return d, true, nil
}
