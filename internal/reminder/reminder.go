// Package reminder nudges employees who have not filed a report for the day.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
	"github.com/cooldog631-ai/aim-bot/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Lister finds the employees still owing a report on a given day.
type Lister interface {
	EmployeesWithoutReport(ctx context.Context, on time.Time) ([]models.Employee, error)
}

// Opts configures a Reminder.
type Opts struct {
	Schedule string // 5-field cron expression
	Text     string
	Lister   Lister
	Ports    []messenger.Port
	Log      *logger.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Reminder sends the daily nudge on a cron schedule.
type Reminder struct {
	sched   cron.Schedule
	text    string
	lister  Lister
	ports   map[string]messenger.Port
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New validates opts and parses the schedule.
func New(opts Opts) (*Reminder, error) {
	if opts.Lister == nil {
		return nil, fmt.Errorf("reminder: lister is required")
	}
	if opts.Text == "" {
		return nil, fmt.Errorf("reminder: text is required")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("reminder: parse schedule %q: %w", opts.Schedule, err)
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ports := make(map[string]messenger.Port, len(opts.Ports))
	for _, p := range opts.Ports {
		ports[p.Platform()] = p
	}
	return &Reminder{
		sched:   sched,
		text:    opts.Text,
		lister:  opts.Lister,
		ports:   ports,
		log:     opts.Log,
		metrics: opts.Metrics,
		now:     opts.Now,
	}, nil
}

// Next returns the first fire time after t.
func (r *Reminder) Next(t time.Time) time.Time {
	return r.sched.Next(t)
}

// Run fires Send on schedule until ctx is cancelled.
func (r *Reminder) Run(ctx context.Context) error {
	for {
		now := r.now()
		wait := r.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		r.log.Debug("reminder: next run scheduled", "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sent, err := r.Send(ctx)
		if err != nil {
			r.log.Error("reminder: run failed", "error", err)
			continue
		}
		r.log.Info("reminder: sent", "count", sent)
	}
}

// Send reminds every active employee without a report today. A failed
// delivery is logged and does not stop the rest. It returns how many
// reminders went out.
func (r *Reminder) Send(ctx context.Context) (int, error) {
	employees, err := r.lister.EmployeesWithoutReport(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("reminder: list employees: %w", err)
	}

	sent := 0
	for _, e := range employees {
		port, ok := r.ports[e.Platform]
		if !ok {
			r.log.Debug("reminder: platform not running, skipping", "platform", e.Platform, "user_id", e.UserID)
			continue
		}
		if _, err := port.Send(ctx, e.ChatID, r.text, nil); err != nil {
			r.metrics.DeliveryFailed(e.Platform)
			r.log.Warn("reminder: delivery failed",
				"platform", e.Platform,
				"user_id", e.UserID,
				"chat_id", e.ChatID,
				"error", err,
			)
			continue
		}
		r.metrics.ReminderSent()
		sent++
	}
	return sent, nil
}
