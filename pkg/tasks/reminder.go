package tasks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/selcan/mira/internal/observability"
)

// NotifyFunc receives rendered reminder text for delivery to the user
type NotifyFunc func(message string)

// cronParser accepts standard five-field expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ReminderOptions configures the reminder scheduler
type ReminderOptions struct {
	Manager    *Manager
	Notify     NotifyFunc
	DigestSpec string // cron expression for the daily digest, default "0 9 * * *"
	RemindAt   string // HH:MM time for due-date checks, default "09:00"
	TZ         string // optional IANA zone, local time when empty
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Reminder fires the daily digest and one check per pending due date
// through the notifier. The digest timer reschedules itself after each
// fire; due-date timers are one-shot and reconcile against the open set
// whenever the task log changes.
type Reminder struct {
	manager      *Manager
	notify       NotifyFunc
	digest       cron.Schedule
	remindHour   int
	remindMinute int
	loc          *time.Location
	logger       zerolog.Logger
	clock        func() time.Time

	mu          sync.Mutex
	digestTimer *time.Timer
	dueTimers   map[string]*time.Timer
	stopped     bool
}

// NewReminder validates the options and builds a stopped reminder
func NewReminder(opts ReminderOptions) (*Reminder, error) {
	if opts.Manager == nil {
		return nil, errors.New("task manager is required")
	}
	if opts.Notify == nil {
		return nil, errors.New("notify callback is required")
	}

	spec := opts.DigestSpec
	if spec == "" {
		spec = "0 9 * * *"
	}
	digest, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid digest expression %q: %w", spec, err)
	}

	remindAt := opts.RemindAt
	if remindAt == "" {
		remindAt = "09:00"
	}
	at, err := time.Parse("15:04", remindAt)
	if err != nil {
		return nil, fmt.Errorf("invalid remind time %q: use HH:MM", remindAt)
	}

	loc := time.Local
	if opts.TZ != "" {
		loc, err = time.LoadLocation(opts.TZ)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", opts.TZ, err)
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Reminder{
		manager:      opts.Manager,
		notify:       opts.Notify,
		digest:       digest,
		remindHour:   at.Hour(),
		remindMinute: at.Minute(),
		loc:          loc,
		logger:       opts.Logger,
		clock:        clock,
		dueTimers:    make(map[string]*time.Timer),
	}, nil
}

// Start schedules the digest and the pending due-date checks, and
// subscribes to task log changes
func (r *Reminder) Start() {
	r.manager.Subscribe(r.Refresh)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleDigestLocked()
	r.refreshDueTimersLocked()

	r.logger.Info().Int("dueDates", len(r.dueTimers)).Msg("Reminder scheduler started")
}

// Stop cancels all timers. Further fires and refreshes are no-ops.
func (r *Reminder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true

	if r.digestTimer != nil {
		r.digestTimer.Stop()
		r.digestTimer = nil
	}
	for date, timer := range r.dueTimers {
		timer.Stop()
		delete(r.dueTimers, date)
	}

	r.logger.Info().Msg("Reminder scheduler stopped")
}

// Refresh reconciles due-date timers against the current open set
func (r *Reminder) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.refreshDueTimersLocked()
}

func (r *Reminder) scheduleDigestLocked() {
	now := r.clock().In(r.loc)
	next := r.digest.Next(now)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}

	r.digestTimer = time.AfterFunc(delay, r.fireDigest)

	r.logger.Debug().Time("nextRun", next).Msg("Digest scheduled")
}

func (r *Reminder) fireDigest() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	today := r.clock().In(r.loc).Format(DueLayout)
	if message := digestMessage(r.manager.Open(), today); message != "" {
		r.notify(message)
		observability.RecordReminderSent("digest")
		r.logger.Debug().Str("date", today).Msg("Digest delivered")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.scheduleDigestLocked()
	}
}

// refreshDueTimersLocked keeps one timer per pending due date. Past
// dates are left to the digest; a date due today with the remind time
// already gone fires immediately.
func (r *Reminder) refreshDueTimersLocked() {
	now := r.clock().In(r.loc)
	today := now.Format(DueLayout)

	pending := make(map[string]bool)
	for _, task := range r.manager.Open() {
		if task.Due == "" || task.Due < today {
			continue
		}
		pending[task.Due] = true
	}

	for date, timer := range r.dueTimers {
		if !pending[date] {
			timer.Stop()
			delete(r.dueTimers, date)
		}
	}

	for date := range pending {
		if _, exists := r.dueTimers[date]; exists {
			continue
		}
		fireAt, err := r.dueFireTime(date)
		if err != nil {
			continue
		}
		delay := fireAt.Sub(now)
		if delay < 0 {
			delay = 0
		}

		r.dueTimers[date] = time.AfterFunc(delay, func() { r.fireDueCheck(date) })

		r.logger.Debug().Str("date", date).Time("fireAt", fireAt).Msg("Due check scheduled")
	}
}

func (r *Reminder) dueFireTime(date string) (time.Time, error) {
	day, err := time.ParseInLocation(DueLayout, date, r.loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), r.remindHour, r.remindMinute, 0, 0, r.loc), nil
}

func (r *Reminder) fireDueCheck(date string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	delete(r.dueTimers, date)
	r.mu.Unlock()

	var due []Task
	for _, task := range r.manager.Open() {
		if task.Due == date {
			due = append(due, task)
		}
	}
	if len(due) == 0 {
		return
	}

	// Render against the fired date so the lines read "due today" even
	// when the fire slips past midnight.
	r.notify(dueMessage(due, date))
	observability.RecordReminderSent("due")

	r.logger.Debug().Str("date", date).Int("count", len(due)).Msg("Due reminder delivered")
}

// digestMessage summarizes the open set. Empty when there is nothing to
// report, which suppresses the notification.
func digestMessage(open []Task, today string) string {
	if len(open) == 0 {
		return ""
	}

	var overdue, dueToday []Task
	for _, task := range open {
		switch {
		case task.Due != "" && task.Due < today:
			overdue = append(overdue, task)
		case task.Due == today:
			dueToday = append(dueToday, task)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task digest: %d open", len(open))
	if len(overdue) > 0 {
		fmt.Fprintf(&b, ", %d overdue", len(overdue))
	}
	if len(dueToday) > 0 {
		fmt.Fprintf(&b, ", %d due today", len(dueToday))
	}
	b.WriteString(".")

	for _, task := range overdue {
		b.WriteString("\n")
		b.WriteString(describeTask(task, today))
	}
	for _, task := range dueToday {
		b.WriteString("\n")
		b.WriteString(describeTask(task, today))
	}
	return b.String()
}

func dueMessage(due []Task, today string) string {
	noun := "tasks"
	if len(due) == 1 {
		noun = "task"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reminder: %d %s due today.", len(due), noun)
	for _, task := range due {
		b.WriteString("\n")
		b.WriteString(describeTask(task, today))
	}
	return b.String()
}
