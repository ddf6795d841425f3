package tasks

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifyRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (n *notifyRecorder) notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *notifyRecorder) recorded() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

// testNow is a weekday morning before the default remind time, so due
// timers scheduled from it stay pending for the whole test.
var testNow = time.Date(2026, 8, 22, 7, 0, 0, 0, time.UTC)

func createTestReminder(t *testing.T, m *Manager, rec *notifyRecorder) *Reminder {
	t.Helper()

	r, err := NewReminder(ReminderOptions{
		Manager: m,
		Notify:  rec.notify,
		TZ:      "UTC",
		Logger:  zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Clock:   fixedClock(testNow),
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return r
}

func TestNewReminder(t *testing.T) {
	manager := createTestManager(t)
	notify := func(string) {}

	t.Run("should apply defaults", func(t *testing.T) {
		r, err := NewReminder(ReminderOptions{Manager: manager, Notify: notify})
		require.NoError(t, err)
		defer r.Stop()

		assert.Equal(t, 9, r.remindHour)
		assert.Equal(t, 0, r.remindMinute)
		assert.NotNil(t, r.digest)
	})

	t.Run("should require a manager", func(t *testing.T) {
		_, err := NewReminder(ReminderOptions{Notify: notify})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task manager")
	})

	t.Run("should require a notifier", func(t *testing.T) {
		_, err := NewReminder(ReminderOptions{Manager: manager})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify callback")
	})

	t.Run("should reject a bad digest expression", func(t *testing.T) {
		_, err := NewReminder(ReminderOptions{Manager: manager, Notify: notify, DigestSpec: "not a cron"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid digest expression")
	})

	t.Run("should reject a bad remind time", func(t *testing.T) {
		_, err := NewReminder(ReminderOptions{Manager: manager, Notify: notify, RemindAt: "9am"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid remind time")
	})

	t.Run("should reject an unknown timezone", func(t *testing.T) {
		_, err := NewReminder(ReminderOptions{Manager: manager, Notify: notify, TZ: "Mars/Olympus"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid timezone")
	})
}

func TestDigestSchedule(t *testing.T) {
	t.Run("should compute the next run from a five-field expression", func(t *testing.T) {
		sched, err := cronParser.Parse("30 8 * * *")
		require.NoError(t, err)

		next := sched.Next(testNow)
		assert.Equal(t, time.Date(2026, 8, 22, 8, 30, 0, 0, time.UTC), next)
	})

	t.Run("should roll to the next day when the time has passed", func(t *testing.T) {
		sched, err := cronParser.Parse("0 9 * * *")
		require.NoError(t, err)

		now := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
		next := sched.Next(now)
		assert.Equal(t, time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC), next)
	})
}

func TestReminderStart(t *testing.T) {
	t.Run("should schedule one check per pending due date", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		ctx := context.Background()
		_, err := m.Add(ctx, "due today", "2026-08-22", "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "due tomorrow", "2026-08-23", "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "also due tomorrow", "2026-08-23", "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "long overdue", "2026-08-20", "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "no due date", "", "")
		require.NoError(t, err)

		r.Start()

		r.mu.Lock()
		defer r.mu.Unlock()
		assert.NotNil(t, r.digestTimer)
		assert.Len(t, r.dueTimers, 2)
		assert.Contains(t, r.dueTimers, "2026-08-22")
		assert.Contains(t, r.dueTimers, "2026-08-23")
	})

	t.Run("should drop the timer when a date has no open tasks left", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		ctx := context.Background()
		task, err := m.Add(ctx, "due tomorrow", "2026-08-23", "")
		require.NoError(t, err)

		r.Start()

		r.mu.Lock()
		assert.Contains(t, r.dueTimers, "2026-08-23")
		r.mu.Unlock()

		// Completing the only task on the date reconciles through the
		// subscription.
		_, err = m.Complete(ctx, task.ID)
		require.NoError(t, err)

		r.mu.Lock()
		defer r.mu.Unlock()
		assert.NotContains(t, r.dueTimers, "2026-08-23")
	})

	t.Run("should pick up a date added after start", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		r.Start()

		_, err := m.Add(context.Background(), "new plan", "2026-08-30", "")
		require.NoError(t, err)

		r.mu.Lock()
		defer r.mu.Unlock()
		assert.Contains(t, r.dueTimers, "2026-08-30")
	})

	t.Run("should clear all timers on stop", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		_, err := m.Add(context.Background(), "due tomorrow", "2026-08-23", "")
		require.NoError(t, err)

		r.Start()
		r.Stop()

		r.mu.Lock()
		assert.Nil(t, r.digestTimer)
		assert.Empty(t, r.dueTimers)
		r.mu.Unlock()

		// Refresh after stop stays a no-op.
		r.Refresh()

		r.mu.Lock()
		defer r.mu.Unlock()
		assert.Empty(t, r.dueTimers)
	})
}

func TestFireDueCheck(t *testing.T) {
	t.Run("should deliver the tasks due on the date", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		ctx := context.Background()
		_, err := m.Add(ctx, "pay rent", "2026-08-23", "high")
		require.NoError(t, err)
		_, err = m.Add(ctx, "walk dog", "2026-08-23", "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "other day", "2026-08-24", "")
		require.NoError(t, err)

		r.fireDueCheck("2026-08-23")

		messages := rec.recorded()
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "Reminder: 2 tasks due today.")
		assert.Contains(t, messages[0], "[high] pay rent (due today)")
		assert.Contains(t, messages[0], "walk dog")
		assert.NotContains(t, messages[0], "other day")
	})

	t.Run("should use the singular for one task", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		_, err := m.Add(context.Background(), "pay rent", "2026-08-23", "")
		require.NoError(t, err)

		r.fireDueCheck("2026-08-23")

		messages := rec.recorded()
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "Reminder: 1 task due today.")
	})

	t.Run("should stay silent when nothing is due", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		r.fireDueCheck("2026-12-01")

		assert.Empty(t, rec.recorded())
	})

	t.Run("should skip tasks completed before the fire", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		task, err := m.Add(context.Background(), "already handled", "2026-08-23", "")
		require.NoError(t, err)
		_, err = m.Complete(context.Background(), task.ID)
		require.NoError(t, err)

		r.fireDueCheck("2026-08-23")

		assert.Empty(t, rec.recorded())
	})
}

func TestFireDigest(t *testing.T) {
	t.Run("should summarize overdue and due-today tasks", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		ctx := context.Background()
		_, err := m.Add(ctx, "file taxes", "2026-08-20", "")
		require.NoError(t, err)
		_, err = m.Add(ctx, "pay rent", "2026-08-22", "high")
		require.NoError(t, err)
		_, err = m.Add(ctx, "someday", "", "")
		require.NoError(t, err)

		r.fireDigest()

		messages := rec.recorded()
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "Task digest: 3 open, 1 overdue, 1 due today.")
		assert.Contains(t, messages[0], "file taxes (due 2026-08-20, overdue)")
		assert.Contains(t, messages[0], "[high] pay rent (due today)")
		assert.NotContains(t, messages[0], "someday")
	})

	t.Run("should stay silent with no open tasks", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		r.fireDigest()

		assert.Empty(t, rec.recorded())
	})

	t.Run("should reschedule itself after firing", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		r.fireDigest()

		r.mu.Lock()
		defer r.mu.Unlock()
		assert.NotNil(t, r.digestTimer)
	})

	t.Run("should not fire after stop", func(t *testing.T) {
		m := createTestManagerAt(t, t.TempDir(), fixedClock(testNow))
		rec := &notifyRecorder{}
		r := createTestReminder(t, m, rec)

		_, err := m.Add(context.Background(), "pay rent", "2026-08-22", "")
		require.NoError(t, err)

		r.Stop()
		r.fireDigest()

		assert.Empty(t, rec.recorded())
	})
}

func TestDigestMessage(t *testing.T) {
	today := "2026-08-22"

	t.Run("should be empty with no open tasks", func(t *testing.T) {
		assert.Empty(t, digestMessage(nil, today))
	})

	t.Run("should count undated tasks without listing them", func(t *testing.T) {
		open := []Task{
			{ID: "aaaa1111", Text: "one"},
			{ID: "bbbb2222", Text: "two"},
		}

		message := digestMessage(open, today)
		assert.Equal(t, "Task digest: 2 open.", message)
	})

	t.Run("should list overdue before due today", func(t *testing.T) {
		open := []Task{
			{ID: "aaaa1111", Text: "due now", Due: "2026-08-22"},
			{ID: "bbbb2222", Text: "late", Due: "2026-08-19"},
		}

		message := digestMessage(open, today)
		assert.Contains(t, message, "Task digest: 2 open, 1 overdue, 1 due today.")
		assert.Less(t, strings.Index(message, "late"), strings.Index(message, "due now"))
	})
}

func TestDescribeTask(t *testing.T) {
	today := "2026-08-22"

	tests := []struct {
		name string
		task Task
		want string
	}{
		{
			name: "should render a bare task",
			task: Task{ID: "aaaa1111", Text: "call mom"},
			want: "- aaaa1111 call mom",
		},
		{
			name: "should shorten long ids",
			task: Task{ID: "V1StGXR8_Z5jdHi6B-myT", Text: "call mom"},
			want: "- V1StGXR8 call mom",
		},
		{
			name: "should tag the priority",
			task: Task{ID: "aaaa1111", Text: "pay rent", Priority: "high"},
			want: "- aaaa1111 [high] pay rent",
		},
		{
			name: "should mark due today",
			task: Task{ID: "aaaa1111", Text: "pay rent", Due: "2026-08-22"},
			want: "- aaaa1111 pay rent (due today)",
		},
		{
			name: "should mark overdue",
			task: Task{ID: "aaaa1111", Text: "pay rent", Due: "2026-08-20"},
			want: "- aaaa1111 pay rent (due 2026-08-20, overdue)",
		},
		{
			name: "should show a future due date",
			task: Task{ID: "aaaa1111", Text: "pay rent", Due: "2026-08-25"},
			want: "- aaaa1111 pay rent (due 2026-08-25)",
		},
		{
			name: "should mark done tasks",
			task: Task{ID: "aaaa1111", Text: "pay rent", Due: "2026-08-25", Done: true},
			want: "- aaaa1111 pay rent (done)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeTask(tt.task, today))
		})
	}
}
